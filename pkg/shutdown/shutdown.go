// Package shutdown performs the final system actions once all
// services have stopped: killing stray processes, syncing filesystems
// and issuing the reboot syscall. Only meaningful when running as
// PID 1.
package shutdown

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/service"
)

// ProcessKillGracePeriod is the time between the SIGTERM and SIGKILL
// sweeps over remaining processes.
const ProcessKillGracePeriod = 1 * time.Second

// Mockable syscall functions for testing.
var (
	killFunc   = unix.Kill
	syncFunc   = unix.Sync
	rebootFunc = unix.Reboot
)

// Execute performs the full shutdown sequence after all services have
// stopped. It does not return under normal circumstances.
func Execute(shutdownType service.ShutdownType, logger *logging.Logger) {
	logger.Notice("Executing shutdown: %s", shutdownType)

	if shutdownType == service.ShutdownRemain {
		logger.Notice("All services stopped; remaining up with no services")
		InfiniteHold()
	}

	KillAllProcesses(logger)

	logger.Info("Syncing filesystems...")
	syncFunc()

	if err := rebootSystem(shutdownType); err != nil {
		logger.Error("Reboot syscall failed: %v", err)
	}

	// The reboot syscall failed; PID 1 must never exit.
	logger.Error("Shutdown failed, holding indefinitely")
	InfiniteHold()
}

// KillAllProcesses sends SIGTERM to every remaining process, waits a
// grace period, then sends SIGKILL. kill(-1, sig) signals everything
// except PID 1 itself.
func KillAllProcesses(logger *logging.Logger) {
	logger.Info("Sending SIGTERM to all processes...")
	if err := killFunc(-1, unix.SIGTERM); err != nil && err != unix.ESRCH {
		logger.Debug("kill(-1, SIGTERM): %v", err)
	}

	time.Sleep(ProcessKillGracePeriod)

	logger.Info("Sending SIGKILL to remaining processes...")
	if err := killFunc(-1, unix.SIGKILL); err != nil && err != unix.ESRCH {
		logger.Debug("kill(-1, SIGKILL): %v", err)
	}
}

func rebootSystem(shutdownType service.ShutdownType) error {
	var cmd int
	switch shutdownType {
	case service.ShutdownPoweroff:
		cmd = unix.LINUX_REBOOT_CMD_POWER_OFF
	case service.ShutdownReboot:
		cmd = unix.LINUX_REBOOT_CMD_RESTART
	default:
		cmd = unix.LINUX_REBOOT_CMD_HALT
	}
	return rebootFunc(cmd)
}

// InfiniteHold blocks forever; the last resort when the reboot syscall
// fails or ShutdownRemain was requested.
func InfiniteHold() {
	select {}
}

// RootfsRemountRW remounts the root filesystem read-write. Installed
// as the service set's rootfs-ready hook when cinder runs as PID 1.
func RootfsRemountRW(logger *logging.Logger) {
	err := unix.Mount("", "/", "", unix.MS_REMOUNT, "")
	if err != nil {
		logger.Error("Remounting / read-write failed: %v", err)
		return
	}
	logger.Info("Root filesystem remounted read-write")
}
