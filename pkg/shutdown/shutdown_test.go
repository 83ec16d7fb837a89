package shutdown

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/service"
)

func TestKillAllProcessesEscalates(t *testing.T) {
	var sent []unix.Signal
	origKill := killFunc
	killFunc = func(pid int, sig unix.Signal) error {
		require.Equal(t, -1, pid)
		sent = append(sent, sig)
		return nil
	}
	defer func() { killFunc = origKill }()

	KillAllProcesses(logging.New(logging.LevelError))

	require.Equal(t, []unix.Signal{unix.SIGTERM, unix.SIGKILL}, sent)
}

func TestRebootSystemMapping(t *testing.T) {
	var got int
	origReboot := rebootFunc
	rebootFunc = func(cmd int) error {
		got = cmd
		return nil
	}
	defer func() { rebootFunc = origReboot }()

	require.NoError(t, rebootSystem(service.ShutdownPoweroff))
	require.Equal(t, unix.LINUX_REBOOT_CMD_POWER_OFF, got)

	require.NoError(t, rebootSystem(service.ShutdownReboot))
	require.Equal(t, unix.LINUX_REBOOT_CMD_RESTART, got)

	require.NoError(t, rebootSystem(service.ShutdownHalt))
	require.Equal(t, unix.LINUX_REBOOT_CMD_HALT, got)
}
