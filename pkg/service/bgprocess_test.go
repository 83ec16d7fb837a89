package service

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePIDFile(t *testing.T, pid int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644))
	return path
}

// The launcher process exits cleanly, the pid file yields a live
// daemon, and the service is started and observed.
func TestBGProcessStartStop(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	p := NewBGProcessService(set, "daemon", []string{"daemonize"})
	initProcessDefaults(p)
	p.SetPIDFile(writePIDFile(t, 4321))
	set.AddService(p)

	p.Start(true)
	set.ProcessQueues()
	require.Equal(t, StateStarting, p.State())

	// Launcher exits cleanly; daemon pid comes from the pid file.
	p.HandleExitStatus(ExitedStatus(0))
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStarted, p.State())
	require.Equal(t, 4321, p.PID())
	require.Contains(t, rig.launcher.observed, 4321)
	require.Equal(t, 0, rig.loop.ActiveTimers())

	p.Stop(true)
	set.ProcessQueues()
	require.Equal(t, StateStopping, p.State())
	require.True(t, rig.launcher.signals[len(rig.launcher.signals)-1].processOnly)

	p.HandleExitStatus(ExitedStatus(0))
	set.ProcessQueues()
	checkInvariants(t, set)
	require.Equal(t, StateStopped, p.State())
	require.Equal(t, ReasonNormal, p.StopReason())
}

// A launcher that exits with failure fails the start.
func TestBGProcessLauncherFailure(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	p := NewBGProcessService(set, "daemon", []string{"daemonize"})
	initProcessDefaults(p)
	p.SetPIDFile(writePIDFile(t, 4321))
	set.AddService(p)

	p.Start(true)
	set.ProcessQueues()
	p.HandleExitStatus(ExitedStatus(2))
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStopped, p.State())
	require.Equal(t, ReasonFailed, p.StopReason())
	require.True(t, p.DidStartFail())
}

// A pid file naming a dead process fails the start.
func TestBGProcessDeadDaemonFailsStart(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	p := NewBGProcessService(set, "daemon", []string{"daemonize"})
	initProcessDefaults(p)
	p.SetPIDFile(writePIDFile(t, 4545))
	rig.launcher.dead[4545] = true
	set.AddService(p)

	p.Start(true)
	set.ProcessQueues()
	p.HandleExitStatus(ExitedStatus(0))
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStopped, p.State())
	require.Equal(t, ReasonFailed, p.StopReason())
}

// A missing or malformed pid file fails the start.
func TestBGProcessBadPIDFile(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	p := NewBGProcessService(set, "daemon", []string{"daemonize"})
	initProcessDefaults(p)
	p.SetPIDFile(path)
	set.AddService(p)

	p.Start(true)
	set.ProcessQueues()
	p.HandleExitStatus(ExitedStatus(0))
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStopped, p.State())
	require.Equal(t, ReasonFailed, p.StopReason())
	require.NotEmpty(t, rig.logger.errors)
}

// An observed daemon disappearing unexpectedly is handled like any
// unexpected termination.
func TestBGProcessDaemonDisappears(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	p := NewBGProcessService(set, "daemon", []string{"daemonize"})
	initProcessDefaults(p)
	p.SetPIDFile(writePIDFile(t, 7777))
	set.AddService(p)

	p.Start(true)
	set.ProcessQueues()
	p.HandleExitStatus(ExitedStatus(0))
	set.ProcessQueues()
	require.Equal(t, StateStarted, p.State())

	// The observer reports the daemon gone.
	rig.launcher.observed[7777].HandleExitStatus(ExitStatus{Set: true})
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStopped, p.State())
	require.Equal(t, ReasonTerminated, p.StopReason())
}
