// Package process implements process execution and monitoring for
// cinder: the real launcher behind the service machinery's Launcher
// interface, plus terminal control.
package process

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cinderlinux/cinder/pkg/service"
)

// readinessEnvVar names the fd the child writes its readiness line to.
const readinessEnvVar = "CINDER_READY_FD"

// daemonPollInterval is how often an observed (non-child) daemon is
// checked for liveness.
const daemonPollInterval = 1 * time.Second

// ExecStage identifies the stage at which process setup failed.
type ExecStage uint8

const (
	StageArrangeFDs ExecStage = iota
	StageOpenLogFile
	StageDoExec
)

func (s ExecStage) String() string {
	switch s {
	case StageArrangeFDs:
		return "arranging file descriptors"
	case StageOpenLogFile:
		return "opening log file"
	case StageDoExec:
		return "executing command"
	default:
		return fmt.Sprintf("ExecStage(%d)", s)
	}
}

// ExecError represents a failure during child process setup or exec.
type ExecError struct {
	Stage ExecStage
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("failed while %s: %v", e.Stage, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Poster schedules a callback onto the event-loop goroutine. The
// event loop satisfies this.
type Poster interface {
	Post(fn func())
}

// Launcher is the real implementation of service.Launcher: it
// fork/execs children, watches their exits and readiness pipes, and
// delivers every callback through the poster so they arrive on the
// loop thread.
type Launcher struct {
	poster Poster
}

// NewLauncher creates a Launcher delivering callbacks via poster.
func NewLauncher(poster Poster) *Launcher {
	return &Launcher{poster: poster}
}

// Launch starts a child process per params. ExecSucceeded (and later
// HandleExitStatus) are delivered asynchronously on the loop thread;
// a synchronous setup failure is returned as an *ExecError.
func (l *Launcher) Launch(params service.ExecParams, events service.ProcessEvents) (int, error) {
	if len(params.Command) == 0 {
		return 0, &ExecError{Stage: StageDoExec, Err: os.ErrInvalid}
	}

	cmd := exec.Command(params.Command[0], params.Command[1:]...)
	cmd.Dir = params.WorkingDir
	if len(params.Env) > 0 {
		cmd.Env = append(os.Environ(), params.Env...)
	}

	// Own process group, so the group can be signalled as a unit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if params.RunAsUID != 0 || params.RunAsGID != 0 {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: params.RunAsUID,
			Gid: params.RunAsGID,
		}
	}

	if params.OnConsole {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	var logFile *os.File
	if params.OutputFile != "" {
		f, err := os.OpenFile(params.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return 0, &ExecError{Stage: StageOpenLogFile, Err: err}
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	var outBuf *service.LogBuffer
	if params.OutputBuffer != nil {
		outBuf = params.OutputBuffer
		w, err := outBuf.OpenPipe()
		if err != nil {
			closeIfOpen(logFile)
			return 0, &ExecError{Stage: StageArrangeFDs, Err: err}
		}
		cmd.Stdout = w
		cmd.Stderr = w
	}

	var notifyR, notifyW *os.File
	if params.NotifyReadiness {
		r, w, err := os.Pipe()
		if err != nil {
			closeIfOpen(logFile)
			return 0, &ExecError{Stage: StageArrangeFDs, Err: err}
		}
		notifyR, notifyW = r, w
		// The write end becomes fd 3 in the child.
		cmd.ExtraFiles = append(cmd.ExtraFiles, notifyW)
		cmd.Env = append(cmdEnv(cmd), fmt.Sprintf("%s=%d", readinessEnvVar, 3+len(cmd.ExtraFiles)-1))
	}

	if err := cmd.Start(); err != nil {
		closeIfOpen(logFile)
		closeIfOpen(notifyR)
		closeIfOpen(notifyW)
		if outBuf != nil {
			outBuf.Close()
		}
		return 0, &ExecError{Stage: StageDoExec, Err: err}
	}

	pid := cmd.Process.Pid

	// Parent-side copies of child fds are closed now; the pipes see
	// EOF when the child is done with them.
	closeIfOpen(logFile)
	closeIfOpen(notifyW)
	if outBuf != nil {
		outBuf.BeginCapture()
	}

	l.poster.Post(events.ExecSucceeded)

	if notifyR != nil {
		go l.watchReadiness(notifyR, events)
	}

	go l.waitForExit(cmd, events)

	return pid, nil
}

func cmdEnv(cmd *exec.Cmd) []string {
	if cmd.Env != nil {
		return cmd.Env
	}
	return os.Environ()
}

func closeIfOpen(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// watchReadiness reads the readiness pipe: the first complete line
// means ready, EOF without one means the start failed.
func (l *Launcher) watchReadiness(r *os.File, events service.ProcessEvents) {
	defer r.Close()

	br := bufio.NewReader(r)
	if _, err := br.ReadString('\n'); err == nil {
		l.poster.Post(events.ReadyNotification)
		// Drain until the child closes its end.
		for {
			if _, err := br.ReadString('\n'); err != nil {
				return
			}
		}
	}
	l.poster.Post(events.NotificationEOF)
}

// waitForExit collects the child's wait status and delivers it.
func (l *Launcher) waitForExit(cmd *exec.Cmd, events service.ProcessEvents) {
	err := cmd.Wait()

	var status service.ExitStatus
	if err == nil {
		status = service.ExitedStatus(0)
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		ws := exitErr.Sys().(syscall.WaitStatus)
		if ws.Signaled() {
			status = service.SignalledStatus(ws.Signal())
		} else {
			status = service.ExitedStatus(ws.ExitStatus())
		}
	} else {
		// Wait itself failed; report an abnormal exit.
		status = service.ExitedStatus(-1)
	}

	l.poster.Post(func() { events.HandleExitStatus(status) })
}

// Signal sends sig to pid, or to its process group when processOnly
// is false. Signal 0 probes for existence.
func (l *Launcher) Signal(pid int, sig syscall.Signal, processOnly bool) error {
	if pid <= 0 {
		return nil
	}
	if processOnly || sig == 0 {
		return syscall.Kill(pid, sig)
	}
	return syscall.Kill(-pid, sig)
}

// Observe polls a non-child process (a self-backgrounded daemon) and
// reports its disappearance as an exit.
func (l *Launcher) Observe(pid int, events service.ProcessEvents) error {
	if pid <= 0 {
		return os.ErrInvalid
	}
	go func() {
		ticker := time.NewTicker(daemonPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := syscall.Kill(pid, 0); err != nil {
				l.poster.Post(func() {
					events.HandleExitStatus(service.ExitStatus{Set: true})
				})
				return
			}
		}
	}()
	return nil
}
