package service

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// BGProcessService manages a self-backgrounding daemon. The launch
// command forks and exits; the daemon pid is then discovered from a
// pid file and monitored through the launcher's observer.
type BGProcessService struct {
	baseProcess

	command []string
	pidFile string

	// launcherRunning is true while the initial (foreground) launcher
	// process is still alive; exits delivered during STARTING belong
	// to it.
	launcherRunning bool
}

// NewBGProcessService creates a new background process service.
func NewBGProcessService(set *ServiceSet, name string, command []string) *BGProcessService {
	svc := &BGProcessService{command: command}
	svc.init(svc, set, name, TypeBGProcess, svc)
	return svc
}

// SetCommand sets the launch command.
func (s *BGProcessService) SetCommand(cmd []string) { s.command = cmd }

// SetPIDFile sets the path the daemon writes its pid to (required).
func (s *BGProcessService) SetPIDFile(path string) { s.pidFile = path }

// BringUp launches the backgrounding command and arms the start
// timeout. Readiness arrives when the launcher exits cleanly and the
// pid file yields a live daemon.
func (s *BGProcessService) BringUp() bool {
	if len(s.command) == 0 {
		s.services.logger.Error("Service '%s': no command specified", s.serviceName)
		return false
	}
	if s.pidFile == "" {
		s.services.logger.Error("Service '%s': no pid-file specified for bgprocess", s.serviceName)
		return false
	}
	if !s.launch(s.command, false) {
		return false
	}
	s.launcherRunning = true
	if s.startTimeout > 0 {
		s.timer.Arm(s.startTimeout)
	}
	return true
}

// BringDown signals the daemon directly (never its group: the daemon
// left the launcher's group behind) and arms the stop timeout.
func (s *BGProcessService) BringDown() {
	if s.pid <= 0 {
		s.timer.Stop()
		s.Stopped()
		return
	}
	if s.stopIssued {
		return
	}

	sig := s.termSignal
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	s.services.logger.Info("Service '%s': sending signal %d to process %d", s.serviceName, int(sig), s.pid)
	if err := s.services.launcher.Signal(s.pid, sig, true); err != nil {
		s.services.logger.Error("Service '%s': failed to signal process: %v", s.serviceName, err)
	}
	s.stopIssued = true

	if s.stopTimeout > 0 {
		s.timer.Arm(s.stopTimeout)
	}
}

// CanInterruptStart returns true while the launcher can be signalled
// (or dependencies are still pending).
func (s *BGProcessService) CanInterruptStart() bool {
	return s.waitingForDeps || s.pid > 0
}

// InterruptStart interrupts the launcher; cancellation completes when
// its exit arrives.
func (s *BGProcessService) InterruptStart() bool {
	if s.waitingForDeps {
		return true
	}
	if s.pid > 0 {
		s.signalProcess(syscall.SIGINT)
		return false
	}
	return true
}

// --- Launcher callbacks ---

// ExecSucceeded carries no information here; the launcher's clean exit
// is what signals progress.
func (s *BGProcessService) ExecSucceeded() {}

// ExecFailed is delivered when the launch command could not exec.
func (s *BGProcessService) ExecFailed(err error) {
	if s.state != StateStarting {
		return
	}
	s.services.logger.Error("Service '%s': launcher exec failed: %v", s.serviceName, err)
	s.launcherRunning = false
	s.timer.Stop()
	s.pid = 0
	s.stopReason = ReasonExecFailed
	s.failedToStart(false, true)
}

// HandleExitStatus is delivered for the launcher process while
// starting, and for the observed daemon afterwards.
func (s *BGProcessService) HandleExitStatus(status ExitStatus) {
	s.exitStatus = status

	switch s.state {
	case StateStarting:
		if !s.launcherRunning {
			return
		}
		s.launcherRunning = false
		s.pid = 0

		if !status.ExitedClean() {
			s.timer.Stop()
			if s.Flags.Skippable && status.Signaled() && status.Sig == syscall.SIGINT {
				s.startSkipped = true
				s.Started()
				return
			}
			s.services.logger.Error("Service '%s': launcher exited with failure", s.serviceName)
			s.stopReason = ReasonFailed
			s.failedToStart(false, true)
			return
		}

		s.daemonUp()

	case StateStopping:
		s.pid = 0
		s.handleStoppedExit()

	case StateStarted:
		s.pid = 0
		s.logUnexpectedExit(status)
		s.handleStartedExit()
	}
}

// daemonUp reads the pid file and, with a live daemon found, completes
// startup and puts the daemon under observation.
func (s *BGProcessService) daemonUp() {
	pid, err := s.readPIDFile()
	if err != nil {
		s.services.logger.Error("Service '%s': %v", s.serviceName, err)
		s.timer.Stop()
		s.stopReason = ReasonFailed
		s.failedToStart(false, true)
		return
	}

	s.pid = pid
	s.timer.Stop()

	if err := s.services.launcher.Observe(pid, s); err != nil {
		s.services.logger.Error("Service '%s': cannot observe daemon %d: %v", s.serviceName, pid, err)
	}
	s.Started()
}

// readPIDFile reads and validates the daemon pid. The pid file may
// carry trailing data after the first line. Liveness is probed with
// the null signal.
func (s *BGProcessService) readPIDFile() (int, error) {
	data, err := os.ReadFile(s.pidFile)
	if err != nil {
		return 0, fmt.Errorf("reading pid file %s: %w", s.pidFile, err)
	}

	content := strings.TrimSpace(string(data))
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	pid, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s does not contain a valid pid", s.pidFile)
	}

	if err := s.services.launcher.Signal(pid, 0, true); err != nil {
		if errors.Is(err, syscall.EPERM) {
			// Alive but not ours to signal; still counts as running.
			return pid, nil
		}
		return 0, fmt.Errorf("daemon process %d already terminated", pid)
	}
	return pid, nil
}

// ReadyNotification does not apply to bgprocess services.
func (s *BGProcessService) ReadyNotification() {}

// NotificationEOF does not apply to bgprocess services.
func (s *BGProcessService) NotificationEOF() {}
