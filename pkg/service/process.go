package service

import "syscall"

// ProcessService manages a long-running child process. The service is
// considered started once the child has exec'd — or, when readiness
// notification is configured, once the child signals readiness.
type ProcessService struct {
	baseProcess

	command []string

	// readyNotify defers readiness until the child writes to its
	// notification channel.
	readyNotify bool
}

// NewProcessService creates a new process service.
func NewProcessService(set *ServiceSet, name string, command []string) *ProcessService {
	svc := &ProcessService{command: command}
	svc.init(svc, set, name, TypeProcess, svc)
	return svc
}

// SetCommand sets the startup command.
func (s *ProcessService) SetCommand(cmd []string) { s.command = cmd }

// SetReadyNotification enables readiness via the notification channel
// rather than successful exec.
func (s *ProcessService) SetReadyNotification(v bool) { s.readyNotify = v }

// BringUp launches the child and arms the start timeout.
func (s *ProcessService) BringUp() bool {
	if len(s.command) == 0 {
		s.services.logger.Error("Service '%s': no command specified", s.serviceName)
		return false
	}
	if !s.launch(s.command, s.readyNotify) {
		return false
	}
	if s.startTimeout > 0 {
		s.timer.Arm(s.startTimeout)
	}
	return true
}

// BringDown signals the child and arms the stop timeout. Completion is
// signalled by the child's exit.
func (s *ProcessService) BringDown() {
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
	s.signalProcess(sig)
	s.stopIssued = true

	if s.stopTimeout > 0 {
		s.timer.Arm(s.stopTimeout)
	}
}

// CanInterruptStart returns true while there is something to
// interrupt: either we are still waiting for dependencies, or the
// child can be signalled.
func (s *ProcessService) CanInterruptStart() bool {
	return s.waitingForDeps || s.pid > 0
}

// InterruptStart interrupts a start in progress. With a live child the
// cancellation is asynchronous: the child is signalled and false is
// returned; the stop completes when the exit arrives.
func (s *ProcessService) InterruptStart() bool {
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

// ExecSucceeded is delivered once the child has exec'd. Unless
// readiness notification is configured, this is the moment the service
// is started. In the STARTED state this is a smooth-recovery relaunch
// coming up.
func (s *ProcessService) ExecSucceeded() {
	switch s.state {
	case StateStarting:
		if s.readyNotify {
			return
		}
		s.timer.Stop()
		s.Started()
	case StateStarted:
		s.timer.Stop()
	}
}

// ExecFailed is delivered when the child could not exec its target.
func (s *ProcessService) ExecFailed(err error) {
	s.services.logger.Error("Service '%s': exec failed: %v", s.serviceName, err)
	switch s.state {
	case StateStarting:
		s.timer.Stop()
		s.pid = 0
		s.stopReason = ReasonExecFailed
		s.failedToStart(false, true)
	case StateStarted:
		// Smooth-recovery relaunch failed; the service cannot stay up.
		s.timer.Stop()
		s.pid = 0
		s.stopReason = ReasonExecFailed
		s.forceStop = true
		s.doStop()
	}
}

// HandleExitStatus is delivered when the child terminates.
func (s *ProcessService) HandleExitStatus(status ExitStatus) {
	s.exitStatus = status
	s.pid = 0

	switch s.state {
	case StateStarting:
		// Exit before readiness. An interrupt of a skippable service
		// counts as a successful (skipped) start.
		s.timer.Stop()
		if s.Flags.Skippable && status.Signaled() && status.Sig == syscall.SIGINT {
			s.startSkipped = true
			s.Started()
		} else {
			s.services.logger.Error("Service '%s': process exited during startup", s.serviceName)
			s.stopReason = ReasonFailed
			s.failedToStart(false, true)
		}

	case StateStopping:
		s.handleStoppedExit()

	case StateStarted:
		s.logUnexpectedExit(status)
		s.handleStartedExit()
	}
}

// ReadyNotification is delivered when the child signals readiness.
func (s *ProcessService) ReadyNotification() {
	if s.state == StateStarting && s.readyNotify {
		s.timer.Stop()
		s.Started()
	}
}

// NotificationEOF is delivered when the readiness channel closes
// before readiness was signalled; that counts as a start failure. The
// child is signalled and the failure completes when its exit arrives.
func (s *ProcessService) NotificationEOF() {
	if s.state != StateStarting || !s.readyNotify {
		return
	}
	s.services.logger.Error("Service '%s': readiness channel closed before readiness", s.serviceName)
	sig := s.termSignal
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	s.signalProcess(sig)
}
