package service

import "syscall"

// ScriptedService is controlled by external start/stop commands. The
// service is started when the start command exits cleanly and stopped
// when the stop command completes — successfully or not; a failed stop
// command still completes the stop, with reason failed.
type ScriptedService struct {
	baseProcess

	startCommand []string
	stopCommand  []string

	// stopScriptRunning distinguishes a stop-command exit from the
	// exit of an interrupted start command.
	stopScriptRunning bool
}

// NewScriptedService creates a new scripted service.
func NewScriptedService(set *ServiceSet, name string, startCommand []string) *ScriptedService {
	svc := &ScriptedService{startCommand: startCommand}
	svc.init(svc, set, name, TypeScripted, svc)
	return svc
}

// SetStartCommand sets the start command.
func (s *ScriptedService) SetStartCommand(cmd []string) { s.startCommand = cmd }

// SetStopCommand sets the stop command.
func (s *ScriptedService) SetStopCommand(cmd []string) { s.stopCommand = cmd }

// BringUp runs the start command. With no start command the service
// starts immediately.
func (s *ScriptedService) BringUp() bool {
	if len(s.startCommand) == 0 {
		s.Started()
		return true
	}
	if !s.launch(s.startCommand, false) {
		return false
	}
	if s.startTimeout > 0 {
		s.timer.Arm(s.startTimeout)
	}
	return true
}

// BringDown runs the stop command. A skipped start has nothing to
// undo; an interrupted start command completes the stop by exiting.
func (s *ScriptedService) BringDown() {
	if s.stopIssued {
		// Interrupted start command still terminating.
		return
	}
	if s.startSkipped || len(s.stopCommand) == 0 {
		s.timer.Stop()
		s.Stopped()
		return
	}

	if !s.launch(s.stopCommand, false) {
		if s.stopReason == ReasonNormal {
			s.stopReason = ReasonFailed
		}
		s.Stopped()
		return
	}
	s.stopScriptRunning = true
	if s.stopTimeout > 0 {
		s.timer.Arm(s.stopTimeout)
	}
}

// CanInterruptStart returns true if the start command may be
// interrupted (or we are still waiting for dependencies).
func (s *ScriptedService) CanInterruptStart() bool {
	return s.waitingForDeps || s.Flags.StartInterruptible
}

// InterruptStart interrupts the start command if permitted; the
// cancellation completes when the command exits.
func (s *ScriptedService) InterruptStart() bool {
	if s.waitingForDeps {
		return true
	}
	if s.pid > 0 && s.Flags.StartInterruptible {
		s.signalProcess(syscall.SIGINT)
		return false
	}
	return s.pid <= 0
}

// --- Launcher callbacks ---

// ExecSucceeded carries no information for a scripted service; command
// completion is what matters.
func (s *ScriptedService) ExecSucceeded() {}

// ExecFailed is delivered when a command could not exec.
func (s *ScriptedService) ExecFailed(err error) {
	switch s.state {
	case StateStarting:
		s.services.logger.Error("Service '%s': start command exec failed: %v", s.serviceName, err)
		s.timer.Stop()
		s.pid = 0
		s.stopReason = ReasonExecFailed
		s.failedToStart(false, true)
	case StateStopping:
		// The stop command couldn't run; the service stops regardless.
		s.services.logger.Error("Service '%s': stop command exec failed: %v", s.serviceName, err)
		s.timer.Stop()
		s.pid = 0
		s.stopScriptRunning = false
		if s.stopReason == ReasonNormal {
			s.stopReason = ReasonFailed
		}
		s.Stopped()
	}
}

// HandleExitStatus is delivered when a command terminates.
func (s *ScriptedService) HandleExitStatus(status ExitStatus) {
	s.exitStatus = status
	s.pid = 0

	switch s.state {
	case StateStarting:
		s.timer.Stop()
		if status.ExitedClean() {
			s.Started()
		} else if s.Flags.Skippable && status.Signaled() && status.Sig == syscall.SIGINT {
			// A skippable service is skipped by interrupting its start.
			s.startSkipped = true
			s.Started()
		} else {
			s.services.logger.Error("Service '%s': start command failed", s.serviceName)
			s.stopReason = ReasonFailed
			s.failedToStart(false, true)
		}

	case StateStopping:
		s.timer.Stop()
		if s.stopScriptRunning {
			s.stopScriptRunning = false
			if !status.ExitedClean() {
				s.services.logger.Error("Service '%s': stop command failed", s.serviceName)
				if s.stopReason == ReasonNormal {
					s.stopReason = ReasonFailed
				}
			}
			s.Stopped()
		} else {
			// The interrupted start command has terminated.
			s.stopIssued = false
			s.Stopped()
		}
	}
}

// ReadyNotification does not apply to scripted services.
func (s *ScriptedService) ReadyNotification() {}

// NotificationEOF does not apply to scripted services.
func (s *ScriptedService) NotificationEOF() {}
