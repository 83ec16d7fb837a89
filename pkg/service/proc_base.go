package service

import (
	"syscall"
	"time"
)

const (
	defaultStopTimeout     = 10 * time.Second
	defaultStartTimeout    = 60 * time.Second
	defaultRestartDelay    = 200 * time.Millisecond
	defaultRestartInterval = 10 * time.Second
	defaultMaxRestarts     = 3
)

// baseProcess carries the state shared by all process-backed service
// types: the child pid and exit status, the single multipurpose timer
// (start timeout, stop timeout, or restart delay depending on state),
// and the restart rate-limiting machinery.
//
// All work is driven by launcher callbacks and timer expiry delivered
// on the event-loop thread; nothing here blocks.
type baseProcess struct {
	ServiceRecord

	workingDir string
	env        []string
	runAsUID   uint32
	runAsGID   uint32

	pid        int
	exitStatus ExitStatus

	// events is the concrete subtype, handed to the launcher as the
	// callback sink.
	events ProcessEvents

	// timer serves start timeout, stop timeout and restart delay; the
	// current state determines which.
	timer Timer

	startTimeout time.Duration
	stopTimeout  time.Duration
	restartDelay time.Duration

	restartInterval      time.Duration
	maxRestartCount      int
	restartIntervalTime  time.Time
	restartIntervalCount int
	lastStartTime        time.Time

	stopIssued bool

	// Output capture
	logType   LogType
	logFile   string
	logBufMax int
	logBuf    *LogBuffer
}

// init wires the embedded record and the timer. It must be called on
// the subtype's embedded baseProcess (never on a copy) so the timer
// callback observes the live service.
func (b *baseProcess) init(self Service, set *ServiceSet, name string, recordType ServiceType, events ProcessEvents) {
	b.ServiceRecord = *NewServiceRecord(self, set, name, recordType)
	b.events = events
	b.stopTimeout = defaultStopTimeout
	b.startTimeout = defaultStartTimeout
	b.restartDelay = defaultRestartDelay
	b.restartInterval = defaultRestartInterval
	b.maxRestartCount = defaultMaxRestarts
	b.timer = set.loop.NewTimer(b.timerExpired)
}

// --- Setters ---

func (b *baseProcess) SetWorkingDir(dir string)          { b.workingDir = dir }
func (b *baseProcess) SetEnv(env []string)               { b.env = env }
func (b *baseProcess) SetRunAs(uid, gid uint32)          { b.runAsUID = uid; b.runAsGID = gid }
func (b *baseProcess) SetStartTimeout(d time.Duration)   { b.startTimeout = d }
func (b *baseProcess) SetStopTimeout(d time.Duration)    { b.stopTimeout = d }
func (b *baseProcess) SetRestartDelay(d time.Duration)   { b.restartDelay = d }
func (b *baseProcess) SetLogType(lt LogType)             { b.logType = lt }
func (b *baseProcess) SetLogFile(path string)            { b.logFile = path }
func (b *baseProcess) SetLogBufMax(n int)                { b.logBufMax = n }

// SetRestartLimits configures the rate-limiting window: at most
// maxCount restarts within interval.
func (b *baseProcess) SetRestartLimits(interval time.Duration, maxCount int) {
	b.restartInterval = interval
	b.maxRestartCount = maxCount
}

func (b *baseProcess) PID() int               { return b.pid }
func (b *baseProcess) ExitStatus() ExitStatus { return b.exitStatus }

func (b *baseProcess) GetLogBuffer() *LogBuffer { return b.logBuf }
func (b *baseProcess) GetLogType() LogType      { return b.logType }

// --- Launch plumbing ---

// launch starts a child process through the launcher. On failure the
// stop reason is latched to exec-failed and false is returned.
func (b *baseProcess) launch(command []string, notifyReadiness bool) bool {
	b.lastStartTime = b.services.loop.Now()
	b.stopIssued = false
	b.exitStatus = ExitStatus{}

	params := ExecParams{
		Command:           command,
		WorkingDir:        b.workingDir,
		Env:               b.env,
		RunAsUID:          b.runAsUID,
		RunAsGID:          b.runAsGID,
		OnConsole:         b.Flags.RunsOnConsole || b.Flags.StartsOnConsole,
		SignalProcessOnly: b.Flags.SignalProcessOnly,
		NotifyReadiness:   notifyReadiness,
	}

	switch b.logType {
	case LogFile:
		params.OutputFile = b.logFile
	case LogMemory:
		if b.logBuf == nil {
			b.logBuf = NewLogBuffer(b.logBufMax)
		} else {
			b.logBuf.NoteRestart()
		}
		params.OutputBuffer = b.logBuf
	}

	pid, err := b.services.launcher.Launch(params, b.events)
	if err != nil {
		b.services.logger.Error("Service '%s': failed to launch process: %v", b.serviceName, err)
		b.stopReason = ReasonExecFailed
		return false
	}

	b.pid = pid
	return true
}

func (b *baseProcess) signalProcess(sig syscall.Signal) {
	if b.pid <= 0 {
		return
	}
	if err := b.services.launcher.Signal(b.pid, sig, b.Flags.SignalProcessOnly); err != nil {
		b.services.logger.Error("Service '%s': failed to signal process %d: %v", b.serviceName, b.pid, err)
	}
}

// --- Timer handling ---

// timerExpired interprets the multipurpose timer by current state:
// STOPPING means the stop timed out (escalate to SIGKILL and keep
// waiting; a later stray expiry in another state is a no-op), STARTING
// with a live process means the start timed out, and otherwise the
// restart delay has elapsed and the pending (re)start is re-evaluated.
func (b *baseProcess) timerExpired() {
	switch {
	case b.state == StateStopping:
		b.killWithFire()

	case b.state == StateStarting && b.pid > 0:
		b.services.logger.Error("Service '%s': start timed out", b.serviceName)
		b.stopReason = ReasonTimedOut
		b.cancelStartAwaitExit(syscall.SIGINT)

	case (b.state == StateStarting || (b.state == StateStarted && b.restarting)) && b.waitingForDeps:
		b.services.addTransitionQueue(b.self)
	}

	b.services.ProcessQueues()
}

// killWithFire escalates a timed-out stop to SIGKILL. The process
// group is signalled regardless of flags; nothing survives.
func (b *baseProcess) killWithFire() {
	if b.pid <= 0 {
		return
	}
	b.services.logger.Error("Service '%s': stop timed out, sending SIGKILL", b.serviceName)
	if b.stopReason == ReasonNormal {
		b.stopReason = ReasonTimedOut
	}
	if err := b.services.launcher.Signal(b.pid, syscall.SIGKILL, false); err != nil {
		b.services.logger.Error("Service '%s': failed to kill process %d: %v", b.serviceName, b.pid, err)
	}
}

// cancelStartAwaitExit abandons a start in progress: the process is
// signalled and the service moves to STOPPING to await its exit, with
// the stop timeout armed for escalation.
func (b *baseProcess) cancelStartAwaitExit(sig syscall.Signal) {
	b.signalProcess(sig)
	b.stopIssued = true

	allDepsStopped := b.stopDependents()
	b.notifyListeners(EventStartCancelled)

	if b.requiredBy == 0 {
		b.propRelease = true
		b.propStart = false
		b.services.addPropQueue(b.self)
	}

	b.state = StateStopping
	b.waitingForDeps = !allDepsStopped
	if allDepsStopped {
		b.services.addTransitionQueue(b.self)
	}

	if b.stopTimeout > 0 {
		b.timer.Arm(b.stopTimeout)
	} else {
		b.timer.Stop()
	}
}

// --- Restart machinery ---

// CanProceedToStart gates startup on the restart delay: a process may
// not be launched again until restartDelay has elapsed since the
// previous launch. When the delay is still running the timer is armed
// for the remainder and the service is re-queued on expiry.
func (b *baseProcess) CanProceedToStart() bool {
	if b.restartDelay <= 0 || b.lastStartTime.IsZero() {
		return true
	}
	elapsed := b.services.loop.Now().Sub(b.lastStartTime)
	if elapsed >= b.restartDelay {
		return true
	}
	b.timer.Arm(b.restartDelay - elapsed)
	return false
}

// CheckRestart applies the restart rate limit: at most maxRestartCount
// restarts within restartInterval.
func (b *baseProcess) CheckRestart() bool {
	if b.maxRestartCount <= 0 {
		return true
	}

	now := b.services.loop.Now()
	if now.Sub(b.restartIntervalTime) < b.restartInterval {
		if b.restartIntervalCount >= b.maxRestartCount {
			b.services.logger.Error("Service '%s': restarting too quickly, stopping", b.serviceName)
			return false
		}
		b.restartIntervalCount++
	} else {
		b.restartIntervalTime = now
		b.restartIntervalCount = 1
	}

	return true
}

// doSmoothRecovery schedules a process restart without leaving the
// STARTED state. The transition queue re-evaluates the service; the
// restart-delay gate applies as usual.
func (b *baseProcess) doSmoothRecovery() {
	b.services.logger.Info("Service '%s': process terminated, attempting smooth recovery", b.serviceName)
	b.restarting = true
	b.services.addTransitionQueue(b.self)
}

// --- Shared exit handling ---

// handleStoppedExit completes a stop once the process has terminated.
func (b *baseProcess) handleStoppedExit() {
	b.timer.Stop()
	b.stopIssued = false
	b.Stopped()
}

// handleStartedExit deals with an unexpected termination while
// STARTED: smooth recovery where configured and permitted, otherwise a
// forced stop with reason terminated (the record-level restart logic
// may still bring the service back).
func (b *baseProcess) handleStartedExit() {
	if b.smoothRecovery && !b.services.IsShuttingDown() && b.self.CheckRestart() {
		b.doSmoothRecovery()
		return
	}
	b.stopReason = ReasonTerminated
	b.forceStop = true
	b.doStop()
}

func (b *baseProcess) logUnexpectedExit(status ExitStatus) {
	if status.Exited() {
		b.services.logger.Error("Service '%s': process exited with code %d", b.serviceName, status.Code)
	} else if status.Signaled() {
		b.services.logger.Error("Service '%s': process killed by signal %d", b.serviceName, int(status.Sig))
	}
}
