package service

import (
	"syscall"
)

// Service is the interface all service types implement. The shared
// state machine lives in ServiceRecord; subtypes supply the bring-up /
// bring-down capabilities.
type Service interface {
	// Identity
	Name() string
	Type() ServiceType

	// State
	State() ServiceState
	TargetState() ServiceState
	StopReason() StoppedReason

	// Capabilities supplied by the subtype. The state machine calls
	// these; it never assumes they complete synchronously — a subtype
	// signals completion through Started / Stopped / failure paths.
	BringUp() bool
	BringDown()
	CanInterruptStart() bool
	InterruptStart() bool
	CanProceedToStart() bool
	BecomingInactive()
	CheckRestart() bool

	// Process info (process-backed services; defaults return zero values)
	PID() int
	ExitStatus() ExitStatus

	// State machine operations
	Start(explicit bool)
	Stop(bringDown bool)
	Restart() bool
	ForcedStop()

	// Pinning
	PinStart()
	PinStop()
	Unpin()

	// Outcome of the last start attempt
	DidStartFail() bool
	WasStartSkipped() bool

	// Dependency graph access
	Dependencies() []*ServiceDep
	Dependents() []*ServiceDep
	RequiredBy() int

	// Listeners
	AddListener(ServiceListener)
	RemoveListener(ServiceListener)

	// Captured output access
	GetLogBuffer() *LogBuffer
	GetLogType() LogType

	// Record returns the shared state for state-machine operations.
	Record() *ServiceRecord
}

// ServiceRecord holds the shared state for all service types. Service
// implementations embed this struct.
type ServiceRecord struct {
	self        Service // pointer back to the implementing Service
	serviceName string
	recordType  ServiceType

	state   ServiceState
	desired ServiceState

	stopReason StoppedReason

	autoRestart    bool
	smoothRecovery bool

	// Pins (mutually exclusive)
	pinnedStopped bool
	pinnedStarted bool

	// Waiting flags
	waitingForDeps    bool
	waitingForConsole bool
	haveConsole       bool
	startExplicit     bool

	// Pending propagation work, drained by the set's propagation queue
	propRequire bool
	propRelease bool
	propFailure bool
	propStart   bool
	propStop    bool

	// Outcome of the last start attempt
	startFailed  bool
	startSkipped bool

	forceStop  bool
	restarting bool // next STOPPED transition must re-enter STARTING

	requiredBy int

	dependsOn  []*ServiceDep // services this one depends on
	dependents []*ServiceDep // services depending on this one

	services *ServiceSet

	listeners []ServiceListener

	termSignal syscall.Signal
	chainTo    string // service to start when this one completes

	// Queue membership (enqueue is idempotent)
	inPropQueue       bool
	inTransitionQueue bool

	// Active-service accounting
	countedActive bool

	// On-start flags
	Flags ServiceFlags
}

// NewServiceRecord creates a ServiceRecord with default values. The
// self argument must be the Service embedding this record.
func NewServiceRecord(self Service, set *ServiceSet, name string, recordType ServiceType) *ServiceRecord {
	return &ServiceRecord{
		self:        self,
		serviceName: name,
		recordType:  recordType,
		state:       StateStopped,
		desired:     StateStopped,
		termSignal:  syscall.SIGTERM,
		services:    set,
	}
}

// --- Accessors ---

func (sr *ServiceRecord) Name() string                { return sr.serviceName }
func (sr *ServiceRecord) Type() ServiceType           { return sr.recordType }
func (sr *ServiceRecord) State() ServiceState         { return sr.state }
func (sr *ServiceRecord) TargetState() ServiceState   { return sr.desired }
func (sr *ServiceRecord) StopReason() StoppedReason   { return sr.stopReason }
func (sr *ServiceRecord) RequiredBy() int             { return sr.requiredBy }
func (sr *ServiceRecord) Dependencies() []*ServiceDep { return sr.dependsOn }
func (sr *ServiceRecord) Dependents() []*ServiceDep   { return sr.dependents }
func (sr *ServiceRecord) Record() *ServiceRecord      { return sr }
func (sr *ServiceRecord) DidStartFail() bool          { return sr.startFailed }
func (sr *ServiceRecord) WasStartSkipped() bool       { return sr.startSkipped }
func (sr *ServiceRecord) IsMarkedActive() bool        { return sr.startExplicit }
func (sr *ServiceRecord) IsStartPinned() bool         { return sr.pinnedStarted }
func (sr *ServiceRecord) IsStopPinned() bool          { return sr.pinnedStopped }
func (sr *ServiceRecord) HasConsole() bool            { return sr.haveConsole }
func (sr *ServiceRecord) WaitingForConsole() bool     { return sr.waitingForConsole }

// Defaults overridden by process-backed subtypes.
func (sr *ServiceRecord) PID() int                 { return 0 }
func (sr *ServiceRecord) ExitStatus() ExitStatus   { return ExitStatus{} }
func (sr *ServiceRecord) BecomingInactive()        {}
func (sr *ServiceRecord) CheckRestart() bool       { return true }
func (sr *ServiceRecord) CanProceedToStart() bool  { return true }
func (sr *ServiceRecord) CanInterruptStart() bool  { return true }
func (sr *ServiceRecord) InterruptStart() bool     { return true }
func (sr *ServiceRecord) GetLogBuffer() *LogBuffer { return nil }
func (sr *ServiceRecord) GetLogType() LogType      { return LogNone }

// BringUp is the default start capability: there is no process, so the
// service is started as soon as its dependencies are.
func (sr *ServiceRecord) BringUp() bool {
	sr.Started()
	return true
}

// BringDown is the default stop capability: stop completes immediately.
func (sr *ServiceRecord) BringDown() {
	sr.Stopped()
}

// --- Setters ---

func (sr *ServiceRecord) SetAutoRestart(v bool)            { sr.autoRestart = v }
func (sr *ServiceRecord) SetSmoothRecovery(v bool)         { sr.smoothRecovery = v }
func (sr *ServiceRecord) SetChainTo(name string)           { sr.chainTo = name }
func (sr *ServiceRecord) SetTermSignal(sig syscall.Signal) { sr.termSignal = sig }
func (sr *ServiceRecord) SetFlags(flags ServiceFlags)      { sr.Flags = flags }

func (sr *ServiceRecord) AddListener(l ServiceListener) {
	sr.listeners = append(sr.listeners, l)
}

func (sr *ServiceRecord) RemoveListener(l ServiceListener) {
	for i, existing := range sr.listeners {
		if existing == l {
			sr.listeners = append(sr.listeners[:i], sr.listeners[i+1:]...)
			return
		}
	}
}

func (sr *ServiceRecord) notifyListeners(event ServiceEvent) {
	for _, l := range sr.listeners {
		l.ServiceEvent(sr.self, event)
	}
}

// CanInterruptStop returns true if a stop in progress can be abandoned,
// returning the service to STARTING.
func (sr *ServiceRecord) CanInterruptStop() bool {
	return sr.waitingForDeps && !sr.forceStop
}

// --- Activation ---

// Require increments the required-by count. On the 0→1 transition the
// service acquires its dependencies (via the propagation queue) and, if
// not already up or starting, arranges to be started.
func (sr *ServiceRecord) Require() {
	sr.requiredBy++
	if sr.requiredBy == 1 {
		sr.propRequire = !sr.propRelease
		sr.propRelease = false
		sr.services.addPropQueue(sr.self)
		if sr.state != StateStarting && sr.state != StateStarted {
			sr.propStart = true
		}
	}
}

// Release decrements the required-by count. On reaching zero the
// desired state becomes STOPPED, held dependencies are released (via
// the propagation queue), and — if issueStop — a stop is initiated.
func (sr *ServiceRecord) Release(issueStop bool) {
	sr.requiredBy--
	if sr.requiredBy != 0 {
		return
	}

	if sr.state == StateStopping && sr.desired == StateStarted && !sr.pinnedStarted {
		// A pending restart is now moot.
		sr.notifyListeners(EventStartCancelled)
	}
	sr.desired = StateStopped

	// No release needs to go out if the matching require is still pending.
	sr.propRelease = !sr.propRequire
	sr.propRequire = false
	sr.propStart = false
	if sr.propRelease {
		sr.services.addPropQueue(sr.self)
	}

	if sr.state == StateStopped {
		sr.services.serviceInactive(sr)
	} else if issueStop {
		sr.stopReason = ReasonNormal
		sr.doStop()
	}
}

// releaseDependencies releases every held dependency acquisition. The
// edge flag is cleared before the release call so that re-entry through
// the target cannot release the same edge twice.
func (sr *ServiceRecord) releaseDependencies() {
	for _, dep := range sr.dependsOn {
		if dep.HoldingAcq {
			dep.HoldingAcq = false
			dep.To.Record().Release(true)
		}
	}
}

// --- Start path ---

// Start requests the service be started. With explicit set, the user
// asked for this service directly: it is marked explicitly activated
// and contributes to its own required-by count.
func (sr *ServiceRecord) Start(explicit bool) {
	if explicit && !sr.startExplicit {
		sr.Require()
		sr.startExplicit = true
	}

	wasActive := sr.state != StateStopped || sr.desired != StateStopped
	sr.desired = StateStarted

	if sr.pinnedStopped {
		// The pin wins. A fresh start attempt fails outright so that
		// dependents waiting on us are unblocked or cancelled.
		if !wasActive {
			sr.failedToStart(false, false)
		}
		return
	}

	if sr.state != StateStopped {
		// Already starting or started, or stopping and we must wait
		// for that to complete first.
		if sr.state != StateStopping {
			return
		}
		if !sr.CanInterruptStop() {
			sr.restarting = true
			return
		}
		// The stop is interruptible; our dependencies, if stopping,
		// are only waiting for us and return to STARTING with us.
		sr.notifyListeners(EventStopCancelled)
	} else if !wasActive {
		sr.services.serviceActive(sr)
	}

	sr.initiateStart()
}

// doStart re-enters the start sequence after a stop pin is removed.
func (sr *ServiceRecord) doStart() {
	if sr.pinnedStopped || sr.state != StateStopped {
		return
	}
	sr.services.serviceActive(sr)
	sr.initiateStart()
}

func (sr *ServiceRecord) initiateStart() {
	sr.startFailed = false
	sr.startSkipped = false
	sr.state = StateStarting
	sr.waitingForDeps = true

	if sr.startCheckDependencies() {
		sr.services.addTransitionQueue(sr.self)
	}
}

// startCheckDependencies marks which dependencies we must wait for and
// arranges for stopped ones to start. Returns true if every dependency
// is already STARTED.
func (sr *ServiceRecord) startCheckDependencies() bool {
	allStarted := true

	for _, dep := range sr.dependsOn {
		to := dep.To
		if dep.IsOnlyOrdering() {
			// Ordering constraint: wait out a start already in
			// progress, but never start or hold the target.
			if to.State() == StateStarting {
				dep.WaitingOn = true
				allStarted = false
			}
			continue
		}
		if to.State() != StateStarted {
			if to.State() != StateStarting {
				to.Record().propStart = true
				sr.services.addPropQueue(to)
			}
			dep.WaitingOn = true
			allStarted = false
		}
	}

	return allStarted
}

func (sr *ServiceRecord) checkDepsStarted() bool {
	for _, dep := range sr.dependsOn {
		if dep.WaitingOn {
			return false
		}
	}
	return true
}

// allDepsStarted proceeds with startup once every dependency is up:
// acquire the console if required, honor the subtype's proceed gate
// (e.g. a restart-delay timer), then bring the service up.
func (sr *ServiceRecord) allDepsStarted() {
	if sr.Flags.StartsOnConsole && !sr.haveConsole {
		sr.queueForConsole()
		return
	}

	sr.waitingForDeps = false

	if !sr.self.CanProceedToStart() {
		// The subtype re-queues us when it is ready.
		sr.waitingForDeps = true
		return
	}

	startSuccess := sr.self.BringUp()
	sr.restarting = false
	if !startSuccess {
		sr.failedToStart(false, true)
	}
}

// dependencyStarted is called on a dependent when one of its
// dependencies reaches STARTED (or fails, for non-hard links). The
// STARTED case covers a smooth recovery waiting on dependencies.
func (sr *ServiceRecord) dependencyStarted() {
	if (sr.state == StateStarting || sr.state == StateStarted) && sr.waitingForDeps {
		sr.services.addTransitionQueue(sr.self)
	}
}

// Started is called by the subtype when the service has successfully
// started.
func (sr *ServiceRecord) Started() {
	if sr.haveConsole && !sr.Flags.RunsOnConsole {
		sr.services.restoreTerminal()
		sr.releaseConsole()
	}

	sr.services.logger.ServiceStarted(sr.serviceName)
	sr.state = StateStarted
	sr.notifyListeners(EventStarted)

	if sr.Flags.RWReady {
		sr.services.rootfsReady()
	}
	if sr.Flags.LogReady {
		sr.services.externalLogReady()
	}

	if sr.forceStop || sr.desired == StateStopped {
		// A stop arrived while we were starting uninterruptibly.
		sr.doStop()
		return
	}

	for _, dept := range sr.dependents {
		dept.WaitingOn = false
		dept.From.Record().dependencyStarted()
	}
}

// failedToStart handles a start failure: dependents are cancelled or
// unblocked according to their link type, held activations are
// released, and with immediateStop the stopped state is entered now.
func (sr *ServiceRecord) failedToStart(depFailed bool, immediateStop bool) {
	if sr.waitingForConsole {
		sr.services.unqueueConsole(sr.self)
		sr.waitingForConsole = false
	}

	if sr.startExplicit {
		sr.startExplicit = false
		sr.Release(false)
	}

	for _, dept := range sr.dependents {
		switch dept.DepType {
		case DepRegular, DepMilestone:
			if dept.From.State() == StateStarting {
				dept.From.Record().propFailure = true
				sr.services.addPropQueue(dept.From)
			}
		case DepWaitsFor, DepSoft, DepBefore, DepAfter:
			if dept.WaitingOn {
				// Failure counts as completion for these links.
				dept.WaitingOn = false
				dept.From.Record().dependencyStarted()
			}
		}

		// Release now so our desired state is STOPPED before any
		// stopped() call below; otherwise it could decide to restart.
		if dept.HoldingAcq {
			dept.HoldingAcq = false
			sr.Release(false)
		}
	}

	sr.startFailed = true
	sr.services.logger.ServiceFailed(sr.serviceName, depFailed)
	sr.notifyListeners(EventFailedStart)

	if immediateStop {
		sr.Stopped()
	}
}

// --- Stop path ---

// Stop removes explicit activation and, if bringDown (or nothing holds
// the service any longer), stops the service.
func (sr *ServiceRecord) Stop(bringDown bool) {
	if sr.startExplicit {
		sr.startExplicit = false
		sr.requiredBy--
	}

	// With nothing holding us this is a full manual stop regardless.
	if sr.requiredBy == 0 {
		bringDown = true
	}

	if bringDown {
		// Latched even when a start pin defers the stop; Unpin acts
		// on it later.
		sr.desired = StateStopped
		if sr.state != StateStopped && sr.state != StateStopping {
			sr.stopReason = ReasonNormal
			sr.doStop()
		}
	}
}

// Restart restarts a started service without affecting dependency
// links or activation. Returns false if the service is not STARTED.
func (sr *ServiceRecord) Restart() bool {
	if sr.state != StateStarted {
		return false
	}
	sr.restarting = true
	sr.stopReason = ReasonNormal
	sr.doStop()
	return true
}

// ForcedStop marks this service for mandatory stop; the force
// propagates to hard dependents. A start pin still wins.
func (sr *ServiceRecord) ForcedStop() {
	if sr.state != StateStopped {
		sr.forceStop = true
		if !sr.pinnedStarted {
			sr.propStop = true
			sr.services.addPropQueue(sr.self)
		}
	}
}

// doStop is the stop entrypoint: cascade the stop to hard dependents
// and move to STOPPING, unless startup cannot be interrupted yet or a
// start pin holds the service up.
func (sr *ServiceRecord) doStop() {
	allDepsStopped := sr.stopDependents()

	if sr.state != StateStarted {
		if sr.state == StateStarting {
			// If waiting for a dependency or the console the start can
			// be cancelled here; otherwise the subtype decides.
			if !sr.waitingForDeps && !sr.waitingForConsole {
				if !sr.self.CanInterruptStart() {
					// Keep starting; the stop fires from Started().
					return
				}
				if !sr.self.InterruptStart() {
					// The subtype cancels asynchronously and will
					// complete the stop when startup actually ends.
					sr.notifyListeners(EventStartCancelled)
					return
				}
			} else if sr.waitingForConsole {
				sr.services.unqueueConsole(sr.self)
				sr.waitingForConsole = false
			}

			sr.notifyListeners(EventStartCancelled)
		} else {
			// Already stopping or stopped.
			return
		}
	}

	if sr.pinnedStarted {
		return
	}

	if sr.requiredBy == 0 {
		sr.propRelease = true
		sr.propStart = false
		sr.services.addPropQueue(sr.self)
	}

	sr.state = StateStopping
	sr.waitingForDeps = true
	if allDepsStopped {
		sr.services.addTransitionQueue(sr.self)
	}
}

// stopDependents issues a stop to every hard dependent holding an
// acquisition, propagating force where set. Returns true if all such
// dependents are already stopped.
func (sr *ServiceRecord) stopDependents() bool {
	allDepsStopped := true

	for _, dept := range sr.dependents {
		if !dept.IsHard() || !dept.HoldingAcq {
			continue
		}
		from := dept.From.Record()

		// Checked first: a dependent that is not yet stopped will be
		// issued a stop below and notifies us when it completes, at
		// which point stopCheckDependents runs again anyway.
		if from.state != StateStopped {
			allDepsStopped = false
		}

		if sr.forceStop {
			from.ForcedStop()
		}

		from.propStop = true
		sr.services.addPropQueue(dept.From)
	}

	return allDepsStopped
}

// stopCheckDependents returns true once no hard dependent still holds
// an acquisition on this service.
func (sr *ServiceRecord) stopCheckDependents() bool {
	for _, dept := range sr.dependents {
		if dept.IsHard() && dept.HoldingAcq {
			return false
		}
	}
	return true
}

// dependentStopped is called on a dependency when one of its dependents
// has stopped, in case it is waiting for that to finish its own stop.
func (sr *ServiceRecord) dependentStopped() {
	if sr.state == StateStopping && sr.waitingForDeps {
		sr.services.addTransitionQueue(sr.self)
	}
}

// Stopped is called by the subtype when the service has actually
// stopped. Dependents have already stopped, unless this stop is due to
// an unexpected process termination.
func (sr *ServiceRecord) Stopped() {
	if sr.haveConsole {
		sr.services.restoreTerminal()
		sr.releaseConsole()
	}

	sr.forceStop = false

	restarting := sr.restarting
	if !restarting && sr.autoRestart && !sr.services.IsShuttingDown() {
		restarting = sr.self.CheckRestart()
	}
	willRestart := restarting && sr.requiredBy > 0
	if restarting && !willRestart {
		sr.notifyListeners(EventStartCancelled)
	}
	sr.restarting = false

	// If we won't restart, break soft dependent links now.
	if !willRestart {
		for _, dept := range sr.dependents {
			if dept.IsHard() {
				continue
			}
			if dept.WaitingOn {
				dept.WaitingOn = false
				dept.From.Record().dependencyStarted()
			}
			if dept.HoldingAcq {
				dept.HoldingAcq = false
				sr.Release(false)
			}
		}
	}

	// Dependencies may be waiting for us to stop.
	for _, dep := range sr.dependsOn {
		dep.To.Record().dependentStopped()
	}

	sr.state = StateStopped

	if willRestart {
		sr.restarting = true
		sr.Start(false)
	} else {
		sr.self.BecomingInactive()

		if sr.startExplicit {
			// Required-by is at least 1; Release handles releasing
			// dependencies and marking us inactive.
			sr.startExplicit = false
			sr.Release(true)
		} else if sr.requiredBy == 0 {
			sr.propRelease = !sr.propRequire
			sr.propRequire = false
			sr.propStart = false
			if sr.propRelease {
				sr.services.addPropQueue(sr.self)
			}
			sr.services.serviceInactive(sr)
		}
	}

	// A start failure has been logged already; log only other stops.
	if !sr.startFailed {
		sr.services.logger.ServiceStopped(sr.serviceName)

		if !willRestart && sr.chainTo != "" && !sr.services.IsShuttingDown() {
			chain, err := sr.services.LoadService(sr.chainTo)
			if err != nil {
				sr.services.logger.Error("Couldn't chain to service %s: %v", sr.chainTo, err)
			} else {
				chain.Start(true)
			}
		}
	}
	sr.notifyListeners(EventStopped)
}

// --- Propagation and transitions ---

// DoPropagation drains this record's pending propagation bits, in
// fixed order. Each bit is cleared before its action runs so that
// re-entry cannot re-trigger it.
func (sr *ServiceRecord) DoPropagation() {
	if sr.propRequire {
		sr.propRequire = false
		for _, dep := range sr.dependsOn {
			if dep.IsOnlyOrdering() {
				continue
			}
			dep.To.Record().Require()
			dep.HoldingAcq = true
		}
	}

	if sr.propRelease {
		sr.propRelease = false
		sr.releaseDependencies()
	}

	if sr.propFailure {
		sr.propFailure = false
		sr.stopReason = ReasonDepFailed
		sr.failedToStart(true, true)
	}

	if sr.propStart {
		sr.propStart = false
		sr.Start(false)
	}

	if sr.propStop {
		sr.propStop = false
		sr.doStop()
	}
}

// ExecuteTransition evaluates whether this record can progress through
// its current in-between state. STARTED with restarting set covers a
// smooth recovery waiting on dependencies.
func (sr *ServiceRecord) ExecuteTransition() {
	if sr.state == StateStarting || (sr.state == StateStarted && sr.restarting) {
		if sr.checkDepsStarted() {
			sr.allDepsStarted()
		}
	} else if sr.state == StateStopping {
		if sr.stopCheckDependents() {
			sr.waitingForDeps = false

			// A service that actually stops has its explicit
			// activation released, unless it will restart.
			if sr.startExplicit && !sr.autoRestart && !sr.restarting {
				sr.startExplicit = false
				sr.Release(false)
			}

			sr.self.BringDown()
		}
	}
}

// --- Pinning ---

// PinStart pins the service in the started state; stops are deferred
// until the pin is cleared.
func (sr *ServiceRecord) PinStart() {
	sr.pinnedStarted = true
}

// PinStop pins the service in the stopped state; starts fail while the
// pin holds.
func (sr *ServiceRecord) PinStop() {
	sr.pinnedStopped = true
}

// Unpin clears whichever pin is set and performs any transition the
// pin was holding back, draining the queues before returning.
func (sr *ServiceRecord) Unpin() {
	if sr.pinnedStarted {
		sr.pinnedStarted = false

		for _, dep := range sr.dependsOn {
			if dep.IsHard() {
				if dep.To.State() != StateStarted {
					sr.desired = StateStopped
				}
			} else if dep.HoldingAcq {
				dep.HoldingAcq = false
				dep.To.Record().Release(true)
			}
		}

		if sr.desired == StateStopped || sr.forceStop {
			sr.doStop()
			sr.services.ProcessQueues()
		}
	}
	if sr.pinnedStopped {
		sr.pinnedStopped = false
		if sr.desired == StateStarted {
			sr.doStart()
			sr.services.ProcessQueues()
		}
	}
}

// --- Console ---

func (sr *ServiceRecord) queueForConsole() {
	sr.waitingForConsole = true
	sr.services.appendConsoleQueue(sr.self)
}

func (sr *ServiceRecord) releaseConsole() {
	sr.haveConsole = false
	sr.services.pullConsoleQueue(sr.self)
}

// AcquiredConsole is called by the arbiter when the console slot is
// granted to this service. If the console is no longer wanted, or
// cannot be used yet, it is handed straight back.
func (sr *ServiceRecord) AcquiredConsole() {
	sr.waitingForConsole = false
	sr.haveConsole = true

	if sr.state != StateStarting {
		sr.releaseConsole()
	} else if sr.checkDepsStarted() {
		sr.allDepsStarted()
	} else {
		sr.releaseConsole()
	}
}

// --- Dependency graph construction ---

// AddDep adds a dependency from this service to another. If this
// service is starting or started, a regular dependency acquires the
// target (starting it if needed); other non-ordering types acquire it
// only if it is already starting or started, and AFTER edges never
// acquire. A BEFORE edge is stored from the target's side as the
// equivalent AFTER edge.
func (sr *ServiceRecord) AddDep(to Service, depType DependencyType) *ServiceDep {
	if depType == DepBefore {
		return to.Record().AddDep(sr.self, DepAfter)
	}

	dep := NewServiceDep(sr.self, to, depType)
	sr.dependsOn = append(sr.dependsOn, dep)
	toRec := to.Record()
	toRec.dependents = append(toRec.dependents, dep)

	if depType != DepAfter && (sr.state == StateStarting || sr.state == StateStarted) {
		if depType == DepRegular ||
			to.State() == StateStarted || to.State() == StateStarting {
			toRec.Require()
			dep.HoldingAcq = true
		}
	}

	return dep
}

// RmDep removes a dependency of the given type to the given service.
func (sr *ServiceRecord) RmDep(to Service, depType DependencyType) bool {
	if depType == DepBefore {
		return to.Record().RmDep(sr.self, DepAfter)
	}
	for i, dep := range sr.dependsOn {
		if dep.To == to && dep.DepType == depType {
			sr.rmDepByIndex(i)
			return true
		}
	}
	return false
}

func (sr *ServiceRecord) rmDepByIndex(i int) {
	dep := sr.dependsOn[i]
	toRec := dep.To.Record()

	for j, d := range toRec.dependents {
		if d == dep {
			toRec.dependents = append(toRec.dependents[:j], toRec.dependents[j+1:]...)
			break
		}
	}

	if dep.HoldingAcq {
		dep.HoldingAcq = false
		toRec.Release(true)
	}

	sr.dependsOn = append(sr.dependsOn[:i], sr.dependsOn[i+1:]...)
}
