package service

// ServiceSet is the registry of service records and the driver of the
// quiescence loop. It owns the propagation and transition queues, the
// console arbiter, and the collaborators records reach through it.
//
// The set is single-threaded cooperative: every operation on records,
// links and queues runs on the event-loop thread. After any batch of
// mutations the caller drains the queues with ProcessQueues.
type ServiceSet struct {
	records        map[string]Service
	activeServices int
	restartEnabled bool
	shutdownType   ShutdownType

	// Processing queues
	propQueue       []Service
	transitionQueue []Service
	console         consoleArbiter

	// Collaborators
	loop     EventLoop
	launcher Launcher
	logger   ServiceLogger
	term     TerminalControl
	loader   ServiceLoader

	// Hooks fired when rw-ready / log-ready services start.
	rootfsReadyHook func()
	externalLogHook func()
}

// NewServiceSet creates a ServiceSet bound to its collaborators. The
// launcher may be nil for sets containing no process-backed services.
func NewServiceSet(loop EventLoop, launcher Launcher, logger ServiceLogger) *ServiceSet {
	return &ServiceSet{
		records:        make(map[string]Service),
		restartEnabled: true,
		loop:           loop,
		launcher:       launcher,
		logger:         logger,
		term:           noopTerminal{},
	}
}

// SetLoader sets the service loader used for chain targets and control
// requests.
func (ss *ServiceSet) SetLoader(loader ServiceLoader) { ss.loader = loader }

// SetTerminalControl replaces the terminal-control collaborator.
func (ss *ServiceSet) SetTerminalControl(term TerminalControl) { ss.term = term }

// SetRootfsReadyHook registers the hook run when a service flagged
// rw-ready reaches STARTED.
func (ss *ServiceSet) SetRootfsReadyHook(fn func()) { ss.rootfsReadyHook = fn }

// SetExternalLogHook registers the hook run when a service flagged
// log-ready reaches STARTED.
func (ss *ServiceSet) SetExternalLogHook(fn func()) { ss.externalLogHook = fn }

// Loop returns the event loop the set was constructed with.
func (ss *ServiceSet) Loop() EventLoop { return ss.loop }

// Launcher returns the process launcher the set was constructed with.
func (ss *ServiceSet) Launcher() Launcher { return ss.launcher }

// Logger returns the logging collaborator.
func (ss *ServiceSet) Logger() ServiceLogger { return ss.logger }

func (ss *ServiceSet) rootfsReady() {
	if ss.rootfsReadyHook != nil {
		ss.rootfsReadyHook()
	}
}

func (ss *ServiceSet) externalLogReady() {
	if ss.externalLogHook != nil {
		ss.externalLogHook()
	}
}

func (ss *ServiceSet) restoreTerminal() {
	if err := ss.term.SetForegroundGroup(ss.term.OwnProcessGroup()); err != nil {
		ss.logger.Error("Couldn't reclaim terminal foreground: %v", err)
	}
}

// --- Registry ---

// FindService locates an existing service by name, or returns nil.
func (ss *ServiceSet) FindService(name string) Service {
	return ss.records[name]
}

// LoadService returns an already-loaded service, or asks the loader to
// load it.
func (ss *ServiceSet) LoadService(name string) (Service, error) {
	if svc := ss.FindService(name); svc != nil {
		return svc, nil
	}
	if ss.loader != nil {
		return ss.loader.LoadService(name)
	}
	return nil, &ServiceNotFound{Name: name}
}

// AddService adds a service to the set.
func (ss *ServiceSet) AddService(svc Service) {
	ss.records[svc.Name()] = svc
}

// RemoveService removes a service from the set. A record may only be
// removed while STOPPED.
func (ss *ServiceSet) RemoveService(svc Service) bool {
	if svc.State() != StateStopped {
		return false
	}
	delete(ss.records, svc.Name())
	return true
}

// ListServices returns all loaded services.
func (ss *ServiceSet) ListServices() []Service {
	result := make([]Service, 0, len(ss.records))
	for _, svc := range ss.records {
		result = append(result, svc)
	}
	return result
}

// StartService starts a service and drains the queues.
func (ss *ServiceSet) StartService(svc Service) {
	svc.Start(true)
	ss.ProcessQueues()
}

// StopService stops a service and drains the queues.
func (ss *ServiceSet) StopService(svc Service) {
	svc.Stop(true)
	ss.ProcessQueues()
}

// StopAllServices stops all services for shutdown. Automatic restart
// is disabled first so stopped services stay down.
func (ss *ServiceSet) StopAllServices(shutdownType ShutdownType) {
	ss.restartEnabled = false
	ss.shutdownType = shutdownType
	for _, svc := range ss.records {
		svc.Stop(false)
		svc.Unpin()
	}
	ss.ProcessQueues()
}

// --- Queues ---

func (ss *ServiceSet) addPropQueue(svc Service) {
	rec := svc.Record()
	if !rec.inPropQueue {
		rec.inPropQueue = true
		ss.propQueue = append(ss.propQueue, svc)
	}
}

func (ss *ServiceSet) addTransitionQueue(svc Service) {
	rec := svc.Record()
	if !rec.inTransitionQueue {
		rec.inTransitionQueue = true
		ss.transitionQueue = append(ss.transitionQueue, svc)
	}
}

// ProcessQueues drains the propagation and transition queues to a
// fixed point. Propagation runs strictly before each transition step;
// a record that gains propagation work during transition processing is
// re-drained before the next transition step.
func (ss *ServiceSet) ProcessQueues() {
	for len(ss.propQueue) > 0 || len(ss.transitionQueue) > 0 {
		for len(ss.propQueue) > 0 {
			svc := ss.propQueue[0]
			ss.propQueue = ss.propQueue[1:]
			svc.Record().inPropQueue = false
			svc.Record().DoPropagation()
		}
		if len(ss.transitionQueue) > 0 {
			svc := ss.transitionQueue[0]
			ss.transitionQueue = ss.transitionQueue[1:]
			svc.Record().inTransitionQueue = false
			svc.Record().ExecuteTransition()
		}
	}
}

// --- Console arbitration (delegated to the arbiter) ---

func (ss *ServiceSet) appendConsoleQueue(svc Service) { ss.console.acquire(svc) }
func (ss *ServiceSet) pullConsoleQueue(svc Service)   { ss.console.release(svc) }
func (ss *ServiceSet) unqueueConsole(svc Service)     { ss.console.unqueue(svc) }

// IsQueuedForConsole reports whether svc is waiting in the console
// queue.
func (ss *ServiceSet) IsQueuedForConsole(svc Service) bool {
	return ss.console.queued(svc)
}

// IsConsoleQueueEmpty reports whether no service is waiting for the
// console.
func (ss *ServiceSet) IsConsoleQueueEmpty() bool {
	return len(ss.console.queue) == 0
}

// --- Active service tracking ---

func (ss *ServiceSet) serviceActive(sr *ServiceRecord) {
	if !sr.countedActive {
		sr.countedActive = true
		ss.activeServices++
	}
}

func (ss *ServiceSet) serviceInactive(sr *ServiceRecord) {
	if sr.countedActive {
		sr.countedActive = false
		ss.activeServices--
	}
}

// CountActiveServices returns the number of services that are not
// stopped-and-unrequired. Shutdown completes when this reaches zero.
func (ss *ServiceSet) CountActiveServices() int {
	return ss.activeServices
}

// IsShuttingDown returns true once shutdown has been initiated and
// automatic restart disabled.
func (ss *ServiceSet) IsShuttingDown() bool {
	return !ss.restartEnabled
}

// GetShutdownType returns the requested shutdown type.
func (ss *ServiceSet) GetShutdownType() ShutdownType {
	return ss.shutdownType
}
