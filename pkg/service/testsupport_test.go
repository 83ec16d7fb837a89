package service

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --- Deterministic event loop with manual time ---

type testTimer struct {
	loop    *testLoop
	expired func()
	armed   bool
	fireAt  time.Time
}

func (t *testTimer) Arm(d time.Duration) {
	t.fireAt = t.loop.now.Add(d)
	t.armed = true
}

func (t *testTimer) Stop()       { t.armed = false }
func (t *testTimer) Armed() bool { return t.armed }

type testLoop struct {
	now    time.Time
	timers []*testTimer
}

func newTestLoop() *testLoop {
	return &testLoop{now: time.Unix(100000, 0)}
}

func (l *testLoop) NewTimer(expired func()) Timer {
	t := &testTimer{loop: l, expired: expired}
	l.timers = append(l.timers, t)
	return t
}

func (l *testLoop) Now() time.Time { return l.now }

// Advance moves time forward, firing due timers in order.
func (l *testLoop) Advance(d time.Duration) {
	target := l.now.Add(d)
	for {
		var next *testTimer
		for _, t := range l.timers {
			if t.armed && !t.fireAt.After(target) && (next == nil || t.fireAt.Before(next.fireAt)) {
				next = t
			}
		}
		if next == nil {
			break
		}
		l.now = next.fireAt
		next.armed = false
		next.expired()
	}
	l.now = target
}

// ActiveTimers returns the number of armed timers.
func (l *testLoop) ActiveTimers() int {
	n := 0
	for _, t := range l.timers {
		if t.armed {
			n++
		}
	}
	return n
}

// --- Fake launcher ---

type sentSignal struct {
	pid         int
	sig         syscall.Signal
	processOnly bool
}

type testLauncher struct {
	nextPID   int
	launches  []ExecParams
	signals   []sentSignal
	launchErr error
	observed  map[int]ProcessEvents
	dead      map[int]bool // pids that fail the liveness probe
}

func newTestLauncher() *testLauncher {
	return &testLauncher{
		nextPID:  100,
		observed: make(map[int]ProcessEvents),
		dead:     make(map[int]bool),
	}
}

func (tl *testLauncher) Launch(params ExecParams, events ProcessEvents) (int, error) {
	if tl.launchErr != nil {
		err := tl.launchErr
		tl.launchErr = nil
		return 0, err
	}
	tl.nextPID++
	tl.launches = append(tl.launches, params)
	return tl.nextPID, nil
}

func (tl *testLauncher) Signal(pid int, sig syscall.Signal, processOnly bool) error {
	if sig == 0 {
		if tl.dead[pid] {
			return syscall.ESRCH
		}
		return nil
	}
	tl.signals = append(tl.signals, sentSignal{pid: pid, sig: sig, processOnly: processOnly})
	return nil
}

func (tl *testLauncher) Observe(pid int, events ProcessEvents) error {
	tl.observed[pid] = events
	return nil
}

func (tl *testLauncher) lastSignal() syscall.Signal {
	if len(tl.signals) == 0 {
		return 0
	}
	return tl.signals[len(tl.signals)-1].sig
}

// --- Logger and listener fakes ---

type testLogger struct {
	started []string
	stopped []string
	failed  []string
	errors  []string
}

func (l *testLogger) ServiceStarted(name string) { l.started = append(l.started, name) }
func (l *testLogger) ServiceStopped(name string) { l.stopped = append(l.stopped, name) }
func (l *testLogger) ServiceFailed(name string, _ bool) {
	l.failed = append(l.failed, name)
}
func (l *testLogger) Error(format string, args ...interface{}) {
	l.errors = append(l.errors, format)
}
func (l *testLogger) Info(format string, args ...interface{}) {}

type testListener struct {
	events         []ServiceEvent
	gotStarted     bool
	gotStopped     bool
	startCancelled bool
	stopCancelled  bool
}

func (l *testListener) ServiceEvent(_ Service, event ServiceEvent) {
	l.events = append(l.events, event)
	switch event {
	case EventStarted:
		l.gotStarted = true
	case EventStopped:
		l.gotStopped = true
	case EventStartCancelled:
		l.startCancelled = true
	case EventStopCancelled:
		l.stopCancelled = true
	}
}

// --- Test rig ---

type testRig struct {
	set      *ServiceSet
	loop     *testLoop
	launcher *testLauncher
	logger   *testLogger
}

func newTestRig() *testRig {
	loop := newTestLoop()
	launcher := newTestLauncher()
	logger := &testLogger{}
	return &testRig{
		set:      NewServiceSet(loop, launcher, logger),
		loop:     loop,
		launcher: launcher,
		logger:   logger,
	}
}

func newTestSet() (*ServiceSet, *testLogger) {
	rig := newTestRig()
	return rig.set, rig.logger
}

// testService stays in STARTING until Started is called, mirroring a
// service whose startup completes asynchronously. With autoStop unset,
// BringDown likewise waits for an explicit Stopped call.
type testService struct {
	ServiceRecord
	autoStop     bool
	bringUpCalls int
}

func newTestService(set *ServiceSet, name string) *testService {
	svc := &testService{autoStop: true}
	svc.ServiceRecord = *NewServiceRecord(svc, set, name, TypeInternal)
	return svc
}

func (s *testService) BringUp() bool {
	s.bringUpCalls++
	return true
}

func (s *testService) BringDown() {
	if s.autoStop {
		s.Stopped()
	}
}

// checkInvariants verifies the cross-record consistency properties
// that must hold whenever the queues have been drained.
func checkInvariants(t *testing.T, set *ServiceSet) {
	t.Helper()

	consoles := 0
	for _, svc := range set.ListServices() {
		rec := svc.Record()

		// required-by equals held edges plus explicit activation
		held := 0
		for _, dept := range rec.dependents {
			if dept.HoldingAcq {
				held++
			}
			if dept.IsOnlyOrdering() {
				require.False(t, dept.HoldingAcq,
					"ordering edge %s -> %s holds an acquisition",
					dept.From.Name(), dept.To.Name())
			}
		}
		if rec.startExplicit {
			held++
		}
		require.Equal(t, held, rec.requiredBy,
			"required-by accounting broken for %s", rec.serviceName)

		if rec.haveConsole {
			consoles++
		}

		require.False(t, rec.pinnedStarted && rec.pinnedStopped,
			"%s pinned both ways", rec.serviceName)

		// A started service has all hard dependencies started (a start
		// pin intentionally suspends this).
		if rec.state == StateStarted && !rec.restarting && !rec.pinnedStarted {
			for _, dep := range rec.dependsOn {
				if dep.DepType == DepRegular {
					require.Equal(t, StateStarted, dep.To.State(),
						"%s started with hard dependency %s not started",
						rec.serviceName, dep.To.Name())
				}
			}
		}

		// Stopped and unrequired means inactive.
		if rec.state == StateStopped && rec.requiredBy == 0 {
			require.False(t, rec.countedActive,
				"%s stopped and unrequired but still counted active", rec.serviceName)
		}

		// No propagation work pending after a drain.
		require.False(t,
			rec.propRequire || rec.propRelease || rec.propFailure || rec.propStart || rec.propStop,
			"%s has propagation bits set after drain", rec.serviceName)
	}

	require.LessOrEqual(t, consoles, 1, "more than one console holder")
}
