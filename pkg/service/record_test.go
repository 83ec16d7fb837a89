package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Starting a service starts its dependencies; stopping it releases and
// stops them.
func TestStartStopPropagatesThroughChain(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	require.Equal(t, Service(s1), set.FindService("svc-1"))
	require.Equal(t, Service(s3), set.FindService("svc-3"))

	set.StartService(s3)
	checkInvariants(t, set)

	require.Equal(t, StateStarted, s1.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s3.State())

	set.StopService(s3)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s1.State())
}

// Multiple dependents hold a shared dependency active until the last
// one is stopped.
func TestSharedDependencyHeldByRemainingDependent(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	s4 := NewInternalService(set, "svc-4")
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	set.AddService(s4)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)
	s4.AddDep(s2, DepRegular)

	set.StartService(s3)
	set.StartService(s4)
	checkInvariants(t, set)

	require.Equal(t, StateStarted, s1.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s4.State())

	set.StopService(s3)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStarted, s4.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s1.State())

	set.StopService(s4)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s4.State())
	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s1.State())
}

// Stopping a dependency stops its hard dependents.
func TestStoppingDependencyStopsDependents(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	set.StartService(s3)
	set.StopService(s1)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s1.State())
}

// An explicitly activated auto-restart service restarts after being
// stopped by a dependency stop, bringing the dependency back with it.
func TestAutoRestartAfterDependencyStop(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	s2.SetAutoRestart(true)
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	set.StartService(s3)
	set.StartService(s2)
	set.StopService(s1)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s1.State())
}

// Services that do not start immediately chain dependent starts as
// each start completes.
func TestDelayedStartsChain(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := newTestService(set, "svc-1")
	s2 := newTestService(set, "svc-2")
	s3 := newTestService(set, "svc-3")
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	set.StartService(s3)

	require.Equal(t, StateStarting, s3.State())
	require.Equal(t, StateStarting, s2.State())
	require.Equal(t, StateStarting, s1.State())

	s1.Started()
	set.ProcessQueues()
	require.Equal(t, StateStarting, s3.State())
	require.Equal(t, StateStarting, s2.State())
	require.Equal(t, StateStarted, s1.State())

	s2.Started()
	set.ProcessQueues()
	require.Equal(t, StateStarting, s3.State())
	require.Equal(t, StateStarted, s2.State())

	s3.Started()
	set.ProcessQueues()
	checkInvariants(t, set)
	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s1.State())
}

// A start-pinned service is not stopped when its dependency stops;
// unpinning releases the deferred stop.
func TestPinStartHoldsThroughDependencyStop(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	s2.SetAutoRestart(true)
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	s3.PinStart()
	set.StartService(s3)

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s1.State())

	s2.ForcedStop()
	s2.Stop(true)
	set.ProcessQueues()

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStopping, s2.State())
	require.Equal(t, StateStarted, s1.State())

	s3.Unpin()
	set.ProcessQueues()
	checkInvariants(t, set)
	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s1.State())
}

// Issuing a stop to a start-pinned service does not stop it or release
// its dependencies.
func TestPinStartDefersDirectStop(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	s3.PinStart()
	set.StartService(s3)

	s3.Stop(true)
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s1.State())
}

// A STOPPING dependency of a pinned service completes its stop once
// the pin is released, even if a start was requested meanwhile.
func TestPinnedDependentReleasesStoppingDependency(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	s2 := NewInternalService(set, "svc-2")
	s3 := NewInternalService(set, "svc-3")
	s2.SetAutoRestart(true)
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepRegular)
	s3.AddDep(s2, DepRegular)

	s3.PinStart()
	set.StartService(s3)

	s2.Stop(true)
	s2.ForcedStop()
	set.ProcessQueues()

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStopping, s2.State())
	require.Equal(t, StateStarted, s1.State())

	// A start request cannot resurrect s2: the forced stop must finish.
	s3.Start(true)
	set.ProcessQueues()

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStopping, s2.State())
	require.Equal(t, StateStarted, s1.State())

	s3.Unpin()
	set.ProcessQueues()

	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s1.State())
}

// A pinned service survives a forced stop and stops once unpinned.
func TestPinStartSurvivesForcedStopUntilUnpin(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := NewInternalService(set, "svc-1")
	set.AddService(s1)

	s1.PinStart()
	set.StartService(s1)
	require.Equal(t, StateStarted, s1.State())

	s1.Stop(true)
	s1.ForcedStop()
	set.ProcessQueues()

	require.Equal(t, StateStarted, s1.State())

	s1.Unpin()
	set.ProcessQueues()
	checkInvariants(t, set)
	require.Equal(t, StateStopped, s1.State())
}

// A stop-pinned service cannot be started.
func TestPinStopBlocksStart(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	svc := NewInternalService(set, "pinned-svc")
	set.AddService(svc)

	svc.PinStop()
	svc.Start(true)
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStopped, svc.State())
	require.True(t, svc.DidStartFail())
}

// Active service count reaches zero after stopping a service with
// mixed dependency types.
func TestActiveCountWithMixedDependencies(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s4 := NewInternalService(set, "svc-4")
	s3 := NewInternalService(set, "svc-3")
	s2 := NewInternalService(set, "svc-2")
	s1 := NewInternalService(set, "svc-1")
	set.AddService(s4)
	set.AddService(s3)
	set.AddService(s2)
	set.AddService(s1)
	s1.AddDep(s2, DepWaitsFor)
	s1.AddDep(s3, DepRegular)
	s1.AddDep(s4, DepMilestone)

	set.StartService(s1)
	checkInvariants(t, set)

	require.Equal(t, StateStarted, s1.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s4.State())

	set.StopService(s1)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s1.State())
	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s3.State())
	require.Equal(t, StateStopped, s4.State())
	require.Equal(t, 0, set.CountActiveServices())
}

// Restart brings a service down and back up without releasing its
// dependents' holds.
func TestRestartKeepsDependents(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := newTestService(set, "svc-1")
	s2 := newTestService(set, "svc-2")
	s3 := newTestService(set, "svc-3")
	set.AddService(s1)
	set.AddService(s2)
	set.AddService(s3)
	s2.AddDep(s1, DepWaitsFor)
	s3.AddDep(s2, DepRegular)

	set.StartService(s3)
	s1.Started()
	set.ProcessQueues()
	s2.Started()
	set.ProcessQueues()
	s3.Started()
	set.ProcessQueues()

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarted, s1.State())

	tl := &testListener{}
	s1.AddListener(tl)

	require.True(t, s1.Restart())
	s1.ForcedStop()
	set.ProcessQueues()

	require.Equal(t, StateStarted, s3.State())
	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStarting, s1.State())
	require.False(t, tl.gotStarted)

	s1.Started()
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStarted, s1.State())
	require.True(t, tl.gotStarted)
}

// The restart flag does not stick: after one restart a plain stop
// stays stopped.
func TestRestartHappensOnlyOnce(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := newTestService(set, "svc-1")
	s2 := newTestService(set, "svc-2")
	set.AddService(s1)
	set.AddService(s2)
	s2.AddDep(s1, DepWaitsFor)

	set.StartService(s2)
	s1.Started()
	set.ProcessQueues()
	s2.Started()
	set.ProcessQueues()

	require.True(t, s1.Restart())
	s1.ForcedStop()
	set.ProcessQueues()

	require.Equal(t, StateStarting, s1.State())
	require.Equal(t, StateStarted, s2.State())

	s1.Started()
	set.ProcessQueues()
	require.Equal(t, StateStarted, s1.State())

	s1.Stop(true)
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStarted, s2.State())
	require.Equal(t, StateStopped, s1.State())
}

// A pending restart is cancelled when the last holder goes away while
// the service is still stopping.
func TestRestartCancelledWhenReleasedWhileStopping(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	s1 := newTestService(set, "svc-1")
	s2 := newTestService(set, "svc-2")
	set.AddService(s1)
	set.AddService(s2)
	s2.AddDep(s1, DepWaitsFor)

	set.StartService(s2)
	s1.Started()
	set.ProcessQueues()
	s2.Started()
	set.ProcessQueues()

	tl := &testListener{}
	s1.AddListener(tl)
	s1.autoStop = false

	require.True(t, s1.Restart())
	s1.ForcedStop()
	set.ProcessQueues()

	require.Equal(t, StateStopping, s1.State())

	s2.Stop(true)
	set.ProcessQueues()
	s1.Stopped()
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStopped, s2.State())
	require.Equal(t, StateStopped, s1.State())
	require.True(t, tl.startCancelled)
	require.False(t, tl.gotStarted)
}

// Listeners observe the start/stop events in order.
func TestListenerNotifications(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	svc := NewInternalService(set, "listener-svc")
	set.AddService(svc)

	tl := &testListener{}
	svc.AddListener(tl)

	set.StartService(svc)
	require.Equal(t, []ServiceEvent{EventStarted}, tl.events)

	set.StopService(svc)
	require.Equal(t, []ServiceEvent{EventStarted, EventStopped}, tl.events)
}

// Stopping everything for shutdown empties the active set.
func TestStopAllServices(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	svcs := []*InternalService{
		NewInternalService(set, "svc-a"),
		NewInternalService(set, "svc-b"),
		NewInternalService(set, "svc-c"),
	}
	for _, s := range svcs {
		set.AddService(s)
		set.StartService(s)
	}
	require.Equal(t, 3, set.CountActiveServices())

	set.StopAllServices(ShutdownHalt)
	checkInvariants(t, set)

	for _, s := range svcs {
		require.Equal(t, StateStopped, s.State())
	}
	require.Equal(t, 0, set.CountActiveServices())
	require.True(t, set.IsShuttingDown())
	require.Equal(t, ShutdownHalt, set.GetShutdownType())
}

// A service chains to its completion target when it stops.
func TestChainToStartsTarget(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	first := NewInternalService(set, "first")
	next := NewInternalService(set, "next")
	first.SetChainTo("next")
	set.AddService(first)
	set.AddService(next)

	set.StartService(first)
	require.Equal(t, StateStarted, first.State())

	set.StopService(first)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, first.State())
	require.Equal(t, StateStarted, next.State())
}

// A missing chain target is logged and otherwise ignored.
func TestChainToMissingTargetLogged(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	first := NewInternalService(set, "first")
	first.SetChainTo("no-such-service")
	set.AddService(first)

	set.StartService(first)
	set.StopService(first)
	checkInvariants(t, set)

	require.Equal(t, StateStopped, first.State())
	require.NotEmpty(t, rig.logger.errors)
}

// Removal is refused while a service is not stopped.
func TestRemoveServiceRequiresStopped(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	svc := NewInternalService(set, "svc")
	set.AddService(svc)
	set.StartService(svc)

	require.False(t, set.RemoveService(svc))
	require.NotNil(t, set.FindService("svc"))

	set.StopService(svc)
	require.True(t, set.RemoveService(svc))
	require.Nil(t, set.FindService("svc"))
}
