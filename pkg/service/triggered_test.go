package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A triggered service stays STARTING until triggered.
func TestTriggeredServiceWaitsForTrigger(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	svc := NewTriggeredService(set, "triggered")
	set.AddService(svc)

	set.StartService(svc)
	require.Equal(t, StateStarting, svc.State())

	svc.SetTrigger(true)
	set.ProcessQueues()
	checkInvariants(t, set)
	require.Equal(t, StateStarted, svc.State())

	set.StopService(svc)
	require.Equal(t, StateStopped, svc.State())
}

// An already-triggered service starts immediately.
func TestTriggeredServiceAlreadyTriggered(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	svc := NewTriggeredService(set, "pre-triggered")
	set.AddService(svc)
	svc.SetTrigger(true)

	set.StartService(svc)
	checkInvariants(t, set)
	require.Equal(t, StateStarted, svc.State())
	require.True(t, svc.IsTriggered())
}

// Dependents wait for the trigger like any other dependency.
func TestTriggeredServiceBlocksDependent(t *testing.T) {
	rig := newTestRig()
	set := rig.set

	trig := NewTriggeredService(set, "trigger-dep")
	main := NewInternalService(set, "main-svc")
	set.AddService(trig)
	set.AddService(main)
	main.AddDep(trig, DepRegular)

	set.StartService(main)
	require.Equal(t, StateStarting, main.State())
	require.Equal(t, StateStarting, trig.State())

	trig.SetTrigger(true)
	set.ProcessQueues()
	checkInvariants(t, set)

	require.Equal(t, StateStarted, trig.State())
	require.Equal(t, StateStarted, main.State())
}
