// Package eventloop implements cinder's central event coordinator: a
// single goroutine that executes posted callbacks, timer expiries and
// signal handlers in sequence, so the service machinery never needs a
// lock.
package eventloop

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/service"
)

// Loop is the event loop. It implements service.EventLoop; every
// callback it delivers runs on the loop goroutine, and the service
// queues are drained after each one.
type Loop struct {
	logger *logging.Logger

	postCh chan func()
	sigCh  chan os.Signal

	services *service.ServiceSet

	shutdownInitiated bool
	shutdownType      service.ShutdownType

	isPID1 bool

	forceExitCh chan struct{}

	// OnAllStopped is called when shutdown completes with no services
	// left active.
	OnAllStopped func()
}

// Default emergency shutdown timeout.
const defaultEmergencyTimeout = 90 * time.Second

// New creates a Loop. AttachServices must be called before Run.
func New(logger *logging.Logger) *Loop {
	return &Loop{
		logger:      logger,
		postCh:      make(chan func(), 64),
		forceExitCh: make(chan struct{}, 1),
	}
}

// AttachServices binds the service set whose queues the loop drains.
func (el *Loop) AttachServices(services *service.ServiceSet) {
	el.services = services
}

// SetPID1Mode enables PID 1 specific behavior.
func (el *Loop) SetPID1Mode(v bool) { el.isPID1 = v }

// GetShutdownType returns the shutdown type that was requested; the
// caller maps it to the appropriate system action after Run returns.
func (el *Loop) GetShutdownType() service.ShutdownType { return el.shutdownType }

// Now implements service.EventLoop.
func (el *Loop) Now() time.Time { return time.Now() }

// Post schedules fn to run on the loop goroutine. Safe to call from
// any goroutine.
func (el *Loop) Post(fn func()) {
	el.postCh <- fn
}

// NewTimer implements service.EventLoop. The expiry callback runs on
// the loop goroutine.
func (el *Loop) NewTimer(expired func()) service.Timer {
	return &loopTimer{loop: el, expired: expired}
}

// loopTimer adapts time.AfterFunc to the loop's threading model. A
// generation counter discards fires from a superseded schedule.
type loopTimer struct {
	loop    *Loop
	expired func()

	mu    sync.Mutex
	t     *time.Timer
	gen   uint64
	armed bool
}

func (t *loopTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	t.armed = true
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			t.mu.Lock()
			live := t.armed && t.gen == gen
			if live {
				t.armed = false
			}
			t.mu.Unlock()
			if live {
				t.expired()
			}
		})
	})
}

func (t *loopTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.armed = false
}

func (t *loopTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Run drives the loop. It blocks until the context is cancelled, or a
// shutdown was requested and all services have stopped, or the
// emergency timeout forces an exit.
func (el *Loop) Run(ctx context.Context) error {
	el.sigCh = SetupSignals()
	defer StopSignals(el.sigCh)

	el.logger.Info("cinder event loop started (PID %d)", os.Getpid())

	for {
		select {
		case <-ctx.Done():
			el.logger.Info("Context cancelled, shutting down")
			return ctx.Err()

		case <-el.forceExitCh:
			el.logger.Error("Emergency shutdown timeout reached, forcing exit")
			return nil

		case fn := <-el.postCh:
			fn()
			el.services.ProcessQueues()

		case sig := <-el.sigCh:
			el.handleSignal(sig)
		}

		if el.shutdownInitiated && el.services.CountActiveServices() == 0 {
			el.logger.Info("All services stopped, exiting")
			if el.OnAllStopped != nil {
				el.OnAllStopped()
			}
			return nil
		}
	}
}

func (el *Loop) handleSignal(sig os.Signal) {
	sysSignal, ok := sig.(syscall.Signal)
	if !ok {
		return
	}

	switch sysSignal {
	case syscall.SIGTERM:
		el.logger.Notice("Received SIGTERM, initiating shutdown")
		el.initiateShutdown(service.ShutdownHalt)

	case syscall.SIGINT:
		if el.isPID1 {
			// Ctrl+Alt+Del reaches PID 1 as SIGINT.
			el.logger.Notice("Received SIGINT (PID 1), initiating reboot")
			el.initiateShutdown(service.ShutdownReboot)
		} else {
			el.logger.Notice("Received SIGINT, initiating shutdown")
			el.initiateShutdown(service.ShutdownHalt)
		}

	case syscall.SIGQUIT:
		el.logger.Notice("Received SIGQUIT, initiating poweroff")
		el.initiateShutdown(service.ShutdownPoweroff)

	case syscall.SIGCHLD:
		// Child reaping is handled by the launcher's wait goroutines;
		// reaping here would steal their wait statuses.
	}
}

// InitiateShutdown triggers a shutdown from outside the loop (e.g. the
// control socket).
func (el *Loop) InitiateShutdown(shutdownType service.ShutdownType) {
	el.Post(func() { el.initiateShutdown(shutdownType) })
}

func (el *Loop) initiateShutdown(shutdownType service.ShutdownType) {
	if el.shutdownInitiated {
		return
	}
	el.shutdownInitiated = true
	el.shutdownType = shutdownType
	el.services.StopAllServices(shutdownType)

	go func() {
		time.Sleep(defaultEmergencyTimeout)
		select {
		case el.forceExitCh <- struct{}{}:
		default:
		}
	}()
}
