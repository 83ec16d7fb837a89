// Package service implements the core service supervision machinery of
// cinder: per-service state machines, typed dependency links, and the
// queue-driven propagation scheduler that keeps the service graph
// consistent.
package service

import (
	"fmt"
	"syscall"
	"time"
)

// ServiceState represents the current state of a service.
type ServiceState uint8

const (
	StateStopped  ServiceState = iota // Service is not running
	StateStarting                     // Service is starting
	StateStarted                      // Service is running
	StateStopping                     // Service is stopping
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("ServiceState(%d)", s)
	}
}

// IsFinal returns true if this is a rest state (STOPPED or STARTED).
func (s ServiceState) IsFinal() bool {
	return s == StateStopped || s == StateStarted
}

// ServiceType identifies the kind of service.
type ServiceType uint8

const (
	TypeInternal  ServiceType = iota // No external process
	TypeProcess                      // Long-running monitored process
	TypeBGProcess                    // Self-backgrounding daemon process
	TypeScripted                     // Start/stop via external commands
	TypeTriggered                    // Externally triggered service
)

func (t ServiceType) String() string {
	switch t {
	case TypeInternal:
		return "internal"
	case TypeProcess:
		return "process"
	case TypeBGProcess:
		return "bgprocess"
	case TypeScripted:
		return "scripted"
	case TypeTriggered:
		return "triggered"
	default:
		return fmt.Sprintf("ServiceType(%d)", t)
	}
}

// DependencyType identifies the kind of dependency relationship.
type DependencyType uint8

const (
	DepRegular   DependencyType = iota // Hard dependency
	DepSoft                            // Parallel start; target failure/stop doesn't affect dependent
	DepWaitsFor                        // Like soft, but dependent waits for target to start or fail
	DepMilestone                       // Hard until satisfied, then soft
	DepBefore                          // Ordering only: this service starts before the target
	DepAfter                           // Ordering only: this service starts after the target
)

func (d DependencyType) String() string {
	switch d {
	case DepRegular:
		return "regular"
	case DepSoft:
		return "soft"
	case DepWaitsFor:
		return "waits-for"
	case DepMilestone:
		return "milestone"
	case DepBefore:
		return "before"
	case DepAfter:
		return "after"
	default:
		return fmt.Sprintf("DependencyType(%d)", d)
	}
}

// ServiceEvent represents a service lifecycle event delivered to listeners.
type ServiceEvent uint8

const (
	EventStarted        ServiceEvent = iota // Service reached STARTED state
	EventStopped                            // Service reached STOPPED state
	EventFailedStart                        // Service failed to start
	EventStartCancelled                     // Start was cancelled by a stop request
	EventStopCancelled                      // Stop was cancelled by a start request
)

func (e ServiceEvent) String() string {
	switch e {
	case EventStarted:
		return "STARTED"
	case EventStopped:
		return "STOPPED"
	case EventFailedStart:
		return "FAILEDSTART"
	case EventStartCancelled:
		return "STARTCANCELLED"
	case EventStopCancelled:
		return "STOPCANCELLED"
	default:
		return fmt.Sprintf("ServiceEvent(%d)", e)
	}
}

// ShutdownType represents shutdown modes.
type ShutdownType uint8

const (
	ShutdownNone     ShutdownType = iota // No explicit shutdown
	ShutdownRemain                       // Continue running with no services
	ShutdownHalt                         // Halt system without powering down
	ShutdownPoweroff                     // Power off system
	ShutdownReboot                       // Reboot system
)

func (s ShutdownType) String() string {
	switch s {
	case ShutdownNone:
		return "none"
	case ShutdownRemain:
		return "remain"
	case ShutdownHalt:
		return "halt"
	case ShutdownPoweroff:
		return "poweroff"
	case ShutdownReboot:
		return "reboot"
	default:
		return fmt.Sprintf("ShutdownType(%d)", s)
	}
}

// StoppedReason explains why a service stopped (or failed to start).
type StoppedReason uint8

const (
	ReasonNormal     StoppedReason = iota // Stop was requested; orderly completion
	ReasonDepFailed                       // A hard dependency failed to start
	ReasonFailed                          // Process terminated before start completed, or stop script failed
	ReasonExecFailed                      // Launcher could not exec the target binary
	ReasonTimedOut                        // Start or stop timer fired
	ReasonTerminated                      // Process terminated unexpectedly after starting
)

func (r StoppedReason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonDepFailed:
		return "dependency-failed"
	case ReasonFailed:
		return "failed"
	case ReasonExecFailed:
		return "exec-failed"
	case ReasonTimedOut:
		return "timed-out"
	case ReasonTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("StoppedReason(%d)", r)
	}
}

// LogType identifies where a process service's output goes.
type LogType uint8

const (
	LogNone   LogType = iota // Discard all output
	LogFile                  // Log to a file
	LogMemory                // Log to a bounded memory buffer
)

// ExitStatus describes how a child process terminated.
type ExitStatus struct {
	// Set is false until a wait status has been collected.
	Set bool
	// Code is the exit code for a normal exit (meaningful when Sig == 0).
	Code int
	// Sig is the terminating signal, or 0 for a normal exit.
	Sig syscall.Signal
}

// ExitedStatus returns an ExitStatus for a normal exit with the given code.
func ExitedStatus(code int) ExitStatus {
	return ExitStatus{Set: true, Code: code}
}

// SignalledStatus returns an ExitStatus for termination by signal.
func SignalledStatus(sig syscall.Signal) ExitStatus {
	return ExitStatus{Set: true, Sig: sig}
}

// Exited returns true if the process exited normally.
func (e ExitStatus) Exited() bool { return e.Set && e.Sig == 0 }

// ExitedClean returns true if the process exited with code 0.
func (e ExitStatus) ExitedClean() bool { return e.Exited() && e.Code == 0 }

// Signaled returns true if the process was killed by a signal.
func (e ExitStatus) Signaled() bool { return e.Set && e.Sig != 0 }

// ServiceFlags holds behavioral flags for a service.
type ServiceFlags struct {
	RWReady            bool // Root filesystem is writable once this service starts
	LogReady           bool // External logging can begin once this service starts
	RunsOnConsole      bool // Service runs on the console
	StartsOnConsole    bool // Service uses the console during startup
	StartInterruptible bool // Startup can be interrupted by a stop request
	Skippable          bool // Startup can be skipped by interrupting it
	SignalProcessOnly  bool // Signal only the process, not its process group
}

// ServiceListener is notified of service state changes. Notifications
// are best-effort: the state machine never depends on their outcome.
type ServiceListener interface {
	ServiceEvent(svc Service, event ServiceEvent)
}

// ServiceLogger is the logging collaborator. Implementations live
// outside this package (see pkg/logging); calls are best-effort.
type ServiceLogger interface {
	ServiceStarted(name string)
	ServiceStopped(name string)
	ServiceFailed(name string, depFailed bool)
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// ServiceLoader loads service descriptions by name, used for chain
// targets and control requests.
type ServiceLoader interface {
	LoadService(name string) (Service, error)
}

// ServiceNotFound is returned when a requested service cannot be found.
type ServiceNotFound struct {
	Name string
}

func (e *ServiceNotFound) Error() string {
	return fmt.Sprintf("service not found: %s", e.Name)
}

// EventLoop is the scheduling collaborator. The state machine never
// blocks; when it has to wait it records intent in service state, arms
// a timer, and returns. All callbacks must be delivered on the loop
// thread that drives the service set.
type EventLoop interface {
	// NewTimer returns a disarmed timer that invokes expired on the
	// loop thread when it fires.
	NewTimer(expired func()) Timer
	// Now returns the loop's notion of the current time.
	Now() time.Time
}

// Timer is a re-armable one-shot timer owned by a single service.
type Timer interface {
	// Arm schedules the timer to fire after d, replacing any earlier
	// schedule.
	Arm(d time.Duration)
	// Stop disarms the timer. Stopping a disarmed timer is a no-op.
	Stop()
	// Armed reports whether the timer is currently scheduled.
	Armed() bool
}

// ExecParams holds the parameters for launching a child process.
type ExecParams struct {
	Command    []string
	WorkingDir string
	Env        []string // additional key=value entries

	RunAsUID uint32
	RunAsGID uint32

	// OnConsole indicates the child should be given the console for
	// its standard streams.
	OnConsole bool

	// SignalProcessOnly: signal only the process, never its group.
	SignalProcessOnly bool

	// NotifyReadiness requests a readiness-notification channel be set
	// up for the child; the launcher reports readiness through the
	// ProcessEvents sink.
	NotifyReadiness bool

	// OutputFile receives the child's output when non-empty.
	OutputFile string

	// OutputBuffer captures the child's output when non-nil.
	OutputBuffer *LogBuffer
}

// ProcessEvents is the callback sink a process-backed service hands to
// the launcher. All callbacks arrive on the event-loop thread.
type ProcessEvents interface {
	// ExecSucceeded is delivered once the child has successfully
	// exec'd its target.
	ExecSucceeded()
	// ExecFailed is delivered when the child could not exec.
	ExecFailed(err error)
	// HandleExitStatus is delivered when the child terminates.
	HandleExitStatus(status ExitStatus)
	// ReadyNotification is delivered when a readiness-notification
	// line arrives from the child.
	ReadyNotification()
	// NotificationEOF is delivered when the readiness channel closes
	// before readiness was signalled.
	NotificationEOF()
}

// Launcher starts and signals child processes on behalf of process
// services. Implementations deliver ProcessEvents callbacks on the
// event-loop thread.
type Launcher interface {
	// Launch starts a child process. The returned pid is valid until
	// HandleExitStatus is delivered for it.
	Launch(params ExecParams, events ProcessEvents) (int, error)
	// Signal sends sig to pid (or to its process group when
	// processOnly is false).
	Signal(pid int, sig syscall.Signal, processOnly bool) error
	// Observe watches an unrelated process (a self-backgrounded
	// daemon) and delivers HandleExitStatus when it disappears.
	Observe(pid int, events ProcessEvents) error
}

// TerminalControl mediates access to the controlling terminal. The
// state machine treats these as opaque side effects.
type TerminalControl interface {
	// SetForegroundGroup makes pgid the foreground process group of
	// the controlling terminal.
	SetForegroundGroup(pgid int) error
	// OwnProcessGroup returns the supervisor's own process group.
	OwnProcessGroup() int
}

// noopTerminal is the default TerminalControl when none is configured.
type noopTerminal struct{}

func (noopTerminal) SetForegroundGroup(int) error { return nil }
func (noopTerminal) OwnProcessGroup() int         { return 0 }
