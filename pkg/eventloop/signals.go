package eventloop

import (
	"os"
	"os/signal"
	"syscall"
)

// SetupSignals installs the signal handlers the loop cares about and
// returns the delivery channel.
func SetupSignals() chan os.Signal {
	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGCHLD,
	)
	return sigCh
}

// StopSignals removes the handlers installed by SetupSignals.
func StopSignals(sigCh chan os.Signal) {
	signal.Stop(sigCh)
}
