package deputy

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalRelay converts asynchronous OS signal delivery into ordinary
// channel sends the event loop selects on (spec.md C3). Go's runtime
// signal handler already does the "write a byte to a pipe and do
// nothing else" trick internally; signal.Notify is its exposed,
// idiomatic surface, so this type carries no logic beyond wiring two
// channels — it is, per spec.md §9, handed a state-free construction
// (it never touches DeputyState or the child table itself).
type SignalRelay struct {
	ch chan os.Signal
}

// NewSignalRelay starts watching SIGCHLD and the shutdown signal set
// (SIGINT, SIGHUP, SIGQUIT, SIGTERM).
func NewSignalRelay() *SignalRelay {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGCHLD, syscall.SIGINT, syscall.SIGHUP,
		syscall.SIGQUIT, syscall.SIGTERM)
	return &SignalRelay{ch: ch}
}

// Signals returns the channel the event loop selects on.
func (r *SignalRelay) Signals() <-chan os.Signal { return r.ch }

// Stop detaches from signal delivery.
func (r *SignalRelay) Stop() {
	signal.Stop(r.ch)
}

// IsShutdown reports whether sig is one of the shutdown-triggering
// signals (spec.md §5 "Cancellation & shutdown").
func IsShutdown(sig os.Signal) bool {
	switch sig {
	case syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM:
		return true
	default:
		return false
	}
}
