package deputy

import (
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kornnellio/procd/internal/bus"
)

// shutdownDeadline bounds how long the loop keeps pumping reaps after a
// shutdown signal before giving up on stragglers (spec.md §5
// "Cancellation & shutdown").
const shutdownDeadline = 10 * time.Second

// Loop is the single-threaded event loop (spec.md C4). Every external
// event - signals, incoming orders, drained child output, and the two
// tickers - is marshaled onto one goroutine's select so the child table
// never needs a lock held across an I/O boundary.
type Loop struct {
	Manager    *Manager
	State      *State
	Reconciler *Reconciler
	Telemetry  *Telemetry
	Sampler    *Sampler
	Introspect *Introspector
	Signals    *SignalRelay
	Bus        bus.Bus
	Log        *logrus.Entry
}

// Run drives the loop until a shutdown signal is received, then
// escalates kills against any still-running children and keeps
// reaping until no child is running or shutdownDeadline elapses.
func (l *Loop) Run() error {
	telemetryTick := time.NewTicker(1 * time.Second)
	defer telemetryTick.Stop()
	introspectTick := time.NewTicker(120 * time.Second)
	defer introspectTick.Stop()

	for {
		select {
		case sig := <-l.Signals.Signals():
			if sig == syscall.SIGCHLD {
				l.drainReaps()
				continue
			}
			if IsShutdown(sig) {
				l.Log.WithField("signal", sig).Info("shutdown requested")
				return l.shutdown()
			}

		case order := <-l.Bus.Orders():
			l.Reconciler.Reconcile(order)

		case ln := <-l.Manager.Output():
			l.Telemetry.HandleOutput(ln)

		case <-telemetryTick.C:
			l.Sampler.Tick(l.State, l.Manager.Cmds())
			l.Reconciler.publishSnapshot()

		case <-introspectTick.C:
			l.Introspect.Tick()
		}
	}
}

// drainReaps performs spec.md §4.4.2's reap procedure for every zombie
// currently collectible: reap, drain remaining buffered output, emit
// exit diagnostics, delete the handle if it was marked
// remove_requested, and publish a snapshot.
func (l *Loop) drainReaps() {
	reaped := false
	for {
		h, ok := l.Manager.ReapOne()
		if !ok {
			break
		}
		reaped = true
		l.finalizeReap(h)
	}
	if reaped {
		l.Reconciler.publishSnapshot()
	}
}

func (l *Loop) finalizeReap(h *ChildHandle) {
	l.drainHandleOutput(h)

	h.mu.Lock()
	exitCode := h.exitCode
	wstatus := h.wstatus
	remove := h.removeReqest
	h.mu.Unlock()
	l.Telemetry.ExitDiagnostics(h.SheriffID, wstatus)

	l.Log.WithFields(logrus.Fields{
		"sheriff_id": h.SheriffID,
		"name":       h.Name,
		"exit_code":  exitCode,
	}).Info("child reaped")

	if remove {
		if err := l.Manager.Remove(h); err != nil {
			l.Log.WithField("sheriff_id", h.SheriffID).WithError(err).Warn("post-reap remove failed")
		}
	}
}

// drainHandleOutput blocks until h's output reader goroutine has seen
// EOF, the same way WaitOutputDrained does, but - since this runs on
// the event-loop goroutine, the only consumer of Manager.Output() -
// it keeps servicing that channel itself while it waits instead of
// blocking on it blind. A reader goroutine can only reach EOF after
// its last chunk is accepted by the (bounded) output channel; if the
// loop stopped draining that channel to wait here, a child that bursts
// a full buffer's worth of output right before exiting would wedge the
// entire deputy. Any chunk belonging to another handle encountered
// while waiting is relayed normally, exactly as Run's select would.
// Once outputDone is closed, every chunk still buffered in the channel
// is relayed before returning, so none of h's output is left behind.
func (l *Loop) drainHandleOutput(h *ChildHandle) {
	h.mu.Lock()
	done := h.outputDone
	h.mu.Unlock()
	if done == nil {
		return
	}
	for {
		select {
		case <-done:
			// The reader's sends all happen before it closes done, so
			// whatever of h's output is not yet relayed is buffered now.
			for n := len(l.Manager.outputCh); n > 0; n-- {
				l.Telemetry.HandleOutput(<-l.Manager.outputCh)
			}
			return
		case ln := <-l.Manager.Output():
			l.Telemetry.HandleOutput(ln)
		}
	}
}

// shutdown implements spec.md §5's cancellation sequence: stop every
// running child (escalating per Reconciler.stop's rate limit), and keep
// pumping reaps until no child is running or shutdownDeadline elapses.
func (l *Loop) shutdown() error {
	l.Signals.Stop()

	deadline := time.Now().Add(shutdownDeadline)
	ticker := time.NewTicker(KillInterval)
	defer ticker.Stop()

	for {
		var eg errgroup.Group
		running := 0
		for _, h := range l.Manager.Cmds() {
			if h.Status() != StateRunning {
				continue
			}
			running++
			h := h
			eg.Go(func() error {
				l.Reconciler.stop(h)
				return nil
			})
		}
		_ = eg.Wait() // signaling is independent per child; errors are unused
		l.drainReaps()
		if running == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			l.Log.Warn("shutdown deadline exceeded, abandoning stragglers")
			return nil
		}
		<-ticker.C
	}
}
