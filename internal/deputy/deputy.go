package deputy

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kornnellio/procd/internal/bus"
	"github.com/kornnellio/procd/internal/config"
)

// Deputy wires every component (C1-C8) into the single running daemon
// described in spec.md §1, the same way the teacher's Supervisor wired
// signal handling, process bookkeeping, and the run loop together.
type Deputy struct {
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

// New builds a Deputy bound to hostname, publishing and receiving over
// b, logging through log. verbose raises the reconciler's per-command
// decision log lines from Debug to Info.
func New(hostname string, b bus.Bus, log *logrus.Entry, verbose bool) *Deputy {
	mgr := NewManager()
	state := NewState(hostname)
	rec := NewReconciler(mgr, state, b, log)
	rec.Verbose = verbose
	return &Deputy{
		Manager:    mgr,
		State:      state,
		Reconciler: rec,
		Telemetry:  NewTelemetry(state, b, log),
		Sampler:    NewSampler(),
		Introspect: NewIntrospector(state, mgr, log, os.Getpid()),
		Signals:    NewSignalRelay(),
		Bus:        b,
		Log:        log,
	}
}

// Seed registers every service in a config file as a stopped, not-yet-
// reconciled command, so the first real Orders message from a
// coordinator finds handles already present under the right sheriff
// ids (spec.md §2's config-seed ambient concern: seeding never starts a
// process on its own, it only pre-populates the table). Each handle's
// desired run id is set from the seed entry; its actual run id stays 0.
// The first order that names the handle replaces the desired run id
// with its own, and starts the command whenever that value differs
// from 0, including when it repeats the seeded generation.
func (d *Deputy) Seed(file *config.File) error {
	for _, svc := range file.Services {
		if _, ok := d.Manager.Lookup(svc.SheriffID); ok {
			continue
		}
		h, err := d.Manager.Add(svc.SheriffID, svc.Name, svc.Nickname, svc.Group)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.desiredRunID = svc.DesiredRunID
		h.mu.Unlock()
	}
	return nil
}

// Run starts the event loop and blocks until shutdown.
func (d *Deputy) Run() error {
	loop := &Loop{
		Manager:    d.Manager,
		State:      d.State,
		Reconciler: d.Reconciler,
		Telemetry:  d.Telemetry,
		Sampler:    d.Sampler,
		Introspect: d.Introspect,
		Signals:    d.Signals,
		Bus:        d.Bus,
		Log:        d.Log,
	}
	return loop.Run()
}
