package deputy

import (
	gpprocess "github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// Introspector is the Introspection Ticker (spec.md C8): every 120s it
// emits a self-accounting "MARK" diagnostic and resets the
// reconciliation counters for the next interval.
type Introspector struct {
	State   *State
	Manager *Manager
	Log     *logrus.Entry
	pid     int
}

// NewIntrospector wires an Introspector for the deputy's own pid.
func NewIntrospector(state *State, m *Manager, log *logrus.Entry, pid int) *Introspector {
	return &Introspector{State: state, Manager: m, Log: log, pid: pid}
}

// Tick emits the MARK line and resets per-interval counters.
func (ic *Introspector) Tick() {
	var rss, vsz uint64
	if proc, err := gpprocess.NewProcess(int32(ic.pid)); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			rss, vsz = mi.RSS, mi.VMS
		}
	}

	handles := ic.Manager.Cmds()
	running := 0
	for _, h := range handles {
		if h.Status() == StateRunning {
			running++
		}
	}

	ic.Log.WithFields(logrus.Fields{
		"rss_kb":       rss / 1024,
		"vsz_kb":       vsz / 1024,
		"procs":        len(handles),
		"running":      running,
		"orders":       ic.State.OrdersSeen,
		"forme":        ic.State.OrdersForMe,
		"stale":        ic.State.StaleOrders,
		"coordinators": len(ic.State.Coordinators),
	}).Info("MARK")

	ic.State.ResetIntrospectionCounters()
}
