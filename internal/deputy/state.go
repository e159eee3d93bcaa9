package deputy

import "time"

// sysSample is one reading of system-wide CPU jiffies-equivalent
// (wall-clock seconds-as-duration, since gopsutil reports host CPU
// time in seconds rather than raw jiffies) plus memory/swap totals.
type sysSample struct {
	user, userLow, system, idle time.Duration
	memTotal, memFree           uint64
	swapTotal, swapFree         uint64
	hasPrev                     bool
}

// State is the deputy's singleton bookkeeping (spec.md §3
// DeputyState), owned exclusively by the event-loop goroutine. Unlike
// the original's process-wide global (kept only so a signal handler
// could reach it, spec.md §9), this is passed explicitly to every
// component that needs it — the Go signal relay carries no state at
// all.
type State struct {
	Hostname string

	// Reconciliation counters since the last introspection tick.
	OrdersSeen    int
	OrdersForMe   int
	StaleOrders   int
	Coordinators  map[string]struct{}
	LastCoord     string

	cpu     [2]sysSample
	CPULoad float64
}

// NewState creates deputy state for the given hostname.
func NewState(hostname string) *State {
	return &State{
		Hostname:     hostname,
		Coordinators: make(map[string]struct{}),
	}
}

// ResetIntrospectionCounters clears the per-interval counters and the
// distinct-coordinator set (spec.md C8, every 120s).
func (s *State) ResetIntrospectionCounters() {
	s.OrdersSeen = 0
	s.OrdersForMe = 0
	s.StaleOrders = 0
	s.Coordinators = make(map[string]struct{})
}
