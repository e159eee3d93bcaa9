package deputy

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	gpprocess "github.com/shirou/gopsutil/v4/process"
)

// Sampler is the Resource Sampler (spec.md C7). It reads system and
// per-child CPU/memory counters via gopsutil and computes a
// normalized load between consecutive 1s ticks, using the two-slot
// sample ring described in spec.md §9 ("Two-slot sample ring").
//
// gopsutil reports CPU time in fractional seconds rather than raw
// jiffies; the elapsed/loaded ratio this computes is dimensionless
// either way, so the spec's jiffies-based formula translates directly
// onto time.Duration deltas.
type Sampler struct{}

func NewSampler() *Sampler { return &Sampler{} }

// Tick reads one round of counters and updates state plus every
// running handle's cpu usage / memory fields in place.
func (s *Sampler) Tick(state *State, handles []*ChildHandle) {
	s.sampleSystem(state)
	for _, h := range handles {
		s.sampleChild(h, state.cpu[1].user+state.cpu[1].userLow+state.cpu[1].system+state.cpu[1].idle-
			(state.cpu[0].user+state.cpu[0].userLow+state.cpu[0].system+state.cpu[0].idle))
	}
}

func (s *Sampler) sampleSystem(state *State) {
	var cur sysSample

	times, err := cpu.Times(false)
	if err == nil && len(times) > 0 {
		t := times[0]
		cur.user = secs(t.User)
		cur.userLow = secs(t.Nice)
		cur.system = secs(t.System)
		cur.idle = secs(t.Idle)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		cur.memTotal = vm.Total
		cur.memFree = vm.Free
	}
	if sw, err := mem.SwapMemory(); err == nil {
		cur.swapTotal = sw.Total
		cur.swapFree = sw.Free
	}

	prev := state.cpu[1]
	cur.hasPrev = prev.hasPrev || prev.user != 0 || prev.system != 0 || prev.idle != 0

	elapsed := (cur.user - prev.user) + (cur.userLow - prev.userLow) +
		(cur.system - prev.system) + (cur.idle - prev.idle)
	loaded := (cur.user - prev.user) + (cur.userLow - prev.userLow) + (cur.system - prev.system)

	if elapsed == 0 || !prev.hasPrev {
		state.CPULoad = 0
	} else {
		state.CPULoad = float64(loaded) / float64(elapsed)
	}

	state.cpu[0] = state.cpu[1]
	cur.hasPrev = true
	state.cpu[1] = cur
}

func (s *Sampler) sampleChild(h *ChildHandle, elapsed time.Duration) {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()

	var cur procSample
	if pid != 0 {
		proc, err := gpprocess.NewProcess(int32(pid))
		if err == nil {
			if times, err := proc.Times(); err == nil {
				cur.user = secs(times.User)
				cur.system = secs(times.System)
			}
			if mi, err := proc.MemoryInfo(); err == nil {
				cur.vsize = mi.VMS
				cur.rss = mi.RSS
			}
		}
	}

	h.mu.Lock()
	prev := h.stats[1]
	used := (cur.user - prev.user) + (cur.system - prev.system)
	switch {
	case pid == 0:
		h.cpuUsage = 0
	case elapsed == 0 || !prev.hasPrev:
		// No usable previous sample yet (freshly spawned child), or no
		// system-wide elapsed time between ticks: report zero rather
		// than a spuriously large ratio (spec.md §9, open question 2).
		h.cpuUsage = 0
	default:
		h.cpuUsage = float64(used) / float64(elapsed)
	}
	h.stats[0] = h.stats[1]
	cur.hasPrev = pid != 0
	h.stats[1] = cur
	h.mu.Unlock()
}

func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
