package deputy

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// RunState is the coarse runtime status the reconciler switches on.
type RunState int

const (
	StateStopped RunState = iota
	StateRunning
)

func (s RunState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// procSample is one (user, system) CPU-time reading plus the memory
// counters taken alongside it. hasPrev distinguishes a genuinely zero
// reading from "no previous sample exists yet" (spec.md §9, open
// question 2) instead of treating User==0||System==0 as uninitialized.
type procSample struct {
	user, system time.Duration
	vsize, rss   uint64
	hasPrev      bool
}

// ChildHandle is the per-child record described in spec.md §3. It is
// exclusively owned by the Manager's table; the event loop and
// reconciler only ever hold a *ChildHandle borrowed from that table.
type ChildHandle struct {
	mu sync.Mutex

	// Identity
	SheriffID int32
	Name      string // command string, tokenized into argv by Add and ChangeName
	Nickname  string
	Group     string

	// Runtime
	argv     []string
	cmd      *exec.Cmd
	pid      int
	exitCode int
	wstatus  syscall.WaitStatus // raw status from the reaping Wait4 call
	exited   bool               // true once reaped; exitCode is meaningful

	// Control
	desiredRunID int32
	actualRunID  int32

	// Termination state
	numKillsSent int
	lastKillTime int64 // microseconds, 0 = never
	removeReqest bool

	// Output plumbing, owned by the event loop once Start succeeds.
	outputDone chan struct{} // closed once the output reader goroutine has seen EOF
	eofSeen    bool

	// Stats ring: [0]=previous, [1]=current
	stats    [2]procSample
	cpuUsage float64
}

// PID returns the child's current pid, or 0 if not running.
func (h *ChildHandle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Status computes RUNNING/STOPPED per spec.md §4.4 step 4d.
func (h *ChildHandle) Status() RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pid != 0 {
		return StateRunning
	}
	return StateStopped
}

// ActualRunID returns the handle's current generation counter.
func (h *ChildHandle) ActualRunID() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actualRunID
}

// DesiredRunID returns the last desired_runid recorded for this handle.
func (h *ChildHandle) DesiredRunID() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.desiredRunID
}

// RemoveRequested reports whether this handle is scheduled for
// deletion once it reaps (spec.md invariant 4).
func (h *ChildHandle) RemoveRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeReqest
}

// snapshot captures the fields needed for a wire.CmdInfo record
// without exposing internal locking to callers.
type handleSnapshot struct {
	name, nickname, group  string
	sheriffID, actualRunID int32
	pid, exitCode          int
	cpuUsage               float64
	vsize, rss             uint64
}

func (h *ChildHandle) snapshot() handleSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.stats[1]
	return handleSnapshot{
		name:        h.Name,
		nickname:    h.Nickname,
		group:       h.Group,
		sheriffID:   h.SheriffID,
		actualRunID: h.actualRunID,
		pid:         h.pid,
		exitCode:    h.exitCode,
		cpuUsage:    h.cpuUsage,
		vsize:       cur.vsize,
		rss:         cur.rss,
	}
}
