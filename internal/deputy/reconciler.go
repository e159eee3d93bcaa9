package deputy

import (
	"fmt"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kornnellio/procd/internal/bus"
	"github.com/kornnellio/procd/internal/wire"
)

// Default tuning constants (spec.md §5 "Rate limits & escalation
// constants"). DefaultMaxMessageAge seeds the Reconciler.MaxMessageAge
// field, which tests can override; KillInterval and GracefulKillCount
// are fixed package constants.
const (
	DefaultMaxMessageAge = 30 * time.Second
	KillInterval         = 900 * time.Millisecond
	GracefulKillCount     = 6 // first 6 signals are SIGTERM; the 7th+ is SIGKILL
)

// Reconciler is the decision kernel (spec.md C5): given an incoming
// Orders message and the current table, it computes and applies the
// transition set described in spec.md §4.4.
type Reconciler struct {
	Manager *Manager
	State   *State
	Bus     bus.Bus
	Log     *logrus.Entry

	MaxMessageAge time.Duration
	Now           func() int64 // microseconds since epoch; overridable for tests
	Verbose       bool         // raises per-command decision logging from Debug to Info
}

// NewReconciler wires a Reconciler with production defaults.
func NewReconciler(m *Manager, s *State, b bus.Bus, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		Manager:       m,
		State:         s,
		Bus:           b,
		Log:           log,
		MaxMessageAge: DefaultMaxMessageAge,
		Now:           nowMicros,
	}
}

func nowMicros() int64 { return time.Now().UnixMicro() }

// Reconcile runs the full procedure of spec.md §4.4 for one Orders
// message: filter, staleness check, coordinator tracking, per-command
// reconcile, orphan cull, and conditional publish.
func (r *Reconciler) Reconcile(order wire.Orders) {
	r.State.OrdersSeen++

	if order.Host != r.State.Hostname {
		return // spec.md: MisaddressedOrders are silently dropped
	}
	r.State.OrdersForMe++

	now := r.Now()
	if now-order.UTime > r.MaxMessageAge.Microseconds() {
		r.State.StaleOrders++
		agoSeconds := (now - order.UTime) / 1_000_000
		for _, cmd := range order.Commands {
			r.printf(cmd.SheriffID, fmt.Sprintf(
				"ignoring stale orders (utime %d seconds ago). You may want to check the system clocks!",
				agoSeconds))
		}
		return
	}

	if order.CoordinatorName != "" {
		r.State.Coordinators[order.CoordinatorName] = struct{}{}
		r.State.LastCoord = order.CoordinatorName
	}

	actionTaken := false
	seen := make(map[int32]struct{}, len(order.Commands))

	for _, cmd := range order.Commands {
		seen[cmd.SheriffID] = struct{}{}
		if r.reconcileOne(cmd) {
			actionTaken = true
		}
	}

	if r.cullOrphans(seen) {
		actionTaken = true
	}

	if actionTaken {
		r.publishSnapshot()
	}
}

// reconcileOne applies spec.md §4.4 steps 4a-4e to a single command
// record and reports whether any action was taken.
func (r *Reconciler) reconcileOne(cmd wire.Command) bool {
	actionTaken := false

	h, ok := r.Manager.Lookup(cmd.SheriffID)
	if !ok {
		var err error
		h, err = r.Manager.Add(cmd.SheriffID, cmd.Name, cmd.Nickname, cmd.Group)
		if err != nil {
			r.printf(cmd.SheriffID, fmt.Sprintf("couldn't add [%s]: %v", cmd.Name, err))
			return false
		}
		actionTaken = true
	}

	h.mu.Lock()
	nameChanged := h.Name != cmd.Name
	h.mu.Unlock()
	if nameChanged {
		if err := r.Manager.ChangeName(h, cmd.Name); err != nil {
			r.printf(cmd.SheriffID, fmt.Sprintf("couldn't rename to [%s]: %v", cmd.Name, err))
		} else {
			actionTaken = true
		}
	}

	h.mu.Lock()
	if h.Nickname != cmd.Nickname {
		h.Nickname = cmd.Nickname
		actionTaken = true
	}
	if h.Group != cmd.Group {
		h.Group = cmd.Group
		actionTaken = true
	}
	h.desiredRunID = cmd.DesiredRunID
	h.mu.Unlock()

	status := h.Status()
	action := decideTransition(status, cmd.ForceQuit, cmd.DesiredRunID, h.ActualRunID())

	decision := r.Log.WithFields(logrus.Fields{
		"sheriff_id": cmd.SheriffID,
		"status":     status,
		"force_quit": cmd.ForceQuit,
		"action":     action,
	})
	if r.Verbose {
		decision.Info("reconcile decision")
	} else {
		decision.Debug("reconcile decision")
	}

	switch action {
	case transitionStart:
		if err := r.Manager.Start(h); err != nil {
			r.printf(cmd.SheriffID, fmt.Sprintf("couldn't start [%s]", cmd.Name))
			r.Log.WithField("sheriff_id", cmd.SheriffID).WithError(err).Warn("spawn failed")
		} else {
			h.mu.Lock()
			h.actualRunID = cmd.DesiredRunID
			h.mu.Unlock()
		}
		actionTaken = true
	case transitionStop:
		r.stop(h)
		actionTaken = true
	case transitionNone:
		h.mu.Lock()
		if status == StateStopped {
			h.actualRunID = cmd.DesiredRunID
		}
		h.mu.Unlock()
	}

	return actionTaken
}

// transition is the outcome of the truth table in spec.md §4.4 step e.
type transition int

const (
	transitionNone transition = iota
	transitionStart
	transitionStop
)

func (t transition) String() string {
	switch t {
	case transitionStart:
		return "start"
	case transitionStop:
		return "stop"
	default:
		return "none"
	}
}

// decideTransition implements spec.md §4.4's per-command transition
// table exactly. It is a pure function so the decision logic is
// unit-testable in isolation from the OS (spec.md §9 design note).
func decideTransition(status RunState, forceQuit bool, desiredRunID, actualRunID int32) transition {
	switch status {
	case StateStopped:
		if forceQuit {
			return transitionNone
		}
		if desiredRunID != actualRunID {
			return transitionStart
		}
		return transitionNone
	case StateRunning:
		if forceQuit {
			return transitionStop
		}
		if desiredRunID != actualRunID {
			return transitionStop
		}
		return transitionNone
	}
	return transitionNone
}

// cullOrphans deletes or schedules removal of every handle whose
// sheriff id did not appear in this order (spec.md §4.4 step 5).
func (r *Reconciler) cullOrphans(seen map[int32]struct{}) bool {
	actionTaken := false
	for _, h := range r.Manager.Cmds() {
		if _, ok := seen[h.SheriffID]; ok {
			continue
		}
		if h.Status() == StateRunning {
			h.mu.Lock()
			h.removeReqest = true
			h.mu.Unlock()
			r.stop(h)
		} else {
			if err := r.Manager.Remove(h); err != nil {
				r.Log.WithField("sheriff_id", h.SheriffID).WithError(err).Warn("orphan remove failed")
				continue
			}
		}
		actionTaken = true
	}
	return actionTaken
}

// stop implements spec.md §4.4.1's kill escalation: rate-limited to
// roughly 1 Hz, SIGTERM for the first GracefulKillCount signals, then
// SIGKILL.
func (r *Reconciler) stop(h *ChildHandle) {
	h.mu.Lock()
	pid := h.pid
	if pid == 0 {
		h.mu.Unlock()
		return
	}
	now := r.Now()
	if h.lastKillTime != 0 && now < h.lastKillTime+KillInterval.Microseconds() {
		h.mu.Unlock()
		return
	}
	sig := syscall.SIGTERM
	if h.numKillsSent >= GracefulKillCount {
		sig = syscall.SIGKILL
	}
	h.numKillsSent++
	h.lastKillTime = now
	sheriffID := h.SheriffID
	h.mu.Unlock()

	if err := r.Manager.Kill(h, sig); err != nil {
		r.printf(sheriffID, fmt.Sprintf("kill: %v", err))
	}
}

func (r *Reconciler) printf(sheriffID int32, text string) {
	if r.Log != nil {
		r.Log.WithField("sheriff_id", sheriffID).Info(text)
	}
	if r.Bus != nil {
		_ = r.Bus.PublishPrintf(wire.Printf{
			DeputyName: r.State.Hostname,
			SheriffID:  sheriffID,
			Text:       text,
			UTime:      r.Now(),
		})
	}
}

// publishSnapshot builds and sends a telemetry Info message (spec.md
// C6, triggered here per §4.4 step 6: "If any action was taken, emit a
// telemetry snapshot.").
func (r *Reconciler) publishSnapshot() {
	if r.Bus == nil {
		return
	}
	info := wire.Info{
		UTime:          r.Now(),
		Host:           r.State.Hostname,
		CPULoad:        r.State.CPULoad,
		PhysMemTotal:   r.State.cpu[1].memTotal,
		PhysMemFree:    r.State.cpu[1].memFree,
		SwapTotalBytes: r.State.cpu[1].swapTotal,
		SwapFreeBytes:  r.State.cpu[1].swapFree,
	}
	for _, h := range r.Manager.Cmds() {
		snap := h.snapshot()
		info.Cmds = append(info.Cmds, wire.CmdInfo{
			Name:        snap.name,
			Nickname:    snap.nickname,
			Group:       snap.group,
			SheriffID:   snap.sheriffID,
			ActualRunID: snap.actualRunID,
			PID:         snap.pid,
			ExitCode:    snap.exitCode,
			CPUUsage:    snap.cpuUsage,
			VSize:       snap.vsize,
			RSS:         snap.rss,
		})
	}
	if err := r.Bus.PublishInfo(info); err != nil {
		r.Log.WithError(err).Warn("publish info failed")
	}
}
