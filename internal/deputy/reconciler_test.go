package deputy

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kornnellio/procd/internal/bus"
	"github.com/kornnellio/procd/internal/wire"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestReconciler() (*Reconciler, *bus.Local) {
	m := NewManager()
	s := NewState("thishost")
	b := bus.NewLocal(8)
	r := NewReconciler(m, s, b, testLog())
	return r, b
}

func TestReconcileFreshSpawn(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	r.Reconcile(wire.Orders{
		UTime: r.Now(),
		Host:  "thishost",
		Commands: []wire.Command{
			{SheriffID: 1, Name: "/bin/sleep 5", DesiredRunID: 1},
		},
	})

	h, ok := r.Manager.Lookup(1)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return h.Status() == StateRunning }, time.Second, 10*time.Millisecond)
	r.Manager.Kill(h, 9)
}

func TestReconcileRenameWithoutRestart(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	r.Reconcile(wire.Orders{
		UTime: r.Now(), Host: "thishost",
		Commands: []wire.Command{{SheriffID: 1, Name: "/bin/sleep 5", DesiredRunID: 1}},
	})
	h, ok := r.Manager.Lookup(1)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return h.Status() == StateRunning }, time.Second, 10*time.Millisecond)
	pidBefore := h.PID()

	r.Reconcile(wire.Orders{
		UTime: r.Now(), Host: "thishost",
		Commands: []wire.Command{{SheriffID: 1, Name: "/bin/sleep 6", Nickname: "renamed", DesiredRunID: 1}},
	})

	assert.Equal(t, pidBefore, h.PID(), "renaming must not restart a running, still-desired process")
	assert.Equal(t, "/bin/sleep 6", h.Name)
	assert.Equal(t, "renamed", h.Nickname)
	r.Manager.Kill(h, 9)
}

func TestReconcileHostMismatchDropsOrder(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	r.Reconcile(wire.Orders{
		UTime: r.Now(), Host: "someotherhost",
		Commands: []wire.Command{{SheriffID: 1, Name: "/bin/sleep 5", DesiredRunID: 1}},
	})

	_, ok := r.Manager.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, r.State.OrdersSeen)
	assert.Equal(t, 0, r.State.OrdersForMe)
}

func TestReconcileStaleOrderRejected(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	r.Reconcile(wire.Orders{
		UTime: r.Now() - (r.MaxMessageAge + time.Minute).Microseconds(),
		Host:  "thishost",
		Commands: []wire.Command{{SheriffID: 1, Name: "/bin/sleep 5", DesiredRunID: 1}},
	})

	_, ok := r.Manager.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, r.State.StaleOrders)
}

func TestReconcileOrphanCullOfRunningChild(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	r.Reconcile(wire.Orders{
		UTime: r.Now(), Host: "thishost",
		Commands: []wire.Command{{SheriffID: 1, Name: "/bin/sleep 5", DesiredRunID: 1}},
	})
	h, ok := r.Manager.Lookup(1)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return h.Status() == StateRunning }, time.Second, 10*time.Millisecond)

	// Next order omits sheriff id 1 entirely: it is now an orphan.
	r.Reconcile(wire.Orders{UTime: r.Now(), Host: "thishost"})

	assert.True(t, h.RemoveRequested())
	assert.Equal(t, StateRunning, h.Status(), "cull issues a signal, it does not reap synchronously")
}

func TestStopEscalatesPastGracefulCount(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	h := &ChildHandle{SheriffID: 1, pid: 99999}
	var now int64
	r.Now = func() int64 { return now }

	for i := 1; i <= GracefulKillCount+1; i++ {
		r.stop(h)
		assert.Equal(t, i, h.numKillsSent)
		now += KillInterval.Microseconds()
	}
}

func TestStopRateLimitsWithinWindow(t *testing.T) {
	r, b := newTestReconciler()
	defer b.Close()

	h := &ChildHandle{SheriffID: 1, pid: 99999}
	now := int64(1_000_000) // nonzero: a lastKillTime of 0 means "never signalled"
	r.Now = func() int64 { return now }

	h.lastKillTime = 0
	h.numKillsSent = 0
	// fake PID so Kill() would fail harmlessly; we only assert on bookkeeping
	r.stop(h)
	assert.Equal(t, 1, h.numKillsSent)

	// Calling again immediately must not send a second signal.
	r.stop(h)
	assert.Equal(t, 1, h.numKillsSent)

	now += KillInterval.Microseconds()
	r.stop(h)
	assert.Equal(t, 2, h.numKillsSent)
}
