package bus

import (
	"sync"

	"github.com/kornnellio/procd/internal/wire"
)

// Local is an in-process Bus: Orders published via Send() are
// delivered straight onto the Orders() channel, and published Info/
// Printf messages are appended to in-memory logs a test can inspect.
// It is the default transport for single-host demos and is what the
// reconciler's unit tests drive directly.
type Local struct {
	ordersCh chan wire.Orders

	mu     sync.Mutex
	infos  []wire.Info
	prints []wire.Printf
	closed bool
}

// NewLocal creates a Local bus with the given Orders channel buffer.
func NewLocal(buffer int) *Local {
	if buffer < 1 {
		buffer = 1
	}
	return &Local{ordersCh: make(chan wire.Orders, buffer)}
}

// Send enqueues an Orders message as if it arrived over the wire. It
// blocks if the channel buffer is full, mirroring back-pressure a real
// transport would apply.
func (l *Local) Send(o wire.Orders) {
	l.ordersCh <- o
}

func (l *Local) Orders() <-chan wire.Orders { return l.ordersCh }

func (l *Local) PublishInfo(info wire.Info) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, info)
	return nil
}

func (l *Local) PublishPrintf(p wire.Printf) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prints = append(l.prints, p)
	return nil
}

// Infos returns a copy of every Info snapshot published so far.
func (l *Local) Infos() []wire.Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]wire.Info, len(l.infos))
	copy(out, l.infos)
	return out
}

// Printfs returns a copy of every Printf line published so far.
func (l *Local) Printfs() []wire.Printf {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]wire.Printf, len(l.prints))
	copy(out, l.prints)
	return out
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ordersCh)
	}
	return nil
}
