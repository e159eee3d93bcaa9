// Package bus is the deputy's abstract message transport: the
// publish/subscribe collaborator named in spec.md §1 and §6, kept
// entirely outside the reconciliation core. The core only needs three
// things from a Bus: a channel that fills with incoming Orders (so the
// event loop's select wakes on arrival), and two publish methods.
//
// No message-bus client library (NATS, ZeroMQ, MQTT, a pubsub redis
// client, ...) appears anywhere in the retrieved example corpus for
// this spec, and spec.md itself treats the bus as an external,
// unauthenticated, best-effort collaborator. Local and UDP below are
// therefore built on encoding/gob and the standard net package rather
// than on a third-party broker client — see DESIGN.md.
package bus

import (
	"github.com/kornnellio/procd/internal/wire"
)

// Bus is the transport contract the event loop depends on.
type Bus interface {
	// Orders returns the channel that incoming orders arrive on. The
	// event loop selects on this channel directly; a Bus implementation
	// must not block sends onto it forever (callers give it a buffer).
	Orders() <-chan wire.Orders

	// PublishInfo sends a deputy telemetry snapshot.
	PublishInfo(wire.Info) error

	// PublishPrintf sends a single log-relay line.
	PublishPrintf(wire.Printf) error

	// Close releases any transport resources (sockets, goroutines).
	Close() error
}
