package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/kornnellio/procd/internal/wire"
)

// message kind tags prefixed to each UDP datagram so that a single
// multicast group can multiplex orders, info and printf traffic.
const (
	kindOrders byte = iota + 1
	kindInfo
	kindPrintf
)

const maxDatagram = 8192

// UDP is a Bus implementation over UDP multicast, gob-encoded. It is a
// stand-in for the LCM transport the original deputy used: any host on
// the multicast group receives every message, and delivery is
// best-effort, matching spec.md's "telemetry is soft-state" non-goal
// of guaranteed delivery.
type UDP struct {
	conn     *net.UDPConn
	addr     *net.UDPAddr
	ordersCh chan wire.Orders
	log      *logrus.Entry
	done     chan struct{}
}

// NewUDP joins the multicast group at addr (e.g. "239.0.0.1:41453")
// and returns a Bus that publishes to, and receives orders from, that
// group.
func NewUDP(addr string, log *logrus.Entry) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenMulticastUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bus: join multicast %q: %w", addr, err)
	}
	conn.SetReadBuffer(maxDatagram)

	u := &UDP{
		conn:     conn,
		addr:     udpAddr,
		ordersCh: make(chan wire.Orders, 16),
		log:      log,
		done:     make(chan struct{}),
	}
	go u.recvLoop()
	return u, nil
}

func (u *UDP) recvLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.done:
				return
			default:
			}
			u.log.WithError(err).Warn("bus: udp read failed")
			continue
		}
		if n < 1 {
			continue
		}
		switch buf[0] {
		case kindOrders:
			var o wire.Orders
			if err := gob.NewDecoder(bytes.NewReader(buf[1:n])).Decode(&o); err != nil {
				u.log.WithError(err).Warn("bus: malformed orders datagram")
				continue
			}
			select {
			case u.ordersCh <- o:
			default:
				u.log.Warn("bus: orders channel full, dropping message")
			}
		default:
			// not interested in our own info/printf broadcasts
		}
	}
}

func (u *UDP) Orders() <-chan wire.Orders { return u.ordersCh }

func (u *UDP) publish(kind byte, v interface{}) error {
	var buf bytes.Buffer
	buf.WriteByte(kind)
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("bus: encode: %w", err)
	}
	_, err := u.conn.WriteToUDP(buf.Bytes(), u.addr)
	return err
}

func (u *UDP) PublishInfo(info wire.Info) error   { return u.publish(kindInfo, info) }
func (u *UDP) PublishPrintf(p wire.Printf) error  { return u.publish(kindPrintf, p) }

func (u *UDP) Close() error {
	close(u.done)
	return u.conn.Close()
}
