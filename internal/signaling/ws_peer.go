package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hipresence/presence-relay/internal/relay"
)

// wsPeer adapts one websocket connection to relay.Peer. Outbound envelopes go
// through a bounded channel drained by writePump, so broadcasts from other
// connections' goroutines never block on a slow socket. A full queue makes
// Send report failure and the registry evicts the connection.
type wsPeer struct {
	id   string
	conn *websocket.Conn

	send chan relay.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func newWSPeer(conn *websocket.Conn, sendQueue int) *wsPeer {
	return &wsPeer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan relay.Envelope, sendQueue),
		done: make(chan struct{}),
	}
}

func (p *wsPeer) ID() string { return p.id }

// Send enqueues without blocking. False means the envelope was not accepted,
// either because the connection is closing or the queue is full.
func (p *wsPeer) Send(env relay.Envelope) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- env:
		return true
	default:
		return false
	}
}

// Ping writes a control frame directly; gorilla allows WriteControl
// concurrently with the data writer.
func (p *wsPeer) Ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Close tears down the socket. Idempotent; safe from any goroutine. Closing
// the socket unblocks the read pump, which then runs the router disconnect.
func (p *wsPeer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		_ = p.conn.Close()
	})
}

// writePump serializes all data writes for the connection.
func (p *wsPeer) writePump() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := p.conn.WriteJSON(env); err != nil {
				p.Close()
				return
			}
		}
	}
}
