package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hipresence/presence-relay/internal/relay"
)

const wsWriteWait = 1 * time.Second

// WebSocketServer accepts signaling connections and hands each one to the
// relay router. Connections are anonymous: the server assigns an opaque
// handle at upgrade time and never trusts client-supplied identity.
type WebSocketServer struct {
	log             *slog.Logger
	router          *relay.Router
	maxMessageBytes int64
	sendQueue       int
	upgrader        websocket.Upgrader
}

// Config carries the transport knobs. Zero values fall back to conservative
// defaults so tests can construct a server with just a router.
type Config struct {
	Log             *slog.Logger
	Router          *relay.Router
	MaxMessageBytes int64
	SendQueue       int
}

func NewWebSocketServer(cfg Config) *WebSocketServer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	queue := cfg.SendQueue
	if queue <= 0 {
		queue = 32
	}
	return &WebSocketServer{
		log:             log,
		router:          cfg.Router,
		maxMessageBytes: maxBytes,
		sendQueue:       queue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	peer := newWSPeer(conn, s.sendQueue)
	s.router.Attach(peer)
	s.log.Debug("connection established", "conn", peer.ID(), "remote", r.RemoteAddr)

	conn.SetReadLimit(s.maxMessageBytes)
	conn.SetPongHandler(func(string) error {
		// A pong is the only liveness signal a quiet-but-healthy client
		// gives; it resets the staleness clock the same way a message does.
		s.router.Touch(peer.ID())
		return nil
	})

	go peer.writePump()
	s.readPump(peer)
}

// readPump drives the connection until the socket dies or the router evicts
// us. It runs on the HTTP handler goroutine.
func (s *WebSocketServer) readPump(peer *wsPeer) {
	defer func() {
		s.router.Disconnect(peer)
		peer.Close()
		s.log.Debug("connection closed", "conn", peer.ID())
	}()

	for {
		msgType, msg, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			// Envelopes are JSON text. Anything else is malformed input and
			// is dropped without ending the connection.
			continue
		}
		s.router.HandleMessage(peer, msg)
	}
}
