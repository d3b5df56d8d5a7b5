package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hipresence/presence-relay/internal/metrics"
	"github.com/hipresence/presence-relay/internal/ratelimit"
	"github.com/hipresence/presence-relay/internal/relay"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	m := metrics.New()
	conns := relay.NewRegistry(ratelimit.RealClock{}, 10*time.Second, 60)
	rooms := relay.NewRoomRegistry(slog.Default(), m, 6, 2)
	router := relay.NewRouter(slog.Default(), m, conns, rooms)
	srv := httptest.NewServer(NewWebSocketServer(Config{Router: router}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads envelopes until one of the wanted type arrives, failing the
// test on timeout. Interleaved envelopes of other types are discarded.
func readUntil(t *testing.T, conn *websocket.Conn, typ relay.MessageType) relay.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var env relay.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func TestTwoClientNegotiationOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv)
	send(t, a, `{"type":"join","room":"r1"}`)
	role := readUntil(t, a, relay.TypeRole)
	var rp struct {
		Initiator bool `json:"initiator"`
	}
	if err := json.Unmarshal(role.Payload, &rp); err != nil || !rp.Initiator {
		t.Fatalf("first joiner should be the initiator, payload=%s err=%v", role.Payload, err)
	}

	b := dial(t, srv)
	send(t, b, `{"type":"join","room":"r1"}`)
	role = readUntil(t, b, relay.TypeRole)
	if err := json.Unmarshal(role.Payload, &rp); err != nil || rp.Initiator {
		t.Fatalf("second joiner should not be the initiator, payload=%s err=%v", role.Payload, err)
	}
	readUntil(t, b, relay.TypePeerPresent)
	readUntil(t, a, relay.TypePeerPresent)

	send(t, a, `{"type":"offer","room":"r1","payload":{"sdp":"O"}}`)
	offer := readUntil(t, b, relay.TypeOffer)
	var sdp struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(offer.Payload, &sdp); err != nil || sdp.SDP != "O" {
		t.Fatalf("offer payload should pass through untouched, got %s", offer.Payload)
	}

	send(t, b, `{"type":"answer","room":"r1","payload":{"sdp":"A"}}`)
	readUntil(t, a, relay.TypeAnswer)

	// Both members learn the room is ready.
	readUntil(t, a, relay.TypeMomentReady)
	readUntil(t, b, relay.TypeMomentReady)
}

func TestDisconnectBroadcastsPeerLeft(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv)
	send(t, a, `{"type":"join","room":"r1"}`)
	readUntil(t, a, relay.TypeRole)

	b := dial(t, srv)
	send(t, b, `{"type":"join","room":"r1"}`)
	readUntil(t, b, relay.TypeRole)
	readUntil(t, a, relay.TypePeerPresent)

	b.Close()
	readUntil(t, a, relay.TypePeerLeft)
}

func TestBinaryFramesAreIgnored(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv)
	if err := a.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection survives and keeps working.
	send(t, a, `{"type":"join","room":"r1"}`)
	readUntil(t, a, relay.TypeRole)
}

func TestRoomFullCloseSequence(t *testing.T) {
	m := metrics.New()
	conns := relay.NewRegistry(ratelimit.RealClock{}, 10*time.Second, 60)
	rooms := relay.NewRoomRegistry(slog.Default(), m, 1, 2)
	router := relay.NewRouter(slog.Default(), m, conns, rooms)
	srv := httptest.NewServer(NewWebSocketServer(Config{Router: router}))
	t.Cleanup(srv.Close)

	a := dial(t, srv)
	send(t, a, `{"type":"join","room":"tiny"}`)
	readUntil(t, a, relay.TypeRole)

	b := dial(t, srv)
	send(t, b, `{"type":"join","room":"tiny"}`)
	errEnv := readUntil(t, b, relay.TypeError)
	var ep struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(errEnv.Payload, &ep); err != nil || ep.Code != "room-full" {
		t.Fatalf("expected room-full error, got %s", errEnv.Payload)
	}

	// The server closes the rejected connection after the error envelope.
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := b.ReadMessage(); err != nil {
			break
		}
	}
}
