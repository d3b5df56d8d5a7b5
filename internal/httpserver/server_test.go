package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/hipresence/presence-relay/internal/config"
	"github.com/hipresence/presence-relay/internal/metrics"
	"github.com/hipresence/presence-relay/internal/ratelimit"
	"github.com/hipresence/presence-relay/internal/relay"
	"github.com/hipresence/presence-relay/internal/signaling"
	"github.com/hipresence/presence-relay/internal/turnrest"
)

func newTestHTTPServer(t *testing.T, cfg config.Config, gen *turnrest.Generator) *Server {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	s := New(cfg, slog.Default(), metrics.New(), gen, BuildInfo{Commit: "deadbeef", BuildTime: "2026-01-01T00:00:00Z"})
	return s
}

func (s *Server) handler() http.Handler {
	return s.srv.Handler
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestHTTPServer(t, config.Config{}, nil)

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var build BuildInfo
	if err := json.NewDecoder(rec.Body).Decode(&build); err != nil || build.Commit != "deadbeef" {
		t.Fatalf("/version body = %s err = %v", rec.Body.String(), err)
	}
}

func TestReadyzFollowsServeLifecycle(t *testing.T) {
	s := newTestHTTPServer(t, config.Config{}, nil)

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before Serve status = %d, want 503", rec.Code)
	}

	s.ready.Store(true)
	rec = httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz after Serve status = %d", rec.Code)
	}
}

func TestICEWithoutTURNRESTPassesThrough(t *testing.T) {
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.net:3478"}},
			{URLs: []string{"turn:turn.example.net:3478"}, Username: "static", Credential: "cred"},
		},
	}
	s := newTestHTTPServer(t, cfg, nil)

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/ice status = %d", rec.Code)
	}
	var body struct {
		ICEServers []struct {
			URLs     []string `json:"urls"`
			Username string   `json:"username"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ICEServers) != 2 || body.ICEServers[1].Username != "static" {
		t.Fatalf("static credentials should pass through, got %+v", body.ICEServers)
	}
}

func TestICEInjectsTURNRESTCredentials(t *testing.T) {
	gen, err := turnrest.NewGenerator(turnrest.Config{
		SharedSecret:   "secret",
		TTL:            time.Hour,
		UsernamePrefix: "presence",
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.net:3478"}},
			{URLs: []string{"turn:turn.example.net:3478"}},
		},
	}
	s := newTestHTTPServer(t, cfg, gen)

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))
	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("got %d servers", len(body.ICEServers))
	}
	if body.ICEServers[0].Username != "" {
		t.Errorf("stun entry must not get credentials")
	}
	turn := body.ICEServers[1]
	if !strings.Contains(turn.Username, ":presence:") || turn.Credential == "" {
		t.Errorf("turn entry should carry minted credentials, got %+v", turn)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestHTTPServer(t, config.Config{}, nil)
	s.metrics.Inc(metrics.EventSignalMessages)

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "presence_relay_events_total") {
		t.Fatalf("exposition missing counter family:\n%s", rec.Body.String())
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestHTTPServer(t, config.Config{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	s.handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("X-Request-ID = %q, want caller's id echoed", got)
	}

	rec = httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("a request id should be generated when absent")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestHTTPServer(t, config.Config{}, nil)
	s.mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic should map to 500, got %d", rec.Code)
	}
}

// The signaling handler hijacks the connection for the websocket upgrade, so
// it must keep working when mounted behind the full middleware chain the way
// main wires it, not just when served bare.
func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	s := newTestHTTPServer(t, config.Config{}, nil)

	m := metrics.New()
	conns := relay.NewRegistry(ratelimit.RealClock{}, 10*time.Second, 60)
	rooms := relay.NewRoomRegistry(slog.Default(), m, 6, 2)
	router := relay.NewRouter(slog.Default(), m, conns, rooms)
	s.Mux().Handle("GET /signal", signaling.NewWebSocketServer(signaling.Config{Router: router}))

	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/signal"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through middleware chain: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","room":"r1"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env relay.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != relay.TypeRole {
		t.Fatalf("first envelope = %q, want %q", env.Type, relay.TypeRole)
	}
}

func TestWithTURNRESTCredentialsCopies(t *testing.T) {
	in := []webrtc.ICEServer{{URLs: []string{"TURNS:x.example.net:5349"}}}
	out := withTURNRESTCredentials(in, "u", "c")
	if out[0].Username != "u" || out[0].Credential != "c" {
		t.Fatalf("case-insensitive turn scheme should match: %+v", out[0])
	}
	if in[0].Username != "" {
		t.Fatalf("input slice must not be mutated")
	}
}
