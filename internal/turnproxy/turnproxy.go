// Package turnproxy forwards TURN credential requests to an external
// credential service so browser clients never see the service's API key.
package turnproxy

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 5 * time.Second

// Handler proxies GET requests to the configured upstream credential
// endpoint and relays the JSON response verbatim.
type Handler struct {
	log      *slog.Logger
	upstream string
	client   *http.Client
}

func New(log *slog.Logger, upstream string, timeout time.Duration) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Handler{
		log:      log,
		upstream: upstream,
		client:   &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an upstream endpoint was set.
func (h *Handler) Configured() bool { return h.upstream != "" }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.Configured() {
		http.Error(w, "turn credentials not configured", http.StatusServiceUnavailable)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.upstream, nil)
	if err != nil {
		http.Error(w, "bad upstream url", http.StatusInternalServerError)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Warn("turn credential upstream unreachable", "err", err)
		http.Error(w, "credential service unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.log.Warn("turn credential upstream error", "status", resp.StatusCode)
		http.Error(w, "credential service error", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Debug("turn credential relay interrupted", "err", err)
	}
}
