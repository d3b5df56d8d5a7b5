package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// eventFamily is the one exported counter family. Every registry counter
// becomes a sample of it, distinguished by the event label.
const eventFamily = "presence_relay_events_total"

// PrometheusHandler serves the counter registry in the Prometheus text
// exposition format (version 0.0.4).
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeExposition(w, m.Snapshot())
	})
}

func writeExposition(w io.Writer, snap map[string]uint64) {
	events := make([]string, 0, len(snap))
	for event := range snap {
		events = append(events, event)
	}
	sort.Strings(events)

	fmt.Fprintf(w, "# HELP %s Relay events by type.\n", eventFamily)
	fmt.Fprintf(w, "# TYPE %s counter\n", eventFamily)
	for _, event := range events {
		fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventFamily, escapeLabelValue(event), snap[event])
	}
}

// escapeLabelValue escapes a label value per the text format rules: backslash,
// double quote and newline.
func escapeLabelValue(v string) string {
	if !strings.ContainsAny(v, "\\\"\n") {
		return v
	}
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
