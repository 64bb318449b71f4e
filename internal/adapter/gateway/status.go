package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks gateway counters for the status and metrics endpoints.
type Metrics struct {
	ClientsConnected atomic.Int64
	EventsForwarded  atomic.Int64
	EventsDropped    atomic.Int64
	RPCCalls         atomic.Int64
	RPCErrors        atomic.Int64
}

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service       string      `json:"service"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Clients       int64       `json:"clients"`
	Draft         DraftStatus `json:"draft"`
}

// DraftStatus summarizes the latest pushed draft.
type DraftStatus struct {
	Generation uint64 `json:"generation"`
	Final      bool   `json:"final"`
	Files      int    `json:"files"`
	Duplicates int64  `json:"duplicates"`
}

// RegisterRESTHandlers registers the HTTP status endpoints. Must be called
// before Start.
func RegisterRESTHandlers(s *Server, drafts *DraftRegistry) {
	startTime := time.Now()
	s.RegisterHTTPRoute("/api/v1/status", statusHandler(s.metrics, drafts, startTime))
	s.RegisterHTTPRoute("/metrics", metricsHandler(s.metrics, drafts))
}

func statusHandler(metrics *Metrics, drafts *DraftRegistry, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		latest := drafts.Latest()
		resp := StatusResponse{
			Service:       "docchat",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Clients:       metrics.ClientsConnected.Load(),
			Draft: DraftStatus{
				Generation: latest.Generation,
				Final:      latest.Final,
				Files:      len(latest.Files),
				Duplicates: drafts.Duplicates(),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// metricsHandler writes the Prometheus text format directly.
func metricsHandler(metrics *Metrics, drafts *DraftRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "docchat_gateway_clients", "gauge", "Connected preview clients.", metrics.ClientsConnected.Load())
		writeMetric(w, "docchat_gateway_events_forwarded_total", "counter", "Events delivered to clients.", metrics.EventsForwarded.Load())
		writeMetric(w, "docchat_gateway_events_dropped_total", "counter", "Events dropped for slow clients.", metrics.EventsDropped.Load())
		writeMetric(w, "docchat_gateway_rpc_calls_total", "counter", "RPC calls dispatched.", metrics.RPCCalls.Load())
		writeMetric(w, "docchat_gateway_rpc_errors_total", "counter", "RPC calls that failed.", metrics.RPCErrors.Load())
		writeMetric(w, "docchat_draft_generation", "gauge", "Generation of the latest draft.", int64(drafts.Latest().Generation))
		writeMetric(w, "docchat_draft_duplicates_total", "counter", "Draft pushes answered from the idempotence memory.", drafts.Duplicates())
	}
}

func writeMetric(w http.ResponseWriter, name, typ, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
