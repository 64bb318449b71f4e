package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"docchat/internal/domain"
)

// Config holds integration test configuration from environment
type Config struct {
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	timeout := 30 * time.Second
	if v, err := time.ParseDuration(os.Getenv("DOCCHAT_IT_TIMEOUT")); err == nil && v > 0 {
		timeout = v
	}
	return &Config{
		TestTimeout: timeout,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Backend is a scripted generation backend speaking the /stream SSE
// protocol. Every request is answered with the same chunks.
type Backend struct {
	URL string

	chunks   []domain.Chunk
	requests atomic.Int64
}

// NewBackend starts a backend that streams chunks.
func NewBackend(t *testing.T, chunks ...domain.Chunk) *Backend {
	t.Helper()
	b := &Backend{chunks: chunks}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	b.URL = srv.URL
	return b
}

// Requests returns the number of stream requests served.
func (b *Backend) Requests() int { return int(b.requests.Load()) }

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/stream" {
		http.NotFound(w, r)
		return
	}
	b.requests.Add(1)
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, c := range b.chunks {
		env, err := domain.EncodeChunk(c)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data, _ := json.Marshal(env)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// WriteFile returns the chunks of one completed writeFile tool call.
func WriteFile(callID, path, content string) []domain.Chunk {
	input, _ := json.Marshal(map[string]string{"path": path, "content": content})
	return []domain.Chunk{
		domain.ToolInputStartChunk{ToolCallID: callID, ToolName: "writeFile"},
		domain.ToolInputDeltaChunk{ToolCallID: callID, InputTextDelta: string(input)},
		domain.ToolInputAvailableChunk{ToolCallID: callID, ToolName: "writeFile", Input: input},
		domain.ToolOutputAvailableChunk{ToolCallID: callID, Output: json.RawMessage(`{"ok":true}`)},
	}
}

// Text returns the chunks of one text run.
func Text(id string, deltas ...string) []domain.Chunk {
	out := []domain.Chunk{domain.TextStartChunk{ID: id}}
	for _, d := range deltas {
		out = append(out, domain.TextDeltaChunk{ID: id, Delta: d})
	}
	return append(out, domain.TextEndChunk{ID: id})
}
