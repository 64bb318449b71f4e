package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
)

func strPtr(s string) *string { return &s }

func newTestRegistry(t *testing.T, bus domain.EventBus) *DraftRegistry {
	t.Helper()
	reg, err := NewDraftRegistry(bus, slog.Default())
	require.NoError(t, err)
	return reg
}

func pushPayload(t *testing.T, req DraftPushRequest) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestDraftPushStoresLatest(t *testing.T) {
	bus := &testBus{}
	reg := newTestRegistry(t, bus)
	client := &ClientInfo{Name: "preview"}

	state := domain.SyncState{
		Files:      []domain.FileUpdate{{GithubPath: "docs/a.md", Content: strPtr("# A"), AddedLines: 1}},
		Final:      true,
		Generation: 3,
	}
	out, err := reg.handlePush(context.Background(), client, pushPayload(t, DraftPushRequest{State: state, IdempotenceKey: "call-1"}))
	require.NoError(t, err)

	var ack domain.SyncAck
	require.NoError(t, json.Unmarshal(out, &ack))
	assert.Equal(t, uint64(3), ack.Generation)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, state, reg.Latest())

	events := bus.published(domain.EventDraftSynced)
	require.Len(t, events, 1)
	var payload domain.DraftSyncedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, domain.DraftSyncedPayload{Generation: 3, Final: true, Files: 1, Client: "preview"}, payload)
}

func TestDraftPushDeduplicatesByKey(t *testing.T) {
	bus := &testBus{}
	reg := newTestRegistry(t, bus)
	client := &ClientInfo{Name: "preview"}

	first := DraftPushRequest{State: domain.SyncState{Files: []domain.FileUpdate{}, Generation: 1}, IdempotenceKey: "k"}
	_, err := reg.handlePush(context.Background(), client, pushPayload(t, first))
	require.NoError(t, err)

	second := DraftPushRequest{State: domain.SyncState{Files: []domain.FileUpdate{}, Generation: 2}, IdempotenceKey: "k"}
	out, err := reg.handlePush(context.Background(), client, pushPayload(t, second))
	require.NoError(t, err)

	var ack domain.SyncAck
	require.NoError(t, json.Unmarshal(out, &ack))
	assert.True(t, ack.Duplicate)
	assert.Equal(t, uint64(1), ack.Generation)
	assert.Equal(t, uint64(1), reg.Latest().Generation)
	assert.Equal(t, int64(1), reg.Duplicates())
	assert.Len(t, bus.published(domain.EventDraftSynced), 1)
}

func TestDraftPushKeepsNewerGeneration(t *testing.T) {
	reg := newTestRegistry(t, nil)
	client := &ClientInfo{Name: "preview"}

	for _, gen := range []uint64{5, 2} {
		req := DraftPushRequest{State: domain.SyncState{Files: []domain.FileUpdate{}, Generation: gen}}
		_, err := reg.handlePush(context.Background(), client, pushPayload(t, req))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(5), reg.Latest().Generation)
}

func TestDraftPushRejectsInvalidPayload(t *testing.T) {
	reg := newTestRegistry(t, nil)
	client := &ClientInfo{Name: "preview"}

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{`},
		{"missing state", `{"idempotence_key":"k"}`},
		{"missing files", `{"state":{"generation":1}}`},
		{"empty path", `{"state":{"generation":1,"files":[{"githubPath":""}]}}`},
		{"negative generation", `{"state":{"generation":-1,"files":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.handlePush(context.Background(), client, json.RawMessage(tt.payload))
			assert.ErrorIs(t, err, domain.ErrRPCInvalidPayload)
		})
	}
}

func TestDraftPushAcceptsTombstone(t *testing.T) {
	reg := newTestRegistry(t, nil)

	_, err := reg.handlePush(context.Background(), &ClientInfo{}, json.RawMessage(
		`{"state":{"generation":1,"files":[{"githubPath":"old.md","content":null,"deletedLines":4}]}}`))
	require.NoError(t, err)
	require.Len(t, reg.Latest().Files, 1)
	assert.True(t, reg.Latest().Files[0].Deleted())
}

func TestDraftRPCOverWebsocket(t *testing.T) {
	bus := &testBus{}
	reg := newTestRegistry(t, bus)
	srv := startTestServer(t, bus, reg.Register)
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	state := domain.SyncState{Files: []domain.FileUpdate{{GithubPath: "a.md", Content: strPtr("x")}}, Generation: 1}
	resp := call(t, ws, 1, MethodDraftPush, DraftPushRequest{State: state, IdempotenceKey: "k1"})
	require.Empty(t, resp.Error)

	resp = call(t, ws, 2, MethodDraftGet, nil)
	require.Empty(t, resp.Error)
	var got domain.SyncState
	require.NoError(t, json.Unmarshal(resp.Payload, &got))
	assert.Equal(t, state, got)
}

func TestStatusHandler(t *testing.T) {
	reg := newTestRegistry(t, nil)
	_, err := reg.handlePush(context.Background(), &ClientInfo{}, json.RawMessage(`{"state":{"generation":7,"final":true,"files":[]}}`))
	require.NoError(t, err)

	metrics := &Metrics{}
	metrics.ClientsConnected.Store(2)

	rec := httptest.NewRecorder()
	statusHandler(metrics, reg, time.Now())(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "docchat", resp.Service)
	assert.Equal(t, int64(2), resp.Clients)
	assert.Equal(t, DraftStatus{Generation: 7, Final: true}, resp.Draft)

	rec = httptest.NewRecorder()
	statusHandler(metrics, reg, time.Now())(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	reg := newTestRegistry(t, nil)
	metrics := &Metrics{}
	metrics.RPCCalls.Store(4)

	rec := httptest.NewRecorder()
	metricsHandler(metrics, reg)(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Contains(t, rec.Body.String(), "docchat_gateway_rpc_calls_total 4\n")
	assert.Contains(t, rec.Body.String(), "# TYPE docchat_gateway_clients gauge")
}
