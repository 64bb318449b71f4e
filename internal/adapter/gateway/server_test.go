package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"docchat/internal/domain"
	"docchat/internal/infra/config"
)

// --- test doubles ---

type testBus struct {
	mu       sync.Mutex
	handlers []domain.EventHandler
	events   []domain.Event
}

func (b *testBus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	hs := append([]domain.EventHandler(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx, event)
	}
}

func (b *testBus) Subscribe(_ domain.EventType, _ domain.EventHandler) func() { return func() {} }

func (b *testBus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.handlers = nil
		b.mu.Unlock()
	}
}

func (b *testBus) Close() {}

func (b *testBus) published(typ domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newTestAuth() Authenticator {
	return NewStaticTokenAuth([]config.TokenConfig{{Token: "test-token", Name: "tester"}})
}

func startTestServer(t *testing.T, bus domain.EventBus, setup ...func(*Server)) *Server {
	t.Helper()
	srv := NewServer(bus, newTestAuth(), "127.0.0.1:0", slog.Default())
	for _, fn := range setup {
		fn(srv)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start in time")
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func dialWS(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, id uint64, method string, payload any) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req := Frame{Type: FrameTypeRequest, ID: id, Method: method}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		req.Payload = data
	}
	require.NoError(t, wsjson.Write(ctx, ws, req))

	for {
		var resp Frame
		require.NoError(t, wsjson.Read(ctx, ws, &resp))
		if resp.Type == FrameTypeResponse && resp.ID == id {
			return resp
		}
	}
}

func waitClients(t *testing.T, srv *Server, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Metrics().ClientsConnected.Load() == n
	}, 2*time.Second, 10*time.Millisecond)
}

// --- tests ---

func TestServerLifecycle(t *testing.T) {
	srv := startTestServer(t, &testBus{})
	assert.NotEmpty(t, srv.BoundAddr())
}

func TestServerAuthReject(t *testing.T) {
	srv := startTestServer(t, &testBus{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=bad-token", nil)
	assert.Error(t, err)
}

func TestServerBearerHeader(t *testing.T) {
	srv := startTestServer(t, &testBus{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Bearer test-token"}},
	})
	require.NoError(t, err)
	ws.Close(websocket.StatusNormalClosure, "")
}

func TestServerRPCRoundtrip(t *testing.T) {
	srv := startTestServer(t, &testBus{}, func(s *Server) {
		s.RegisterHandler("echo", func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
			return payload, nil
		})
	})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 1, "echo", map[string]string{"msg": "hello"})
	assert.Empty(t, resp.Error)
	assert.JSONEq(t, `{"msg":"hello"}`, string(resp.Payload))
}

func TestServerUnknownMethod(t *testing.T) {
	srv := startTestServer(t, &testBus{})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 2, "nonexistent", nil)
	assert.Contains(t, resp.Error, domain.ErrRPCMethodNotFound.Error())
	assert.Equal(t, domain.CodeRPCMethodNotFound, resp.Code)
}

func TestServerHandlerError(t *testing.T) {
	srv := startTestServer(t, &testBus{}, func(s *Server) {
		s.RegisterHandler("fail", func(context.Context, *ClientInfo, json.RawMessage) (json.RawMessage, error) {
			return nil, domain.ErrRPCInvalidPayload
		})
	})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 1, "fail", nil)
	assert.Equal(t, domain.ErrRPCInvalidPayload.Error(), resp.Error)
	assert.Equal(t, int64(1), srv.Metrics().RPCErrors.Load())
}

func TestServerEventForwarding(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus)
	ws := dialWS(t, srv.BoundAddr(), "test-token")
	waitClients(t, srv, 1)

	bus.Publish(context.Background(), domain.Event{
		Type:           domain.EventGenerationStarted,
		Timestamp:      time.Now(),
		ConversationID: "c1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frame Frame
	require.NoError(t, wsjson.Read(ctx, ws, &frame))
	assert.Equal(t, FrameTypeEvent, frame.Type)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(frame.Payload, &ev))
	assert.Equal(t, domain.EventGenerationStarted, ev.Type)
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestServerSlowClientDoesNotBlock(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus)
	_ = dialWS(t, srv.BoundAddr(), "test-token") // connected but not reading
	waitClients(t, srv, 1)

	done := make(chan struct{})
	go func() {
		for range 500 {
			bus.Publish(context.Background(), domain.Event{Type: domain.EventConversationUpdated, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publishing blocked on a slow client")
	}
}

func TestServerConcurrentClients(t *testing.T) {
	srv := startTestServer(t, &testBus{}, func(s *Server) {
		s.RegisterHandler("ping", func(context.Context, *ClientInfo, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`"pong"`), nil
		})
	})

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			ws := dialWS(t, srv.BoundAddr(), "test-token")
			resp := call(t, ws, id, "ping", nil)
			assert.Equal(t, `"pong"`, string(resp.Payload))
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestServerDisconnect(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=test-token", nil)
	require.NoError(t, err)
	waitClients(t, srv, 1)

	ws.Close(websocket.StatusNormalClosure, "bye")
	waitClients(t, srv, 0)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventGenerationFinished, Timestamp: time.Now()})
}

func TestServer_MiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				w.Header().Add("X-Chain", name)
				next.ServeHTTP(w, r)
			})
		}
	}
	srv := startTestServer(t, &testBus{}, func(s *Server) {
		s.Use(mw("outer"), mw("inner"))
		s.RegisterHTTPRoute("/ping", func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "route")
		})
	})

	resp, err := http.Get("http://" + srv.BoundAddr() + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"outer", "inner", "route"}, order)
	assert.Equal(t, []string{"outer", "inner"}, resp.Header.Values("X-Chain"))
}
