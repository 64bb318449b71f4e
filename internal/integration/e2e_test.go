//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"docchat/internal/adapter/cachestore"
	"docchat/internal/adapter/gateway"
	"docchat/internal/adapter/llm"
	"docchat/internal/adapter/pages"
	"docchat/internal/adapter/remotesync"
	"docchat/internal/adapter/store"
	"docchat/internal/domain"
	"docchat/internal/infra/config"
	"docchat/internal/usecase/cache"
	"docchat/internal/usecase/chat"
	"docchat/internal/usecase/draft"
	"docchat/internal/usecase/eventbus"
	"docchat/internal/usecase/fanout"
	"docchat/internal/usecase/reducer"
)

// stack is the full set of components behind one chat session.
type stack struct {
	bus     *eventbus.Bus
	gw      *gateway.Server
	drafts  *gateway.DraftRegistry
	sync    *remotesync.Client
	store   *store.SQLiteConversationStore
	pages   *pages.Oracle
	effects *draft.Effects
	gen     domain.StreamingGenerator
}

func newStack(t *testing.T, ctx context.Context, backendURL string, cached bool) *stack {
	t.Helper()
	logger := slog.Default()
	dir := t.TempDir()

	s := &stack{bus: eventbus.New(logger)}
	t.Cleanup(s.bus.Close)

	var err error
	s.drafts, err = gateway.NewDraftRegistry(s.bus, logger)
	require.NoError(t, err)
	s.gw = gateway.NewServer(s.bus, gateway.NewAuthenticator(config.AuthConfig{}), "127.0.0.1:0", logger)
	s.drafts.Register(s.gw)
	go func() { _ = s.gw.Start(ctx) }()
	select {
	case <-s.gw.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not start")
	}

	s.sync = remotesync.New(config.SyncConfig{URL: "ws://" + s.gw.BoundAddr() + "/ws"}, logger)
	t.Cleanup(func() { s.sync.Close() })

	s.store, err = store.NewSQLiteConversationStore(filepath.Join(dir, "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.store.Close() })

	pagesRoot := filepath.Join(dir, "pages")
	require.NoError(t, os.MkdirAll(pagesRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pagesRoot, "index.md"), []byte("# Home\n"), 0o644))
	s.pages, err = pages.New(pagesRoot, logger)
	require.NoError(t, err)

	s.effects, err = draft.NewEffects(logger)
	require.NoError(t, err)

	gen := domain.StreamingGenerator(llm.NewHTTPGenerator(config.GeneratorConfig{Endpoint: backendURL, Model: "test"}, logger))
	if cached {
		fs, err := cachestore.New(filepath.Join(dir, "cache"), logger)
		require.NoError(t, err)
		gen = cache.New(gen, fs, logger)
	}
	s.gen = gen
	return s
}

func (s *stack) session(id string) (*chat.Session, *draft.Map) {
	logger := slog.Default()
	drafts := draft.NewMap(s.pages)
	return chat.NewSession(id, chat.Options{Model: "test"}, chat.Deps{
		Generator: s.gen,
		Store:     s.store,
		Draft:     drafts,
		Effects:   s.effects,
		Channel:   fanout.NewChannel("preview", s.sync, logger),
		Observer:  eventbus.NewConversationObserver(s.bus, logger),
		Bus:       s.bus,
		IDs:       reducer.SequentialIDs("m"),
		Logger:    logger,
	}), drafts
}

func TestE2E_EditReachesPreview(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, LoadConfig().TestTimeout)

	chunks := append([]domain.Chunk{domain.StartStepChunk{}}, Text("t1", "Adding a guide.")...)
	chunks = append(chunks, WriteFile("call-1", "guide.md", "# Guide\n")...)
	chunks = append(chunks, domain.FinishStepChunk{})
	backend := NewBackend(t, chunks...)
	s := newStack(t, ctx, backend.URL, false)

	sess, drafts := s.session("conv-1")
	final, err := sess.Submit(ctx, "write a guide")
	require.NoError(t, err)

	last, ok := domain.LastAssistant(final)
	require.True(t, ok)
	assert.Equal(t, "Adding a guide.", last.Text())

	u, ok := drafts.Get("guide.md")
	require.True(t, ok)
	assert.Equal(t, "# Guide\n", *u.Content)

	latest := s.drafts.Latest()
	assert.True(t, latest.Final)
	require.Len(t, latest.Files, 1)
	assert.Equal(t, "guide.md", latest.Files[0].GithubPath)

	require.NoError(t, s.pages.Apply(drafts.Updates()))
	data, err := os.ReadFile(filepath.Join(s.pages.Root(), "guide.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Guide\n", string(data))
}

func TestE2E_PreviewClientReceivesEvents(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, LoadConfig().TestTimeout)

	chunks := append(Text("t1", "ok"), WriteFile("call-1", "index.md", "# Home v2\n")...)
	backend := NewBackend(t, chunks...)
	s := newStack(t, ctx, backend.URL, false)

	ws, _, err := websocket.Dial(ctx, "ws://"+s.gw.BoundAddr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.gw.Metrics().ClientsConnected.Load() > 0 }, 3*time.Second, 10*time.Millisecond)

	sess, _ := s.session("conv-events")
	_, err = sess.Submit(ctx, "update the home page")
	require.NoError(t, err)

	seen := map[domain.EventType]bool{}
	readCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	for !(seen[domain.EventGenerationFinished] && seen[domain.EventToolEffectApplied] && seen[domain.EventDraftSynced]) {
		var f gateway.Frame
		require.NoError(t, wsjson.Read(readCtx, ws, &f))
		if f.Type != gateway.FrameTypeEvent {
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		seen[ev.Type] = true
	}
	assert.True(t, seen[domain.EventConversationUpdated])
}

func TestE2E_CachedReplay(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, LoadConfig().TestTimeout)

	backend := NewBackend(t, Text("t1", "cached ", "answer")...)
	s := newStack(t, ctx, backend.URL, true)

	first, _ := s.session("a")
	out1, err := first.Submit(ctx, "same question")
	require.NoError(t, err)

	second, _ := s.session("b")
	out2, err := second.Submit(ctx, "same question")
	require.NoError(t, err)

	assert.Equal(t, 1, backend.Requests())
	m1, _ := domain.LastAssistant(out1)
	m2, _ := domain.LastAssistant(out2)
	assert.Equal(t, "cached answer", m1.Text())
	assert.Equal(t, m1.Text(), m2.Text())
}

func TestE2E_SessionPersistence(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, LoadConfig().TestTimeout)

	backend := NewBackend(t, Text("t1", "remembered")...)
	s := newStack(t, ctx, backend.URL, false)

	sess, _ := s.session("persist")
	_, err := sess.Submit(ctx, "first turn")
	require.NoError(t, err)

	reopened, _ := s.session("persist")
	require.NoError(t, reopened.Load(ctx))
	msgs := reopened.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first turn", msgs[0].Text())
	assert.Equal(t, "remembered", msgs[1].Text())

	_, err = reopened.Submit(ctx, "second turn")
	require.NoError(t, err)
	stored, err := s.store.Load(ctx, "persist")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}
