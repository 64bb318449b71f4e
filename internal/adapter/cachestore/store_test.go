package cachestore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
	"docchat/internal/usecase/cache"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	s, err := New(dir, slog.Default())
	require.NoError(t, err)
	return s, dir
}

func TestPutGetChunks(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	rec := &cache.Record{
		Params: map[string]any{"model": "org/m:1", "stream": true},
		Chunks: []domain.ChunkEnvelope{
			{Type: domain.ChunkStartStep},
			{Type: domain.ChunkTextDelta, ID: "t", Delta: "hi"},
			{Type: domain.ChunkToolInputAvailable, ToolCallID: "c1", ToolName: "writeFile",
				Input: map[string]any{"path": "a.md", "content": "x"}},
		},
	}
	require.NoError(t, s.Put(ctx, "org/m:1", "abc123", rec))
	assert.FileExists(t, filepath.Join(dir, "org_m_1", "abc123.yaml"))

	got, ok, err := s.Get(ctx, "org/m:1", "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Chunks, 3)
	assert.Equal(t, "hi", got.Chunks[1].Delta)

	c, err := got.Chunks[2].Decode()
	require.NoError(t, err)
	avail, ok := c.(domain.ToolInputAvailableChunk)
	require.True(t, ok)
	assert.JSONEq(t, `{"path":"a.md","content":"x"}`, string(avail.Input))
}

func TestPutGetResult(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	env, err := domain.NewUserMessage("m1", "hello").Envelope()
	require.NoError(t, err)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &cache.Record{
		Params: map[string]any{"model": "m"},
		Result: &cache.ResultRecord{ID: "r1", Model: "m", Message: env, CreatedAt: created},
	}
	require.NoError(t, s.Put(ctx, "m", "k", rec))

	got, ok, err := s.Get(ctx, "m", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.Result)
	assert.Equal(t, "r1", got.Result.ID)
	assert.True(t, created.Equal(got.Result.CreatedAt))

	msg, err := got.Result.Message.Message()
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text())
}

func TestGetMiss(t *testing.T) {
	s, _ := newTestStore(t)

	rec, ok, err := s.Get(context.Background(), "m", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestGetCorrupt(t *testing.T) {
	s, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "m"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m", "bad.yaml"), []byte("chunks: [unclosed"), 0600))

	_, _, err := s.Get(context.Background(), "m", "bad")
	assert.ErrorIs(t, err, domain.ErrCacheCorrupt)
}

func TestPutOverwrites(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "m", "k", &cache.Record{Chunks: []domain.ChunkEnvelope{{Type: domain.ChunkStartStep}}}))
	require.NoError(t, s.Put(ctx, "m", "k", &cache.Record{Chunks: []domain.ChunkEnvelope{{Type: domain.ChunkFinishStep}}}))

	got, _, err := s.Get(ctx, "m", "k")
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkFinishStep, got.Chunks[0].Type)

	entries, err := os.ReadDir(filepath.Join(dir, "m"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRejectsBadKeys(t *testing.T) {
	s, _ := newTestStore(t)
	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		err := s.Put(context.Background(), "m", key, &cache.Record{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, key)
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "_default", sanitize(""))
	assert.Equal(t, "org_model_tag", sanitize("org/model:tag"))
	assert.Equal(t, "_", sanitize(".."))
	assert.Equal(t, "_x", sanitize(".x"))
}

func TestPrune(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "m", "old", &cache.Record{}))
	require.NoError(t, s.Put(ctx, "m", "new", &cache.Record{}))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "m", "old.yaml"), past, past))

	removed, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := s.Get(ctx, "m", "old")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get(ctx, "m", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
