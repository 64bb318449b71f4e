package draft

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

type mapOracle map[string]string

func (o mapOracle) PageContent(path string) (string, bool) {
	c, ok := o[path]
	return c, ok
}

func TestMapWriteCountsLinesAgainstOriginal(t *testing.T) {
	m := NewMap(mapOracle{"docs/a.md": "one\ntwo\nthree\n"})

	require.NoError(t, m.Write("docs/a.md", "one\n2\nthree\nfour\n"))
	u, ok := m.Get("docs/a.md")
	require.True(t, ok)
	assert.Equal(t, 2, u.AddedLines)
	assert.Equal(t, 1, u.DeletedLines)

	require.NoError(t, m.Write("docs/new.md", "a\nb"))
	u, _ = m.Get("docs/new.md")
	assert.Equal(t, 2, u.AddedLines)
	assert.Equal(t, 0, u.DeletedLines)
}

func TestMapDeleteKeepsTombstone(t *testing.T) {
	m := NewMap(mapOracle{"docs/a.md": "x\ny\n"})

	require.NoError(t, m.Delete("docs/a.md"))
	_, ok := m.Read("docs/a.md")
	assert.False(t, ok)

	u, ok := m.Get("docs/a.md")
	require.True(t, ok, "tombstone stays in the map")
	assert.True(t, u.Deleted())
	assert.Equal(t, 2, u.DeletedLines)
	assert.Empty(t, m.ListFiles())

	err := m.Delete("docs/missing.md")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMapMoveIsWritePlusTombstone(t *testing.T) {
	m := NewMap(mapOracle{"old.md": "l1\nl2\nl3\n"})

	require.NoError(t, m.Move("old.md", "new.md"))

	moved, ok := m.Get("new.md")
	require.True(t, ok)
	require.NotNil(t, moved.Content)
	assert.Equal(t, "l1\nl2\nl3\n", *moved.Content)
	assert.Equal(t, 3, moved.AddedLines)

	gone, ok := m.Get("old.md")
	require.True(t, ok)
	assert.True(t, gone.Deleted())
	assert.Equal(t, 3, gone.DeletedLines)

	assert.Equal(t, []string{"new.md"}, m.ListFiles())
}

func TestMapListFilesOnlyDraftPaths(t *testing.T) {
	m := NewMap(mapOracle{"committed.md": "c"})
	require.NoError(t, m.WriteBatch(map[string]string{"b.md": "b", "a.md": "a"}))

	assert.Equal(t, []string{"a.md", "b.md"}, m.ListFiles())
	content, ok := m.Read("committed.md")
	assert.True(t, ok, "reads fall through to the original content")
	assert.Equal(t, "c", content)
}

func TestMapBatches(t *testing.T) {
	m := NewMap(nil)
	require.NoError(t, m.WriteBatch(map[string]string{"a": "1", "b": "2", "c": "3"}))

	require.NoError(t, m.MoveBatch([]domain.FileMove{{OldPath: "a", NewPath: "a2"}, {OldPath: "b", NewPath: "b2"}}))
	assert.Equal(t, []string{"a2", "b2", "c"}, m.ListFiles())

	err := m.DeleteBatch([]string{"c", "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"a2", "b2", "c"}, m.ListFiles(), "a failed batch deletes nothing")

	require.NoError(t, m.DeleteBatch([]string{"c"}))
	assert.Equal(t, []string{"a2", "b2"}, m.ListFiles())
}

func TestMapMoveBatchIsAllOrNothing(t *testing.T) {
	m := NewMap(nil)
	require.NoError(t, m.Write("a.md", "a"))
	before := m.Version()

	err := m.MoveBatch([]domain.FileMove{
		{OldPath: "a.md", NewPath: "b.md"},
		{OldPath: "missing.md", NewPath: "c.md"},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"a.md"}, m.ListFiles())
	assert.Equal(t, before, m.Version())
	_, ok := m.Get("b.md")
	assert.False(t, ok)
}

func TestMapCloneIsIndependent(t *testing.T) {
	m := NewMap(nil)
	require.NoError(t, m.Write("a.md", "base"))

	scratch := m.Clone()
	require.NoError(t, scratch.Write("a.md", "preview"))
	require.NoError(t, scratch.Write("b.md", "extra"))

	content, _ := m.Read("a.md")
	assert.Equal(t, "base", content)
	assert.Equal(t, []string{"a.md"}, m.ListFiles())
	assert.Greater(t, scratch.Version(), m.Version())
}

func TestMapRejectsEmptyPath(t *testing.T) {
	m := NewMap(nil)
	assert.ErrorIs(t, m.Write(" ", "x"), domain.ErrInvalidInput)
}

func TestFromUpdates(t *testing.T) {
	content := "hello"
	m := FromUpdates(nil, []domain.FileUpdate{
		{GithubPath: "a.md", Content: &content, AddedLines: 1},
		{GithubPath: "b.md", DeletedLines: 4},
	})
	assert.Equal(t, []string{"a.md"}, m.ListFiles())
	assert.Len(t, m.Updates(), 2)
}

func newEffects(t *testing.T) *Effects {
	t.Helper()
	e, err := NewEffects(newTestLogger())
	require.NoError(t, err)
	return e
}

func toolPart(name, input string) *domain.ToolPart {
	return &domain.ToolPart{ToolName: name, ToolCallID: "c1", State: domain.ToolStateOutputAvailable, Input: json.RawMessage(input)}
}

func TestEffectsSchemas(t *testing.T) {
	e := newEffects(t)
	names := make([]string, 0)
	for _, s := range e.Schemas() {
		names = append(names, s.Name)
		assert.True(t, json.Valid(s.Parameters), s.Name)
	}
	assert.Equal(t, []string{"deleteFile", "deleteFiles", "editFile", "moveFile", "moveFiles", "writeFile"}, names)
	assert.True(t, e.Handles(ToolMoveFiles))
	assert.False(t, e.Handles("getTime"))
	assert.True(t, e.Optimistic(ToolWriteFile))
	assert.False(t, e.Optimistic(ToolDeleteFile))
}

func TestEffectsApplyAuthoritative(t *testing.T) {
	e := newEffects(t)
	m := NewMap(mapOracle{"docs/index.md": "# Title\nold line\n"})

	tests := []struct {
		name  string
		part  *domain.ToolPart
		check func(t *testing.T)
	}{
		{
			name: "writeFile",
			part: toolPart(ToolWriteFile, `{"path":"docs/new.md","content":"hi\n"}`),
			check: func(t *testing.T) {
				c, ok := m.Read("docs/new.md")
				require.True(t, ok)
				assert.Equal(t, "hi\n", c)
			},
		},
		{
			name: "editFile",
			part: toolPart(ToolEditFile, `{"path":"docs/index.md","oldString":"old line","newString":"new line"}`),
			check: func(t *testing.T) {
				c, _ := m.Read("docs/index.md")
				assert.Equal(t, "# Title\nnew line\n", c)
			},
		},
		{
			name: "moveFile",
			part: toolPart(ToolMoveFile, `{"oldPath":"docs/new.md","newPath":"docs/moved.md"}`),
			check: func(t *testing.T) {
				_, ok := m.Read("docs/new.md")
				assert.False(t, ok)
				_, ok = m.Read("docs/moved.md")
				assert.True(t, ok)
			},
		},
		{
			name: "deleteFiles",
			part: toolPart(ToolDeleteFiles, `{"paths":["docs/moved.md"]}`),
			check: func(t *testing.T) {
				assert.Equal(t, []string{"docs/index.md"}, m.ListFiles())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, e.Apply(m, tt.part, false))
			tt.check(t)
		})
	}
}

func TestEffectsValidateRejectsBadInput(t *testing.T) {
	e := newEffects(t)
	m := NewMap(nil)

	err := e.Apply(m, toolPart(ToolWriteFile, `{"path":"a.md"}`), false)
	assert.ErrorIs(t, err, domain.ErrToolInputInvalid)

	err = e.Apply(m, toolPart(ToolMoveFile, `{"oldPath":"a","newPath":"b","extra":1}`), false)
	assert.ErrorIs(t, err, domain.ErrToolInputInvalid)

	err = e.Apply(m, toolPart("getTime", `{}`), false)
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
	assert.Empty(t, m.ListFiles())
}

func TestEffectsEditFileAmbiguous(t *testing.T) {
	e := newEffects(t)
	m := NewMap(mapOracle{"a.md": "x x"})

	err := e.Apply(m, toolPart(ToolEditFile, `{"path":"a.md","oldString":"x","newString":"y"}`), false)
	assert.ErrorIs(t, err, domain.ErrToolInputInvalid)

	require.NoError(t, e.Apply(m, toolPart(ToolEditFile, `{"path":"a.md","oldString":"x","newString":"y","replaceAll":true}`), false))
	c, _ := m.Read("a.md")
	assert.Equal(t, "y y", c)
}

func TestEffectsApplyPartial(t *testing.T) {
	e := newEffects(t)
	m := NewMap(nil)

	streaming := &domain.ToolPart{ToolName: ToolWriteFile, State: domain.ToolStateInputStreaming}
	assert.ErrorIs(t, e.Apply(m, streaming, true), ErrNothingToApply, "no parsed input yet")

	streaming.Input = json.RawMessage(`{"path":"docs/ind"}`)
	assert.ErrorIs(t, e.Apply(m, streaming, true), ErrNothingToApply, "path may still be growing")
	assert.Empty(t, m.ListFiles())

	streaming.Input = json.RawMessage(`{"path":"docs/a.md","content":"# Dra"}`)
	require.NoError(t, e.Apply(m, streaming, true))
	c, _ := m.Read("docs/a.md")
	assert.Equal(t, "# Dra", c)

	del := &domain.ToolPart{ToolName: ToolDeleteFile, State: domain.ToolStateInputStreaming, Input: json.RawMessage(`{"path":"docs/a.md"}`)}
	assert.ErrorIs(t, e.Apply(m, del, true), ErrNothingToApply, "destructive tools wait for the final input")

	edit := &domain.ToolPart{ToolName: ToolEditFile, State: domain.ToolStateInputStreaming, Input: json.RawMessage(`{"path":"docs/a.md","oldString":"Dra"}`)}
	assert.ErrorIs(t, e.Apply(m, edit, true), ErrNothingToApply)
}

func TestLineDelta(t *testing.T) {
	tests := []struct {
		before, after  string
		added, deleted int
	}{
		{"", "", 0, 0},
		{"", "a\nb\n", 2, 0},
		{"a\nb\n", "", 0, 2},
		{"a\nb\nc\n", "a\nB\nc\n", 1, 1},
		{"same", "same", 0, 0},
	}
	for _, tt := range tests {
		added, deleted := lineDelta(tt.before, tt.after)
		assert.Equal(t, tt.added, added, "%q -> %q", tt.before, tt.after)
		assert.Equal(t, tt.deleted, deleted, "%q -> %q", tt.before, tt.after)
	}
}
