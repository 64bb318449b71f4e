package toolcall

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

func TestMachineFullLifecycle(t *testing.T) {
	m := New(newTestLogger())

	r, ok := m.Start(domain.ToolInputStartChunk{ToolCallID: "call-1", ToolName: "getTime"})
	require.True(t, ok)
	assert.Equal(t, domain.ToolStateInputStreaming, r.State)
	assert.Nil(t, r.Input)

	_, ok = m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "call-1", InputTextDelta: `{"tz":`})
	require.True(t, ok)
	_, ok = m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "call-1", InputTextDelta: `"UTC"}`})
	require.True(t, ok)
	assert.Equal(t, `{"tz":"UTC"}`, r.RawInput)

	_, ok = m.InputAvailable(domain.ToolInputAvailableChunk{
		ToolCallID: "call-1",
		ToolName:   "getTime",
		Input:      json.RawMessage(`{"tz":"UTC"}`),
	})
	require.True(t, ok)
	assert.Equal(t, domain.ToolStateInputAvailable, r.State)
	assert.Empty(t, r.RawInput)
	assert.JSONEq(t, `{"tz":"UTC"}`, string(r.Input))

	_, ok = m.OutputAvailable(domain.ToolOutputAvailableChunk{ToolCallID: "call-1", Output: json.RawMessage(`"12:00"`)})
	require.True(t, ok)
	assert.True(t, r.Terminal())

	part := r.Part()
	assert.Equal(t, "tool-getTime", part.Type())
	assert.Equal(t, domain.ToolStateOutputAvailable, part.State)
	assert.JSONEq(t, `"12:00"`, string(part.Output))
}

func TestMachinePartialInputParse(t *testing.T) {
	m := New(newTestLogger())
	m.Start(domain.ToolInputStartChunk{ToolCallID: "c", ToolName: "writeFile"})

	r, ok := m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "c", InputTextDelta: `{"path":"docs/a.md","content":"# Ti`})
	require.True(t, ok)
	require.NotNil(t, r.Input, "partial arguments should be completed into valid JSON")

	var args map[string]any
	require.NoError(t, json.Unmarshal(r.Input, &args))
	assert.Equal(t, "docs/a.md", args["path"])
	assert.Equal(t, "# Ti", args["content"])
}

func TestMachineSynthesizesMissingStart(t *testing.T) {
	m := New(newTestLogger())

	r, ok := m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "ghost", InputTextDelta: `{}`})
	require.True(t, ok)
	assert.Equal(t, domain.UnknownToolName, r.ToolName)
	assert.Equal(t, domain.ToolStateInputStreaming, r.State)

	_, ok = m.InputAvailable(domain.ToolInputAvailableChunk{ToolCallID: "ghost", ToolName: "search", Input: json.RawMessage(`{}`)})
	require.True(t, ok)
	assert.Equal(t, "search", r.ToolName)
}

func TestMachineLateStartNamesSynthesizedRecord(t *testing.T) {
	m := New(newTestLogger())
	m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "x", InputTextDelta: `{`})

	r, ok := m.Start(domain.ToolInputStartChunk{ToolCallID: "x", ToolName: "editFile"})
	require.True(t, ok)
	assert.Equal(t, "editFile", r.ToolName)
	assert.Equal(t, `{`, r.RawInput)
}

func TestMachineOutputWithoutAnyInput(t *testing.T) {
	m := New(newTestLogger())

	r, ok := m.OutputError(domain.ToolOutputErrorChunk{ToolCallID: "e", ErrorText: "boom"})
	require.True(t, ok)
	assert.Equal(t, domain.ToolStateOutputError, r.State)
	assert.Equal(t, "boom", r.ErrorText)
	assert.True(t, r.Terminal())
}

func TestMachineTerminalStatesAbsorb(t *testing.T) {
	tests := []struct {
		name     string
		finalize func(m *Machine)
		state    domain.ToolState
	}{
		{
			name: "output-available",
			finalize: func(m *Machine) {
				m.OutputAvailable(domain.ToolOutputAvailableChunk{ToolCallID: "t", Output: json.RawMessage(`1`)})
			},
			state: domain.ToolStateOutputAvailable,
		},
		{
			name: "output-error",
			finalize: func(m *Machine) {
				m.OutputError(domain.ToolOutputErrorChunk{ToolCallID: "t", ErrorText: "nope"})
			},
			state: domain.ToolStateOutputError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(newTestLogger())
			m.Start(domain.ToolInputStartChunk{ToolCallID: "t", ToolName: "x"})
			tt.finalize(m)

			_, ok := m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "t", InputTextDelta: "z"})
			assert.False(t, ok)
			_, ok = m.InputAvailable(domain.ToolInputAvailableChunk{ToolCallID: "t", Input: json.RawMessage(`{}`)})
			assert.False(t, ok)
			_, ok = m.OutputAvailable(domain.ToolOutputAvailableChunk{ToolCallID: "t", Output: json.RawMessage(`2`)})
			assert.False(t, ok)
			_, ok = m.OutputError(domain.ToolOutputErrorChunk{ToolCallID: "t", ErrorText: "late"})
			assert.False(t, ok)
			_, ok = m.Start(domain.ToolInputStartChunk{ToolCallID: "t", ToolName: "y"})
			assert.False(t, ok)

			r, _ := m.Get("t")
			assert.Equal(t, tt.state, r.State)
			assert.Equal(t, "x", r.ToolName)
		})
	}
}

func TestMachinePreliminaryOutputStaysOpen(t *testing.T) {
	m := New(newTestLogger())
	m.Start(domain.ToolInputStartChunk{ToolCallID: "p", ToolName: "build"})
	m.InputAvailable(domain.ToolInputAvailableChunk{ToolCallID: "p", Input: json.RawMessage(`{}`)})

	r, ok := m.OutputAvailable(domain.ToolOutputAvailableChunk{ToolCallID: "p", Output: json.RawMessage(`"10%"`), Preliminary: true})
	require.True(t, ok)
	assert.False(t, r.Terminal())
	assert.True(t, r.Part().Partial())

	_, ok = m.OutputAvailable(domain.ToolOutputAvailableChunk{ToolCallID: "p", Output: json.RawMessage(`"50%"`), Preliminary: true})
	require.True(t, ok)
	_, ok = m.OutputAvailable(domain.ToolOutputAvailableChunk{ToolCallID: "p", Output: json.RawMessage(`"done"`)})
	require.True(t, ok)
	assert.True(t, r.Terminal())
	assert.JSONEq(t, `"done"`, string(r.Output))
}

func TestMachineSeedResumesExistingCall(t *testing.T) {
	m := New(newTestLogger())
	m.Seed(&domain.ToolPart{
		ToolName:   "writeFile",
		ToolCallID: "s",
		State:      domain.ToolStateInputStreaming,
		RawInput:   `{"path":"a.md",`,
	})

	r, ok := m.Delta(domain.ToolInputDeltaChunk{ToolCallID: "s", InputTextDelta: `"content":"hi"}`})
	require.True(t, ok)
	assert.Equal(t, `{"path":"a.md","content":"hi"}`, r.RawInput)
	assert.JSONEq(t, `{"path":"a.md","content":"hi"}`, string(r.Input))
	assert.Equal(t, 1, m.Len())
}

func TestMachineDuplicateStartIgnored(t *testing.T) {
	m := New(newTestLogger())
	m.Start(domain.ToolInputStartChunk{ToolCallID: "d", ToolName: "a"})
	_, ok := m.Start(domain.ToolInputStartChunk{ToolCallID: "d", ToolName: "b"})
	assert.False(t, ok)

	r, _ := m.Get("d")
	assert.Equal(t, "a", r.ToolName)
}
