// Package toolcall tracks the lifecycle of tool invocations inside one
// generation run, keyed by tool call id.
package toolcall

import (
	"bytes"
	"encoding/json"
	"log/slog"

	streamingjsongo "github.com/karminski/streaming-json-go"

	"docchat/internal/domain"
)

// Record is the transient state of one tool call. It is projected onto the
// matching ToolPart after every transition.
type Record struct {
	ToolCallID       string
	ToolName         string
	State            domain.ToolState
	RawInput         string
	Input            json.RawMessage
	Output           json.RawMessage
	ErrorText        string
	ProviderExecuted bool
	Preliminary      bool

	lexer       *streamingjsongo.Lexer
	parseFailed bool
}

// Terminal reports whether the record accepts no further chunks.
func (r *Record) Terminal() bool {
	switch r.State {
	case domain.ToolStateOutputError:
		return true
	case domain.ToolStateOutputAvailable:
		return !r.Preliminary
	}
	return false
}

// Project writes the record into p.
func (r *Record) Project(p *domain.ToolPart) {
	p.ToolCallID = r.ToolCallID
	p.ToolName = r.ToolName
	p.State = r.State
	p.RawInput = r.RawInput
	p.Input = bytes.Clone(r.Input)
	p.Output = bytes.Clone(r.Output)
	p.ErrorText = r.ErrorText
	p.ProviderExecuted = r.ProviderExecuted
	p.Preliminary = r.Preliminary
}

// Part returns a fresh part projected from the record.
func (r *Record) Part() *domain.ToolPart {
	p := &domain.ToolPart{}
	r.Project(p)
	return p
}

// Machine owns the records of one run. It is not safe for concurrent use;
// chunks are applied strictly in order.
type Machine struct {
	records map[string]*Record
	logger  *slog.Logger
}

// New creates an empty machine.
func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{records: make(map[string]*Record), logger: logger}
}

// Seed registers a tool part that already exists on a continued message so
// later chunks for the same id resume it instead of starting over.
func (m *Machine) Seed(p *domain.ToolPart) {
	r := &Record{
		ToolCallID:       p.ToolCallID,
		ToolName:         p.ToolName,
		State:            p.State,
		RawInput:         p.RawInput,
		Input:            bytes.Clone(p.Input),
		Output:           bytes.Clone(p.Output),
		ErrorText:        p.ErrorText,
		ProviderExecuted: p.ProviderExecuted,
		Preliminary:      p.Preliminary,
	}
	if r.State == domain.ToolStateInputStreaming && r.RawInput != "" {
		r.lexer = streamingjsongo.NewLexer()
		if err := r.lexer.AppendString(r.RawInput); err != nil {
			r.parseFailed = true
		}
	}
	m.records[p.ToolCallID] = r
}

// Get returns the record for id.
func (m *Machine) Get(id string) (*Record, bool) {
	r, ok := m.records[id]
	return r, ok
}

// Len returns the number of tracked calls.
func (m *Machine) Len() int { return len(m.records) }

// Start handles tool-input-start. A start for an id that is already tracked
// only names a synthesized record; anything else is a protocol violation.
func (m *Machine) Start(c domain.ToolInputStartChunk) (*Record, bool) {
	if r, ok := m.records[c.ToolCallID]; ok {
		if r.State == domain.ToolStateInputStreaming && r.ToolName == domain.UnknownToolName && c.ToolName != "" {
			r.ToolName = c.ToolName
			r.ProviderExecuted = r.ProviderExecuted || c.ProviderExecuted
			return r, true
		}
		m.violation(c, r, "duplicate start")
		return nil, false
	}
	r := &Record{
		ToolCallID:       c.ToolCallID,
		ToolName:         nameOr(c.ToolName),
		State:            domain.ToolStateInputStreaming,
		ProviderExecuted: c.ProviderExecuted,
	}
	m.records[c.ToolCallID] = r
	return r, true
}

// Delta handles tool-input-delta by appending the raw argument text and
// refreshing the best-effort parse exposed as Input.
func (m *Machine) Delta(c domain.ToolInputDeltaChunk) (*Record, bool) {
	r := m.lookupOrSynthesize(c.ToolCallID, c)
	if r.State != domain.ToolStateInputStreaming {
		m.violation(c, r, "delta after input")
		return nil, false
	}
	r.RawInput += c.InputTextDelta
	r.Input = r.parsePartial(c.InputTextDelta)
	return r, true
}

// InputAvailable freezes the structured input.
func (m *Machine) InputAvailable(c domain.ToolInputAvailableChunk) (*Record, bool) {
	r := m.lookupOrSynthesize(c.ToolCallID, c)
	if r.State != domain.ToolStateInputStreaming {
		m.violation(c, r, "input already available")
		return nil, false
	}
	if c.ToolName != "" {
		r.ToolName = c.ToolName
	}
	r.State = domain.ToolStateInputAvailable
	r.Input = bytes.Clone(c.Input)
	r.RawInput = ""
	r.lexer = nil
	r.ProviderExecuted = r.ProviderExecuted || c.ProviderExecuted
	return r, true
}

// OutputAvailable attaches an output. A preliminary output leaves the record
// open for further outputs.
func (m *Machine) OutputAvailable(c domain.ToolOutputAvailableChunk) (*Record, bool) {
	r := m.lookupOrSynthesize(c.ToolCallID, c)
	if r.Terminal() {
		m.violation(c, r, "output after terminal state")
		return nil, false
	}
	r.State = domain.ToolStateOutputAvailable
	r.Output = bytes.Clone(c.Output)
	r.Preliminary = c.Preliminary
	r.ProviderExecuted = r.ProviderExecuted || c.ProviderExecuted
	r.RawInput = ""
	r.lexer = nil
	return r, true
}

// OutputError moves the record to output-error.
func (m *Machine) OutputError(c domain.ToolOutputErrorChunk) (*Record, bool) {
	r := m.lookupOrSynthesize(c.ToolCallID, c)
	if r.Terminal() {
		m.violation(c, r, "error after terminal state")
		return nil, false
	}
	r.State = domain.ToolStateOutputError
	r.ErrorText = c.ErrorText
	r.Preliminary = false
	r.RawInput = ""
	r.lexer = nil
	return r, true
}

// lookupOrSynthesize returns the record for id, creating the missing start
// state when the start chunk never arrived.
func (m *Machine) lookupOrSynthesize(id string, c domain.Chunk) *Record {
	if r, ok := m.records[id]; ok {
		return r
	}
	m.logger.Warn("tool call chunk without start, synthesizing",
		"tool_call_id", id, "chunk", string(c.Type()))
	r := &Record{
		ToolCallID: id,
		ToolName:   domain.UnknownToolName,
		State:      domain.ToolStateInputStreaming,
	}
	m.records[id] = r
	return r
}

func (m *Machine) violation(c domain.Chunk, r *Record, reason string) {
	m.logger.Warn("tool call chunk ignored",
		"tool_call_id", r.ToolCallID,
		"chunk", string(c.Type()),
		"state", string(r.State),
		"reason", reason,
	)
}

// parsePartial feeds delta to the record's lexer and returns the completed
// JSON when it parses, or nil.
func (r *Record) parsePartial(delta string) json.RawMessage {
	if r.parseFailed {
		return nil
	}
	if r.lexer == nil {
		r.lexer = streamingjsongo.NewLexer()
	}
	if err := r.lexer.AppendString(delta); err != nil {
		r.parseFailed = true
		return nil
	}
	completed := r.lexer.CompleteJSON()
	if completed == "" || !json.Valid([]byte(completed)) {
		return nil
	}
	return json.RawMessage(completed)
}

func nameOr(name string) string {
	if name == "" {
		return domain.UnknownToolName
	}
	return name
}
