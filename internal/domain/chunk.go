package domain

import "encoding/json"

// ChunkType is the discriminator of a generation stream event.
type ChunkType string

const (
	ChunkStartStep           ChunkType = "start-step"
	ChunkFinishStep          ChunkType = "finish-step"
	ChunkTextStart           ChunkType = "text-start"
	ChunkTextDelta           ChunkType = "text-delta"
	ChunkTextEnd             ChunkType = "text-end"
	ChunkReasoningStart      ChunkType = "reasoning-start"
	ChunkReasoningDelta      ChunkType = "reasoning-delta"
	ChunkReasoningEnd        ChunkType = "reasoning-end"
	ChunkToolInputStart      ChunkType = "tool-input-start"
	ChunkToolInputDelta      ChunkType = "tool-input-delta"
	ChunkToolInputAvailable  ChunkType = "tool-input-available"
	ChunkToolOutputAvailable ChunkType = "tool-output-available"
	ChunkToolOutputError     ChunkType = "tool-output-error"
	ChunkSourceURL           ChunkType = "source-url"
	ChunkFile                ChunkType = "file"
	ChunkError               ChunkType = "error"
)

// Chunk is one discrete event emitted by a generation run. The set of
// implementations is closed: every kind has a method on ChunkVisitor.
type Chunk interface {
	Type() ChunkType
	Accept(v ChunkVisitor)
}

// ChunkVisitor handles every chunk kind. Adding a kind adds a method here,
// which breaks every implementation until it handles the new kind.
type ChunkVisitor interface {
	VisitStartStep(StartStepChunk)
	VisitFinishStep(FinishStepChunk)
	VisitTextStart(TextStartChunk)
	VisitTextDelta(TextDeltaChunk)
	VisitTextEnd(TextEndChunk)
	VisitReasoningStart(ReasoningStartChunk)
	VisitReasoningDelta(ReasoningDeltaChunk)
	VisitReasoningEnd(ReasoningEndChunk)
	VisitToolInputStart(ToolInputStartChunk)
	VisitToolInputDelta(ToolInputDeltaChunk)
	VisitToolInputAvailable(ToolInputAvailableChunk)
	VisitToolOutputAvailable(ToolOutputAvailableChunk)
	VisitToolOutputError(ToolOutputErrorChunk)
	VisitSourceURL(SourceURLChunk)
	VisitFile(FileChunk)
	VisitError(ErrorChunk)
}

// StartStepChunk opens a generation step.
type StartStepChunk struct{}

// FinishStepChunk closes a generation step.
type FinishStepChunk struct{}

// TextStartChunk opens a text run identified by ID.
type TextStartChunk struct{ ID string }

// TextDeltaChunk appends Delta to the text run identified by ID.
type TextDeltaChunk struct {
	ID    string
	Delta string
}

// TextEndChunk closes the text run identified by ID.
type TextEndChunk struct{ ID string }

// ReasoningStartChunk opens a reasoning run identified by ID.
type ReasoningStartChunk struct{ ID string }

// ReasoningDeltaChunk appends Delta to the reasoning run identified by ID.
type ReasoningDeltaChunk struct {
	ID    string
	Delta string
}

// ReasoningEndChunk closes the reasoning run identified by ID.
type ReasoningEndChunk struct{ ID string }

// ToolInputStartChunk announces a tool call whose arguments will stream in.
type ToolInputStartChunk struct {
	ToolCallID       string
	ToolName         string
	ProviderExecuted bool
}

// ToolInputDeltaChunk carries a fragment of the raw argument text.
type ToolInputDeltaChunk struct {
	ToolCallID     string
	InputTextDelta string
}

// ToolInputAvailableChunk carries the complete structured tool input.
type ToolInputAvailableChunk struct {
	ToolCallID       string
	ToolName         string
	Input            json.RawMessage
	ProviderExecuted bool
}

// ToolOutputAvailableChunk carries a tool result. Preliminary results may be
// followed by further results for the same call.
type ToolOutputAvailableChunk struct {
	ToolCallID       string
	Output           json.RawMessage
	Preliminary      bool
	ProviderExecuted bool
}

// ToolOutputErrorChunk reports a failed tool execution.
type ToolOutputErrorChunk struct {
	ToolCallID string
	ErrorText  string
}

// SourceURLChunk references an external source.
type SourceURLChunk struct {
	SourceID string
	URL      string
	Title    string
}

// FileChunk references a generated file.
type FileChunk struct {
	URL       string
	MediaType string
}

// ErrorChunk is an error signal emitted in-band by the producer.
type ErrorChunk struct{ ErrorText string }

func (StartStepChunk) Type() ChunkType           { return ChunkStartStep }
func (FinishStepChunk) Type() ChunkType          { return ChunkFinishStep }
func (TextStartChunk) Type() ChunkType           { return ChunkTextStart }
func (TextDeltaChunk) Type() ChunkType           { return ChunkTextDelta }
func (TextEndChunk) Type() ChunkType             { return ChunkTextEnd }
func (ReasoningStartChunk) Type() ChunkType      { return ChunkReasoningStart }
func (ReasoningDeltaChunk) Type() ChunkType      { return ChunkReasoningDelta }
func (ReasoningEndChunk) Type() ChunkType        { return ChunkReasoningEnd }
func (ToolInputStartChunk) Type() ChunkType      { return ChunkToolInputStart }
func (ToolInputDeltaChunk) Type() ChunkType      { return ChunkToolInputDelta }
func (ToolInputAvailableChunk) Type() ChunkType  { return ChunkToolInputAvailable }
func (ToolOutputAvailableChunk) Type() ChunkType { return ChunkToolOutputAvailable }
func (ToolOutputErrorChunk) Type() ChunkType     { return ChunkToolOutputError }
func (SourceURLChunk) Type() ChunkType           { return ChunkSourceURL }
func (FileChunk) Type() ChunkType                { return ChunkFile }
func (ErrorChunk) Type() ChunkType               { return ChunkError }

func (c StartStepChunk) Accept(v ChunkVisitor)           { v.VisitStartStep(c) }
func (c FinishStepChunk) Accept(v ChunkVisitor)          { v.VisitFinishStep(c) }
func (c TextStartChunk) Accept(v ChunkVisitor)           { v.VisitTextStart(c) }
func (c TextDeltaChunk) Accept(v ChunkVisitor)           { v.VisitTextDelta(c) }
func (c TextEndChunk) Accept(v ChunkVisitor)             { v.VisitTextEnd(c) }
func (c ReasoningStartChunk) Accept(v ChunkVisitor)      { v.VisitReasoningStart(c) }
func (c ReasoningDeltaChunk) Accept(v ChunkVisitor)      { v.VisitReasoningDelta(c) }
func (c ReasoningEndChunk) Accept(v ChunkVisitor)        { v.VisitReasoningEnd(c) }
func (c ToolInputStartChunk) Accept(v ChunkVisitor)      { v.VisitToolInputStart(c) }
func (c ToolInputDeltaChunk) Accept(v ChunkVisitor)      { v.VisitToolInputDelta(c) }
func (c ToolInputAvailableChunk) Accept(v ChunkVisitor)  { v.VisitToolInputAvailable(c) }
func (c ToolOutputAvailableChunk) Accept(v ChunkVisitor) { v.VisitToolOutputAvailable(c) }
func (c ToolOutputErrorChunk) Accept(v ChunkVisitor)     { v.VisitToolOutputError(c) }
func (c SourceURLChunk) Accept(v ChunkVisitor)           { v.VisitSourceURL(c) }
func (c FileChunk) Accept(v ChunkVisitor)                { v.VisitFile(c) }
func (c ErrorChunk) Accept(v ChunkVisitor)               { v.VisitError(c) }
