package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PartState is the lifecycle state of a text or reasoning part.
type PartState string

const (
	PartStateStreaming PartState = "streaming"
	PartStateDone      PartState = "done"
)

// ToolState is the lifecycle state of a tool invocation part.
type ToolState string

const (
	ToolStateInputStreaming  ToolState = "input-streaming"
	ToolStateInputAvailable  ToolState = "input-available"
	ToolStateOutputAvailable ToolState = "output-available"
	ToolStateOutputError     ToolState = "output-error"
)

// Part type tags. Tool parts use ToolPartPrefix followed by the tool name.
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeFile      = "file"
	PartTypeSourceURL = "source-url"
	PartTypeStepStart = "step-start"
	ToolPartPrefix    = "tool-"
)

// UnknownToolName names tool calls whose start chunk never arrived.
const UnknownToolName = "unknown"

// Part is one typed segment of a message. Implementations live in this
// package only; PartVisitor enumerates them.
type Part interface {
	Type() string
	// Terminal reports whether the part can no longer change.
	Terminal() bool
	Accept(v PartVisitor)
	clonePart() Part
}

// PartVisitor handles every part kind.
type PartVisitor interface {
	VisitText(*TextPart)
	VisitReasoning(*ReasoningPart)
	VisitTool(*ToolPart)
	VisitFile(*FilePart)
	VisitSourceURL(*SourceURLPart)
	VisitStepStart(*StepStartPart)
}

// TextPart is a run of assistant text.
type TextPart struct {
	State PartState
	Text  string
}

// ReasoningPart is a run of model reasoning.
type ReasoningPart struct {
	State PartState
	Text  string
}

// ToolPart is one tool invocation keyed by ToolCallID.
type ToolPart struct {
	ToolName   string
	ToolCallID string
	State      ToolState
	// Input is the structured input once available. While streaming it holds
	// a best-effort parse of RawInput and may be nil.
	Input json.RawMessage
	// RawInput is the concatenation of argument deltas received so far.
	RawInput         string
	Output           json.RawMessage
	ErrorText        string
	ProviderExecuted bool
	Preliminary      bool
}

// FilePart references a generated file.
type FilePart struct {
	URL       string
	MediaType string
}

// SourceURLPart references an external source.
type SourceURLPart struct {
	SourceID string
	URL      string
	Title    string
}

// StepStartPart marks the start of a generation step.
type StepStartPart struct{}

func (p *TextPart) Type() string      { return PartTypeText }
func (p *ReasoningPart) Type() string { return PartTypeReasoning }
func (p *ToolPart) Type() string      { return ToolPartPrefix + p.ToolName }
func (p *FilePart) Type() string      { return PartTypeFile }
func (p *SourceURLPart) Type() string { return PartTypeSourceURL }
func (p *StepStartPart) Type() string { return PartTypeStepStart }

func (p *TextPart) Terminal() bool      { return p.State == PartStateDone }
func (p *ReasoningPart) Terminal() bool { return p.State == PartStateDone }
func (p *FilePart) Terminal() bool      { return true }
func (p *SourceURLPart) Terminal() bool { return true }
func (p *StepStartPart) Terminal() bool { return true }

// Terminal is true for a non-preliminary output or an error.
func (p *ToolPart) Terminal() bool {
	switch p.State {
	case ToolStateOutputError:
		return true
	case ToolStateOutputAvailable:
		return !p.Preliminary
	default:
		return false
	}
}

// Partial reports whether the tool part carries in-progress data that may
// still change: streaming input or a preliminary output.
func (p *ToolPart) Partial() bool {
	return p.State == ToolStateInputStreaming ||
		(p.State == ToolStateOutputAvailable && p.Preliminary)
}

func (p *TextPart) Accept(v PartVisitor)      { v.VisitText(p) }
func (p *ReasoningPart) Accept(v PartVisitor) { v.VisitReasoning(p) }
func (p *ToolPart) Accept(v PartVisitor)      { v.VisitTool(p) }
func (p *FilePart) Accept(v PartVisitor)      { v.VisitFile(p) }
func (p *SourceURLPart) Accept(v PartVisitor) { v.VisitSourceURL(p) }
func (p *StepStartPart) Accept(v PartVisitor) { v.VisitStepStart(p) }

func (p *TextPart) clonePart() Part      { cp := *p; return &cp }
func (p *ReasoningPart) clonePart() Part { cp := *p; return &cp }
func (p *FilePart) clonePart() Part      { cp := *p; return &cp }
func (p *SourceURLPart) clonePart() Part { cp := *p; return &cp }
func (p *StepStartPart) clonePart() Part { return &StepStartPart{} }

func (p *ToolPart) clonePart() Part {
	cp := *p
	cp.Input = bytes.Clone(p.Input)
	cp.Output = bytes.Clone(p.Output)
	return &cp
}

// ClonePart returns a deep copy of p.
func ClonePart(p Part) Part {
	if p == nil {
		return nil
	}
	return p.clonePart()
}

// PartEnvelope is the flat serialized form of a Part.
type PartEnvelope struct {
	Type             string `json:"type" yaml:"type"`
	State            string `json:"state,omitempty" yaml:"state,omitempty"`
	Text             string `json:"text,omitempty" yaml:"text,omitempty"`
	ToolCallID       string `json:"toolCallId,omitempty" yaml:"toolCallId,omitempty"`
	Input            any    `json:"input,omitempty" yaml:"input,omitempty"`
	RawInput         string `json:"rawInput,omitempty" yaml:"rawInput,omitempty"`
	Output           any    `json:"output,omitempty" yaml:"output,omitempty"`
	ErrorText        string `json:"errorText,omitempty" yaml:"errorText,omitempty"`
	ProviderExecuted bool   `json:"providerExecuted,omitempty" yaml:"providerExecuted,omitempty"`
	Preliminary      bool   `json:"preliminary,omitempty" yaml:"preliminary,omitempty"`
	URL              string `json:"url,omitempty" yaml:"url,omitempty"`
	MediaType        string `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
	SourceID         string `json:"sourceId,omitempty" yaml:"sourceId,omitempty"`
	Title            string `json:"title,omitempty" yaml:"title,omitempty"`
}

// EncodePart converts p into its envelope.
func EncodePart(p Part) (PartEnvelope, error) {
	enc := &partEncoder{}
	p.Accept(enc)
	return enc.env, enc.err
}

// Decode converts the envelope back into a typed Part.
func (e PartEnvelope) Decode() (Part, error) {
	switch {
	case e.Type == PartTypeText:
		return &TextPart{State: PartState(e.State), Text: e.Text}, nil
	case e.Type == PartTypeReasoning:
		return &ReasoningPart{State: PartState(e.State), Text: e.Text}, nil
	case e.Type == PartTypeFile:
		return &FilePart{URL: e.URL, MediaType: e.MediaType}, nil
	case e.Type == PartTypeSourceURL:
		return &SourceURLPart{SourceID: e.SourceID, URL: e.URL, Title: e.Title}, nil
	case e.Type == PartTypeStepStart:
		return &StepStartPart{}, nil
	case strings.HasPrefix(e.Type, ToolPartPrefix):
		input, err := valueToRaw(e.Input)
		if err != nil {
			return nil, err
		}
		output, err := valueToRaw(e.Output)
		if err != nil {
			return nil, err
		}
		return &ToolPart{
			ToolName:         strings.TrimPrefix(e.Type, ToolPartPrefix),
			ToolCallID:       e.ToolCallID,
			State:            ToolState(e.State),
			Input:            input,
			RawInput:         e.RawInput,
			Output:           output,
			ErrorText:        e.ErrorText,
			ProviderExecuted: e.ProviderExecuted,
			Preliminary:      e.Preliminary,
		}, nil
	default:
		return nil, NewDomainError("PartEnvelope.Decode", ErrInvalidInput, fmt.Sprintf("unknown part type %q", e.Type))
	}
}

type partEncoder struct {
	env PartEnvelope
	err error
}

func (e *partEncoder) VisitText(p *TextPart) {
	e.env = PartEnvelope{Type: PartTypeText, State: string(p.State), Text: p.Text}
}

func (e *partEncoder) VisitReasoning(p *ReasoningPart) {
	e.env = PartEnvelope{Type: PartTypeReasoning, State: string(p.State), Text: p.Text}
}

func (e *partEncoder) VisitTool(p *ToolPart) {
	input, err := rawToValue(p.Input)
	if err != nil {
		e.err = err
		return
	}
	output, err := rawToValue(p.Output)
	if err != nil {
		e.err = err
		return
	}
	e.env = PartEnvelope{
		Type:             p.Type(),
		State:            string(p.State),
		ToolCallID:       p.ToolCallID,
		Input:            input,
		RawInput:         p.RawInput,
		Output:           output,
		ErrorText:        p.ErrorText,
		ProviderExecuted: p.ProviderExecuted,
		Preliminary:      p.Preliminary,
	}
}

func (e *partEncoder) VisitFile(p *FilePart) {
	e.env = PartEnvelope{Type: PartTypeFile, URL: p.URL, MediaType: p.MediaType}
}

func (e *partEncoder) VisitSourceURL(p *SourceURLPart) {
	e.env = PartEnvelope{Type: PartTypeSourceURL, SourceID: p.SourceID, URL: p.URL, Title: p.Title}
}

func (e *partEncoder) VisitStepStart(*StepStartPart) {
	e.env = PartEnvelope{Type: PartTypeStepStart}
}
