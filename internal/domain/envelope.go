package domain

import (
	"encoding/json"
	"fmt"
)

// ChunkEnvelope is the flat wire form of a Chunk. It is what travels as an SSE
// data line and what the cache writes to disk.
type ChunkEnvelope struct {
	Type             ChunkType `json:"type" yaml:"type"`
	ID               string    `json:"id,omitempty" yaml:"id,omitempty"`
	Delta            string    `json:"delta,omitempty" yaml:"delta,omitempty"`
	ToolCallID       string    `json:"toolCallId,omitempty" yaml:"toolCallId,omitempty"`
	ToolName         string    `json:"toolName,omitempty" yaml:"toolName,omitempty"`
	InputTextDelta   string    `json:"inputTextDelta,omitempty" yaml:"inputTextDelta,omitempty"`
	Input            any       `json:"input,omitempty" yaml:"input,omitempty"`
	Output           any       `json:"output,omitempty" yaml:"output,omitempty"`
	Preliminary      bool      `json:"preliminary,omitempty" yaml:"preliminary,omitempty"`
	ProviderExecuted bool      `json:"providerExecuted,omitempty" yaml:"providerExecuted,omitempty"`
	ErrorText        string    `json:"errorText,omitempty" yaml:"errorText,omitempty"`
	SourceID         string    `json:"sourceId,omitempty" yaml:"sourceId,omitempty"`
	URL              string    `json:"url,omitempty" yaml:"url,omitempty"`
	Title            string    `json:"title,omitempty" yaml:"title,omitempty"`
	MediaType        string    `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
}

// EncodeChunk converts c into its wire envelope.
func EncodeChunk(c Chunk) (ChunkEnvelope, error) {
	enc := &chunkEncoder{}
	c.Accept(enc)
	return enc.env, enc.err
}

// Decode converts the envelope back into a typed Chunk.
func (e ChunkEnvelope) Decode() (Chunk, error) {
	switch e.Type {
	case ChunkStartStep:
		return StartStepChunk{}, nil
	case ChunkFinishStep:
		return FinishStepChunk{}, nil
	case ChunkTextStart:
		return TextStartChunk{ID: e.ID}, nil
	case ChunkTextDelta:
		return TextDeltaChunk{ID: e.ID, Delta: e.Delta}, nil
	case ChunkTextEnd:
		return TextEndChunk{ID: e.ID}, nil
	case ChunkReasoningStart:
		return ReasoningStartChunk{ID: e.ID}, nil
	case ChunkReasoningDelta:
		return ReasoningDeltaChunk{ID: e.ID, Delta: e.Delta}, nil
	case ChunkReasoningEnd:
		return ReasoningEndChunk{ID: e.ID}, nil
	case ChunkToolInputStart:
		return ToolInputStartChunk{ToolCallID: e.ToolCallID, ToolName: e.ToolName, ProviderExecuted: e.ProviderExecuted}, nil
	case ChunkToolInputDelta:
		return ToolInputDeltaChunk{ToolCallID: e.ToolCallID, InputTextDelta: e.InputTextDelta}, nil
	case ChunkToolInputAvailable:
		input, err := valueToRaw(e.Input)
		if err != nil {
			return nil, err
		}
		return ToolInputAvailableChunk{
			ToolCallID:       e.ToolCallID,
			ToolName:         e.ToolName,
			Input:            input,
			ProviderExecuted: e.ProviderExecuted,
		}, nil
	case ChunkToolOutputAvailable:
		output, err := valueToRaw(e.Output)
		if err != nil {
			return nil, err
		}
		return ToolOutputAvailableChunk{
			ToolCallID:       e.ToolCallID,
			Output:           output,
			Preliminary:      e.Preliminary,
			ProviderExecuted: e.ProviderExecuted,
		}, nil
	case ChunkToolOutputError:
		return ToolOutputErrorChunk{ToolCallID: e.ToolCallID, ErrorText: e.ErrorText}, nil
	case ChunkSourceURL:
		return SourceURLChunk{SourceID: e.SourceID, URL: e.URL, Title: e.Title}, nil
	case ChunkFile:
		return FileChunk{URL: e.URL, MediaType: e.MediaType}, nil
	case ChunkError:
		return ErrorChunk{ErrorText: e.ErrorText}, nil
	default:
		return nil, NewDomainError("ChunkEnvelope.Decode", ErrInvalidInput, fmt.Sprintf("unknown chunk type %q", e.Type))
	}
}

type chunkEncoder struct {
	env ChunkEnvelope
	err error
}

func (e *chunkEncoder) VisitStartStep(StartStepChunk)   { e.env = ChunkEnvelope{Type: ChunkStartStep} }
func (e *chunkEncoder) VisitFinishStep(FinishStepChunk) { e.env = ChunkEnvelope{Type: ChunkFinishStep} }
func (e *chunkEncoder) VisitTextStart(c TextStartChunk) {
	e.env = ChunkEnvelope{Type: ChunkTextStart, ID: c.ID}
}
func (e *chunkEncoder) VisitTextDelta(c TextDeltaChunk) {
	e.env = ChunkEnvelope{Type: ChunkTextDelta, ID: c.ID, Delta: c.Delta}
}
func (e *chunkEncoder) VisitTextEnd(c TextEndChunk) {
	e.env = ChunkEnvelope{Type: ChunkTextEnd, ID: c.ID}
}
func (e *chunkEncoder) VisitReasoningStart(c ReasoningStartChunk) {
	e.env = ChunkEnvelope{Type: ChunkReasoningStart, ID: c.ID}
}
func (e *chunkEncoder) VisitReasoningDelta(c ReasoningDeltaChunk) {
	e.env = ChunkEnvelope{Type: ChunkReasoningDelta, ID: c.ID, Delta: c.Delta}
}
func (e *chunkEncoder) VisitReasoningEnd(c ReasoningEndChunk) {
	e.env = ChunkEnvelope{Type: ChunkReasoningEnd, ID: c.ID}
}
func (e *chunkEncoder) VisitToolInputStart(c ToolInputStartChunk) {
	e.env = ChunkEnvelope{
		Type:             ChunkToolInputStart,
		ToolCallID:       c.ToolCallID,
		ToolName:         c.ToolName,
		ProviderExecuted: c.ProviderExecuted,
	}
}
func (e *chunkEncoder) VisitToolInputDelta(c ToolInputDeltaChunk) {
	e.env = ChunkEnvelope{Type: ChunkToolInputDelta, ToolCallID: c.ToolCallID, InputTextDelta: c.InputTextDelta}
}
func (e *chunkEncoder) VisitToolInputAvailable(c ToolInputAvailableChunk) {
	input, err := rawToValue(c.Input)
	e.err = err
	e.env = ChunkEnvelope{
		Type:             ChunkToolInputAvailable,
		ToolCallID:       c.ToolCallID,
		ToolName:         c.ToolName,
		Input:            input,
		ProviderExecuted: c.ProviderExecuted,
	}
}
func (e *chunkEncoder) VisitToolOutputAvailable(c ToolOutputAvailableChunk) {
	output, err := rawToValue(c.Output)
	e.err = err
	e.env = ChunkEnvelope{
		Type:             ChunkToolOutputAvailable,
		ToolCallID:       c.ToolCallID,
		Output:           output,
		Preliminary:      c.Preliminary,
		ProviderExecuted: c.ProviderExecuted,
	}
}
func (e *chunkEncoder) VisitToolOutputError(c ToolOutputErrorChunk) {
	e.env = ChunkEnvelope{Type: ChunkToolOutputError, ToolCallID: c.ToolCallID, ErrorText: c.ErrorText}
}
func (e *chunkEncoder) VisitSourceURL(c SourceURLChunk) {
	e.env = ChunkEnvelope{Type: ChunkSourceURL, SourceID: c.SourceID, URL: c.URL, Title: c.Title}
}
func (e *chunkEncoder) VisitFile(c FileChunk) {
	e.env = ChunkEnvelope{Type: ChunkFile, URL: c.URL, MediaType: c.MediaType}
}
func (e *chunkEncoder) VisitError(c ErrorChunk) {
	e.env = ChunkEnvelope{Type: ChunkError, ErrorText: c.ErrorText}
}

// rawToValue decodes raw JSON into a generic value so YAML encoders can emit
// it as structured text instead of an opaque byte string.
func rawToValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode json value: %w", err)
	}
	return v, nil
}

// valueToRaw is the inverse of rawToValue. YAML decoders may produce
// map[interface{}]interface{} for nested maps, which json cannot encode.
func valueToRaw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(normalizeValue(v))
	if err != nil {
		return nil, fmt.Errorf("encode json value: %w", err)
	}
	return data, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeValue(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
