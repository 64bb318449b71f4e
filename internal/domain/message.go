package domain

import (
	"encoding/json"
	"fmt"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation entry made of ordered parts.
type Message struct {
	ID    string
	Role  string
	Parts []Part
	// Error holds the text of an in-band error chunk received while this
	// message was generated.
	Error string
}

// MessageEnvelope is the serialized form of a Message.
type MessageEnvelope struct {
	ID    string         `json:"id" yaml:"id"`
	Role  string         `json:"role" yaml:"role"`
	Parts []PartEnvelope `json:"parts" yaml:"parts"`
	Error string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewUserMessage builds a user message with a single finished text part.
func NewUserMessage(id, text string) Message {
	return Message{
		ID:    id,
		Role:  RoleUser,
		Parts: []Part{&TextPart{State: PartStateDone, Text: text}},
	}
}

// Envelope converts m into its serialized form.
func (m Message) Envelope() (MessageEnvelope, error) {
	env := MessageEnvelope{
		ID:    m.ID,
		Role:  m.Role,
		Parts: make([]PartEnvelope, 0, len(m.Parts)),
		Error: m.Error,
	}
	for i, p := range m.Parts {
		pe, err := EncodePart(p)
		if err != nil {
			return MessageEnvelope{}, fmt.Errorf("encode part %d: %w", i, err)
		}
		env.Parts = append(env.Parts, pe)
	}
	return env, nil
}

// Message converts the envelope back into a Message.
func (e MessageEnvelope) Message() (Message, error) {
	m := Message{
		ID:    e.ID,
		Role:  e.Role,
		Parts: make([]Part, 0, len(e.Parts)),
		Error: e.Error,
	}
	for i, pe := range e.Parts {
		p, err := pe.Decode()
		if err != nil {
			return Message{}, fmt.Errorf("decode part %d: %w", i, err)
		}
		m.Parts = append(m.Parts, p)
	}
	return m, nil
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env MessageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	msg, err := env.Message()
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

// Text concatenates the text parts of m.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolParts returns the tool invocation parts of m in order.
func (m Message) ToolParts() []*ToolPart {
	var out []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok {
			out = append(out, tp)
		}
	}
	return out
}

// LastPart returns the trailing part of m, or nil.
func (m Message) LastPart() Part {
	if len(m.Parts) == 0 {
		return nil
	}
	return m.Parts[len(m.Parts)-1]
}

// CloneMessage returns a deep copy of m sharing no mutable state.
func CloneMessage(m Message) Message {
	cp := m
	if m.Parts != nil {
		cp.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			cp.Parts[i] = ClonePart(p)
		}
	}
	return cp
}

// CloneMessages deep-copies a conversation.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = CloneMessage(m)
	}
	return out
}

// LastAssistant returns the trailing message when it has the assistant role.
func LastAssistant(msgs []Message) (Message, bool) {
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleAssistant {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}
