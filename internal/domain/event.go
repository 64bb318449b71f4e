package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConversationUpdated EventType = "conversation.updated"
	EventGenerationStarted   EventType = "generation.started"
	EventGenerationFinished  EventType = "generation.finished"
	EventToolEffectApplied   EventType = "tool.effect.applied"
	EventToolEffectFailed    EventType = "tool.effect.failed"
	EventDraftSynced         EventType = "draft.synced"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// ConversationUpdatedPayload is the payload of EventConversationUpdated.
type ConversationUpdatedPayload struct {
	Sequence uint64    `json:"sequence"`
	Messages []Message `json:"messages"`
}

// ToolEffectPayload is the payload of tool effect events.
type ToolEffectPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Error      string `json:"error,omitempty"`
}

// GenerationPayload is the payload of generation lifecycle events.
type GenerationPayload struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DraftSyncedPayload is the payload of EventDraftSynced.
type DraftSyncedPayload struct {
	Generation uint64 `json:"generation"`
	Final      bool   `json:"final"`
	Files      int    `json:"files"`
	Client     string `json:"client,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
