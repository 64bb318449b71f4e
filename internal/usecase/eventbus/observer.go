package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"docchat/internal/domain"
)

// ConversationObserver publishes conversation snapshots as
// EventConversationUpdated events. Every event carries a per-conversation
// sequence number so consumers can discard stale snapshots.
type ConversationObserver struct {
	bus    domain.EventBus
	logger *slog.Logger

	mu  sync.Mutex
	seq map[string]uint64
}

// NewConversationObserver creates an observer publishing onto bus.
func NewConversationObserver(bus domain.EventBus, logger *slog.Logger) *ConversationObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationObserver{bus: bus, logger: logger, seq: make(map[string]uint64)}
}

// PublishConversation implements domain.ConversationObserver.
func (o *ConversationObserver) PublishConversation(ctx context.Context, conversationID string, msgs []domain.Message) {
	o.mu.Lock()
	o.seq[conversationID]++
	seq := o.seq[conversationID]
	o.mu.Unlock()

	data, err := json.Marshal(domain.ConversationUpdatedPayload{Sequence: seq, Messages: msgs})
	if err != nil {
		o.logger.Warn("conversation snapshot not published", "conversation_id", conversationID, "error", err)
		return
	}
	o.bus.Publish(ctx, domain.Event{
		Type:           domain.EventConversationUpdated,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
		Payload:        data,
	})
}
