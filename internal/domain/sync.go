package domain

import "context"

// SyncState is the draft state pushed to a remote observer.
type SyncState struct {
	Files []FileUpdate `json:"files"`
	// Final is true for authoritative pushes.
	Final      bool   `json:"final"`
	Generation uint64 `json:"generation"`
}

// SyncAck acknowledges a push.
type SyncAck struct {
	Generation uint64 `json:"generation"`
	// Duplicate is true when the idempotence key was already applied and
	// nothing was sent.
	Duplicate bool `json:"duplicate,omitempty"`
}

// RemoteSync pushes draft state to a remote observer such as a preview
// iframe. Implementations enforce their own per-push timeout and report it
// as ErrSyncTimeout.
type RemoteSync interface {
	Push(ctx context.Context, state SyncState, idempotenceKey string) (SyncAck, error)
}

// ConversationObserver receives conversation snapshots, e.g. a UI store.
type ConversationObserver interface {
	PublishConversation(ctx context.Context, conversationID string, msgs []Message)
}

// ConversationStore persists finished conversations.
type ConversationStore interface {
	Save(ctx context.Context, conversationID string, msgs []Message) error
	Load(ctx context.Context, conversationID string) ([]Message, error)
}
