package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
)

func TestConversationObserverSequences(t *testing.T) {
	bus := newTestBus()
	obs := NewConversationObserver(bus, nil)

	var mu sync.Mutex
	got := map[string][]domain.ConversationUpdatedPayload{}
	bus.Subscribe(domain.EventConversationUpdated, func(_ context.Context, e domain.Event) {
		var p domain.ConversationUpdatedPayload
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		mu.Lock()
		got[e.ConversationID] = append(got[e.ConversationID], p)
		mu.Unlock()
	})

	msgs := []domain.Message{domain.NewUserMessage("u1", "hello")}
	obs.PublishConversation(context.Background(), "a", msgs)
	obs.PublishConversation(context.Background(), "a", msgs)
	obs.PublishConversation(context.Background(), "b", msgs)
	bus.Close()

	require.Len(t, got["a"], 2)
	assert.Equal(t, uint64(1), got["a"][0].Sequence)
	assert.Equal(t, uint64(2), got["a"][1].Sequence)
	require.Len(t, got["b"], 1)
	assert.Equal(t, uint64(1), got["b"][0].Sequence)
	assert.Equal(t, "hello", got["a"][1].Messages[0].Text())
}
