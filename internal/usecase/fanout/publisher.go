package fanout

import (
	"context"
	"log/slog"
	"sync"

	"docchat/internal/domain"
)

// Publisher forwards conversation snapshots to an observer from a single
// goroutine, always sending the newest one. Intermediate snapshots offered
// while a publish is running are coalesced.
type Publisher struct {
	observer       domain.ConversationObserver
	conversationID string
	logger         *slog.Logger

	mu        sync.Mutex
	latest    []domain.Message
	seq       uint64
	published uint64
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewPublisher creates a publisher. Run must be started before Offer.
func NewPublisher(observer domain.ConversationObserver, conversationID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		observer:       observer,
		conversationID: conversationID,
		logger:         logger,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// Offer replaces the pending snapshot. It never blocks on the observer.
func (p *Publisher) Offer(msgs []domain.Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.latest = msgs
	p.seq++
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting snapshots. Run publishes the latest pending one and
// returns.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
}

// Published returns the sequence number of the last published snapshot.
func (p *Publisher) Published() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// Run publishes until Close is called or ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-p.wake:
			p.flush(ctx)
		case <-p.done:
			p.flush(ctx)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if p.seq == p.published {
		p.mu.Unlock()
		return
	}
	msgs, seq := p.latest, p.seq
	p.published = seq
	p.mu.Unlock()

	p.observer.PublishConversation(ctx, p.conversationID, msgs)
	p.logger.Debug("conversation published", "conversation_id", p.conversationID, "sequence", seq)
}
