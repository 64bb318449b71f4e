// Package fanout drives the side effects of a generation run: edit
// application with remote sync on one branch of the snapshot stream and
// conversation publishing on the other.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"docchat/internal/domain"
	"docchat/internal/infra/tracer"
)

// ChannelState is the push state of one remote sync channel.
type ChannelState int

const (
	// Idle: nothing in flight.
	Idle ChannelState = iota
	// Sending: one push is outstanding; optimistic pushes are dropped.
	Sending
	// PendingRetry: the last push failed. The next push goes out normally.
	PendingRetry
)

func (s ChannelState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case PendingRetry:
		return "pending-retry"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// Channel serializes pushes to one remote sync target. At most one push is
// outstanding at any time: optimistic pushes are dropped while one is in
// flight and authoritative pushes wait for it.
type Channel struct {
	name    string
	remote  domain.RemoteSync
	logger  *slog.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	state      ChannelState
	generation uint64
	idle       chan struct{} // closed when the outstanding push settles
	wg         sync.WaitGroup
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithRateLimit throttles optimistic pushes. Authoritative pushes are never
// throttled.
func WithRateLimit(r rate.Limit, burst int) ChannelOption {
	return func(c *Channel) {
		if r > 0 {
			c.limiter = rate.NewLimiter(r, burst)
		}
	}
}

// NewChannel creates an idle channel.
func NewChannel(name string, remote domain.RemoteSync, logger *slog.Logger, opts ...ChannelOption) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{name: name, remote: remote, logger: logger.With("channel", name)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state and the generation of the latest push.
func (c *Channel) State() (ChannelState, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.generation
}

// TryOptimistic starts a best-effort push of files unless one is already in
// flight or the rate limit is exhausted. It reports whether a push started.
// The push runs in the background; failures move the channel to
// PendingRetry and are otherwise dropped.
func (c *Channel) TryOptimistic(ctx context.Context, files []domain.FileUpdate) bool {
	c.mu.Lock()
	if c.state == Sending {
		c.mu.Unlock()
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.mu.Unlock()
		return false
	}
	gen := c.beginLocked()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, err := c.send(ctx, domain.SyncState{Files: files, Generation: gen}, "")
		if err != nil {
			c.logger.Debug("optimistic push dropped", "generation", gen, "error", err)
		}
		c.settle(err)
	}()
	return true
}

// PushAuthoritative waits for any outstanding push, then sends files as the
// final state under idempotenceKey and waits for the acknowledgement.
func (c *Channel) PushAuthoritative(ctx context.Context, files []domain.FileUpdate, idempotenceKey string) (domain.SyncAck, error) {
	for {
		c.mu.Lock()
		if c.state != Sending {
			break
		}
		idle := c.idle
		c.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return domain.SyncAck{}, ctx.Err()
		}
	}
	gen := c.beginLocked()
	c.mu.Unlock()

	ack, err := c.send(ctx, domain.SyncState{Files: files, Final: true, Generation: gen}, idempotenceKey)
	c.settle(err)
	if err != nil {
		return domain.SyncAck{}, fmt.Errorf("authoritative push %s: %w", idempotenceKey, err)
	}
	return ack, nil
}

// Wait blocks until background optimistic pushes have settled.
func (c *Channel) Wait() {
	c.wg.Wait()
}

func (c *Channel) beginLocked() uint64 {
	c.generation++
	c.state = Sending
	c.idle = make(chan struct{})
	return c.generation
}

func (c *Channel) settle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = PendingRetry
	} else {
		c.state = Idle
	}
	close(c.idle)
}

func (c *Channel) send(ctx context.Context, state domain.SyncState, key string) (domain.SyncAck, error) {
	ctx, span := tracer.StartSpan(ctx, "sync.push", trace.WithAttributes(
		tracer.StringAttr("sync.channel", c.name),
		tracer.IntAttr("sync.files", len(state.Files)),
	))
	defer span.End()

	ack, err := c.remote.Push(ctx, state, key)
	if err != nil {
		tracer.RecordError(span, err)
		return ack, err
	}
	tracer.SetOK(span)
	return ack, nil
}
