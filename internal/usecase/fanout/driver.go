package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/domain"
	"docchat/internal/infra/tracer"
	"docchat/internal/usecase/draft"
	"docchat/internal/usecase/stream"
)

// Deps are the collaborators of one Driver. Channel, Observer and Bus are
// optional.
type Deps struct {
	ConversationID string
	Draft          *draft.Map
	Effects        *draft.Effects
	Channel        *Channel
	Observer       domain.ConversationObserver
	Bus            domain.EventBus
	Logger         *slog.Logger
}

// Driver splits a snapshot sequence and runs the effect loop and the
// publish loop over it concurrently.
type Driver struct {
	deps Deps

	mu      sync.Mutex
	applied map[string]bool
}

// NewDriver creates a driver.
func NewDriver(deps Deps) *Driver {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Driver{deps: deps, applied: make(map[string]bool)}
}

// MarkApplied records tool calls whose effects were applied by an earlier
// run so a continued message does not apply them twice.
func (d *Driver) MarkApplied(toolCallIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range toolCallIDs {
		d.applied[id] = true
	}
}

// Run consumes snapshots until the sequence ends and returns the last
// snapshot. Both loops drain their branch even after ctx is cancelled; the
// snapshot sequence is expected to end on its own when the generation is
// aborted. The returned error joins the failures of authoritative edits,
// which the caller may retry.
func (d *Driver) Run(ctx context.Context, snapshots stream.Sequence[[]domain.Message]) ([]domain.Message, error) {
	ctx, span := tracer.StartSpan(ctx, "fanout.run")
	defer span.End()

	effectsBranch, publishBranch := stream.Tee(snapshots)
	drainCtx := context.WithoutCancel(ctx)

	var (
		final   []domain.Message
		authErr []error
	)

	g, gctx := errgroup.WithContext(drainCtx)

	g.Go(func() error {
		err := stream.Drain(gctx, effectsBranch, func(snap []domain.Message) error {
			if err := d.applyEffects(ctx, drainCtx, snap); err != nil {
				authErr = append(authErr, err)
			}
			return nil
		})
		if d.deps.Channel != nil {
			d.deps.Channel.Wait()
		}
		return err
	})

	var pub *Publisher
	if d.deps.Observer != nil {
		pub = NewPublisher(d.deps.Observer, d.deps.ConversationID, d.deps.Logger)
		g.Go(func() error { return pub.Run(gctx) })
	}

	g.Go(func() error {
		if pub != nil {
			defer pub.Close()
		}
		return stream.Drain(gctx, publishBranch, func(snap []domain.Message) error {
			final = snap
			if pub != nil {
				pub.Offer(snap)
			}
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		tracer.RecordError(span, err)
		return final, err
	}
	if err := errors.Join(authErr...); err != nil {
		tracer.RecordError(span, err)
		return final, err
	}
	tracer.SetOK(span)
	return final, nil
}

// applyEffects inspects the trailing assistant message of one snapshot.
// Optimistic pushes use ctx so an abort drops them; authoritative work uses
// durableCtx.
func (d *Driver) applyEffects(ctx, durableCtx context.Context, snap []domain.Message) error {
	msg, ok := domain.LastAssistant(snap)
	if !ok {
		return nil
	}

	var errs []error
	for _, tp := range msg.ToolParts() {
		if tp.State != domain.ToolStateOutputAvailable || tp.Preliminary {
			continue
		}
		if !d.deps.Effects.Handles(tp.ToolName) || !d.claim(tp.ToolCallID) {
			continue
		}
		if err := d.authoritative(durableCtx, tp); err != nil {
			errs = append(errs, err)
		}
	}

	if last, ok := msg.LastPart().(*domain.ToolPart); ok && last.Partial() && d.deps.Effects.Optimistic(last.ToolName) {
		d.optimistic(ctx, last)
	}
	return errors.Join(errs...)
}

func (d *Driver) claim(toolCallID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.applied[toolCallID] {
		return false
	}
	d.applied[toolCallID] = true
	return true
}

func (d *Driver) optimistic(ctx context.Context, part *domain.ToolPart) {
	if ctx.Err() != nil {
		return
	}
	scratch := d.deps.Draft.Clone()
	if err := d.deps.Effects.Apply(scratch, part, true); err != nil {
		if !errors.Is(err, draft.ErrNothingToApply) {
			d.deps.Logger.Debug("optimistic edit skipped", "tool_call_id", part.ToolCallID, "error", err)
		}
		return
	}
	if d.deps.Channel != nil {
		d.deps.Channel.TryOptimistic(ctx, scratch.Updates())
	}
}

func (d *Driver) authoritative(ctx context.Context, part *domain.ToolPart) error {
	logger := d.deps.Logger.With("tool_call_id", part.ToolCallID, "tool", part.ToolName)

	if err := d.deps.Effects.Apply(d.deps.Draft, part, false); err != nil {
		logger.Warn("edit failed", "error", err)
		d.publish(ctx, domain.EventToolEffectFailed, part, err)
		return err
	}
	if d.deps.Channel != nil {
		ack, err := d.deps.Channel.PushAuthoritative(ctx, d.deps.Draft.Updates(), part.ToolCallID)
		if err != nil {
			logger.Warn("authoritative push failed", "error", err, "retryable", domain.IsRetryableError(err))
			d.publish(ctx, domain.EventToolEffectFailed, part, err)
			return err
		}
		logger.Debug("authoritative push acknowledged", "generation", ack.Generation, "duplicate", ack.Duplicate)
	}
	d.publish(ctx, domain.EventToolEffectApplied, part, nil)
	return nil
}

func (d *Driver) publish(ctx context.Context, typ domain.EventType, part *domain.ToolPart, err error) {
	if d.deps.Bus == nil {
		return
	}
	payload := domain.ToolEffectPayload{ToolCallID: part.ToolCallID, ToolName: part.ToolName}
	if err != nil {
		payload.Error = err.Error()
	}
	data, _ := json.Marshal(payload)
	d.deps.Bus.Publish(ctx, domain.Event{
		Type:           typ,
		Timestamp:      time.Now(),
		ConversationID: d.deps.ConversationID,
		Payload:        data,
	})
}
