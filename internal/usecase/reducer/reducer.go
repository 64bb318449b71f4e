// Package reducer folds a generation's chunk stream into conversation
// snapshots.
package reducer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"docchat/internal/domain"
	"docchat/internal/infra/tracer"
	"docchat/internal/usecase/stream"
	"docchat/internal/usecase/toolcall"
)

// reduction is the lazy snapshot sequence returned by Reduce.
type reduction struct {
	runCtx  context.Context
	chunks  stream.Sequence[domain.Chunk]
	base    []domain.Message
	working domain.Message
	apply   *applier
	logger  *slog.Logger

	span    trace.Span
	applied int
	done    bool
}

// Reduce returns a sequence that yields one conversation snapshot per chunk
// read from chunks. When prior ends with an assistant message, that message
// is continued and replaced in every snapshot; otherwise a new assistant
// message with id newID() is appended.
//
// The sequence is finite and cannot be restarted. ctx bounds the whole run:
// cancelling it ends the sequence. Cancelling the ctx of a single Next call
// only abandons that call, which returns the ctx error and leaves the
// sequence usable. Upstream errors and run cancellation are logged and end
// the sequence with io.EOF, so
// snapshots already yielded remain the final state. Each snapshot holds a
// fresh copy of the working message; earlier messages are shared read-only
// between snapshots.
func Reduce(
	ctx context.Context,
	prior []domain.Message,
	chunks stream.Sequence[domain.Chunk],
	newID IDGenerator,
	logger *slog.Logger,
) stream.Sequence[[]domain.Message] {
	if logger == nil {
		logger = slog.Default()
	}
	_, span := tracer.StartSpan(ctx, "reducer.reduce")

	r := &reduction{runCtx: ctx, chunks: chunks, logger: logger, span: span}
	machine := toolcall.New(logger)

	if last, ok := domain.LastAssistant(prior); ok {
		r.base = domain.CloneMessages(prior[:len(prior)-1])
		r.working = domain.CloneMessage(last)
	} else {
		r.base = domain.CloneMessages(prior)
		r.working = domain.Message{ID: newID(), Role: domain.RoleAssistant}
	}
	span.SetAttributes(tracer.StringAttr("message.id", r.working.ID))
	r.apply = newApplier(&r.working, machine, logger)
	return r
}

func (r *reduction) Next(ctx context.Context) ([]domain.Message, error) {
	if r.done {
		return nil, io.EOF
	}
	pullCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.runCtx, cancel)
	c, err := r.chunks.Next(pullCtx)
	stop()
	cancel()
	if err != nil {
		aborted := r.runCtx.Err() != nil
		if !aborted && ctx.Err() != nil && !errors.Is(err, io.EOF) {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, io.EOF):
		case aborted:
			r.logger.Info("generation aborted", "message_id", r.working.ID, "chunks", r.applied)
		default:
			r.logger.Warn("chunk stream failed, keeping partial message",
				"message_id", r.working.ID, "chunks", r.applied, "error", err)
			tracer.RecordError(r.span, err)
		}
		r.finish()
		return nil, io.EOF
	}

	c.Accept(r.apply)
	r.applied++
	return r.snapshot(), nil
}

func (r *reduction) snapshot() []domain.Message {
	out := make([]domain.Message, 0, len(r.base)+1)
	out = append(out, r.base...)
	return append(out, domain.CloneMessage(r.working))
}

func (r *reduction) finish() {
	if r.done {
		return
	}
	r.done = true
	r.chunks.Close()
	r.span.SetAttributes(tracer.IntAttr("chunks", r.applied))
	r.span.End()
}

func (r *reduction) Close() error {
	r.finish()
	return nil
}
