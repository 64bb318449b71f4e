// Package cache memoizes generation results and chunk streams keyed by the
// canonical form of the request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"docchat/internal/domain"
	"docchat/internal/infra/tracer"
)

// Record is one stored cache entry. Exactly one of Result and Chunks is set.
type Record struct {
	Params map[string]any         `yaml:"params"`
	Result *ResultRecord          `yaml:"result,omitempty"`
	Chunks []domain.ChunkEnvelope `yaml:"chunks,omitempty"`
}

// ResultRecord is the stored form of a non-streaming result.
type ResultRecord struct {
	ID           string                 `yaml:"id"`
	Model        string                 `yaml:"model"`
	Message      domain.MessageEnvelope `yaml:"message"`
	Usage        domain.Usage           `yaml:"usage"`
	FinishReason string                 `yaml:"finish_reason,omitempty"`
	CreatedAt    time.Time              `yaml:"created_at"`
}

// Store persists records grouped by namespace.
type Store interface {
	// Get returns the record for key; ok is false on a miss.
	Get(ctx context.Context, namespace, key string) (rec *Record, ok bool, err error)
	// Put writes rec, replacing any earlier record for key.
	Put(ctx context.Context, namespace, key string, rec *Record) error
}

// Key returns the hex SHA-256 of the canonical JSON of req together with
// the generic params it was computed from. Message ids are minted per
// conversation and are left out, so the same prompt hits across sessions.
// Streaming and non-streaming calls with the same parameters get different
// keys.
func Key(req domain.GenerateRequest, streaming bool) (string, map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("marshal request: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", nil, fmt.Errorf("decode request: %w", err)
	}
	if msgs, ok := params["messages"].([]any); ok {
		for _, m := range msgs {
			if fields, ok := m.(map[string]any); ok {
				delete(fields, "id")
			}
		}
	}
	if streaming {
		params["stream"] = true
	}
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", nil, fmt.Errorf("canonicalize request: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), params, nil
}

// Middleware wraps a StreamingGenerator with a read-through cache.
type Middleware struct {
	next   domain.StreamingGenerator
	store  Store
	logger *slog.Logger
}

// New creates a caching middleware.
func New(next domain.StreamingGenerator, store Store, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{next: next, store: store, logger: logger}
}

// Name implements domain.Generator.
func (m *Middleware) Name() string { return m.next.Name() }

// Generate implements domain.Generator.
func (m *Middleware) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	ctx, span := tracer.StartSpan(ctx, "cache.generate")
	defer span.End()

	key, params, err := Key(req, false)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	rec, ok, err := m.store.Get(ctx, req.Model, key)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("cache get: %w", err)
	}
	span.SetAttributes(tracer.BoolAttr("cache.hit", ok && rec.Result != nil))

	if ok && rec.Result != nil {
		res, err := rec.Result.toResult()
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		m.logger.Debug("cache hit", "model", req.Model, "key", key)
		return res, nil
	}

	res, err := m.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	stored, err := newResultRecord(res)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if err := m.store.Put(ctx, req.Model, key, &Record{Params: params, Result: stored}); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("cache put: %w", err)
	}
	tracer.SetOK(span)
	return res, nil
}

// Stream implements domain.StreamingGenerator. A hit replays the stored
// chunks without delay. A miss forwards the upstream stream and stores it
// once it has completed without error.
func (m *Middleware) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamEvent[domain.Chunk], error) {
	spanCtx, span := tracer.StartSpan(ctx, "cache.stream")

	key, params, err := Key(req, true)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}
	rec, ok, err := m.store.Get(spanCtx, req.Model, key)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, fmt.Errorf("cache get: %w", err)
	}
	hit := ok && rec.Chunks != nil
	span.SetAttributes(tracer.BoolAttr("cache.hit", hit))

	if hit {
		chunks, err := decodeChunks(rec.Chunks)
		if err != nil {
			tracer.RecordError(span, err)
			span.End()
			return nil, err
		}
		m.logger.Debug("cache hit", "model", req.Model, "key", key, "chunks", len(chunks))
		span.End()
		return replay(ctx, chunks), nil
	}

	upstream, err := m.next.Stream(ctx, req)
	if err != nil {
		span.End()
		return nil, err
	}
	out := make(chan domain.StreamEvent[domain.Chunk])
	go func() {
		defer close(out)
		defer span.End()
		m.record(ctx, req.Model, key, params, upstream, out)
	}()
	return out, nil
}

// record forwards upstream to out and writes the buffered chunks when the
// upstream completed normally.
func (m *Middleware) record(
	ctx context.Context,
	namespace, key string,
	params map[string]any,
	upstream <-chan domain.StreamEvent[domain.Chunk],
	out chan<- domain.StreamEvent[domain.Chunk],
) {
	buf := make([]domain.ChunkEnvelope, 0, 64)
	for ev := range upstream {
		if ev.Err == nil {
			env, err := domain.EncodeChunk(ev.Value)
			if err != nil {
				ev = domain.StreamEvent[domain.Chunk]{Err: fmt.Errorf("cache encode chunk: %w", err)}
			} else {
				buf = append(buf, env)
			}
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			m.logger.Debug("cache write skipped, stream aborted", "model", namespace, "key", key)
			go discard(upstream)
			return
		}
		if ev.Err != nil {
			m.logger.Debug("cache write skipped, stream failed", "model", namespace, "key", key, "error", ev.Err)
			go discard(upstream)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := m.store.Put(context.WithoutCancel(ctx), namespace, key, &Record{Params: params, Chunks: buf}); err != nil {
		select {
		case out <- domain.StreamEvent[domain.Chunk]{Err: fmt.Errorf("cache put: %w", err)}:
		case <-ctx.Done():
		}
		return
	}
	m.logger.Debug("cache stored", "model", namespace, "key", key, "chunks", len(buf))
}

func replay(ctx context.Context, chunks []domain.Chunk) <-chan domain.StreamEvent[domain.Chunk] {
	out := make(chan domain.StreamEvent[domain.Chunk])
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- domain.StreamEvent[domain.Chunk]{Value: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// discard drains a channel whose consumer went away so its producer can exit.
func discard[T any](ch <-chan T) {
	for range ch {
	}
}

func decodeChunks(envs []domain.ChunkEnvelope) ([]domain.Chunk, error) {
	chunks := make([]domain.Chunk, 0, len(envs))
	for i, env := range envs {
		c, err := env.Decode()
		if err != nil {
			return nil, domain.NewDomainError("cache.replay", domain.ErrCacheCorrupt, fmt.Sprintf("chunk %d: %v", i, err))
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func newResultRecord(res *domain.GenerateResult) (*ResultRecord, error) {
	msg, err := res.Message.Envelope()
	if err != nil {
		return nil, fmt.Errorf("cache encode result: %w", err)
	}
	return &ResultRecord{
		ID:           res.ID,
		Model:        res.Model,
		Message:      msg,
		Usage:        res.Usage,
		FinishReason: res.FinishReason,
		CreatedAt:    res.CreatedAt,
	}, nil
}

func (r *ResultRecord) toResult() (*domain.GenerateResult, error) {
	msg, err := r.Message.Message()
	if err != nil {
		return nil, domain.NewDomainError("cache.result", domain.ErrCacheCorrupt, err.Error())
	}
	return &domain.GenerateResult{
		ID:           r.ID,
		Model:        r.Model,
		Message:      msg,
		Usage:        r.Usage,
		FinishReason: r.FinishReason,
		CreatedAt:    r.CreatedAt,
	}, nil
}
