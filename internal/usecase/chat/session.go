// Package chat runs generations for one conversation: it streams chunks from
// the generator, reduces them into snapshots, fans the snapshots out to the
// draft effects and the UI, and persists the result.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docchat/internal/domain"
	"docchat/internal/infra/tracer"
	"docchat/internal/usecase/draft"
	"docchat/internal/usecase/fanout"
	"docchat/internal/usecase/reducer"
	"docchat/internal/usecase/stream"
)

// Options are the generation parameters of a session.
type Options struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
}

// Deps are the collaborators of a session. Store, Channel, Observer and Bus
// are optional.
type Deps struct {
	Generator domain.StreamingGenerator
	Store     domain.ConversationStore
	Draft     *draft.Map
	Effects   *draft.Effects
	Channel   *fanout.Channel
	Observer  domain.ConversationObserver
	Bus       domain.EventBus
	IDs       reducer.IDGenerator
	Logger    *slog.Logger
}

// Session holds the message history of one conversation and allows at most
// one generation at a time.
type Session struct {
	id     string
	opts   Options
	deps   Deps
	driver *fanout.Driver
	logger *slog.Logger

	mu         sync.Mutex
	messages   []domain.Message
	generating bool
}

// NewSession creates a session for conversationID.
func NewSession(conversationID string, opts Options, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.IDs == nil {
		deps.IDs = reducer.ULIDs()
	}
	logger := deps.Logger.With("conversation_id", conversationID)
	return &Session{
		id:     conversationID,
		opts:   opts,
		deps:   deps,
		logger: logger,
		driver: fanout.NewDriver(fanout.Deps{
			ConversationID: conversationID,
			Draft:          deps.Draft,
			Effects:        deps.Effects,
			Channel:        deps.Channel,
			Observer:       deps.Observer,
			Bus:            deps.Bus,
			Logger:         logger,
		}),
	}
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// Load replaces the history with the stored conversation. Tool calls that
// already have output are treated as applied.
func (s *Session) Load(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	msgs, err := s.deps.Store.Load(ctx, s.id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return domain.ErrGenerating
	}
	s.messages = msgs
	for _, m := range msgs {
		for _, tp := range m.ToolParts() {
			if tp.State == domain.ToolStateOutputAvailable {
				s.driver.MarkApplied(tp.ToolCallID)
			}
		}
	}
	return nil
}

// Messages returns a copy of the current history.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneMessages(s.messages)
}

// IsGenerating reports whether a generation is running.
func (s *Session) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// Submit appends a user message and generates a reply.
func (s *Session) Submit(ctx context.Context, text string) ([]domain.Message, error) {
	prior, err := s.begin(func(msgs []domain.Message) ([]domain.Message, error) {
		return append(msgs, domain.NewUserMessage(s.deps.IDs(), text)), nil
	})
	if err != nil {
		return nil, err
	}
	return s.run(ctx, prior)
}

// Regenerate discards the parts of the trailing assistant message and
// generates it again under the same id. Without a trailing assistant message
// it generates a new reply to the history.
func (s *Session) Regenerate(ctx context.Context) ([]domain.Message, error) {
	prior, err := s.begin(func(msgs []domain.Message) ([]domain.Message, error) {
		if len(msgs) == 0 {
			return nil, domain.ErrConversationEmpty
		}
		if last, ok := domain.LastAssistant(msgs); ok {
			msgs[len(msgs)-1] = domain.Message{ID: last.ID, Role: domain.RoleAssistant}
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	return s.run(ctx, prior)
}

// Continue resumes generation, extending the trailing assistant message if
// there is one.
func (s *Session) Continue(ctx context.Context) ([]domain.Message, error) {
	prior, err := s.begin(func(msgs []domain.Message) ([]domain.Message, error) {
		if len(msgs) == 0 {
			return nil, domain.ErrConversationEmpty
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	return s.run(ctx, prior)
}

// AddToolOutput records the output of a client-executed tool call on the
// trailing assistant message. The effect is applied by the next run.
func (s *Session) AddToolOutput(toolCallID string, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return domain.ErrGenerating
	}
	last, ok := domain.LastAssistant(s.messages)
	if !ok {
		return domain.NewDomainError("Session.AddToolOutput", domain.ErrToolCallNotFound, toolCallID)
	}
	updated := domain.CloneMessage(last)
	for _, tp := range updated.ToolParts() {
		if tp.ToolCallID != toolCallID {
			continue
		}
		if tp.State != domain.ToolStateInputAvailable {
			return domain.NewDomainError("Session.AddToolOutput", domain.ErrInvalidInput,
				fmt.Sprintf("tool call %s is %s", toolCallID, tp.State))
		}
		tp.State = domain.ToolStateOutputAvailable
		tp.Output = output
		s.messages[len(s.messages)-1] = updated
		return nil
	}
	return domain.NewDomainError("Session.AddToolOutput", domain.ErrToolCallNotFound, toolCallID)
}

// begin claims the session and returns the history a run starts from.
func (s *Session) begin(prepare func([]domain.Message) ([]domain.Message, error)) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return nil, domain.ErrGenerating
	}
	prior, err := prepare(domain.CloneMessages(s.messages))
	if err != nil {
		return nil, err
	}
	s.messages = prior
	s.generating = true
	return domain.CloneMessages(prior), nil
}

func (s *Session) end(final []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = final
	s.generating = false
}

func (s *Session) run(ctx context.Context, prior []domain.Message) (final []domain.Message, err error) {
	ctx, span := tracer.StartSpan(ctx, "chat.run")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("conversation.id", s.id), tracer.IntAttr("messages", len(prior)))

	final = prior
	defer func() { s.end(final) }()

	start := time.Now()
	s.event(ctx, domain.EventGenerationStarted, domain.GenerationPayload{})

	req := domain.GenerateRequest{
		Model:       s.opts.Model,
		System:      s.opts.System,
		Messages:    requestMessages(prior),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
	if s.deps.Effects != nil {
		req.Tools = s.deps.Effects.Schemas()
	}

	genCtx, cancelGen := context.WithCancel(ctx)
	events, err := s.deps.Generator.Stream(genCtx, req)
	if err != nil {
		cancelGen()
		tracer.RecordError(span, err)
		s.event(ctx, domain.EventGenerationFinished, domain.GenerationPayload{Error: err.Error()})
		return final, fmt.Errorf("start generation: %w", err)
	}

	snapshots := reducer.Reduce(ctx, prior, stream.ToPull(events, cancelGen), s.deps.IDs, s.logger)
	last, runErr := s.driver.Run(ctx, snapshots)
	if last != nil {
		final = last
	}

	var saveErr error
	if s.deps.Store != nil {
		if err := s.deps.Store.Save(context.WithoutCancel(ctx), s.id, final); err != nil {
			s.logger.Error("conversation save failed", "error", err)
			saveErr = fmt.Errorf("save conversation: %w", err)
		}
	}

	payload := domain.GenerationPayload{}
	if msg, ok := domain.LastAssistant(final); ok {
		payload.MessageID = msg.ID
	}
	err = errors.Join(runErr, saveErr)
	if err != nil {
		payload.Error = err.Error()
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}
	s.event(context.WithoutCancel(ctx), domain.EventGenerationFinished, payload)
	s.logger.Info("generation finished",
		"message_id", payload.MessageID,
		"aborted", ctx.Err() != nil,
		"duration", time.Since(start),
	)
	return final, err
}

// requestMessages drops an empty trailing assistant message left by
// Regenerate.
func requestMessages(msgs []domain.Message) []domain.Message {
	if last, ok := domain.LastAssistant(msgs); ok && len(last.Parts) == 0 {
		return msgs[:len(msgs)-1]
	}
	return msgs
}

func (s *Session) event(ctx context.Context, typ domain.EventType, payload domain.GenerationPayload) {
	if s.deps.Bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	s.deps.Bus.Publish(ctx, domain.Event{
		Type:           typ,
		Timestamp:      time.Now(),
		ConversationID: s.id,
		Payload:        data,
	})
}
