package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"docchat/internal/adapter/cachestore"
	"docchat/internal/adapter/llm"
	"docchat/internal/adapter/pages"
	"docchat/internal/adapter/remotesync"
	"docchat/internal/adapter/store"
	"docchat/internal/domain"
	"docchat/internal/infra/config"
	"docchat/internal/infra/logger"
	"docchat/internal/infra/tracer"
	"docchat/internal/usecase/cache"
	"docchat/internal/usecase/chat"
	"docchat/internal/usecase/draft"
	"docchat/internal/usecase/eventbus"
	"docchat/internal/usecase/fanout"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	generator domain.StreamingGenerator
	store     *store.SQLiteConversationStore
	cache     *cachestore.FileStore // nil when caching is disabled
	pages     *pages.Oracle
	effects   *draft.Effects
	sync      *remotesync.Client // nil when sync is disabled

	closers []func() error
}

// newApp loads the config at path and wires the components in dependency
// order. The returned app must be closed.
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// 1. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.closers = append(a.closers, logCloser)

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() error { return tracerShutdown(context.Background()) })

	// 2. Event bus
	a.bus = eventbus.New(log)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	// 3. Generator, circuit breaker, cache
	if err := a.initGenerator(); err != nil {
		return nil, err
	}

	// 4. Conversation store
	a.store, err = store.NewSQLiteConversationStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	// 5. Pages and edit tools
	a.pages, err = pages.New(cfg.Drafts.PagesRoot, log)
	if err != nil {
		return nil, fmt.Errorf("pages: %w", err)
	}
	a.effects, err = draft.NewEffects(log)
	if err != nil {
		return nil, fmt.Errorf("edit tools: %w", err)
	}

	// 6. Remote sync
	if cfg.Sync.URL != "" {
		a.sync = remotesync.New(cfg.Sync, log)
		a.closers = append(a.closers, a.sync.Close)
	}

	ok = true
	return a, nil
}

func (a *app) initGenerator() error {
	var gen domain.StreamingGenerator = llm.NewHTTPGenerator(a.cfg.Generator, a.log)

	cb := a.cfg.Generator.CircuitBreaker
	if cb.Enabled {
		gen = llm.NewCircuitBreakerGenerator(gen, cb, a.log)
		a.log.Info("generator circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}

	if a.cfg.Cache.Enabled {
		fs, err := cachestore.New(a.cfg.Cache.Dir, a.log)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		a.cache = fs
		gen = cache.New(gen, fs, a.log)
		a.log.Info("generation cache enabled", "dir", a.cfg.Cache.Dir)
	}

	a.generator = gen
	return nil
}

// newSession builds a chat session for conversationID with its own draft.
func (a *app) newSession(conversationID string) (*chat.Session, *draft.Map) {
	drafts := draft.NewMap(a.pages)

	var channel *fanout.Channel
	if a.sync != nil {
		channel = fanout.NewChannel("preview", a.sync, a.log,
			fanout.WithRateLimit(rate.Limit(a.cfg.Sync.OptimisticRate), a.cfg.Sync.OptimisticBurst))
	}

	g := a.cfg.Generator
	sess := chat.NewSession(conversationID, chat.Options{
		Model:       g.Model,
		System:      g.System,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	}, chat.Deps{
		Generator: a.generator,
		Store:     a.store,
		Draft:     drafts,
		Effects:   a.effects,
		Channel:   channel,
		Observer:  eventbus.NewConversationObserver(a.bus, a.log),
		Bus:       a.bus,
		Logger:    a.log,
	})
	return sess, drafts
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
