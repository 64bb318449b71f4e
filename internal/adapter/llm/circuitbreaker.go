package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"docchat/internal/domain"
	"docchat/internal/infra/config"
)

// CircuitBreakerGenerator wraps a StreamingGenerator with circuit breaker
// protection. When the backend fails repeatedly the circuit opens and calls
// fail fast with ErrUpstream without reaching it.
type CircuitBreakerGenerator struct {
	inner   domain.StreamingGenerator
	breaker *gobreaker.CircuitBreaker[*domain.GenerateResult]
	logger  *slog.Logger
}

// NewCircuitBreakerGenerator wraps inner with a circuit breaker. Zero
// values in cfg fall back to the config defaults.
func NewCircuitBreakerGenerator(inner domain.StreamingGenerator, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerGenerator {
	defaults := config.Defaults().Generator.CircuitBreaker
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaults.MaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaults.Interval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.GenerateResult](gobreaker.Settings{
		Name:        "generator:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isSuccessful,
	})

	return &CircuitBreakerGenerator{inner: inner, breaker: cb, logger: logger}
}

// isSuccessful decides which errors count against the backend. Caller
// cancellation and rejected input are not backend failures.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrAuthInvalid)
}

// Generate implements domain.Generator.
func (g *CircuitBreakerGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	res, err := g.breaker.Execute(func() (*domain.GenerateResult, error) {
		return g.inner.Generate(ctx, req)
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	return res, nil
}

// Stream implements domain.StreamingGenerator. Only stream setup passes
// through the breaker; errors delivered on the channel do not trip it.
func (g *CircuitBreakerGenerator) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamEvent[domain.Chunk], error) {
	var ch <-chan domain.StreamEvent[domain.Chunk]
	_, err := g.breaker.Execute(func() (*domain.GenerateResult, error) {
		var streamErr error
		ch, streamErr = g.inner.Stream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	return ch, nil
}

func (g *CircuitBreakerGenerator) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: generator %q circuit open: %w", domain.ErrUpstream, g.inner.Name(), err)
	}
	return err
}

// Name implements domain.Generator.
func (g *CircuitBreakerGenerator) Name() string { return g.inner.Name() }

// State returns the current circuit breaker state.
func (g *CircuitBreakerGenerator) State() gobreaker.State {
	return g.breaker.State()
}

var _ domain.StreamingGenerator = (*CircuitBreakerGenerator)(nil)
