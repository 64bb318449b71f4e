package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateGenerator(cfg, ve)
	validateCache(cfg, ve)
	validateSync(cfg, ve)
	validateGateway(cfg, ve)
	validateStore(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateGenerator(cfg *Config, ve *ValidationError) {
	g := cfg.Generator
	if g.Endpoint == "" {
		ve.Add("generator.endpoint must not be empty")
	} else if u, err := url.Parse(g.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("generator.endpoint %q must be an http(s) URL", g.Endpoint)
	}
	if g.Model == "" {
		ve.Add("generator.model must not be empty")
	}
	if g.MaxTokens < 0 {
		ve.Add("generator.max_tokens must be >= 0")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		ve.Add("generator.temperature must be in [0, 2]")
	}
	if g.RespTimeout <= 0 {
		ve.Add("generator.resp_timeout must be > 0")
	}
	if g.CircuitBreaker.Enabled && g.CircuitBreaker.MaxFailures == 0 {
		ve.Add("generator.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateCache(cfg *Config, ve *ValidationError) {
	if cfg.Cache.Enabled && cfg.Cache.Dir == "" {
		ve.Add("cache.dir is required when cache is enabled")
	}
	if cfg.Cache.MaxAge < 0 {
		ve.Add("cache.max_age must be >= 0")
	}
}

func validateSync(cfg *Config, ve *ValidationError) {
	s := cfg.Sync
	if s.URL == "" {
		return
	}
	if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		ve.Add("sync.url %q must be a ws(s) URL", s.URL)
	}
	if s.PushTimeout <= 0 {
		ve.Add("sync.push_timeout must be > 0")
	}
	if s.OptimisticRate < 0 {
		ve.Add("sync.optimistic_rate must be >= 0")
	}
	if s.OptimisticRate > 0 && s.OptimisticBurst <= 0 {
		ve.Add("sync.optimistic_burst must be > 0 when optimistic_rate is set")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	switch cfg.Gateway.Auth.Type {
	case "", "static":
	default:
		ve.Add("gateway.auth.type %q is invalid (want: static)", cfg.Gateway.Auth.Type)
	}
	if cfg.Gateway.Auth.Type == "static" && len(cfg.Gateway.Auth.Tokens) == 0 {
		ve.Add("gateway.auth.tokens must not be empty for static auth")
	}
	for i, t := range cfg.Gateway.Auth.Tokens {
		if t.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
		}
	}
	if rl := cfg.Gateway.RateLimit; rl.RequestsPerMin < 0 || rl.Burst < 0 {
		ve.Add("gateway.rate_limit values must not be negative")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty")
	}
	if cfg.Store.Retention < 0 {
		ve.Add("store.retention must be >= 0")
	}
}

var validActions = map[string]bool{"cache_prune": true, "store_reap": true}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		} else if !validSchedule(t.Schedule) {
			ve.Add("scheduler.tasks[%d].schedule %q is neither a cron expression nor a duration", i, t.Schedule)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: cache_prune, store_reap)", i, t.Action)
		}
	}
}

func validSchedule(s string) bool {
	if d, err := time.ParseDuration(s); err == nil {
		return d > 0
	}
	_, err := cron.ParseStandard(s)
	return err == nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be in [0, 1]")
	}
}
