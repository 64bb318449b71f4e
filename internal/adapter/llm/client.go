// Package llm implements the HTTP generation backend: a JSON endpoint for
// complete results and an SSE endpoint that streams chunk envelopes.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docchat/internal/domain"
	"docchat/internal/infra/config"
	"docchat/internal/infra/tracer"
)

const (
	generatePath = "/generate"
	streamPath   = "/stream"
)

// HTTPGenerator talks to a generation backend over HTTP.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPGenerator creates a generator for cfg.Endpoint.
func NewHTTPGenerator(cfg config.GeneratorConfig, logger *slog.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   NewHTTPClient(cfg),
		logger:   logger.With("component", "llm"),
	}
}

// Name implements domain.Generator.
func (g *HTTPGenerator) Name() string { return "http" }

// generateResponse is the wire form of a complete result.
type generateResponse struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Message      domain.Message `json:"message"`
	Usage        domain.Usage   `json:"usage"`
	FinishReason string         `json:"finish_reason"`
	Created      int64          `json:"created"`
}

// Generate implements domain.Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("llm.model", req.Model),
		tracer.IntAttr("llm.messages", len(req.Messages)),
	)

	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, g.client, g.endpoint+generatePath, body, g.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %w", domain.ErrUpstream, err)
	}

	created := time.Now().UTC()
	if resp.Created > 0 {
		created = time.Unix(resp.Created, 0).UTC()
	}
	if resp.Message.Role == "" {
		resp.Message.Role = domain.RoleAssistant
	}

	setUsageAttrs(span, resp.Usage)
	tracer.SetOK(span)
	return &domain.GenerateResult{
		ID:           resp.ID,
		Model:        resp.Model,
		Message:      resp.Message,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
		CreatedAt:    created,
	}, nil
}

// Stream implements domain.StreamingGenerator. The returned error covers
// connection setup and non-200 responses; failures after that arrive on
// the channel.
func (g *HTTPGenerator) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamEvent[domain.Chunk], error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("llm.model", req.Model),
		tracer.IntAttr("llm.messages", len(req.Messages)),
	)

	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, g.client, g.endpoint+streamPath, body, g.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	return parseSSEStream(ctx, httpResp.Body, g.logger), nil
}

func (g *HTTPGenerator) headers() map[string]string {
	if g.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + g.apiKey}
}

var _ domain.StreamingGenerator = (*HTTPGenerator)(nil)
