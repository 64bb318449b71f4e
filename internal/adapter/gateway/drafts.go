package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"

	"docchat/internal/domain"
)

// draftPushSchema describes a draft.push payload. A file with a null
// content is a tombstone.
const draftPushSchema = `{
	"type": "object",
	"required": ["state"],
	"properties": {
		"idempotence_key": {"type": "string"},
		"state": {
			"type": "object",
			"required": ["files", "generation"],
			"properties": {
				"final": {"type": "boolean"},
				"generation": {"type": "integer", "minimum": 0},
				"files": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["githubPath"],
						"properties": {
							"githubPath": {"type": "string", "minLength": 1},
							"content": {"type": ["string", "null"]},
							"addedLines": {"type": "integer", "minimum": 0},
							"deletedLines": {"type": "integer", "minimum": 0}
						}
					}
				}
			}
		}
	}
}`

// maxAcks bounds the idempotence key memory.
const maxAcks = 1024

// DraftRegistry holds the latest draft state pushed by remote sync clients.
type DraftRegistry struct {
	bus    domain.EventBus
	logger *slog.Logger
	schema *jsonschema.Schema

	mu     sync.RWMutex
	latest domain.SyncState
	acks   map[string]domain.SyncAck
	order  []string
	dups   int64
}

// NewDraftRegistry creates an empty registry. bus may be nil.
func NewDraftRegistry(bus domain.EventBus, logger *slog.Logger) (*DraftRegistry, error) {
	schema, err := jsonschema.NewCompiler().Compile([]byte(draftPushSchema))
	if err != nil {
		return nil, fmt.Errorf("compile draft schema: %w", err)
	}
	return &DraftRegistry{
		bus:    bus,
		logger: logger,
		schema: schema,
		acks:   make(map[string]domain.SyncAck),
	}, nil
}

// Register installs the draft RPC methods on s.
func (d *DraftRegistry) Register(s *Server) {
	s.RegisterHandler(MethodDraftPush, d.handlePush)
	s.RegisterHandler(MethodDraftGet, d.handleGet)
}

// Latest returns the most recent state.
func (d *DraftRegistry) Latest() domain.SyncState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}

// Duplicates returns the number of pushes answered from the key memory.
func (d *DraftRegistry) Duplicates() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dups
}

func (d *DraftRegistry) handlePush(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRPCInvalidPayload, err)
	}
	if result := d.schema.Validate(raw); !result.IsValid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrRPCInvalidPayload, result.Error())
	}
	var req DraftPushRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRPCInvalidPayload, err)
	}

	ack, fresh := d.apply(req)
	if fresh {
		d.logger.Debug("draft pushed",
			"client", client.Name,
			"generation", req.State.Generation,
			"final", req.State.Final,
			"files", len(req.State.Files),
		)
		d.publish(ctx, client, req.State)
	}
	return json.Marshal(ack)
}

// apply stores state unless its key was seen before. Stale generations are
// acknowledged without replacing a newer state.
func (d *DraftRegistry) apply(req DraftPushRequest) (domain.SyncAck, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.IdempotenceKey != "" {
		if ack, ok := d.acks[req.IdempotenceKey]; ok {
			d.dups++
			ack.Duplicate = true
			return ack, false
		}
	}

	if req.State.Generation >= d.latest.Generation {
		d.latest = req.State
	}
	ack := domain.SyncAck{Generation: req.State.Generation}

	if req.IdempotenceKey != "" {
		d.acks[req.IdempotenceKey] = ack
		d.order = append(d.order, req.IdempotenceKey)
		if len(d.order) > maxAcks {
			delete(d.acks, d.order[0])
			d.order = d.order[1:]
		}
	}
	return ack, true
}

func (d *DraftRegistry) handleGet(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(d.Latest())
}

func (d *DraftRegistry) publish(ctx context.Context, client *ClientInfo, state domain.SyncState) {
	if d.bus == nil {
		return
	}
	data, _ := json.Marshal(domain.DraftSyncedPayload{
		Generation: state.Generation,
		Final:      state.Final,
		Files:      len(state.Files),
		Client:     client.Name,
	})
	d.bus.Publish(ctx, domain.Event{
		Type:      domain.EventDraftSynced,
		Timestamp: time.Now(),
		Payload:   data,
	})
}
