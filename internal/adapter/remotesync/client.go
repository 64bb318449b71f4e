// Package remotesync pushes draft state to a preview gateway over a
// websocket, using the gateway's request/response framing.
package remotesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"docchat/internal/adapter/gateway"
	"docchat/internal/domain"
	"docchat/internal/infra/config"
	"docchat/internal/infra/tracer"
)

const (
	defaultPushTimeout = 5 * time.Second
	// maxRemembered bounds the acknowledged idempotence keys kept in memory.
	maxRemembered = 1024
)

type result struct {
	frame gateway.Frame
	err   error
}

// Client implements domain.RemoteSync. The connection is dialed on first
// use and redialed after it drops.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
	closed bool

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan result

	ackMu sync.Mutex
	acks  map[string]domain.SyncAck
	order []string
}

// New creates a client for cfg.URL.
func New(cfg config.SyncConfig, logger *slog.Logger) *Client {
	timeout := cfg.PushTimeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &Client{
		url:     cfg.URL,
		token:   cfg.Token,
		timeout: timeout,
		logger:  logger.With("component", "remotesync"),
		pending: make(map[uint64]chan result),
		acks:    make(map[string]domain.SyncAck),
	}
}

// Push sends state and waits for the acknowledgement. A key that was already
// acknowledged returns the earlier ack with Duplicate set and sends nothing.
// Each push is bounded by the configured timeout, reported as ErrSyncTimeout.
func (c *Client) Push(ctx context.Context, state domain.SyncState, idempotenceKey string) (domain.SyncAck, error) {
	ctx, span := tracer.StartSpan(ctx, "sync.push")
	defer span.End()
	span.SetAttributes(
		tracer.IntAttr("sync.files", len(state.Files)),
		tracer.BoolAttr("sync.final", state.Final),
	)

	if ack, ok := c.remembered(idempotenceKey); ok {
		span.SetAttributes(tracer.BoolAttr("sync.duplicate", true))
		return ack, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ack, err := c.roundTrip(ctx, gateway.DraftPushRequest{State: state, IdempotenceKey: idempotenceKey})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrSyncTimeout, c.timeout)
		}
		tracer.RecordError(span, err)
		return domain.SyncAck{}, err
	}

	c.remember(idempotenceKey, ack)
	tracer.SetOK(span)
	return ack, nil
}

func (c *Client) roundTrip(ctx context.Context, req gateway.DraftPushRequest) (domain.SyncAck, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.SyncAck{}, fmt.Errorf("marshal push: %w", err)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return domain.SyncAck{}, err
	}

	id := c.nextID.Add(1)
	ch := make(chan result, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	frame := gateway.Frame{Type: gateway.FrameTypeRequest, ID: id, Method: gateway.MethodDraftPush, Payload: payload}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		c.drop(conn, err)
		return domain.SyncAck{}, fmt.Errorf("write push: %w", err)
	}

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return domain.SyncAck{}, ctx.Err()
	}
	if res.err != nil {
		return domain.SyncAck{}, res.err
	}
	if res.frame.Error != "" {
		return domain.SyncAck{}, fmt.Errorf("%w: %s (%s)", domain.ErrSyncRemote, res.frame.Error, res.frame.Code)
	}

	var ack domain.SyncAck
	if err := json.Unmarshal(res.frame.Payload, &ack); err != nil {
		return domain.SyncAck{}, fmt.Errorf("%w: decode ack: %w", domain.ErrSyncRemote, err)
	}
	return ack, nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil, domain.ErrSyncClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	var opts *websocket.DialOptions
	if c.token != "" {
		opts = &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": {"Bearer " + c.token}},
		}
	}
	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.logger.Debug("sync connected", "url", c.url)

	go c.readLoop(conn)
	return conn, nil
}

// readLoop routes responses to waiting pushes. Events from the gateway are
// ignored.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame gateway.Frame
		if err := wsjson.Read(context.Background(), conn, &frame); err != nil {
			c.drop(conn, err)
			return
		}
		if frame.Type != gateway.FrameTypeResponse {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[frame.ID]
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- result{frame: frame}:
			default:
			}
		}
	}
}

// drop discards conn after a failure and fails every waiting push.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		if !c.closed {
			c.logger.Warn("sync connection lost", "error", cause)
		}
	}
	c.connMu.Unlock()
	conn.Close(websocket.StatusInternalError, "")

	err := fmt.Errorf("sync connection lost: %w", cause)
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		select {
		case ch <- result{err: err}:
		default:
		}
	}
	c.pendingMu.Unlock()
}

func (c *Client) remembered(key string) (domain.SyncAck, bool) {
	if key == "" {
		return domain.SyncAck{}, false
	}
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	ack, ok := c.acks[key]
	ack.Duplicate = true
	return ack, ok
}

func (c *Client) remember(key string, ack domain.SyncAck) {
	if key == "" {
		return
	}
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if _, ok := c.acks[key]; ok {
		return
	}
	c.acks[key] = ack
	c.order = append(c.order, key)
	if len(c.order) > maxRemembered {
		delete(c.acks, c.order[0])
		c.order = c.order[1:]
	}
}

// Close closes the connection. Later pushes fail with ErrSyncClosed.
func (c *Client) Close() error {
	c.connMu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

var _ domain.RemoteSync = (*Client)(nil)
