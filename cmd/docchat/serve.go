package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/adapter/gateway"
	"docchat/internal/domain"
	"docchat/internal/infra/middleware"
	"docchat/internal/usecase/chat"
	"docchat/internal/usecase/draft"
	"docchat/internal/usecase/reducer"
	"docchat/internal/usecase/scheduling"
)

const methodChatSubmit = "chat.submit"

// newServeCmd instantiates and returns the serve command.
func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the preview gateway",
		Long: `Run the preview gateway. Preview clients connect over WebSocket at /ws,
receive conversation and draft events, and may push drafts (draft.push) or
submit prompts (chat.submit). Status is served at /api/v1/status and
Prometheus metrics at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Gateway.Addr = addr
			}
			return a.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides gateway.addr)")
	return cmd
}

// serve runs the gateway and the scheduler until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv := gateway.NewServer(a.bus, gateway.NewAuthenticator(a.cfg.Gateway.Auth), a.cfg.Gateway.Addr, a.log)
	srv.Use(middleware.Headers)
	if rl := a.cfg.Gateway.RateLimit; rl.RequestsPerMin > 0 {
		limiter := middleware.NewLimiter(ctx, middleware.RateLimitConfig{
			RequestsPerMin: rl.RequestsPerMin,
			Burst:          rl.Burst,
			TrustedProxies: rl.TrustedProxies,
		})
		srv.Use(limiter.Middleware)
	}

	drafts, err := gateway.NewDraftRegistry(a.bus, a.log)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	drafts.Register(srv)
	gateway.RegisterRESTHandlers(srv, drafts)
	srv.RegisterHandler(methodChatSubmit, newChatService(a).handleSubmit)

	if a.cfg.Scheduler.Enabled {
		sched, err := a.initScheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
		a.log.Info("docchat serving", "addr", srv.BoundAddr())
	case err := <-errCh:
		return err
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			a.log.Warn("gateway stop failed", "error", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (a *app) initScheduler() (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(a.log)

	sched.RegisterAction(scheduling.ActionStoreReap, func(ctx context.Context) error {
		n, err := a.store.Reap(ctx, a.cfg.Store.Retention)
		if err != nil {
			return err
		}
		a.log.Info("conversations reaped", "count", n)
		return nil
	})
	if a.cache != nil {
		sched.RegisterAction(scheduling.ActionCachePrune, func(ctx context.Context) error {
			n, err := a.cache.Prune(ctx, a.cfg.Cache.MaxAge)
			if err != nil {
				return err
			}
			a.log.Info("cache pruned", "count", n)
			return nil
		})
	}

	for _, t := range a.cfg.Scheduler.Tasks {
		action := scheduling.Action(t.Action)
		if action == scheduling.ActionCachePrune && a.cache == nil {
			a.log.Info("cache disabled, skipping task", "task", t.Name)
			continue
		}
		if err := sched.AddTask(scheduling.Task{Name: t.Name, Schedule: t.Schedule, Action: action}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// chatSubmitRequest is the payload of chat.submit.
type chatSubmitRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// chatSubmitResponse is the result of chat.submit.
type chatSubmitResponse struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []domain.Message    `json:"messages"`
	Draft          []domain.FileUpdate `json:"draft"`
	Error          string              `json:"error,omitempty"`
}

// chatService keeps one session per conversation for gateway clients.
type chatService struct {
	app *app

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess   *chat.Session
	drafts *draft.Map
}

func newChatService(a *app) *chatService {
	return &chatService{app: a, sessions: make(map[string]*sessionEntry)}
}

func (c *chatService) session(ctx context.Context, id string) (*sessionEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		return e, nil
	}
	sess, drafts := c.app.newSession(id)
	if err := sess.Load(ctx); err != nil {
		return nil, err
	}
	e := &sessionEntry{sess: sess, drafts: drafts}
	c.sessions[id] = e
	return e, nil
}

func (c *chatService) handleSubmit(ctx context.Context, client *gateway.ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
	var req chatSubmitRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRPCInvalidPayload, err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is empty", domain.ErrRPCInvalidPayload)
	}
	if req.ConversationID == "" {
		req.ConversationID = reducer.ULIDs()()
	}

	e, err := c.session(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	c.app.log.Debug("chat submitted", "client", client.Name, "conversation_id", req.ConversationID)

	final, err := e.sess.Submit(ctx, req.Text)
	if err != nil && final == nil {
		return nil, err
	}
	resp := chatSubmitResponse{
		ConversationID: req.ConversationID,
		Messages:       final,
		Draft:          e.drafts.Updates(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return json.Marshal(resp)
}
