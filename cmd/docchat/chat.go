package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"docchat/internal/domain"
	"docchat/internal/usecase/reducer"
)

// newChatCmd instantiates and returns the chat command.
func newChatCmd(configPath *string) *cobra.Command {
	var opts struct {
		ConversationID string
		Regenerate     bool
		Continue       bool
		Apply          bool
	}

	cmd := &cobra.Command{
		Use:   "chat [PROMPT...]",
		Short: "Send one prompt and print the reply",
		Long: `Send one prompt and print the assistant's reply. Edits made by the
assistant are collected in a draft; --apply writes the draft to the pages root.

With --regenerate or --continue the prompt is omitted and the last reply of
--conversation is regenerated or continued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			switch {
			case opts.Regenerate && opts.Continue:
				return fmt.Errorf("%w: --regenerate and --continue are exclusive", domain.ErrInvalidInput)
			case (opts.Regenerate || opts.Continue) && opts.ConversationID == "":
				return fmt.Errorf("%w: --conversation is required", domain.ErrInvalidInput)
			case !opts.Regenerate && !opts.Continue && prompt == "":
				return fmt.Errorf("%w: prompt is empty", domain.ErrInvalidInput)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			id := opts.ConversationID
			if id == "" {
				id = reducer.ULIDs()()
			}
			sess, drafts := a.newSession(id)
			if err := sess.Load(ctx); err != nil {
				return fmt.Errorf("load conversation: %w", err)
			}

			effects := newEffectLog()
			unsubApplied := a.bus.Subscribe(domain.EventToolEffectApplied, effects.record)
			unsubFailed := a.bus.Subscribe(domain.EventToolEffectFailed, effects.record)
			defer unsubApplied()
			defer unsubFailed()

			var final []domain.Message
			switch {
			case opts.Regenerate:
				final, err = sess.Regenerate(ctx)
			case opts.Continue:
				final, err = sess.Continue(ctx)
			default:
				final, err = sess.Submit(ctx, prompt)
			}
			// Close drains pending effect events before they are printed.
			a.bus.Close()

			out := cmd.OutOrStdout()
			if last, ok := domain.LastAssistant(final); ok {
				printMessage(out, last)
			}
			effects.print(out)
			if err != nil {
				return err
			}

			updates := drafts.Updates()
			if opts.Apply && len(updates) > 0 {
				if err := a.pages.Apply(updates); err != nil {
					return fmt.Errorf("apply draft: %w", err)
				}
				printApplied(out, "wrote %d page(s) under %s", len(updates), a.pages.Root())
			} else if len(updates) > 0 {
				printDim(out, "%d page(s) changed in draft, rerun with --apply to write them", len(updates))
			}
			printDim(out, "conversation %s", sess.ID())
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.ConversationID, "conversation", "c", "", "conversation id to resume")
	cmd.Flags().BoolVar(&opts.Regenerate, "regenerate", false, "regenerate the last reply")
	cmd.Flags().BoolVar(&opts.Continue, "continue", false, "continue the last reply")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "write the draft to the pages root")
	return cmd
}

func printMessage(w io.Writer, m domain.Message) {
	for _, p := range m.Parts {
		if r, ok := p.(*domain.ReasoningPart); ok {
			printReasoning(w, r.Text)
		}
	}
	printAssistant(w, m.Text())
	if m.Error != "" {
		printFailed(w, "generation error: %s", m.Error)
	}
}

// effectLog collects tool effect events in arrival order.
type effectLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func newEffectLog() *effectLog { return &effectLog{} }

func (l *effectLog) record(_ context.Context, event domain.Event) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *effectLog) print(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		var p domain.ToolEffectPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			continue
		}
		if ev.Type == domain.EventToolEffectFailed {
			printFailed(w, "%s (%s): %s", p.ToolName, p.ToolCallID, p.Error)
			continue
		}
		printApplied(w, "%s (%s)", p.ToolName, p.ToolCallID)
	}
}
