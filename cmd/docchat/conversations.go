package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/adapter/store"
	"docchat/internal/domain"
	"docchat/internal/infra/config"
)

// newConversationsCmd instantiates and returns the conversations command.
func newConversationsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(newConversationsListCmd(configPath), newConversationsShowCmd(configPath))
	return cmd
}

func openStore(configPath string) (*store.SQLiteConversationStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	return store.NewSQLiteConversationStore(cfg.Store.Path)
}

func newConversationsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			summaries, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTitle(out, "CONVERSATIONS (%d)", len(summaries))
			for _, sum := range summaries {
				assistantColor.Fprintf(out, "%s", sum.ID)
				printDim(out, "  %d message(s), updated %s", sum.MessageCount, sum.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newConversationsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			msgs, err := s.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				if m.Role == domain.RoleUser {
					printTitle(out, "> %s", m.Text())
					continue
				}
				printMessage(out, m)
				for _, tp := range m.ToolParts() {
					printDim(out, "  [%s] %s %s", tp.State, tp.ToolName, tp.ToolCallID)
				}
			}
			return nil
		},
	}
}
