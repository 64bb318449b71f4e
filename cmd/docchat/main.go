package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "./docchat.yaml"
	configEnv         = "DOCCHAT_CONFIG"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with an assistant that edits documentation pages",
		Long: `docchat streams assistant replies, applies the edits they make to a draft
of your documentation pages and mirrors the draft to a live preview.

CONFIGURATION:
    Config file: ./docchat.yaml (or $DOCCHAT_CONFIG, or --config)
    Environment: DOCCHAT_* variables override the file`,
		SilenceUsage: true,
	}

	defaultPath := defaultConfigPath
	if p := os.Getenv(configEnv); p != "" {
		defaultPath = p
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultPath, "config file path")

	root.AddCommand(
		newChatCmd(&configPath),
		newServeCmd(&configPath),
		newConversationsCmd(&configPath),
		newEncryptCmd(),
	)
	return root
}
