package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docchat/internal/infra/config"
)

const configKeyEnv = "DOCCHAT_CONFIG_KEY"

// newEncryptCmd instantiates and returns the encrypt command.
func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt VALUE",
		Short: "Encrypt a secret for the config file",
		Long: `Encrypt a secret such as generator.api_key or sync.token with the
passphrase in $DOCCHAT_CONFIG_KEY. Paste the output into the config file;
values starting with "enc:" are decrypted at load time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(configKeyEnv)
			if passphrase == "" {
				return fmt.Errorf("%s is not set", configKeyEnv)
			}
			enc, err := config.EncryptValue(args[0], passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}
