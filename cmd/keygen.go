package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schedkit/exchange-bridge/internal/secrets"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a credential encryption key",
		Long: `Generate a random AES-256 key for credential encryption at rest and print
it base64 encoded. Set the result as ` + secrets.KeyEnvVar + ` for the serve
command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			cmd.Println(secrets.KeyToBase64(key))
			return nil
		},
	}
}
