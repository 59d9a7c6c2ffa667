package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailgrant/mailgrant/internal/crypt"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new credential encryption key",
		Long: `Generate a fresh 32-byte AES-256 key and print it base64-encoded.

Set the output as FERNET_KEY before starting the service. Rotating the key
invalidates all stored credentials; users will have to reconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypt.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypt.KeyToBase64(key))
			return nil
		},
	}
}
