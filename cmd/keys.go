package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/auth"
)

func newKeysCmd() *cobra.Command {
	var secret string

	c := &cobra.Command{
		Use:   "keys",
		Short: "Generate TRIGGER_HASH_KEY / TRIGGER_BLOCK_KEY (base64) and optionally hash a webhook secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, block := auth.GenerateKeys()
			if hash == nil || block == nil {
				return fmt.Errorf("could not read random bytes")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "export TRIGGER_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(out, "export TRIGGER_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))

			if secret != "" {
				h, err := auth.HashSecret(secret)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "export WEBHOOK_SECRET_BCRYPT='%s'\n", h)
			}
			return nil
		},
	}
	c.Flags().StringVar(&secret, "webhook-secret", "", "bearer secret for /hooks/reservations to hash with bcrypt")
	return c
}
