package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/auth"
	"github.com/example/resydrop/internal/config"
)

func newTriggerCmd() *cobra.Command {
	var maxAge time.Duration

	c := &cobra.Command{
		Use:   "trigger <reservation.json>",
		Short: "Print a signed webhook URL that starts an immediate booking for the request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if !a.cfg.HasTriggerKeys() {
				return fmt.Errorf("TRIGGER_HASH_KEY and TRIGGER_BLOCK_KEY are required (see `resydrop keys`)")
			}
			tr, err := config.LoadTimedRequest(args[0], false)
			if err != nil {
				return err
			}

			token, err := auth.NewSigner(a.cfg.TriggerHashKey, a.cfg.TriggerBlockKey, maxAge).Encode(tr.ReservationRequest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/hooks/book?token=%s\n", strings.TrimRight(a.cfg.BaseURL, "/"), url.QueryEscape(token))
			return nil
		},
	}
	c.Flags().DurationVar(&maxAge, "max-age", 30*24*time.Hour, "how long the signed URL stays valid")
	return c
}
