package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/config"
)

func newBookCmd() *cobra.Command {
	var (
		account  string
		repeated bool
		now      bool
		skipPing bool
	)

	c := &cobra.Command{
		Use:   "book <reservation.json>",
		Short: "Wait for the drop time in a reservation file, then book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if account != "" {
				a.cfg.ResyUserConfig = account
			}

			tr, err := config.LoadTimedRequest(args[0], repeated)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, acct, err := a.resyClient()
			if err != nil {
				return err
			}
			if !skipPing {
				if err := client.Ping(ctx); err != nil {
					return fmt.Errorf("credential check: %w", err)
				}
			}

			o := a.orchestrator(client, acct, nil)
			var token string
			if now {
				token, err = o.RunNow(ctx, tr.ReservationRequest)
			} else {
				token, err = o.RunAtDropTime(ctx, tr)
			}
			flushNotifications(o, a)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "resy account json (overrides RESY_USER_CONFIG)")
	c.Flags().BoolVar(&repeated, "repeated-request", false, "reservation date comes from days_in_advance relative to today")
	c.Flags().BoolVar(&now, "now", false, "skip the drop-time wait and book immediately")
	c.Flags().BoolVar(&skipPing, "skip-ping", false, "do not check credentials before waiting")
	return c
}
