package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/booking"
	"github.com/example/resydrop/internal/config"
	"github.com/example/resydrop/internal/logging"
	"github.com/example/resydrop/internal/metrics"
	"github.com/example/resydrop/internal/notify"
	"github.com/example/resydrop/internal/resy"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "resydrop",
		Short:        "Books Resy reservations the moment a venue releases them",
		SilenceUsage: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newBookCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newTriggerCmd())
	root.AddCommand(newJobCmd())
	root.AddCommand(newServerCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the configuration and logger shared by every command.
type app struct {
	cfg config.Config
	log zerolog.Logger
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// stdout is reserved for command output
	log := logging.SetupWithWriter(cfg.Env, cfg.LogLevel, os.Stderr)
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) resyClient() (*resy.Client, config.Account, error) {
	acct, err := a.cfg.Account()
	if err != nil {
		return nil, config.Account{}, err
	}
	c := resy.New(resy.Credentials{APIKey: acct.APIKey, AuthToken: acct.Token}, resy.WithLocation(a.cfg.Location))
	return c, acct, nil
}

// orchestrator wires the booking engine to Resy and the notifier. A nil reg
// disables metrics.
func (a *app) orchestrator(client booking.Client, acct config.Account, reg prometheus.Registerer) *booking.Orchestrator {
	o := &booking.Orchestrator{
		Client:          client,
		Notifier:        notify.FromURL(a.cfg.SlackURL, a.log),
		Policy:          a.cfg.Retry,
		PaymentMethodID: acct.PaymentMethodID,
		Location:        a.cfg.Location,
		Logger:          a.log,
	}
	if reg != nil {
		o.Metrics = metrics.NewBookingMetrics(reg)
	}
	return o
}

const notifyFlushTimeout = 15 * time.Second

// flushNotifications gives queued notifications a bounded chance to go out
// before the process exits.
func flushNotifications(o *booking.Orchestrator, a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyFlushTimeout)
	defer cancel()
	if err := o.FlushNotifications(ctx); err != nil {
		a.log.Warn().Err(err).Msg("gave up waiting for notifications")
	}
}
