package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/auth"
	"github.com/example/resydrop/internal/jobs"
	"github.com/example/resydrop/internal/lock"
	"github.com/example/resydrop/internal/migrate"
	"github.com/example/resydrop/internal/scheduler"
	"github.com/example/resydrop/internal/web"
)

const triggerMaxAge = 30 * 24 * time.Hour

func newServerCmd() *cobra.Command {
	var (
		migrateUp bool
		noJobs    bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the job scheduler and webhook listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			client, acct, err := a.resyClient()
			if err != nil {
				return err
			}
			if err := client.Ping(ctx); err != nil {
				a.log.Warn().Err(err).Msg("resy credential check failed; sessions will fail until the token is refreshed")
			}
			orch := a.orchestrator(client, acct, reg)

			var locker lock.Locker = lock.NewLocal()
			if a.cfg.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword})
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping: %w", err)
				}
				locker = lock.NewRedis(rdb)
				a.log.Info().Str("redis_addr", a.cfg.RedisAddr).Msg("using redis session locks")
			}

			var sched *scheduler.Scheduler
			if !noJobs {
				d, err := openDB(ctx, a.cfg)
				if err != nil {
					return err
				}
				defer d.Close()

				if migrateUp {
					if err := migrate.Up(ctx, d); err != nil {
						return err
					}
				}

				sched = &scheduler.Scheduler{
					Repo:     jobs.NewRepo(d),
					Booker:   orch,
					Locker:   locker,
					LockTTL:  a.cfg.LockTTL,
					Interval: a.cfg.PollInterval,
					Location: a.cfg.Location,
					Logger:   a.log.With().Str("component", "scheduler").Logger(),
				}
				go func() { _ = sched.Run(ctx) }()
			}

			ws := &web.Server{
				Booker:      orch,
				Locker:      locker,
				LockTTL:     a.cfg.LockTTL,
				SecretHash:  a.cfg.WebhookSecretHash,
				Location:    a.cfg.Location,
				Gatherer:    reg,
				Logger:      a.log.With().Str("component", "web").Logger(),
				BaseContext: ctx,
			}
			if a.cfg.HasTriggerKeys() {
				ws.Signer = auth.NewSigner(a.cfg.TriggerHashKey, a.cfg.TriggerBlockKey, triggerMaxAge)
			}

			err = web.Start(ctx, a.cfg.ListenAddr, ws.Routes(), a.log)
			cancel()
			ws.Wait()
			if sched != nil {
				sched.Wait()
			}
			flushNotifications(orch, a)
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "webhooks only; do not connect to postgres or run scheduled jobs")
	return cmd
}
