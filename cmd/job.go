package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/config"
	"github.com/example/resydrop/internal/db"
	"github.com/example/resydrop/internal/jobs"
	"github.com/example/resydrop/internal/migrate"
	"github.com/example/resydrop/internal/reservation"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled drop-time jobs run by the server",
	}
	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobCancelCmd())
	return cmd
}

func openDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return d, nil
}

func newJobCreateCmd() *cobra.Command {
	var (
		name        string
		runOn       string
		repeated    bool
		leadMinutes int
	)

	c := &cobra.Command{
		Use:   "create <reservation.json>",
		Short: "Schedule a timed reservation request for a run date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			tr, err := config.LoadTimedRequest(args[0], repeated)
			if err != nil {
				return err
			}

			day := reservation.DateOf(time.Now().In(a.cfg.Location))
			if runOn != "" {
				if day, err = reservation.ParseDate(runOn); err != nil {
					return fmt.Errorf("invalid --run-on: %w", err)
				}
			}

			ctx := cmd.Context()
			d, err := openDB(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			if name == "" {
				name = tr.ReservationRequest.DisplayName()
			}
			j := jobs.NewJob(name, tr, day, time.Duration(leadMinutes)*time.Minute, a.cfg.Location)
			id, err := jobs.NewRepo(d).Create(ctx, j)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created job id=%d run_on=%s start_at=%s\n", id, j.RunOn, j.StartAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "job name (defaults to the venue)")
	c.Flags().StringVar(&runOn, "run-on", "", "date the drop happens, YYYY-MM-DD (defaults to today)")
	c.Flags().BoolVar(&repeated, "repeated-request", false, "reservation date comes from days_in_advance relative to the run date")
	c.Flags().IntVar(&leadMinutes, "lead-minutes", 2, "start the session N minutes before the drop time")
	return c
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := openDB(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			js, err := jobs.NewRepo(d).List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, j := range js {
				fmt.Fprintf(out, "id=%d name=%q status=%s run_on=%s start_at=%s venue=%s",
					j.ID, j.Name, j.Status, j.RunOn, j.StartAt.In(a.cfg.Location).Format(time.RFC3339), j.Request.ReservationRequest.VenueID)
				if j.ResyToken != nil {
					fmt.Fprintf(out, " resy_token=%s", *j.ResyToken)
				}
				if j.LastError != nil {
					fmt.Fprintf(out, " error=%q", *j.LastError)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newJobCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job that has not started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := openDB(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := jobs.NewRepo(d).Cancel(ctx, id); err != nil {
				if db.IsNotFound(err) {
					return fmt.Errorf("job %d not found or already started", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled job id=%d\n", id)
			return nil
		},
	}
}
