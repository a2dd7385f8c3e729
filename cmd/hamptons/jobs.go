package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamptons/attendance-engine/api"
	"github.com/hamptons/attendance-engine/attendance"
)

// runRecorded runs fn as a recorded job and prints its result as JSON.
func runRecorded(flags *globalFlags, job string, fn func(ctx context.Context, a *app) (any, error)) error {
	a, err := setup(flags)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.handler.RunJob(context.Background(), job, func(ctx context.Context) (any, error) {
		return fn(ctx, a)
	})
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConsolidateCmd(flags *globalFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Consolidate check-ins into attendance for one date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecorded(flags, api.JobConsolidation, func(ctx context.Context, a *app) (any, error) {
				d := attendance.DateOf(time.Now())
				if date != "" {
					parsed, err := attendance.ParseDate(date)
					if err != nil {
						return nil, fmt.Errorf("--date: %w", err)
					}
					d = parsed
				}
				return a.handler.Consolidator.ConsolidateDate(ctx, d)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to consolidate (YYYY-MM-DD, default today)")
	return cmd
}

func newBackfillCmd(flags *globalFlags) *cobra.Command {
	var (
		days             int
		includeYesterday bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Consolidate a range of past dates day by day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			return runRecorded(flags, api.JobBackfill, func(ctx context.Context, a *app) (any, error) {
				c := a.handler.Consolidator
				c.OnCheckpoint = func(processed int, date time.Time) {
					fmt.Fprintf(os.Stderr, "processed %d days (through %s)\n", processed, date.Format(attendance.DateLayout))
				}
				return c.Backfill(ctx, days, includeYesterday)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", attendance.DefaultBackfillDays, "number of days to go back")
	cmd.Flags().BoolVar(&includeYesterday, "include-yesterday", false, "end the range yesterday instead of today")
	return cmd
}

func newSyncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull check-ins from the CrossChex API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecorded(flags, api.JobSync, func(ctx context.Context, a *app) (any, error) {
				return a.handler.CrossChex.Sync(ctx)
			})
		},
	}
}

func newRefreshTokenCmd(flags *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh-token",
		Short: "Refresh the CrossChex API token when it is close to expiry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecorded(flags, api.JobTokenRefresh, func(ctx context.Context, a *app) (any, error) {
				refreshed, err := a.handler.CrossChex.RefreshToken(ctx, force)
				return map[string]bool{"refreshed": refreshed}, err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "refresh even when the token is still valid")
	return cmd
}

func newCleanupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete integration and error logs past LOG_RETENTION_DAYS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecorded(flags, api.JobCleanup, func(ctx context.Context, a *app) (any, error) {
				return a.store.Cleanup(ctx, time.Now(), a.cfg.LogRetentionDays)
			})
		},
	}
}
