package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/spf13/cobra"

	_ "github.com/ncobase/telemetry/data/memory"
	_ "github.com/ncobase/telemetry/data/postgres"
	_ "github.com/ncobase/telemetry/data/redis"
	_ "github.com/ncobase/telemetry/data/sqlite"
)

// NewRecentCommand creates the recent command, which prints persisted
// metrics newest first as JSON lines.
func NewRecentCommand(configFile *string) *cobra.Command {
	var (
		limit int
		name  string
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List persisted metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(cmd, *configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.MetricsRecent(cmd.Context(), data.Query{
				Limit: limit,
				Name:  name,
				Since: sinceTime(since),
			})
			if err != nil {
				return fmt.Errorf("failed to query metrics: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", data.DefaultLimit, "maximum rows")
	cmd.Flags().StringVar(&name, "name", "", "only this metric name")
	cmd.Flags().DurationVar(&since, "since", 0, "only rows newer than this age, e.g. 1h")
	return cmd
}

// NewErrorsCommand creates the errors command, which prints persisted
// error occurrences newest first as JSON lines.
func NewErrorsCommand(configFile *string) *cobra.Command {
	var (
		limit       int
		fingerprint string
		since       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List persisted error occurrences",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(cmd, *configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ErrorsRecent(cmd.Context(), data.ErrorQuery{
				Limit:       limit,
				Fingerprint: fingerprint,
				Since:       sinceTime(since),
			})
			if err != nil {
				return fmt.Errorf("failed to query errors: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", data.DefaultLimit, "maximum rows")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "only this error group")
	cmd.Flags().DurationVar(&since, "since", 0, "only rows newer than this age, e.g. 1h")
	return cmd
}

// NewCleanupCommand creates the cleanup command, which applies the
// retention policy once.
func NewCleanupCommand(configFile *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete persisted rows older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd, *configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			if !cmd.Flags().Changed("days") {
				days = cfg.Data.RetentionDays
			}
			n, err := store.Cleanup(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("failed to clean up: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d rows older than %d days\n", n, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (defaults to data.retention_days)")
	return cmd
}

func openStore(cmd *cobra.Command, path string) (*config.Config, data.Store, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := data.Open(cmd.Context(), cfg.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, store, nil
}

func sinceTime(age time.Duration) time.Time {
	if age <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-age)
}
