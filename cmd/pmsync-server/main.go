package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/pmsync/internal/config"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/platform/db"
	"github.com/ehr/pmsync/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pmsync-server",
		Short:         "Practice-system sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(practiceCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(healthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// bootstrap loads config and a logger for one command.
func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg.Env), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook receiver, admin API and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS, cfg.DBSchema).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", count).Str("schema", cfg.DBSchema).Msg("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, cfg.DBSchema).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})
	return cmd
}

func practiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Manage practices",
	}

	var p practice.Practice
	create := &cobra.Command{
		Use:   "create",
		Short: "Onboard a practice",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if p.APIKey == "" {
				p.APIKey = os.Getenv("PRACTICE_API_KEY")
			}
			if err := practice.NewService(a.practices).Onboard(cmd.Context(), &p); err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	create.Flags().StringVar(&p.Name, "name", "", "Practice display name")
	create.Flags().StringVar(&p.Subdomain, "subdomain", "", "Upstream subdomain")
	create.Flags().StringVar(&p.LocationID, "location-id", "", "Upstream location id")
	create.Flags().StringVar(&p.Environment, "environment", practice.EnvSandbox, "sandbox or production")
	create.Flags().StringVar(&p.APIKey, "api-key", "", "Upstream API key (or PRACTICE_API_KEY)")
	cmd.AddCommand(create)
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync once",
	}

	var practiceID string
	full := &cobra.Command{
		Use:   "full",
		Short: "Full sync of one practice",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(practiceID)
			if err != nil {
				return fmt.Errorf("--practice must be a UUID: %w", err)
			}
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.orchestrator.FullSync(cmd.Context(), id)
			if job != nil {
				if perr := printJSON(job); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	full.Flags().StringVar(&practiceID, "practice", "", "Practice id")
	full.MarkFlagRequired("practice")
	cmd.AddCommand(full)

	cmd.AddCommand(&cobra.Command{
		Use:   "incremental",
		Short: "Incremental sync of every active practice",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sum := a.orchestrator.IncrementalSync(cmd.Context())
			logger.Info().
				Int("practices", sum.Practices).
				Int("completed", sum.Completed).
				Int("failed", sum.Failed).
				Int("skipped", sum.Skipped).
				Msg("incremental sync pass finished")
			if sum.Failed > 0 {
				return fmt.Errorf("%d practice(s) failed", sum.Failed)
			}
			return nil
		},
	})
	return cmd
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Upstream connectivity probes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Probe every active practice once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.monitor.CheckAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(reports)
		},
	})
	return cmd
}
