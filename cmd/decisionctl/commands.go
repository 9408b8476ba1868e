package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/decisionhub/backend/internal/cache/redis"
	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/config"
	"github.com/decisionhub/backend/pkg/logger"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("OK")
	failMark = color.New(color.FgRed).Sprint("FAILED")
)

// openStore loads the configuration and opens the database with the current
// schema.
func openStore() (*config.Config, *sqlite.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return cfg, db, nil
}

func newEngine(cfg *config.Config, db *sqlite.Client) (*engine.Engine, error) {
	client := solver.NewClient(solver.Config{
		BaseURL:          cfg.Solver.BaseURL,
		Timeout:          time.Duration(cfg.Solver.TimeoutSec) * time.Second,
		MaxAttempts:      cfg.Solver.MaxAttempts,
		FailureThreshold: cfg.Solver.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Solver.OpenTimeoutSec) * time.Second,
	}, nil)

	return engine.NewEngine(db, client, engine.Config{
		DefaultThreshold:  cfg.Consensus.DefaultThreshold,
		DefaultDomainName: cfg.Issues.DefaultDomainName,
		CollationLocale:   cfg.Issues.CollationLocale,
	})
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Printf("Schema at %s: %s\n", cfg.SQLite.Path, okMark)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the model catalog and the global expression domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			eng, err := newEngine(cfg, db)
			if err != nil {
				return err
			}
			if catalogPath == "" {
				catalogPath = cfg.Issues.CatalogPath
			}

			ctx := context.Background()
			catalog, err := solver.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			if err := eng.SeedCatalog(ctx, catalog); err != nil {
				return fmt.Errorf("failed to seed catalog: %w", err)
			}
			fmt.Printf("Models: %d %s\n", len(catalog), okMark)

			domains := engine.DefaultDomains(cfg.Issues.DefaultDomainName)
			if err := eng.SeedGlobalDomains(ctx, domains); err != nil {
				return fmt.Errorf("failed to seed domains: %w", err)
			}
			fmt.Printf("Global domains: %d %s\n", len(domains), okMark)
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog YAML file (defaults to the configured or embedded catalog)")
	return cmd
}

func autoCloseCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "autoclose",
		Short: "Run the closure pass for issues due on or before a day",
		Long: `Resolve, remove or finalize every active issue whose closure date falls
on or before the given day (today by default), exactly as the daily
scheduler does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if date != "" {
				d, err := time.ParseInLocation("2006-01-02", date, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
				now = d
			}

			cfg, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			eng, err := newEngine(cfg, db)
			if err != nil {
				return err
			}

			out, err := eng.AutoClose(context.Background(), now)
			if err != nil {
				return err
			}
			eng.Wait()

			if len(out) == 0 {
				fmt.Println("No issues due for closure.")
				return nil
			}
			failed := 0
			for _, o := range out {
				if o.Err != "" {
					failed++
					fmt.Printf("  %s %-9s %s: %s\n", failMark, o.Action, o.IssueID, o.Err)
					continue
				}
				fmt.Printf("  %s %-9s %s\n", okMark, o.Action, o.IssueID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d issues failed to close", failed, len(out))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Closure day as YYYY-MM-DD")
	return cmd
}

func modelsCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := solver.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}

			bold := color.New(color.Bold)
			for _, m := range catalog {
				var flags []string
				if m.IsConsensus {
					flags = append(flags, "consensus")
				}
				if m.IsPairwise {
					flags = append(flags, "pairwise")
				}
				for _, d := range m.DomainTypes {
					flags = append(flags, string(d))
				}
				fmt.Printf("%s  /%s  [%s]\n", bold.Sprint(m.Name), m.Endpoint, strings.Join(flags, ", "))
				for _, p := range m.Parameters {
					fmt.Printf("    %s (%s)\n", p.Name, p.Type)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog YAML file (defaults to the embedded catalog)")
	return cmd
}

func flushCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-cache",
		Short: "Drop cached model service answers from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("redis is disabled in the configuration")
			}
			if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, 0)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := client.InvalidateSolverCache(ctx)
			if err != nil {
				fmt.Printf("Flushed %d entries: %s\n", n, failMark)
				return err
			}
			fmt.Printf("Flushed %d entries: %s\n", n, okMark)
			return nil
		},
	}
}
