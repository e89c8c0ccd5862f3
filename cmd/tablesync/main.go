package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/internal/pipeline"
	"github.com/ajitpratap0/tablesync/pkg/checkpoint"
	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
	"github.com/ajitpratap0/tablesync/pkg/logger"
	"github.com/ajitpratap0/tablesync/pkg/metrics"
	"github.com/ajitpratap0/tablesync/pkg/observability"
	"github.com/ajitpratap0/tablesync/pkg/progress"

	// Register the database engines
	_ "github.com/ajitpratap0/tablesync/pkg/connector/memory"
	_ "github.com/ajitpratap0/tablesync/pkg/connector/mysql"
	_ "github.com/ajitpratap0/tablesync/pkg/connector/postgresql"
	_ "github.com/ajitpratap0/tablesync/pkg/connector/sqlserver"
)

var version = "0.1.0"

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "tablesync",
		Short: "tablesync - copy tables between relational databases",
		Long: `tablesync copies the rows of one or more tables from a source database to a
target database. Tables are split into batches moved by parallel workers; progress
is checkpointed so an interrupted job resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runCommand(),
		validateCommand(),
		planCommand(),
		checkpointCommand(),
		listCommand(),
		initCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("tablesync v%s\n", version)
				fmt.Printf("Go version: %s\n", runtime.Version())
				fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode prints err and maps it to the process status.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	if errors.IsType(err, errors.ErrorTypeConfig) {
		return pipeline.ExitConfig
	}
	return pipeline.ExitFailed
}

// configPath returns --config, or the value of a config=<path> argument.
func configPath(flag string, args []string) (string, error) {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "config="); ok {
			return v, nil
		}
	}
	if flag == "" {
		return "", errors.New(errors.ErrorTypeConfig, "a configuration file is required: --config <path> or config=<path>")
	}
	return flag, nil
}

func loadConfig(flag string, args []string) (*config.Config, error) {
	path, err := configPath(flag, args)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func initLogger(cfg *config.Config, level string) error {
	lc := logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, Development: cfg.Log.Development}
	if level != "" {
		lc.Level = level
	}
	return logger.Init(lc)
}

func runCommand() *cobra.Command {
	var (
		configFile       string
		logLevel         string
		failOnMismatch   bool
		progressInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [config=<path>]",
		Short: "Run a sync job",
		Long: `Run the sync job described by a YAML or JSON configuration file.

Exit status: 0 success, 1 a table failed, 2 configuration error,
3 verification mismatch (with --fail-on-mismatch), 130 cancelled.

Example:
  tablesync run --config job.yaml
  tablesync run config=job.yaml --fail-on-mismatch`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, args)
			if err != nil {
				return err
			}
			if err := initLogger(cfg, logLevel); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runJob(cmd.Context(), cfg, failOnMismatch, progressInterval)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the job configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&failOnMismatch, "fail-on-mismatch", false, "Exit with status 3 when verification finds differences")
	cmd.Flags().DurationVar(&progressInterval, "progress-interval", 10*time.Second, "Interval of progress log lines, 0 to disable")
	return cmd
}

func runJob(parent context.Context, cfg *config.Config, failOnMismatch bool, progressInterval time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Get().With(zap.String("component", "tablesync-cli"))

	if err := observability.Init(cfg.Tracing, version, os.Stderr); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	if cfg.Metrics.ListenAddr != "" {
		srv := metricsServer(cfg.Metrics.ListenAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	reporters := []progress.Reporter{progress.NewLogReporter(logger.Get())}
	if progressInterval > 0 {
		periodic := progress.NewPeriodicReporter(logger.Get(), progressInterval)
		periodic.Start()
		defer periodic.Stop()
		reporters = append(reporters, periodic)
	}

	report, err := pipeline.NewJob(cfg, pipeline.WithReporter(progress.Multi(reporters...))).Run(ctx)
	if err != nil {
		return err
	}

	code := report.ExitCode(failOnMismatch)
	switch code {
	case pipeline.ExitOK:
		return nil
	case pipeline.ExitCancelled:
		return &exitError{code: code, err: fmt.Errorf("job %s cancelled; rerun to resume", report.JobID)}
	case pipeline.ExitMismatch:
		names := make([]string, 0)
		for _, t := range report.Mismatched() {
			names = append(names, t.Target)
		}
		return &exitError{code: code, err: fmt.Errorf("verification mismatch: %s", strings.Join(names, ", "))}
	default:
		return &exitError{code: code, err: report.Err()}
	}
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           observability.TracingMiddleware("tablesync")(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func validateCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "validate [config=<path>]",
		Short: "Validate a configuration file",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, args)
			if err != nil {
				return err
			}
			fmt.Printf("configuration is valid\n")
			fmt.Printf("  job:    %s\n", cfg.Identity())
			fmt.Printf("  source: %s\n", cfg.Source.Redacted())
			fmt.Printf("  target: %s\n", cfg.Target.Redacted())
			fmt.Printf("  tables: %d\n", len(cfg.Tables))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the job configuration file")
	return cmd
}

func planCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "plan [config=<path>]",
		Short: "Show how every table would be split into batches, without copying",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, args)
			if err != nil {
				return err
			}
			if err := initLogger(cfg, "warn"); err != nil {
				return err
			}
			plans, err := pipeline.NewJob(cfg).Plan(cmd.Context())
			if err != nil {
				return err
			}

			failed := false
			for _, p := range plans {
				if p.Err != nil {
					failed = true
					fmt.Printf("%s -> %s: %v\n", p.Source, p.Target, p.Err)
					continue
				}
				key := p.KeyColumn
				if key == "" {
					key = "(offset windows)"
				}
				fmt.Printf("%s -> %s: %d batches, %d already committed, key %s, %s\n",
					p.Source, p.Target, len(p.Partitions), p.Skipped, key, p.Mode)
			}
			if failed {
				return &exitError{code: pipeline.ExitFailed}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the job configuration file")
	return cmd
}

func checkpointCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the checkpoints of a job",
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the job configuration file")

	openStore := func(ctx context.Context, args []string) (*config.Config, checkpoint.Store, error) {
		cfg, err := loadConfig(configFile, args)
		if err != nil {
			return nil, nil, err
		}
		store, err := checkpoint.New(ctx, cfg.Checkpoint)
		if err != nil {
			return nil, nil, err
		}
		return cfg, store, nil
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show [config=<path>]",
		Short: "Show committed batches per table",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd.Context(), args)
			if err != nil {
				return err
			}
			defer store.Close()

			cps, err := store.List(cmd.Context(), cfg.Identity())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cps)
			}
			if len(cps) == 0 {
				fmt.Printf("no checkpoints for job %s\n", cfg.Identity())
				return nil
			}
			fmt.Printf("job %s\n", cfg.Identity())
			for _, cp := range cps {
				fmt.Printf("  %s: %d batches, %d rows, last batch %d, updated %s\n",
					cp.Table, len(cp.Partitions), cp.Rows(), cp.LastSequence(), cp.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the checkpoints as JSON")

	var table string
	reset := &cobra.Command{
		Use:   "reset [config=<path>]",
		Short: "Delete checkpoints so the next run copies everything again",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(cmd.Context(), args)
			if err != nil {
				return err
			}
			defer store.Close()

			jobID := cfg.Identity()
			for _, m := range cfg.Tables {
				target := m.TargetName()
				if table != "" && !strings.EqualFold(table, target) {
					continue
				}
				if err := store.Clear(cmd.Context(), checkpoint.Key{JobID: jobID, Table: target}); err != nil {
					return err
				}
				fmt.Printf("reset %s/%s\n", jobID, target)
			}
			return nil
		},
	}
	reset.Flags().StringVar(&table, "table", "", "Reset only this target table")

	cmd.AddCommand(show, reset)
	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported database engines",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available engines:")
			for _, info := range registry.List() {
				line := fmt.Sprintf("  - %s", info.Name)
				if len(info.Aliases) > 0 {
					line += fmt.Sprintf(" (%s)", strings.Join(info.Aliases, ", "))
				}
				if info.Description != "" {
					line += ": " + info.Description
				}
				fmt.Println(line)
			}
		},
	}
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "tablesync.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return errors.Newf(errors.ErrorTypeConfig, "%s already exists", path)
			}
			if err := config.Save(path, config.Sample()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}
