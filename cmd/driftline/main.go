package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/briefing"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/credit"
	"github.com/driftline/driftline/internal/enrich"
	"github.com/driftline/driftline/internal/fetch"
	"github.com/driftline/driftline/internal/ingest"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/process"
	"github.com/driftline/driftline/internal/queue"
	"github.com/driftline/driftline/internal/recovery"
	"github.com/driftline/driftline/internal/sched"
	"github.com/driftline/driftline/internal/server"
	"github.com/driftline/driftline/internal/store"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "driftline",
	Short:   "Source monitoring with AI-scored briefings",
	Long:    "Driftline polls feeds and pages, enriches new items with AI analysis under per-account credit limits, and delivers scheduled briefing reports.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real env vars win over file values.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(briefingsCmd)
	rootCmd.AddCommand(creditsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("driftline", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/driftline/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, workers, and the enrichment provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Sources:")
		fmt.Printf("  Total: %d\n", stats.Sources)
		fmt.Printf("  Queued: %d\n", stats.SourcesQueued)
		fmt.Printf("  Fetching: %d\n", stats.SourcesFetching)
		fmt.Printf("  Error: %d\n", stats.SourcesError)
		fmt.Println("\nItems:")
		fmt.Printf("  Total: %d\n", stats.Items)
		fmt.Printf("  New: %d\n", stats.ItemsNew)
		fmt.Printf("  Processed: %d\n", stats.ItemsProcessed)
		fmt.Printf("  Error: %d\n", stats.ItemsError)
		fmt.Println("\nOutput:")
		fmt.Printf("  Briefings: %d\n", stats.Briefings)
		fmt.Printf("  Reports: %d\n", stats.Reports)
		fmt.Printf("  Accounts with credit: %d\n", stats.CreditedAccounts)
		return nil
	},
}

// --- serve command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: schedulers, workers, and the HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var fetchQ, processQ queue.Queue
		if cfg.Queues.Backend == "sqlite" {
			fetchQ = queue.NewSQLite(st.Conn(), "fetch", cfg.Queues.FetchCapacity, log)
			processQ = queue.NewSQLite(st.Conn(), "processing", cfg.Queues.ProcessingCapacity, log)
		} else {
			fetchQ = queue.NewMemory(cfg.Queues.FetchCapacity)
			processQ = queue.NewMemory(cfg.Queues.ProcessingCapacity)
		}

		gate := credit.NewGate(st, log)
		fetchClient := fetch.NewClient(cfg.Fetch, log)
		enricher := enrich.New(cfg.Enrichment, log)

		fetchSched := ingest.NewScheduler(st, fetchQ, cfg.Scheduler.FetchBatchSize, log)
		fetchWorker := ingest.NewWorker(st, fetchClient, log)
		procSched := process.NewScheduler(st, processQ, gate, cfg.Scheduler.ProcessingBatchSize, log)
		procWorker := process.NewWorker(st, enricher, cfg.Scheduler.MaxRetries, log)
		executor := briefing.NewExecutor(st, log)
		briefSched := briefing.NewScheduler(st, gate, executor, log)
		recoverJob := recovery.NewJob(st, cfg.StuckThreshold(), log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Startup sweep so work orphaned by a previous crash rejoins the
		// pool before the first scheduler tick.
		recoverJob.Run(ctx)

		fetchPool := queue.NewPool("fetch", fetchQ, cfg.Workers.Fetch, fetchWorker.Process, log)
		procPool := queue.NewPool("processing", processQ, cfg.Workers.Processing, procWorker.Process, log)
		fetchPool.Start(ctx)
		procPool.Start(ctx)

		runner := sched.NewRunner(log)
		jobs := []struct {
			name     string
			interval time.Duration
			fn       func()
		}{
			{"fetch_scheduler", seconds(cfg.Scheduler.FetchIntervalSeconds), func() { fetchSched.Tick(ctx) }},
			{"processing_scheduler", seconds(cfg.Scheduler.ProcessingIntervalSeconds), func() { procSched.Tick(ctx) }},
			{"briefing_scheduler", seconds(cfg.Scheduler.BriefingIntervalSeconds), func() { briefSched.Tick(ctx) }},
			{"recovery", seconds(cfg.Scheduler.RecoveryIntervalSeconds), func() { recoverJob.Run(ctx) }},
		}
		for _, j := range jobs {
			if err := runner.Every(j.name, j.interval, j.fn); err != nil {
				return err
			}
		}
		runner.Start()

		srv := server.New(cfg.Server.Port, st, fetchSched, gate, executor, fetchQ, processQ, log)
		srvErr := srv.Start()

		log.Info().Str("version", version).Str("db", st.Path()).Msg("driftline running")

		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
		case err := <-srvErr:
			log.Error().Err(err).Msg("http server failed")
			stop()
		}

		grace := cfg.ShutdownGrace()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		runner.Stop(shutdownCtx)
		fetchPool.Stop(grace)
		procPool.Stop(grace)

		log.Info().Msg("driftline stopped")
		return nil
	},
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage monitored sources",
}

var (
	sourceAccount int64
	sourceKind    string
	sourceRefresh int
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add [name] [address]",
	Short: "Add a feed or page source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := store.SourceKind(sourceKind)
		if kind != store.KindFeed && kind != store.KindPage {
			return fmt.Errorf("invalid kind %q (want feed or page)", sourceKind)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		client := fetch.NewClient(cfg.Fetch, log)
		title, err := client.Validate(cmd.Context(), kind, args[1])
		if err != nil {
			return fmt.Errorf("validating %s: %w", args[1], err)
		}

		refresh := sourceRefresh
		if refresh <= 0 {
			refresh = cfg.Scheduler.DefaultRefreshMinutes
		}
		id, err := st.InsertSource(sourceAccount, args[0], kind, args[1], refresh)
		if err != nil {
			return err
		}
		fmt.Printf("Added source [%d]: %s (%s)\n", id, args[0], title)
		return nil
	},
}

var sourcesSetStatusCmd = &cobra.Command{
	Use:   "set-status [id] [active|paused|deleted]",
	Short: "Change a source's operational status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid source ID: %s", args[0])
		}
		status := store.SourceStatus(args[1])
		switch status {
		case store.SourceActive, store.SourcePaused, store.SourceDeleted:
		default:
			return fmt.Errorf("invalid status %q", args[1])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := st.GetSource(id)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("source %d not found", id)
		}

		if err := st.SetSourceStatus(id, status); err != nil {
			return err
		}
		fmt.Printf("Source [%d] %s: %s\n", id, src.Name, status)
		return nil
	},
}

func init() {
	sourcesAddCmd.Flags().Int64Var(&sourceAccount, "account", 1, "Owning account ID")
	sourcesAddCmd.Flags().StringVar(&sourceKind, "kind", "feed", "Source kind: feed or page")
	sourcesAddCmd.Flags().IntVar(&sourceRefresh, "refresh", 0, "Refresh interval in minutes (0 = config default)")

	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesSetStatusCmd)
}

// --- briefings command ---

var briefingsCmd = &cobra.Command{
	Use:   "briefings",
	Short: "Manage briefings",
}

var (
	briefingAccount  int64
	briefingCadence  string
	briefingTime     string
	briefingTimezone string
	briefingDay      int
	briefingMaxItems int
	briefingSources  []int64
)

var briefingsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create a briefing over a set of sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cadence := store.Cadence(briefingCadence)
		if cadence != store.CadenceDaily && cadence != store.CadenceWeekly {
			return fmt.Errorf("invalid cadence %q (want daily or weekly)", briefingCadence)
		}
		if _, err := time.LoadLocation(briefingTimezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", briefingTimezone, err)
		}
		if len(briefingSources) == 0 {
			return fmt.Errorf("at least one --source is required")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		b := store.Briefing{
			AccountID:    briefingAccount,
			Name:         args[0],
			Cadence:      cadence,
			ScheduleTime: briefingTime,
			Timezone:     briefingTimezone,
			MaxItems:     briefingMaxItems,
			Status:       store.BriefingActive,
		}
		if cadence == store.CadenceWeekly {
			day := briefingDay
			b.DayOfWeek = &day
		}

		id, err := st.InsertBriefing(b)
		if err != nil {
			return err
		}
		for _, sourceID := range briefingSources {
			if err := st.LinkBriefingSource(id, sourceID); err != nil {
				return fmt.Errorf("linking source %d: %w", sourceID, err)
			}
		}
		fmt.Printf("Created briefing [%d]: %s (%s at %s %s)\n", id, args[0], cadence, briefingTime, briefingTimezone)
		return nil
	},
}

func init() {
	briefingsAddCmd.Flags().Int64Var(&briefingAccount, "account", 1, "Owning account ID")
	briefingsAddCmd.Flags().StringVar(&briefingCadence, "cadence", "daily", "Cadence: daily or weekly")
	briefingsAddCmd.Flags().StringVar(&briefingTime, "time", "08:00", "Schedule time HH:MM")
	briefingsAddCmd.Flags().StringVar(&briefingTimezone, "timezone", "UTC", "IANA timezone")
	briefingsAddCmd.Flags().IntVar(&briefingDay, "day", 1, "Day of week for weekly briefings (0=Sunday)")
	briefingsAddCmd.Flags().IntVar(&briefingMaxItems, "max-items", 10, "Maximum items per report")
	briefingsAddCmd.Flags().Int64SliceVar(&briefingSources, "source", nil, "Source ID to include (repeatable)")

	briefingsCmd.AddCommand(briefingsAddCmd)
}

// --- credits command ---

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage account credits",
}

var creditsSetCmd = &cobra.Command{
	Use:   "set [account_id] [balance]",
	Short: "Set an account's credit balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid account ID: %s", args[0])
		}
		balance, err := strconv.Atoi(args[1])
		if err != nil || balance < 0 {
			return fmt.Errorf("invalid balance: %s", args[1])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetCreditBalance(accountID, balance, time.Now()); err != nil {
			return err
		}
		fmt.Printf("Account %d balance set to %d\n", accountID, balance)
		return nil
	},
}

func init() {
	creditsCmd.AddCommand(creditsSetCmd)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func openStore() (*store.Store, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "driftline.db")
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return store.Open(dbPath, log)
}
