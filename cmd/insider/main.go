package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/insiderhq/insider/internal/api"
	"github.com/insiderhq/insider/internal/config"
	"github.com/insiderhq/insider/internal/crypto"
	"github.com/insiderhq/insider/internal/dispatch"
	"github.com/insiderhq/insider/internal/incidence"
	"github.com/insiderhq/insider/internal/ingest"
	"github.com/insiderhq/insider/internal/integrations"
	"github.com/insiderhq/insider/internal/logging"
	"github.com/insiderhq/insider/internal/report"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "insider",
	Short:   "Insider - application error observability pipeline",
	Long:    `Insider ingests request footprints, deduplicates application errors into incidences, and drives notification and issue-tracking integrations`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(syncCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Insider %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings resolves configuration for every subcommand.
func loadSettings() (*config.Settings, error) {
	// A local .env is a development convenience; absence is fine.
	godotenv.Load()

	loader := config.NewLoader()
	if configPath != "" {
		loader.SetConfigPath(configPath)
	}
	return loader.Load()
}

// openStores opens the incidence store and the integration config store
// under the configured data directory.
func openStores(cfg *config.Settings) (*incidence.Store, *integrations.ConfigStore, error) {
	store, err := incidence.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open incidence store: %w", err)
	}

	secrets, err := crypto.NewManager(cfg.Storage.DataDir)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("initialize encryption: %w", err)
	}

	configs, err := integrations.NewConfigStore(cfg.Storage.DataDir, secrets)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("open integration config store: %w", err)
	}
	return store, configs, nil
}

func runServer() {
	// Baseline logger for early startup, reconfigured once settings load.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "insider"})

	cfg, err := loadSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.Logging.Format,
		Level:     cfg.Logging.Level,
		Component: "insider",
	})
	log.Info().Str("version", Version).Msg("Starting Insider server")

	store, configs, err := openStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()
	defer configs.Close()

	registry := integrations.NewRegistry(configs)
	if err := registry.Sync(); err != nil {
		log.Fatal().Err(err).Msg("Failed to sync integration definitions")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := dispatch.New(registry, cfg.Notify.BackendTimeout(), logging.With("dispatch"))
	pipeline := ingest.NewPipeline(store, dispatcher, cfg.Notify.Cooldown(), logging.With("ingest"))
	queue := ingest.NewQueue(pipeline, cfg.Ingest.Workers, cfg.Ingest.QueueSize, logging.With("ingest"))

	workerDone := make(chan struct{})
	if wq, ok := queue.(*ingest.WorkerQueue); ok {
		go func() {
			defer close(workerDone)
			if err := wq.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Ingest workers stopped unexpectedly")
			}
		}()
		defer wq.Close()
	} else {
		close(workerDone)
	}

	startRetentionSweeper(ctx, store, cfg)
	startReportScheduler(ctx, store, configs, cfg)
	watcher := startConfigWatcher(pipeline, dispatcher)
	if watcher != nil {
		defer watcher.Stop()
	}

	router := api.NewRouter(queue, store, configs, report.NewGenerator(store), logging.With("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Let queued footprints drain before the stores close.
	if wq, ok := queue.(*ingest.WorkerQueue); ok {
		wq.Close()
		select {
		case <-workerDone:
		case <-time.After(10 * time.Second):
			log.Warn().Msg("Ingest workers did not drain in time")
		}
	}
	cancel()
}

// startRetentionSweeper prunes old footprints once at startup and then
// every 12 hours.
func startRetentionSweeper(ctx context.Context, store *incidence.Store, cfg *config.Settings) {
	if cfg.Retention.Days <= 0 {
		log.Info().Msg("Footprint retention sweep disabled")
		return
	}

	logger := logging.With("retention")
	sweep := func() {
		deleted, err := store.SweepFootprints(cfg.Retention.Days, cfg.Retention.DeleteOrphanedIncidences, time.Now().UTC())
		if err != nil {
			logger.Error().Err(err).Msg("Retention sweep failed")
			return
		}
		if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Int("retentionDays", cfg.Retention.Days).Msg("Retention sweep complete")
		}
	}

	go func() {
		sweep()
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}

// startReportScheduler emails the daily report every 24 hours.
func startReportScheduler(ctx context.Context, store *incidence.Store, configs *integrations.ConfigStore, cfg *config.Settings) {
	if !cfg.Report.Enabled {
		return
	}

	logger := logging.With("report")
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid report format configured")
	}

	generator := report.NewGenerator(store)
	mailer := report.NewMailer(configs, logger)

	deliver := func() {
		end := time.Now().UTC()
		payload, _, err := generator.Generate(24*time.Hour, end, format)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to generate daily report")
			return
		}
		stats, err := store.ReportStats(24*time.Hour, end)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to gather report statistics")
			return
		}
		if err := mailer.Deliver(cfg.Report.Recipients, payload, format, stats); err != nil {
			logger.Error().Err(err).Msg("Failed to deliver daily report")
		}
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deliver()
			}
		}
	}()
	log.Info().Strs("recipients", cfg.Report.Recipients).Str("format", string(format)).Msg("Daily report scheduler started")
}

// startConfigWatcher hot-reloads the notify tunables when the config file
// changes. Listener and storage settings still require a restart.
func startConfigWatcher(pipeline *ingest.Pipeline, dispatcher *dispatch.Dispatcher) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
		return nil
	}
	watcher.OnReload(func(updated *config.Settings) {
		pipeline.SetCooldown(updated.Notify.Cooldown())
		dispatcher.SetTimeout(updated.Notify.BackendTimeout())
		log.Info().
			Int("cooldownMinutes", updated.Notify.CooldownMinutes).
			Int("backendTimeoutSeconds", updated.Notify.BackendTimeoutSeconds).
			Msg("Applied reloaded notify settings")
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		watcher.Stop()
		return nil
	}
	return watcher
}
