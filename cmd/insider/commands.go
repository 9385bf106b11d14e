package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/insiderhq/insider/internal/integrations"
	"github.com/insiderhq/insider/internal/logging"
	"github.com/insiderhq/insider/internal/report"
)

var (
	reportFormat string
	reportOut    string
	reportEmail  bool
)

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "csv", "report format: csv or pdf")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "write the report to this file instead of stdout")
	reportCmd.Flags().BoolVar(&reportEmail, "email", false, "deliver the report to the configured recipients")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the daily activity report",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "console", Level: "warn", Component: "insider"})

		cfg, err := loadSettings()
		if err != nil {
			return err
		}

		format, err := report.ParseFormat(reportFormat)
		if err != nil {
			return err
		}

		store, configs, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer configs.Close()

		end := time.Now().UTC()
		payload, _, err := report.NewGenerator(store).Generate(24*time.Hour, end, format)
		if err != nil {
			return err
		}

		if reportEmail {
			stats, err := store.ReportStats(24*time.Hour, end)
			if err != nil {
				return err
			}
			mailer := report.NewMailer(configs, logging.With("report"))
			if err := mailer.Deliver(cfg.Report.Recipients, payload, format, stats); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report delivered to %d recipient(s)\n", len(cfg.Report.Recipients))
			return nil
		}

		if reportOut != "" {
			if err := os.WriteFile(reportOut, payload, 0644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", reportOut)
			return nil
		}

		_, err = cmd.OutOrStdout().Write(payload)
		return err
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune footprints past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "console", Level: "warn", Component: "insider"})

		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if cfg.Retention.Days <= 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Retention disabled (days <= 0), nothing to do")
			return nil
		}

		store, configs, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer configs.Close()

		deleted, err := store.SweepFootprints(cfg.Retention.Days, cfg.Retention.DeleteOrphanedIncidences, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d footprint(s) older than %d day(s)\n", deleted, cfg.Retention.Days)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile built-in integration definitions into the config store",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "console", Level: "warn", Component: "insider"})

		cfg, err := loadSettings()
		if err != nil {
			return err
		}

		store, configs, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer configs.Close()

		if err := integrations.NewRegistry(configs).Sync(); err != nil {
			return err
		}

		all, err := configs.All()
		if err != nil {
			return err
		}
		for _, pi := range all {
			state := "inactive"
			if pi.Active {
				state = "active"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", pi.Identifier, state)
		}
		return nil
	},
}
