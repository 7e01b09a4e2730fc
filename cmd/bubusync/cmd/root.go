package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bubusync/internal/config"
	appLog "bubusync/internal/log"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bubusync",
	Short: "bubusync books lessons from a calendar export into the BubuLearn CRM",
	Long: `Reads lessons (phone number in the summary, UTC start) from an .ics export,
skips the ones already scheduled in the CRM and creates the rest for the
configured teacher account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			appLog.Error("failed to load config", err, "config_path", configPath)
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

		appLog.Info("effective config",
			"version", Version,
			"base_url", cfg.BaseURL,
			"user_id", cfg.UserID,
			"product_ids", cfg.ProductIDs,
			"utc_offset_hours", cfg.UTCOffsetHours,
			"expand_recurring", cfg.ExpandRecurring,
		)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
}
