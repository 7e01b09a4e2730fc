package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bubusync/internal/ics"
	appLog "bubusync/internal/log"
	"bubusync/internal/schedule"
	"bubusync/internal/syncer"
)

var runNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Periodically download the calendar export and sync the current week",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := schedule.New(cfg, syncer.NewService(cfg), ics.NewFetcher(nil))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printBanner("schedule")
		if runNow {
			_, _ = sc.RunOnce(ctx)
		}

		sc.Start()
		<-ctx.Done()
		appLog.Info("signal received, waiting for running sync")
		<-sc.Stop().Done()
		appLog.Info("bubusync exiting")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().BoolVar(&runNow, "now", false, "Run one sync immediately before waiting for the schedule")
}
