package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bubusync/internal/ics"
	"bubusync/internal/model"
	"bubusync/internal/syncer"
)

var (
	calendarFile string
	weekName     string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Book the lessons of one week from an .ics file",
	RunE: func(cmd *cobra.Command, args []string) error {
		week, ok := ics.ParseWeek(weekName)
		if !ok {
			return fmt.Errorf("unknown week %q, use current or last", weekName)
		}

		out := cmd.OutOrStdout()
		step(out, "loading lessons from %s...", calendarFile)
		calendar, err := ics.ReadFile(calendarFile)
		if err != nil {
			failed(out, err)
			return err
		}

		// The first interrupt lets the started run finish; once stop has
		// restored the default handler, a second one kills the process.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				stop()
				step(out, "interrupt received, finishing the current run (interrupt again to abort)")
			case <-done:
			}
		}()

		step(out, "syncing %s week with %s...", week, cfg.BaseURL)
		report, err := syncer.Synchronize(context.WithoutCancel(ctx), cfg, calendar, week)
		if err != nil {
			failed(out, err)
			return err
		}
		printReport(out, report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&calendarFile, "file", "f", "", "Path to the .ics calendar export")
	syncCmd.Flags().StringVarP(&weekName, "week", "w", "current", "Week to sync: current or last")
	_ = syncCmd.MarkFlagRequired("file")
}

const (
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorGray  = "\033[90m"
	colorReset = "\033[0m"
)

func step(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, colorGray+format+colorReset+"\n", args...)
}

func failed(w io.Writer, err error) {
	fmt.Fprintf(w, "%serror: %v%s\n", colorRed, err, colorReset)
}

// printReport renders "N lessons processed" plus one red line per lesson
// that could not be booked.
func printReport(w io.Writer, r model.Report) {
	fmt.Fprintf(w, "%sweek %s - %s: %d lessons, %d already scheduled, %d processed, %d created%s\n",
		colorGreen,
		r.WeekStart.Format("02.01.2006"),
		r.WeekEnd.AddDate(0, 0, -1).Format("02.01.2006"),
		r.Extracted, r.Duplicates, len(r.Results), r.Created(),
		colorReset,
	)
	failures := r.Failures()
	if len(failures) == 0 {
		fmt.Fprintf(w, "%sall lessons booked%s\n", colorGreen, colorReset)
		return
	}
	for _, f := range failures {
		fmt.Fprintf(w, "%slesson %s for %s not booked (%s)%s\n",
			colorRed,
			f.Candidate.Date.Format("02.01.2006 15:04"),
			f.Candidate.Phone,
			f.Reason,
			colorReset,
		)
	}
}
