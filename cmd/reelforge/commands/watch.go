package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/timespec"
	"github.com/dyluth/reelforge/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchProject      string
	watchOutputFormat string
	watchSince        string
	watchUntil        string
	watchFollow       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor generation activity on the event stream",
	Long: `Monitor generation events as agents publish them.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow all new activity
  reelforge watch

  # Replay the last hour of one project and exit
  reelforge watch --project film-1 --since 1h --follow=false

  # Export events as JSON
  reelforge watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchProject, "project", "p", "", "only show events of this project")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchSince, "since", "", "start from this time (duration ago like 1h or RFC3339)")
	watchCmd.Flags().StringVar(&watchUntil, "until", "", "stop at this time (duration ago like 1h or RFC3339)")
	watchCmd.Flags().BoolVar(&watchFollow, "follow", true, "keep waiting for new events")
}

func runWatch(cmd *cobra.Command, args []string) error {
	format := watch.OutputFormat(watchOutputFormat)
	if format != watch.OutputFormatDefault && format != watch.OutputFormatJSON {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}
	r, err := timespec.ParseRange(watchSince, watchUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time range", err.Error(), []string{"Use a duration like 1h30m or an RFC3339 timestamp"})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bus, err := a.bus()
	if err != nil {
		return err
	}
	return watch.StreamActivity(ctx, a.rdb, bus.Stream(), watch.Options{
		ProjectID: watchProject,
		Range:     r,
		Follow:    watchFollow,
		Block:     a.cfg.EventBus.BlockTimeout,
		BatchSize: a.cfg.EventBus.BatchSize,
	}, format, printer.Out)
}
