package main

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/yourorg/draftwatch/internal/notify"
)

var scanDryRun bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single tick and print its statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sink notify.Sink
		if scanDryRun {
			sink = notify.LogSink{}
		}

		p, err := buildPipeline(cfg, sink)
		if err != nil {
			return err
		}

		stats, tickErr := p.scheduler.ForceTick(cmd.Context())

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return err
		}
		return tickErr
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "log recommendations instead of sending them")
}
