package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"roverswarm/internal/coordinator"
	"roverswarm/internal/sim"
	"roverswarm/internal/transport"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a capture of inbound status messages",
	Long: "replay feeds a JSONL capture recorded by serve --capture through a coordinator " +
		"and prints the resulting robot snapshots.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg, log, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		reg, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		sinks, cleanup, err := newSinks(cfg, replayPrintOnly, false, "", log)
		if err != nil {
			return err
		}
		defer cleanup()

		c := coordinator.New(reg, transport.NewBus().Client(), coordinator.Options{
			TickInterval: cfg.Staleness.Tick,
			Events:       sinks,
			Dispatches:   sinks,
			Logger:       log,
		})
		n, err := sim.ReplayLogFile(replayInput, c, replaySpeed)
		if err != nil {
			return err
		}
		log.Info("replay finished", "messages", n)
		return printSnapshots(cmd.OutOrStdout(), c)
	},
}

func printSnapshots(w io.Writer, c *coordinator.Coordinator) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.GetAllSnapshots())
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to capture file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print events to STDOUT instead of writing to GreptimeDB")
	replayCmd.MarkFlagRequired("input")
}
