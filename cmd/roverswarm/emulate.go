package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"roverswarm/internal/fleet"
	"roverswarm/internal/logging"
	"roverswarm/internal/sim"
)

var (
	emuInterval time.Duration
	emuDropout  float64
	emuSilent   []string
	emuSeed     int64
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate the configured fleet on the broker",
	Long: "emulate publishes firmware-shaped status for every configured robot and mirrors " +
		"received mode changes, so the coordinator can be exercised without hardware.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}
		reg, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		res := fleet.NewResolver(reg)
		aliases := make([]string, 0, reg.Len())
		for id := range reg.All() {
			aliases = append(aliases, res.OutboundAlias(id))
		}

		client := newMQTTClient(cfg, "emulator", log)
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e := sim.NewEmulator(aliases, client, sim.Options{
			Interval:    emuInterval,
			DropoutRate: emuDropout,
			Silent:      emuSilent,
			Seed:        emuSeed,
		})
		return e.Run(logging.NewContext(ctx, log))
	},
}

func init() {
	emulateCmd.Flags().DurationVar(&emuInterval, "interval", time.Second, "Status publish interval (e.g. 500ms, 2s)")
	emulateCmd.Flags().Float64Var(&emuDropout, "dropout", 0, "Chance a robot skips a status publish (0-1)")
	emulateCmd.Flags().StringSliceVar(&emuSilent, "silent", nil, "Aliases that never publish status")
	emulateCmd.Flags().Int64Var(&emuSeed, "seed", 0, "Random seed (0 picks one)")
}
