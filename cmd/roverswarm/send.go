package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"roverswarm/internal/command"
	"roverswarm/internal/coordinator"
)

var (
	sendRobots []int
	sendAll    bool
	moveLeft   string
	moveRight  string
	moveBack   string
	stateMode  string
	stateSets  []string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a one-shot command and print the dispatch result",
}

var sendMoveCmd = &cobra.Command{
	Use:   "move",
	Short: "Send a MANUAL motor command",
	Example: "  roverswarm send move --robot 0 --left 200 --right 200\n" +
		"  roverswarm send move --all --back 100",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := command.ManualIntent{
			Left:  command.Text(moveLeft),
			Right: command.Text(moveRight),
			Back:  command.Text(moveBack),
		}
		return runSend(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, c *coordinator.Coordinator) (command.Result, error) {
			if len(sendRobots) > 1 && !sendAll {
				return c.SubmitManualTo(ctx, in, sendRobots)
			}
			return c.SubmitManual(ctx, in, sendAll, firstRobot())
		})
	},
}

var sendStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Switch robots to a mode with optional parameters",
	Example: "  roverswarm send state --all --mode OFF\n" +
		"  roverswarm send state --robot 1 --mode LINE --set line_nodeDist=30 --set line_alignTol=5",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := parseStateIntent(stateMode, stateSets)
		if err != nil {
			return err
		}
		return runSend(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, c *coordinator.Coordinator) (command.Result, error) {
			if len(sendRobots) > 1 && !sendAll {
				return c.SubmitStateUpdateTo(ctx, in, sendRobots)
			}
			return c.SubmitStateUpdate(ctx, in, sendAll, firstRobot())
		})
	},
}

func firstRobot() int {
	if len(sendRobots) == 0 {
		return 0
	}
	return sendRobots[0]
}

// parseStateIntent turns --set key=value pairs into a StateIntent. Values
// are validated when the payload is built.
func parseStateIntent(mode string, sets []string) (command.StateIntent, error) {
	in := command.StateIntent{Mode: command.Mode(mode), Fields: make(map[string]command.Param, len(sets))}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return command.StateIntent{}, fmt.Errorf("invalid --set %q, want field=value", kv)
		}
		in.Fields[strings.TrimSpace(k)] = command.Text(v)
	}
	return in, nil
}

type submitFunc func(ctx context.Context, c *coordinator.Coordinator) (command.Result, error)

func runSend(ctx context.Context, out io.Writer, submit submitFunc) error {
	if !sendAll && len(sendRobots) == 0 {
		return fmt.Errorf("either --robot or --all is required")
	}
	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	client := newMQTTClient(cfg, "send", log)
	c := coordinator.New(reg, client, coordinator.Options{SendTimeout: cfg.Dispatch.SendTimeout, Logger: log})
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()
	return sendAndPrint(ctx, out, c, submit)
}

// sendAndPrint submits through c and prints the result as indented JSON. It
// fails when any target failed.
func sendAndPrint(ctx context.Context, out io.Writer, c *coordinator.Coordinator, submit submitFunc) error {
	res, err := submit(ctx, c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.FailureCount > 0 {
		return fmt.Errorf("%d of %d sends failed: %w", res.FailureCount, len(res.Outcomes), command.ErrTransportFailure)
	}
	return nil
}

func init() {
	sendCmd.PersistentFlags().IntSliceVar(&sendRobots, "robot", nil, "Robot index (repeatable)")
	sendCmd.PersistentFlags().BoolVar(&sendAll, "all", false, "Broadcast to every robot")

	sendMoveCmd.Flags().StringVar(&moveLeft, "left", "", "Left motor steps")
	sendMoveCmd.Flags().StringVar(&moveRight, "right", "", "Right motor steps")
	sendMoveCmd.Flags().StringVar(&moveBack, "back", "", "Back motor steps")

	sendStateCmd.Flags().StringVar(&stateMode, "mode", "", "Mode: OFF, IDLE, LINE, POLYGON or MANUAL")
	sendStateCmd.Flags().StringArrayVar(&stateSets, "set", nil, "Mode parameter as field=value (repeatable)")
	sendStateCmd.MarkFlagRequired("mode")

	sendCmd.AddCommand(sendMoveCmd)
	sendCmd.AddCommand(sendStateCmd)
}
