package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"roverswarm/internal/admin"
	"roverswarm/internal/console"
	"roverswarm/internal/coordinator"
	"roverswarm/internal/fleet"
	"roverswarm/internal/logging"
	"roverswarm/internal/sim"
	"roverswarm/internal/transport"
)

var (
	servePrintOnly bool
	serveLogFile   string
	serveConsole   string
	serveEmulate   bool
	serveDropout   float64
	serveCapture   string
	serveLogOutput string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator with the admin API and operator console",
	Long: "serve connects to the broker, tracks every configured robot and serves the admin API. " +
		"With --emulate the fleet is emulated on an in-process bus and no broker is needed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		withConsole, err := consoleEnabled(serveConsole)
		if err != nil {
			return err
		}

		// the console owns the terminal, so logs go elsewhere
		var logOut io.Writer = os.Stdout
		if serveLogOutput != "" {
			f, err := os.OpenFile(serveLogOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			logOut = f
		} else if withConsole {
			logOut = io.Discard
		}
		cfg, log, err := loadConfig(logOut)
		if err != nil {
			return err
		}
		reg, err := newRegistry(cfg)
		if err != nil {
			return err
		}

		sinks, cleanup, err := newSinks(cfg, servePrintOnly, withConsole, serveLogFile, log)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)

		var (
			client   transport.Client
			emulator *sim.Emulator
		)
		if serveEmulate {
			bus := transport.NewBus()
			client = bus.Client()
			aliases := make([]string, 0, reg.Len())
			res := fleet.NewResolver(reg)
			for id := range reg.All() {
				aliases = append(aliases, res.OutboundAlias(id))
			}
			emulator = sim.NewEmulator(aliases, bus.Client(), sim.Options{
				Interval:    time.Second,
				DropoutRate: serveDropout,
			})
			log.Info("emulating fleet on in-process bus", "robots", len(aliases))
		} else {
			client = newMQTTClient(cfg, "coordinator", log)
		}

		opts := coordinator.Options{
			SendTimeout:  cfg.Dispatch.SendTimeout,
			TickInterval: cfg.Staleness.Tick,
			Events:       sinks,
			Dispatches:   sinks,
			Logger:       log,
		}
		var recorder *sim.Recorder
		if serveCapture != "" {
			f, err := os.Create(serveCapture)
			if err != nil {
				return err
			}
			defer f.Close()
			opts.Inbound = func(next transport.Handler) transport.Handler {
				recorder = sim.NewRecorder(f, next)
				return recorder
			}
		}
		coord := coordinator.New(reg, client, opts)

		var ui *console.Console
		if withConsole {
			ui = console.New(coord, time.Second)
			sinks.Add(ui, ui)
		}

		if err := coord.Start(ctx); err != nil {
			return err
		}
		defer coord.Close()

		g, gctx := errgroup.WithContext(ctx)
		if addr := cfg.AdminAddr(); addr != "" {
			srv := admin.NewServer(coord, log)
			g.Go(func() error { return srv.Start(gctx, addr) })
		}
		if emulator != nil {
			g.Go(func() error { return emulator.Run(gctx) })
		}
		if ui != nil {
			g.Go(func() error {
				defer stop()
				return ui.Run(gctx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})

		err = g.Wait()
		if recorder != nil && recorder.Err() != nil {
			log.Error("capture failed", "err", recorder.Err())
		}
		log.Info("roverswarm stopped")
		return err
	},
}

// consoleEnabled resolves the --console flag: on, off, or auto (on when
// stdin and stdout are terminals).
func consoleEnabled(mode string) (bool, error) {
	switch mode {
	case "on":
		return true, nil
	case "off":
		return false, nil
	case "auto", "":
		return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())), nil
	default:
		return false, fmt.Errorf("invalid --console value %q (want on, off or auto)", mode)
	}
}

func init() {
	serveCmd.Flags().BoolVar(&servePrintOnly, "print-only", false, "Print events to STDOUT instead of writing to GreptimeDB")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Path to export connectivity/dispatch events (JSONL)")
	serveCmd.Flags().StringVar(&serveConsole, "console", "auto", "Operator console: on, off or auto")
	serveCmd.Flags().BoolVar(&serveEmulate, "emulate", false, "Emulate the fleet on an in-process bus instead of using the broker")
	serveCmd.Flags().Float64Var(&serveDropout, "dropout", 0, "Emulated status dropout rate (0-1)")
	serveCmd.Flags().StringVar(&serveCapture, "capture", "", "Record inbound status messages to a JSONL file for replay")
	serveCmd.Flags().StringVar(&serveLogOutput, "log-output", "", "Write logs to this file instead of STDOUT")
}
