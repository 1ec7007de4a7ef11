package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"roverswarm/internal/config"
	"roverswarm/internal/fleet"
	"roverswarm/internal/logging"
	"roverswarm/internal/transport"
)

var (
	configPath string
	schemaPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "roverswarm",
	Short: "Robot swarm telemetry and command coordinator",
	Long: "roverswarm tracks the liveness and telemetry of a small robot fleet over MQTT " +
		"and dispatches operator commands to one robot or the whole fleet.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/roverswarm.yaml", "Path to configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to CUE schema file (default: embedded schema)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (text, json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(emulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadConfig reads the configuration and builds a logger writing to w.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, schemaPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	log := logging.NewWithOptions(w, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}

func newRegistry(cfg *config.Config) (*fleet.Registry, error) {
	reg, err := fleet.NewRegistry(cfg.Robots, cfg.LocalSuffix)
	if err != nil {
		return nil, fmt.Errorf("fleet: %w", err)
	}
	return reg, nil
}

// newMQTTClient builds a broker client. role is appended to the configured
// client id so several roverswarm processes can share a broker.
func newMQTTClient(cfg *config.Config, role string, log *slog.Logger) *transport.MQTTClient {
	id := cfg.Broker.ClientID
	if id != "" && role != "" {
		id += "-" + role
	}
	return transport.NewMQTTClient(transport.MQTTConfig{
		BrokerURL:      cfg.Broker.URL,
		ClientID:       id,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password(),
		KeepAlive:      cfg.Broker.KeepAlive,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
	}, log)
}
