package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"levelcube/internal/config"
)

type globalOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "levelcube",
		Short:        "orientation engine: attitude from an IMU or a demo generator",
		Long:         "levelcube samples device attitude at a fixed rate, applies a zero reference and publishes roll, pitch and yaw over HTTP, WebSocket, MQTT and GDL90.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (built-in defaults when empty)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "toggle debug logging")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newConsoleCmd(opts))
	root.AddCommand(newInitCmd())
	root.AddCommand(newListenCmd())
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the package-level logger. Output goes to console
// (nil to drop) and to every extra writer.
func setupLogging(cfg config.LogConfig, debug bool, console io.Writer, extra ...io.Writer) error {
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if debug {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	writers := make([]io.Writer, 0, len(extra)+1)
	if console != nil {
		writers = append(writers, console)
	}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}
	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
	return nil
}

var stderr io.Writer = os.Stderr
