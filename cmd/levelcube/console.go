package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"levelcube/internal/config"
	"levelcube/internal/engine"
	"levelcube/internal/web"
)

const consoleRefresh = 100 * time.Millisecond

func newConsoleCmd(opts *globalOptions) *cobra.Command {
	var (
		hz   float64
		demo bool
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "run the engine locally and show attitude in the terminal",
		Long:  "console runs the engine in-process and renders the published state. Keys: c calibrate, r clear calibration, s start/stop, d toggle demo, q quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("hz") {
				cfg.Engine.UpdateHz = hz
			}
			if cmd.Flags().Changed("demo") {
				cfg.Engine.DemoMode = demo
			}

			// The terminal belongs to the UI; log lines are shown in a pane.
			logs := web.NewLogBuffer(cfg.Log.BufferLines)
			if err := setupLogging(cfg.Log, opts.debug, nil, logs); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsole(ctx, cfg, logs)
		},
	}
	cmd.Flags().Float64Var(&hz, "hz", 0, "override engine.update_hz")
	cmd.Flags().BoolVar(&demo, "demo", false, "override engine.demo_mode")
	return cmd
}

func runConsole(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	provider, rec, err := buildProvider(cfg.Source)
	if err != nil {
		return err
	}
	if rec != nil {
		defer rec.Close()
	}

	eng := engine.New(engineConfig(cfg, provider))
	defer eng.Close()

	hz := cfg.Engine.UpdateHz
	demo := cfg.Engine.DemoMode
	if err := eng.Start(hz, demo); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = "attitude"
	table.ColumnWidths = []int{14, 30}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.SetRect(0, 0, 48, 15)

	logList := widgets.NewList()
	logList.Title = "log"
	logList.WrapText = false
	logList.SetRect(0, 15, 100, 27)

	help := widgets.NewParagraph()
	help.Title = "keys"
	help.Text = "c calibrate\nr clear calibration\ns start/stop\nd toggle demo\nq quit"
	help.SetRect(48, 0, 72, 8)

	render := func() {
		table.Rows = stateRows(eng.State())
		logList.Rows, _ = logs.Snapshot(10)
		ui.Render(table, logList, help)
	}
	render()

	events := ui.PollEvents()
	ticker := time.NewTicker(consoleRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "c":
				if !eng.Calibrate() {
					log.Warn("console: nothing to calibrate against yet")
				}
			case "r":
				eng.ClearCalibration()
			case "s":
				if eng.Running() {
					eng.Stop()
				} else if err := eng.Start(hz, demo); err != nil {
					log.Warnf("console: start: %v", err)
				}
			case "d":
				demo = !demo
				if err := eng.Start(hz, demo); err != nil {
					log.Warnf("console: start: %v", err)
				}
			}
			render()
		case <-ticker.C:
			render()
		}
	}
}

func stateRows(st engine.State) [][]string {
	errText := st.Error
	if errText == "" {
		errText = "-"
	}
	mode := string(st.Mode)
	if mode == "" {
		mode = "-"
	}
	return [][]string{
		{"running", fmt.Sprintf("%t", st.Running)},
		{"mode", mode},
		{"roll", fmt.Sprintf("%7.1f", st.RollDeg)},
		{"pitch", fmt.Sprintf("%7.1f", st.PitchDeg)},
		{"yaw", fmt.Sprintf("%7.1f", st.YawDeg)},
		{"quaternion", fmt.Sprintf("%.3f %.3f %.3f %.3f", st.Qw, st.Qx, st.Qy, st.Qz)},
		{"rate", fmt.Sprintf("%.1f / %.0f Hz", st.SampleHz, st.TargetHz)},
		{"calibrated", fmt.Sprintf("%t", st.Calibrated)},
		{"seq", fmt.Sprintf("%d", st.Seq)},
		{"error", errText},
	}
}
