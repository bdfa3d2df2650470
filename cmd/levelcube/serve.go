package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"levelcube/internal/button"
	"levelcube/internal/config"
	"levelcube/internal/efb"
	"levelcube/internal/engine"
	"levelcube/internal/mqttpub"
	"levelcube/internal/web"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		hz   float64
		demo bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the engine with the web API and enabled outputs",
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

			logs := web.NewLogBuffer(cfg.Log.BufferLines)
			if err := setupLogging(cfg.Log, opts.debug, stderr, logs); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logs)
		},
	}
	cmd.Flags().Float64Var(&hz, "hz", 0, "override engine.update_hz")
	cmd.Flags().BoolVar(&demo, "demo", false, "override engine.demo_mode")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	provider, rec, err := buildProvider(cfg.Source)
	if err != nil {
		return err
	}
	if rec != nil {
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warnf("record: close: %v", err)
			}
		}()
	}

	eng := engine.New(engineConfig(cfg, provider))
	defer eng.Close()

	if cfg.Engine.AutoStart {
		if err := eng.Start(cfg.Engine.UpdateHz, cfg.Engine.DemoMode); err != nil {
			return fmt.Errorf("engine start: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	// fatal components cancel the daemon when they fail; the rest only log.
	run := func(name string, fatal bool, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			if !fatal {
				log.Warnf("%s: %v", name, err)
				return
			}
			log.Errorf("%s: %v", name, err)
			fatalMu.Lock()
			if fatalErr == nil {
				fatalErr = fmt.Errorf("%s: %w", name, err)
			}
			fatalMu.Unlock()
			cancel()
		}()
	}

	// fail stops whatever already runs before reporting a setup error.
	fail := func(err error) error {
		cancel()
		wg.Wait()
		return err
	}

	outputs := map[string]string{}
	status := web.NewStatus()

	if cfg.Web.Enable {
		outputs["web"] = cfg.Web.Listen
		handler := web.Handler(eng, web.Options{
			DefaultHz: cfg.Engine.UpdateHz,
			Status:    status,
			Logs:      logs,
		})
		run("web", true, func(ctx context.Context) error {
			return web.Serve(ctx, cfg.Web.Listen, handler)
		})
	}

	if cfg.Button.Enable {
		w := button.New(button.Config{
			Chip:     cfg.Button.Chip,
			Line:     cfg.Button.Line,
			Debounce: cfg.Button.Debounce,
		}, eng.Calibrate)
		outputs["button"] = fmt.Sprintf("%s:%d", cfg.Button.Chip, cfg.Button.Line)
		run("button", false, w.Run)
	}

	if cfg.GDL90.Enable {
		s, err := efb.New(efb.Config{
			Dest:       cfg.GDL90.Dest,
			Interval:   cfg.GDL90.Interval,
			DeviceName: cfg.GDL90.DeviceName,
		}, eng.State)
		if err != nil {
			return fail(fmt.Errorf("gdl90: %w", err))
		}
		outputs["gdl90"] = cfg.GDL90.Dest
		run("gdl90", false, s.Run)
	}

	if cfg.MQTT.Enable {
		p, err := mqttpub.Dial(mqttpub.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
			Retain:   cfg.MQTT.Retain,
			Interval: cfg.MQTT.Interval,
		}, eng.State)
		if err != nil {
			return fail(fmt.Errorf("mqtt: %w", err))
		}
		outputs["mqtt"] = cfg.MQTT.Broker + "/" + cfg.MQTT.Topic
		run("mqtt", false, p.Run)
	}

	status.SetStatic(providerName(provider), outputs)
	log.Infof("levelcube: provider=%s outputs=%v autostart=%t", providerName(provider), outputs, cfg.Engine.AutoStart)

	<-ctx.Done()
	wg.Wait()
	eng.Stop()
	log.Info("levelcube: stopped")

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatalErr
}
