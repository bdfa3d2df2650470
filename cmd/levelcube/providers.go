package main

import (
	"fmt"
	"io"

	"levelcube/internal/config"
	"levelcube/internal/engine"
	"levelcube/internal/motion"
	"levelcube/internal/replay"
	"levelcube/internal/sensors/icm20948"
	"levelcube/internal/source"
)

// buildProvider maps the source section onto a motion provider. The returned
// closer (may be nil) owns the recording file and must be closed after the
// engine stops.
func buildProvider(sc config.SourceConfig) (motion.Provider, io.Closer, error) {
	var p motion.Provider
	switch sc.Provider {
	case "icm20948":
		p = motion.NewIMU(motion.IMUConfig{
			Bus:  sc.ICM20948.Bus,
			Addr: sc.ICM20948.Addr,
			Sensor: icm20948.Config{
				SampleRateHz: sc.ICM20948.SampleRateHz,
				AccelRangeG:  sc.ICM20948.AccelRangeG,
				GyroRangeDPS: sc.ICM20948.GyroRangeDPS,
			},
			MaxReadErrors: sc.ICM20948.MaxReadErrors,
		})
	case "hi229":
		p = motion.NewHI229(motion.HI229Config{Device: sc.HI229.Device, Baud: sc.HI229.Baud})
	case "mqtt":
		p = motion.NewMQTT(motion.MQTTConfig{
			Broker:   sc.MQTT.Broker,
			Topic:    sc.MQTT.Topic,
			ClientID: sc.MQTT.ClientID,
			QoS:      sc.MQTT.QoS,
		})
	case "replay":
		p = motion.NewReplay(motion.ReplayConfig{Path: sc.Replay.Path, Speed: sc.Replay.Speed, Loop: sc.Replay.Loop})
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown source.provider %q", sc.Provider)
	}

	if !sc.Record.Enable {
		return p, nil, nil
	}
	w, err := replay.CreateWriter(sc.Record.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("record: %w", err)
	}
	return motion.Tee(p, w), w, nil
}

func providerName(p motion.Provider) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}

func engineConfig(cfg config.Config, p motion.Provider) engine.Config {
	return engine.Config{
		MinHz:        cfg.Engine.MinHz,
		MaxHz:        cfg.Engine.MaxHz,
		Smoothing:    cfg.Engine.Smoothing,
		StallTimeout: cfg.Engine.StallTimeout,
		Demo: source.DemoParams{
			RollAmplitudeDeg:  cfg.Demo.RollAmplitudeDeg,
			PitchAmplitudeDeg: cfg.Demo.PitchAmplitudeDeg,
			RollPeriod:        cfg.Demo.RollPeriod,
			PitchPeriod:       cfg.Demo.PitchPeriod,
			YawRateDps:        cfg.Demo.YawRateDps,
		},
		Provider: p,
	}
}
