package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Demo   DemoConfig   `yaml:"demo"`
	Source SourceConfig `yaml:"source"`
	Web    WebConfig    `yaml:"web"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	GDL90  GDL90Config  `yaml:"gdl90"`
	Button ButtonConfig `yaml:"button"`
	Log    LogConfig    `yaml:"log"`
}

type EngineConfig struct {
	// AutoStart begins sampling at UpdateHz when the daemon starts.
	AutoStart bool    `yaml:"auto_start"`
	UpdateHz  float64 `yaml:"update_hz"`
	// DemoMode selects the synthetic source for AutoStart.
	DemoMode     bool          `yaml:"demo_mode"`
	MinHz        float64       `yaml:"min_hz"`
	MaxHz        float64       `yaml:"max_hz"`
	Smoothing    float64       `yaml:"smoothing"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

type DemoConfig struct {
	RollAmplitudeDeg  float64       `yaml:"roll_amplitude_deg"`
	PitchAmplitudeDeg float64       `yaml:"pitch_amplitude_deg"`
	RollPeriod        time.Duration `yaml:"roll_period"`
	PitchPeriod       time.Duration `yaml:"pitch_period"`
	YawRateDps        float64       `yaml:"yaw_rate_dps"`
}

type SourceConfig struct {
	// Provider is one of: icm20948, hi229, mqtt, replay, none.
	Provider string         `yaml:"provider"`
	ICM20948 ICM20948Config `yaml:"icm20948"`
	HI229    HI229Config    `yaml:"hi229"`
	MQTT     MQTTSubConfig  `yaml:"mqtt"`
	Replay   ReplayConfig   `yaml:"replay"`
	Record   RecordConfig   `yaml:"record"`
}

type ICM20948Config struct {
	Bus  int    `yaml:"bus"`
	Addr uint16 `yaml:"addr"`
	// SampleRateHz is the sensor output rate the filter runs at.
	SampleRateHz  float64 `yaml:"sample_rate_hz"`
	AccelRangeG   int     `yaml:"accel_range_g"`
	GyroRangeDPS  int     `yaml:"gyro_range_dps"`
	MaxReadErrors int     `yaml:"max_read_errors"`
}

type HI229Config struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type MQTTSubConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// MQTTConfig publishes the engine state to a broker.
type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	QoS      byte          `yaml:"qos"`
	Retain   bool          `yaml:"retain"`
	Interval time.Duration `yaml:"interval"`
}

// GDL90Config sends AHRS frames to EFB apps over UDP.
type GDL90Config struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
	// DeviceName is advertised in the ForeFlight ID message.
	DeviceName string `yaml:"device_name"`
}

type ButtonConfig struct {
	Enable   bool          `yaml:"enable"`
	Chip     string        `yaml:"chip"`
	Line     int           `yaml:"line"`
	Debounce time.Duration `yaml:"debounce"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// BufferLines is how many recent lines /api/logs keeps.
	BufferLines int `yaml:"buffer_lines"`
}

var providers = []string{"icm20948", "hi229", "mqtt", "replay", "none"}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{
		Engine: EngineConfig{AutoStart: true},
		Web:    WebConfig{Enable: true},
	}
	if err := applyDefaults(&cfg); err != nil {
		// Defaults are always valid.
		panic(err)
	}
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, unknownFieldsError(te)
		}
		return Config{}, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// unknownFieldsError drops yaml's line prefixes so messages stay stable.
func unknownFieldsError(te *yaml.TypeError) error {
	msgs := make([]string, 0, len(te.Errors))
	for _, m := range te.Errors {
		if !strings.Contains(m, "not found in type") {
			return te
		}
		if strings.HasPrefix(m, "line ") {
			if _, rest, ok := strings.Cut(m, ": "); ok {
				m = rest
			}
		}
		msgs = append(msgs, m)
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
}

func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyDefaults(cfg *Config) error {
	// Engine.
	if cfg.Engine.MinHz == 0 {
		cfg.Engine.MinHz = 10
	}
	if cfg.Engine.MaxHz == 0 {
		cfg.Engine.MaxHz = 120
	}
	if cfg.Engine.MinHz <= 0 || cfg.Engine.MaxHz < cfg.Engine.MinHz {
		return fmt.Errorf("engine.min_hz must be > 0 and <= engine.max_hz")
	}
	if cfg.Engine.UpdateHz == 0 {
		cfg.Engine.UpdateHz = 60
	}
	if cfg.Engine.UpdateHz < cfg.Engine.MinHz || cfg.Engine.UpdateHz > cfg.Engine.MaxHz {
		return fmt.Errorf("engine.update_hz must be within [engine.min_hz, engine.max_hz]")
	}
	if cfg.Engine.Smoothing == 0 {
		cfg.Engine.Smoothing = 0.2
	}
	if cfg.Engine.Smoothing < 0 || cfg.Engine.Smoothing > 1 {
		return fmt.Errorf("engine.smoothing must be within (0, 1]")
	}
	if cfg.Engine.StallTimeout == 0 {
		cfg.Engine.StallTimeout = 2 * time.Second
	}
	if cfg.Engine.StallTimeout < 0 {
		// Negative disables stall detection.
		cfg.Engine.StallTimeout = 0
	}

	// Demo motion.
	if cfg.Demo.RollAmplitudeDeg == 0 {
		cfg.Demo.RollAmplitudeDeg = 20
	}
	if cfg.Demo.PitchAmplitudeDeg == 0 {
		cfg.Demo.PitchAmplitudeDeg = 15
	}
	if cfg.Demo.RollPeriod <= 0 {
		cfg.Demo.RollPeriod = 6 * time.Second
	}
	if cfg.Demo.PitchPeriod <= 0 {
		cfg.Demo.PitchPeriod = 9 * time.Second
	}
	if cfg.Demo.YawRateDps == 0 {
		cfg.Demo.YawRateDps = 6
	}
	if cfg.Demo.RollAmplitudeDeg < 0 || cfg.Demo.RollAmplitudeDeg > 90 || cfg.Demo.PitchAmplitudeDeg < 0 || cfg.Demo.PitchAmplitudeDeg > 90 {
		return fmt.Errorf("demo amplitudes must be within [0, 90] degrees")
	}

	// Source.
	cfg.Source.Provider = strings.ToLower(strings.TrimSpace(cfg.Source.Provider))
	if cfg.Source.Provider == "" {
		cfg.Source.Provider = "icm20948"
	}
	if !validProvider(cfg.Source.Provider) {
		return fmt.Errorf("source.provider must be one of %s", strings.Join(providers, ", "))
	}
	if cfg.Source.ICM20948.Bus == 0 {
		cfg.Source.ICM20948.Bus = 1
	}
	if cfg.Source.ICM20948.SampleRateHz == 0 {
		cfg.Source.ICM20948.SampleRateHz = 200
	}
	if cfg.Source.ICM20948.MaxReadErrors <= 0 {
		cfg.Source.ICM20948.MaxReadErrors = 10
	}
	if cfg.Source.HI229.Device == "" {
		cfg.Source.HI229.Device = "/dev/ttyUSB0"
	}
	if cfg.Source.HI229.Baud <= 0 {
		cfg.Source.HI229.Baud = 115200
	}
	if cfg.Source.MQTT.ClientID == "" {
		cfg.Source.MQTT.ClientID = "levelcube-source"
	}
	if cfg.Source.MQTT.QoS > 2 {
		return fmt.Errorf("source.mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Source.Provider == "mqtt" && (cfg.Source.MQTT.Broker == "" || cfg.Source.MQTT.Topic == "") {
		return fmt.Errorf("source.mqtt.broker and source.mqtt.topic are required when source.provider is 'mqtt'")
	}
	if cfg.Source.Replay.Speed == 0 {
		cfg.Source.Replay.Speed = 1
	}
	if cfg.Source.Replay.Speed < 0 {
		return fmt.Errorf("source.replay.speed must be > 0")
	}
	if cfg.Source.Provider == "replay" && cfg.Source.Replay.Path == "" {
		return fmt.Errorf("source.replay.path is required when source.provider is 'replay'")
	}
	if cfg.Source.Record.Enable {
		if cfg.Source.Record.Path == "" {
			return fmt.Errorf("source.record.path is required when source.record.enable is true")
		}
		if cfg.Source.Provider == "replay" {
			return fmt.Errorf("source.record cannot be used with source.provider 'replay'")
		}
	}

	// Web.
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	// MQTT publisher.
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "levelcube/state"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "levelcube"
	}
	if cfg.MQTT.Interval <= 0 {
		cfg.MQTT.Interval = 200 * time.Millisecond
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Enable && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}

	// GDL90.
	if cfg.GDL90.Dest == "" {
		cfg.GDL90.Dest = "255.255.255.255:4000"
	}
	if cfg.GDL90.Interval <= 0 {
		cfg.GDL90.Interval = 200 * time.Millisecond
	}
	if cfg.GDL90.DeviceName == "" {
		cfg.GDL90.DeviceName = "levelcube"
	}

	// Button.
	if cfg.Button.Chip == "" {
		cfg.Button.Chip = "gpiochip0"
	}
	if cfg.Button.Debounce <= 0 {
		cfg.Button.Debounce = 50 * time.Millisecond
	}
	if cfg.Button.Enable && cfg.Button.Line <= 0 {
		return fmt.Errorf("button.line is required when button.enable is true")
	}

	// Log.
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 500
	}
	return nil
}

func validProvider(p string) bool {
	for _, v := range providers {
		if v == p {
			return true
		}
	}
	return false
}
