package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.UpdateHz != 60 || cfg.Engine.MinHz != 10 || cfg.Engine.MaxHz != 120 {
		t.Fatalf("engine=%+v", cfg.Engine)
	}
	if cfg.Engine.StallTimeout != 2*time.Second {
		t.Fatalf("stall_timeout=%s want 2s", cfg.Engine.StallTimeout)
	}
	if cfg.Source.Provider != "icm20948" || cfg.Source.ICM20948.Bus != 1 {
		t.Fatalf("source=%+v", cfg.Source)
	}
	if cfg.Source.HI229.Baud != 115200 || cfg.Source.Replay.Speed != 1 {
		t.Fatalf("source defaults missing: %+v", cfg.Source)
	}
	if cfg.Web.Listen != ":8080" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("web=%+v log=%+v", cfg.Web, cfg.Log)
	}
	if cfg.Demo.RollPeriod != 6*time.Second || cfg.Demo.PitchPeriod != 9*time.Second {
		t.Fatalf("demo=%+v", cfg.Demo)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_DurationsParsed(t *testing.T) {
	path := writeTempConfig(t, "engine:\n  stall_timeout: 750ms\ndemo:\n  roll_period: 3s\nmqtt:\n  interval: 1s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.StallTimeout != 750*time.Millisecond {
		t.Fatalf("stall_timeout=%s", cfg.Engine.StallTimeout)
	}
	if cfg.Demo.RollPeriod != 3*time.Second || cfg.MQTT.Interval != time.Second {
		t.Fatalf("roll_period=%s interval=%s", cfg.Demo.RollPeriod, cfg.MQTT.Interval)
	}
}

func TestLoad_NegativeStallTimeoutDisables(t *testing.T) {
	path := writeTempConfig(t, "engine:\n  stall_timeout: -1s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.StallTimeout != 0 {
		t.Fatalf("stall_timeout=%s want 0", cfg.Engine.StallTimeout)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "UpdateHzAboveMax",
			body: "engine:\n  update_hz: 121\n",
			want: "engine.update_hz must be within [engine.min_hz, engine.max_hz]",
		},
		{
			name: "UpdateHzBelowMin",
			body: "engine:\n  update_hz: 5\n",
			want: "engine.update_hz must be within [engine.min_hz, engine.max_hz]",
		},
		{
			name: "BoundsInverted",
			body: "engine:\n  min_hz: 50\n  max_hz: 20\n",
			want: "engine.min_hz must be > 0 and <= engine.max_hz",
		},
		{
			name: "Smoothing",
			body: "engine:\n  smoothing: 1.5\n",
			want: "engine.smoothing must be within (0, 1]",
		},
		{
			name: "UnknownProvider",
			body: "source:\n  provider: lidar\n",
			want: "source.provider must be one of icm20948, hi229, mqtt, replay, none",
		},
		{
			name: "MQTTSourceNeedsBroker",
			body: "source:\n  provider: mqtt\n  mqtt:\n    topic: imu/q\n",
			want: "source.mqtt.broker and source.mqtt.topic are required when source.provider is 'mqtt'",
		},
		{
			name: "ReplayNeedsPath",
			body: "source:\n  provider: replay\n",
			want: "source.replay.path is required when source.provider is 'replay'",
		},
		{
			name: "ReplayNegativeSpeed",
			body: "source:\n  provider: replay\n  replay:\n    path: ./x.log\n    speed: -1\n",
			want: "source.replay.speed must be > 0",
		},
		{
			name: "RecordNeedsPath",
			body: "source:\n  record:\n    enable: true\n",
			want: "source.record.path is required when source.record.enable is true",
		},
		{
			name: "RecordWithReplay",
			body: "source:\n  provider: replay\n  replay:\n    path: ./a.log\n  record:\n    enable: true\n    path: ./b.log\n",
			want: "source.record cannot be used with source.provider 'replay'",
		},
		{
			name: "PublisherNeedsBroker",
			body: "mqtt:\n  enable: true\n",
			want: "mqtt.broker is required when mqtt.enable is true",
		},
		{
			name: "ButtonNeedsLine",
			body: "button:\n  enable: true\n",
			want: "button.line is required when button.enable is true",
		},
		{
			name: "LogFormat",
			body: "log:\n  format: xml\n",
			want: "log.format must be 'text' or 'json'",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.body)
			_, err := Load(path)
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_ProviderNormalized(t *testing.T) {
	path := writeTempConfig(t, "source:\n  provider: ' HI229 '\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.Provider != "hi229" {
		t.Fatalf("provider=%q want hi229", cfg.Source.Provider)
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "gdl90:\n  dest: '127.0.0.1:4000'\n  mode: gdl90\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field mode not found in type config.GDL90Config")
}

func TestDefault_MarshalRoundTrip(t *testing.T) {
	def := Default()
	if !def.Web.Enable || !def.Engine.AutoStart {
		t.Fatalf("defaults should serve the web UI and auto start: %+v", def)
	}
	b, err := Marshal(def)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse() error: %v\n%s", err, b)
	}
	if got != def {
		t.Fatalf("round trip mismatch:\ngot=%+v\nwant=%+v", got, def)
	}
}
