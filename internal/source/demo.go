package source

import (
	"context"
	"math"
	"sync"
	"time"

	"levelcube/internal/attitude"
)

// DemoParams shape the demo motion. Zero fields take defaults.
type DemoParams struct {
	RollAmplitudeDeg  float64 `yaml:"roll_amplitude_deg"`
	PitchAmplitudeDeg float64 `yaml:"pitch_amplitude_deg"`
	// RollPeriod and PitchPeriod are the sinusoid periods.
	RollPeriod  time.Duration `yaml:"roll_period"`
	PitchPeriod time.Duration `yaml:"pitch_period"`
	// YawRateDps is the slow yaw drift in degrees per second.
	YawRateDps float64 `yaml:"yaw_rate_dps"`
}

func DefaultDemoParams() DemoParams {
	return DemoParams{
		RollAmplitudeDeg:  20,
		PitchAmplitudeDeg: 15,
		RollPeriod:        6 * time.Second,
		PitchPeriod:       9 * time.Second,
		YawRateDps:        6,
	}
}

func (p DemoParams) withDefaults() DemoParams {
	d := DefaultDemoParams()
	if p.RollAmplitudeDeg == 0 {
		p.RollAmplitudeDeg = d.RollAmplitudeDeg
	}
	if p.PitchAmplitudeDeg == 0 {
		p.PitchAmplitudeDeg = d.PitchAmplitudeDeg
	}
	if p.RollPeriod <= 0 {
		p.RollPeriod = d.RollPeriod
	}
	if p.PitchPeriod <= 0 {
		p.PitchPeriod = d.PitchPeriod
	}
	if p.YawRateDps == 0 {
		p.YawRateDps = d.YawRateDps
	}
	return p
}

// Angles returns the demo attitude at elapsed. It is a pure function of its
// inputs.
func (p DemoParams) Angles(elapsed time.Duration) attitude.Angles {
	p = p.withDefaults()
	t := elapsed.Seconds()
	roll := p.RollAmplitudeDeg * math.Sin(2*math.Pi*t/p.RollPeriod.Seconds())
	// Phase offset keeps pitch and roll from peaking together.
	pitch := p.PitchAmplitudeDeg * math.Sin(2*math.Pi*t/p.PitchPeriod.Seconds()+math.Pi/3)
	yaw := math.Mod(p.YawRateDps*t, 360)
	if yaw > 180 {
		yaw -= 360
	} else if yaw <= -180 {
		yaw += 360
	}
	return attitude.Angles{RollDeg: roll, PitchDeg: pitch, YawDeg: yaw}
}

// Quaternion returns the demo attitude at elapsed as a unit quaternion.
func (p DemoParams) Quaternion(elapsed time.Duration) attitude.Quaternion {
	a := p.Angles(elapsed)
	return attitude.FromEuler(a.RollDeg, a.PitchDeg, a.YawDeg)
}

// Demo synthesizes attitude from the time elapsed since Start. It never
// blocks and never fails while running; pacing is the caller's job.
type Demo struct {
	params DemoParams
	now    func() time.Time

	mu      sync.Mutex
	start   time.Time
	started bool
	stopped bool
}

func NewDemo(params DemoParams) *Demo {
	return &Demo{params: params.withDefaults(), now: time.Now}
}

// NewDemoWithClock is NewDemo with an injected clock.
func NewDemoWithClock(params DemoParams, now func() time.Time) *Demo {
	d := NewDemo(params)
	if now != nil {
		d.now = now
	}
	return d
}

func (d *Demo) Mode() Mode { return ModeDemo }

func (d *Demo) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.start = d.now()
	d.started = true
	d.stopped = false
	return nil
}

func (d *Demo) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	d.mu.Lock()
	stopped := d.stopped
	if !d.started {
		d.start = d.now()
		d.started = true
	}
	start := d.start
	d.mu.Unlock()
	if stopped {
		return Sample{}, ErrSourceStopped
	}
	now := d.now()
	return Sample{Q: d.params.Quaternion(now.Sub(start)), At: now}, nil
}

func (d *Demo) Stop() error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return nil
}
