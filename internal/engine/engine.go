package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/attitude"
	"levelcube/internal/calibration"
	"levelcube/internal/motion"
	"levelcube/internal/source"
)

// ErrInvalidFrequency is returned by Start for a rate that is not finite
// or lies outside [MinHz, MaxHz].
var ErrInvalidFrequency = errors.New("invalid frequency")

const (
	DefaultMinHz     = 10
	DefaultMaxHz     = 120
	DefaultSmoothing = 0.2
)

type Config struct {
	MinHz float64
	MaxHz float64
	// Smoothing is the EWMA weight of the newest interval, in (0, 1].
	Smoothing float64
	// StallTimeout escalates a silent live provider to an error. 0 disables.
	StallTimeout time.Duration
	Demo         source.DemoParams
	Provider     motion.Provider

	// NewSource overrides source construction.
	NewSource func(mode source.Mode, interval time.Duration) source.Source
}

// Engine runs the sampling loop and owns the published state.
//
// Start/Stop are serialized by ctlMu. Every publish happens under pubMu,
// so a calibrate never races a half-finished cycle.
type Engine struct {
	cfg   Config
	cal   *calibration.Store
	state atomic.Pointer[State]
	bc    *Broadcaster

	ctlMu  sync.Mutex
	cancel context.CancelFunc
	src    source.Source
	done   chan struct{}

	pubMu    sync.Mutex
	running  bool
	lastRaw  *attitude.Quaternion
	rate     rateMeter
	mode     source.Mode
	targetHz float64
	seq      uint64
	lastErr  string
}

func New(cfg Config) *Engine {
	if cfg.MinHz <= 0 {
		cfg.MinHz = DefaultMinHz
	}
	if cfg.MaxHz <= 0 {
		cfg.MaxHz = DefaultMaxHz
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	e := &Engine{
		cfg: cfg,
		cal: calibration.New(),
		bc:  NewBroadcaster(),
	}
	e.rate.alpha = cfg.Smoothing
	e.state.Store(initialState())
	return e
}

func (e *Engine) newSource(mode source.Mode, interval time.Duration) source.Source {
	if e.cfg.NewSource != nil {
		return e.cfg.NewSource(mode, interval)
	}
	switch mode {
	case source.ModeDemo:
		return source.NewDemo(e.cfg.Demo)
	default:
		return source.NewLive(e.cfg.Provider, source.LiveConfig{
			Interval:     interval,
			StallTimeout: e.cfg.StallTimeout,
		})
	}
}

// ValidateFrequency reports whether hz is an accepted sampling rate.
// Out-of-range values are rejected, never clamped.
func (e *Engine) ValidateFrequency(hz float64) error {
	if math.IsNaN(hz) || math.IsInf(hz, 0) || hz <= 0 {
		return fmt.Errorf("%w: %v Hz", ErrInvalidFrequency, hz)
	}
	if hz < e.cfg.MinHz || hz > e.cfg.MaxHz {
		return fmt.Errorf("%w: %v Hz outside [%v, %v]", ErrInvalidFrequency, hz, e.cfg.MinHz, e.cfg.MaxHz)
	}
	return nil
}

// Start begins sampling at hz from the demo or live source. A running loop
// is stopped first. An invalid hz leaves the engine untouched.
//
// A live source that cannot be opened is not an error here: it is published
// in State.Error and retried every period.
func (e *Engine) Start(hz float64, demo bool) error {
	if e == nil {
		return fmt.Errorf("engine: engine is nil")
	}
	if err := e.ValidateFrequency(hz); err != nil {
		return err
	}

	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	e.stopLocked()

	mode := source.ModeFor(demo)
	period := time.Duration(float64(time.Second) / hz)
	src := e.newSource(mode, period)
	ctx, cancel := context.WithCancel(context.Background())

	e.pubMu.Lock()
	e.running = true
	e.lastRaw = nil
	e.lastErr = ""
	e.rate.reset()
	e.mode = mode
	e.targetHz = hz
	st := e.nextLocked()
	st.Error = ""
	st.SampleHz = 0
	e.storeLocked(st)
	e.pubMu.Unlock()

	log.Infof("engine: start %s at %v Hz", mode, hz)
	if err := src.Start(ctx); err != nil {
		e.publishError(ctx, err)
	}

	e.cancel = cancel
	e.src = src
	e.done = make(chan struct{})
	go e.run(ctx, src, period, e.done)
	return nil
}

// Stop halts sampling and releases the source. It blocks until the loop has
// exited; no state is published after it returns. Idempotent.
func (e *Engine) Stop() {
	if e == nil {
		return
	}
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	e.stopLocked()
}

// Close is Stop.
func (e *Engine) Close() { e.Stop() }

func (e *Engine) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	if err := e.src.Stop(); err != nil {
		log.Warnf("engine: stop source: %v", err)
	}
	<-e.done

	e.pubMu.Lock()
	e.running = false
	e.lastRaw = nil
	st := e.nextLocked()
	st.SampleHz = 0
	e.storeLocked(st)
	e.pubMu.Unlock()

	log.Infof("engine: stopped")
	e.cancel = nil
	e.src = nil
	e.done = nil
}

func (e *Engine) run(ctx context.Context, src source.Source, period time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		smp, err := src.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, source.ErrSourceStopped) {
				continue
			}
			e.publishError(ctx, err)
			continue
		}
		e.publishSample(ctx, smp)
	}
}

func (e *Engine) publishSample(ctx context.Context, smp source.Sample) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if ctx.Err() != nil || !e.running {
		return
	}

	raw, err := smp.Q.Normalize()
	if err != nil {
		e.publishErrorLocked(err)
		return
	}
	q := e.cal.Apply(raw)
	ang, err := q.Angles()
	if err != nil {
		e.publishErrorLocked(err)
		return
	}
	e.lastRaw = &raw

	st := e.nextLocked()
	st.setAttitude(q, ang)
	st.SampleHz = e.rate.observe(st.UpdatedAt)
	st.Error = ""
	if e.lastErr != "" {
		log.Infof("engine: %s source recovered", e.mode)
		e.lastErr = ""
	}
	e.storeLocked(st)
}

func (e *Engine) publishError(ctx context.Context, err error) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if ctx.Err() != nil || !e.running {
		return
	}
	e.publishErrorLocked(err)
}

// publishErrorLocked keeps the previous attitude and records err.
func (e *Engine) publishErrorLocked(err error) {
	msg := err.Error()
	if msg != e.lastErr {
		log.Warnf("engine: %s source: %s", e.mode, msg)
		e.lastErr = msg
	}
	st := e.nextLocked()
	st.Error = msg
	st.SampleHz = e.rate.decayed(st.UpdatedAt)
	e.storeLocked(st)
}

// Calibrate makes the most recent raw attitude the zero reference and
// republishes the current attitude against it. It reports false (and does
// nothing) when the engine is idle or has not acquired a sample yet.
func (e *Engine) Calibrate() bool {
	if e == nil {
		return false
	}
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if !e.running || e.lastRaw == nil {
		log.Debugf("engine: calibrate ignored (no sample)")
		return false
	}
	raw := *e.lastRaw
	if !e.cal.Calibrate(raw) {
		return false
	}
	q := e.cal.Apply(raw)
	ang, err := q.Angles()
	if err != nil {
		return false
	}
	st := e.nextLocked()
	st.setAttitude(q, ang)
	e.storeLocked(st)
	log.Infof("engine: calibrated")
	return true
}

// ClearCalibration drops the zero reference and republishes the raw
// attitude when one is available. It reports whether a reference was set.
func (e *Engine) ClearCalibration() bool {
	if e == nil {
		return false
	}
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if _, ok := e.cal.Reference(); !ok {
		return false
	}
	e.cal.Reset()

	st := e.nextLocked()
	if e.running && e.lastRaw != nil {
		if ang, err := e.lastRaw.Angles(); err == nil {
			st.setAttitude(*e.lastRaw, ang)
		}
	}
	e.storeLocked(st)
	log.Infof("engine: calibration cleared")
	return true
}

// nextLocked returns a copy of the current state stamped for the next publish.
func (e *Engine) nextLocked() State {
	st := *e.state.Load()
	e.seq++
	st.Seq = e.seq
	st.UpdatedAt = time.Now()
	st.Running = e.running
	st.Mode = e.mode
	st.TargetHz = e.targetHz
	_, st.Calibrated = e.cal.Reference()
	return st
}

func (e *Engine) storeLocked(st State) {
	e.state.Store(&st)
	e.bc.Publish(st)
}

// State returns the latest published snapshot.
func (e *Engine) State() State {
	if e == nil {
		return *initialState()
	}
	return *e.state.Load()
}

func (e *Engine) Running() bool {
	if e == nil {
		return false
	}
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	return e.running
}

// Subscribe delivers every published state, latest-value first.
func (e *Engine) Subscribe(buffer int) (int, <-chan State) { return e.bc.Subscribe(buffer) }

func (e *Engine) Unsubscribe(id int) { e.bc.Unsubscribe(id) }

// Subscribers is the number of open subscriptions.
func (e *Engine) Subscribers() int {
	if e == nil {
		return 0
	}
	return e.bc.Subscribers()
}
