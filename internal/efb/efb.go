// Package efb streams the engine attitude to Electronic Flight Bag apps as
// GDL90 over UDP, the way Stratux-class receivers do.
package efb

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/engine"
	"levelcube/internal/gdl90"
	"levelcube/internal/udp"
)

type Config struct {
	Dest string
	// Interval paces the AHRS messages; heartbeats go out once per second.
	Interval   time.Duration
	DeviceName string
}

type frameSender interface {
	Send(payload []byte) error
	Dest() string
}

// Sender periodically converts the latest engine state into AHRS frames.
type Sender struct {
	cfg   Config
	state func() engine.State
	out   frameSender
	close func() error

	lastHeartbeat time.Time
	lastErr       string
}

// New dials cfg.Dest. state is polled every interval.
func New(cfg Config, state func() engine.State) (*Sender, error) {
	b, err := udp.NewBroadcaster(cfg.Dest)
	if err != nil {
		return nil, err
	}
	s := newSender(cfg, state, b)
	s.close = b.Close
	return s, nil
}

func newSender(cfg Config, state func() engine.State, out frameSender) *Sender {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	return &Sender{cfg: cfg, state: state, out: out}
}

// Run sends until ctx is done.
func (s *Sender) Run(ctx context.Context) error {
	log.Infof("efb: gdl90 to %s every %s", s.out.Dest(), s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer func() {
		if s.close != nil {
			_ = s.close()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(now.UTC())
		}
	}
}

func (s *Sender) tick(nowUTC time.Time) {
	frames := s.frames(nowUTC, s.state())
	var firstErr error
	for _, f := range frames {
		if err := s.out.Send(f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	msg := ""
	if firstErr != nil {
		msg = firstErr.Error()
	}
	if msg != s.lastErr {
		if msg != "" {
			log.Warnf("efb: send: %s", msg)
		} else {
			log.Infof("efb: send recovered")
		}
		s.lastErr = msg
	}
}

func (s *Sender) frames(nowUTC time.Time, st engine.State) [][]byte {
	att := Attitude(st)
	out := make([][]byte, 0, 5)
	if s.lastHeartbeat.IsZero() || nowUTC.Sub(s.lastHeartbeat) >= time.Second {
		s.lastHeartbeat = nowUTC
		out = append(out,
			gdl90.HeartbeatFrameAt(nowUTC, false, false),
			gdl90.StratuxHeartbeatFrame(false, att.Valid),
			gdl90.ForeFlightIDFrame(s.cfg.DeviceName, s.cfg.DeviceName),
		)
	}
	out = append(out, gdl90.ForeFlightAHRSFrame(att), gdl90.LevilAHRSFrame(att))
	return out
}

// Attitude maps an engine snapshot onto the GDL90 AHRS fields. A stopped or
// failing engine is reported as invalid rather than frozen.
func Attitude(st engine.State) gdl90.Attitude {
	valid := st.Valid && st.Running && st.Error == ""
	return gdl90.Attitude{
		Valid:        valid,
		RollDeg:      st.RollDeg,
		PitchDeg:     st.PitchDeg,
		HeadingDeg:   st.YawDeg,
		HeadingValid: valid,
	}
}
