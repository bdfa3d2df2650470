package motion

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/attitude"
	"levelcube/internal/replay"
)

type ReplayConfig struct {
	Path  string
	Speed float64
	Loop  bool
}

// Replay plays back a recorded attitude log with its original timing.
type Replay struct {
	cfg ReplayConfig
}

func NewReplay(cfg ReplayConfig) *Replay {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &Replay{cfg: cfg}
}

func (p *Replay) Name() string { return "replay" }

func (p *Replay) Available() error {
	if p.cfg.Path == "" {
		return fmt.Errorf("%w: replay: no log path configured", ErrUnavailable)
	}
	if _, err := os.Stat(p.cfg.Path); err != nil {
		return fmt.Errorf("%w: replay: %v", ErrUnavailable, err)
	}
	return nil
}

var errReplayStopped = errors.New("replay stopped")

// stopSleeper is a replay.Sleeper that wakes early on stop.
type stopSleeper struct{ stop <-chan struct{} }

func (s stopSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
	case <-t.C:
	}
}

// Open reads the whole log up front. Recorded timing wins over interval.
func (p *Replay) Open(interval time.Duration) (Stream, error) {
	recs, err := replay.ReadFile(p.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: replay: %v", ErrUnavailable, err)
	}
	s := newChanStream(4)
	go func() {
		defer s.finish()
		err := replay.Play(recs, p.cfg.Speed, p.cfg.Loop, stopSleeper{stop: s.stopped()}, func(q attitude.Quaternion) error {
			if !s.deliver(Reading{Q: q, At: time.Now()}) {
				return errReplayStopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, errReplayStopped) {
			log.Warnf("replay: %s: %v", p.cfg.Path, err)
		}
	}()
	return s, nil
}
