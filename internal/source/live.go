package source

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/motion"
)

// LiveConfig tunes a Live source.
type LiveConfig struct {
	// Interval is the delivery interval requested from the provider.
	Interval time.Duration
	// StallTimeout turns a silent provider into ErrSensorUnavailable.
	// 0 disables stall detection.
	StallTimeout time.Duration
}

// Live reads attitude from a motion provider. A background pump keeps the
// most recent reading; Sample returns it when it is newer than the last one
// handed out, otherwise it waits for the next.
type Live struct {
	provider motion.Provider
	cfg      LiveConfig
	now      func() time.Time

	mu       sync.Mutex
	stream   motion.Stream
	pumpDone chan struct{}
	latest   Sample
	seq      uint64
	consumed uint64
	// lastAt is when the last reading arrived, or when the stream opened.
	lastAt  time.Time
	notify  chan struct{}
	lostErr error
	stopped bool
}

func NewLive(p motion.Provider, cfg LiveConfig) *Live {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / 60
	}
	return &Live{
		provider: p,
		cfg:      cfg,
		now:      time.Now,
		notify:   make(chan struct{}),
	}
}

func (l *Live) Mode() Mode { return ModeLive }

// Start opens the provider. On failure the error is returned and the next
// Sample retries.
func (l *Live) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = false
	return l.openLocked()
}

func (l *Live) openLocked() error {
	if l.stream != nil {
		return nil
	}
	if l.provider == nil {
		return unavailable("no motion provider configured")
	}
	if err := l.provider.Available(); err != nil {
		return unavailable("%s: %v", l.provider.Name(), err)
	}
	st, err := l.provider.Open(l.cfg.Interval)
	if err != nil {
		return unavailable("%s: %v", l.provider.Name(), err)
	}
	l.stream = st
	l.lostErr = nil
	l.lastAt = l.now()
	l.pumpDone = make(chan struct{})
	go l.pump(st, l.pumpDone)
	log.Infof("source: %s opened (interval %s)", l.provider.Name(), l.cfg.Interval)
	return nil
}

func (l *Live) pump(st motion.Stream, done chan struct{}) {
	defer close(done)
	for r := range st.Readings() {
		l.mu.Lock()
		if l.stream != st {
			l.mu.Unlock()
			return
		}
		l.latest = Sample{Q: r.Q, At: r.At}
		l.seq++
		l.lastAt = l.now()
		l.wakeLocked()
		l.mu.Unlock()
	}

	// Provider ended delivery on its own.
	l.mu.Lock()
	if l.stream == st {
		l.stream = nil
		l.lostErr = unavailable("%s: stream ended", l.provider.Name())
		l.wakeLocked()
	}
	l.mu.Unlock()
	_ = st.Close()
}

func (l *Live) wakeLocked() {
	close(l.notify)
	l.notify = make(chan struct{})
}

func (l *Live) Sample(ctx context.Context) (Sample, error) {
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return Sample{}, ErrSourceStopped
		}
		if l.seq > l.consumed {
			l.consumed = l.seq
			s := l.latest
			l.mu.Unlock()
			return s, nil
		}
		if l.lostErr != nil {
			err := l.lostErr
			l.lostErr = nil
			l.mu.Unlock()
			return Sample{}, err
		}
		if l.stream == nil {
			err := l.openLocked()
			if err != nil {
				l.mu.Unlock()
				return Sample{}, err
			}
		}
		wait := l.notify
		var stall <-chan time.Time
		var timer *time.Timer
		if l.cfg.StallTimeout > 0 {
			left := l.cfg.StallTimeout - l.now().Sub(l.lastAt)
			if left <= 0 {
				// Restart the window so the error repeats once per timeout.
				l.lastAt = l.now()
				l.mu.Unlock()
				return Sample{}, unavailable("%s: no readings for %s", l.provider.Name(), l.cfg.StallTimeout)
			}
			timer = time.NewTimer(left)
			stall = timer.C
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Sample{}, ctx.Err()
		case <-wait:
		case <-stall:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Stop closes the provider stream and waits for the pump to exit.
func (l *Live) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	st := l.stream
	done := l.pumpDone
	l.stream = nil
	l.wakeLocked()
	l.mu.Unlock()

	if st == nil {
		return nil
	}
	err := st.Close()
	if done != nil {
		<-done
	}
	return err
}
