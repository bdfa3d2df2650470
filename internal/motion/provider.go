// Package motion defines the platform motion capability the live signal
// source reads from, plus the concrete providers the daemon can be wired to.
package motion

import (
	"errors"
	"sync"
	"time"

	"levelcube/internal/attitude"
)

// ErrUnavailable is returned by Available/Open when the capability is missing
// or access is denied.
var ErrUnavailable = errors.New("motion capability unavailable")

// Reading is one attitude delivered by a provider.
type Reading struct {
	Q  attitude.Quaternion
	At time.Time
}

// Provider is the narrow seam to a platform motion capability.
type Provider interface {
	Name() string
	// Available reports nil when the capability exists and may be opened.
	Available() error
	// Open starts delivery at roughly the requested interval.
	Open(interval time.Duration) (Stream, error)
}

// Stream delivers readings until closed. Readings() is closed by the
// provider when delivery ends for any reason.
type Stream interface {
	Readings() <-chan Reading
	Close() error
}

// chanStream is the Stream most providers return: a goroutine feeding a
// buffered channel, stopped through stop.
type chanStream struct {
	ch       chan Reading
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	closeErr func() error
}

func newChanStream(buffer int) *chanStream {
	if buffer <= 0 {
		buffer = 1
	}
	return &chanStream{
		ch:   make(chan Reading, buffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *chanStream) Readings() <-chan Reading { return s.ch }

// deliver offers r without blocking; when the consumer lags the oldest
// queued reading is dropped.
func (s *chanStream) deliver(r Reading) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.ch <- r:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- r:
	default:
	}
	return true
}

func (s *chanStream) stopped() <-chan struct{} { return s.stop }

// finish is called by the producer goroutine when it exits.
func (s *chanStream) finish() {
	close(s.ch)
	close(s.done)
}

func (s *chanStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		if s.closeErr != nil {
			err = s.closeErr()
		}
		<-s.done
	})
	return err
}

// rateGate thins a faster reading clock down to one reading per interval.
// Each deadline is the previous deadline plus interval, not the last
// delivery plus interval. slack admits a reading that lands just before its
// deadline.
type rateGate struct {
	interval time.Duration
	slack    time.Duration
	next     time.Time
}

func newRateGate(interval, slack time.Duration) *rateGate {
	if slack < 0 || slack >= interval {
		slack = interval / 2
	}
	return &rateGate{interval: interval, slack: slack}
}

// due reports whether a reading stamped t should be delivered.
func (g *rateGate) due(t time.Time) bool {
	if g.interval <= 0 {
		return true
	}
	if !g.next.IsZero() && t.Before(g.next.Add(-g.slack)) {
		return false
	}
	// First reading, or a gap of more than one interval: restart the schedule.
	if g.next.IsZero() || t.Sub(g.next) >= g.interval {
		g.next = t
	}
	g.next = g.next.Add(g.interval)
	return true
}
