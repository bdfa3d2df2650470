package motion

import (
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/attitude"
)

// Recorder receives every reading a Tee passes through.
type Recorder interface {
	WriteSample(at time.Time, q attitude.Quaternion) error
}

// Tee wraps a provider and records its readings. The recorder is not closed
// by the Tee.
func Tee(p Provider, rec Recorder) Provider {
	return &tee{inner: p, rec: rec}
}

type tee struct {
	inner Provider
	rec   Recorder
}

func (t *tee) Name() string     { return t.inner.Name() + "+record" }
func (t *tee) Available() error { return t.inner.Available() }

func (t *tee) Open(interval time.Duration) (Stream, error) {
	in, err := t.inner.Open(interval)
	if err != nil {
		return nil, err
	}
	s := newChanStream(4)
	s.closeErr = in.Close
	go func() {
		defer s.finish()
		failed := false
		for {
			select {
			case <-s.stopped():
				return
			case r, ok := <-in.Readings():
				if !ok {
					return
				}
				if err := t.rec.WriteSample(r.At, r.Q); err != nil && !failed {
					failed = true
					log.Warnf("record: %v", err)
				}
				if !s.deliver(r) {
					return
				}
			}
		}
	}()
	return s, nil
}
