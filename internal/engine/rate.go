package engine

import "time"

// rateMeter reports 1 / (exponentially smoothed inter-publish interval).
type rateMeter struct {
	alpha float64
	last  time.Time
	// dt is the smoothed interval in seconds; 0 until two publishes.
	dt float64
}

func (m *rateMeter) reset() {
	m.last = time.Time{}
	m.dt = 0
}

// observe records a publish at now and returns the updated rate.
func (m *rateMeter) observe(now time.Time) float64 {
	if m.last.IsZero() {
		m.last = now
		return 0
	}
	d := now.Sub(m.last).Seconds()
	m.last = now
	if d > 0 {
		if m.dt == 0 {
			m.dt = d
		} else {
			m.dt += m.alpha * (d - m.dt)
		}
	}
	return m.rate()
}

func (m *rateMeter) rate() float64 {
	if m.dt <= 0 {
		return 0
	}
	return 1 / m.dt
}

// decayed is the rate as seen at now without a new publish: once the gap
// since the last publish exceeds the smoothed interval, it dominates.
func (m *rateMeter) decayed(now time.Time) float64 {
	if m.dt <= 0 || m.last.IsZero() {
		return 0
	}
	gap := now.Sub(m.last).Seconds()
	if gap > m.dt {
		return 1 / gap
	}
	return 1 / m.dt
}
