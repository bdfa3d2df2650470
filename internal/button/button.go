// Package button maps a momentary push button on a GPIO line to Calibrate.
package button

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Chip is a gpiochip name or path, e.g. "gpiochip0".
	Chip string
	// Line is the offset on Chip. The button pulls it low when pressed.
	Line     int
	Debounce time.Duration
}

// Watcher calls onPress once per debounced press.
type Watcher struct {
	cfg     Config
	onPress func() bool
	open    func(cfg Config, edge func(ts time.Duration)) (io.Closer, error)

	mu   sync.Mutex
	last time.Duration
	seen bool
}

func New(cfg Config, onPress func() bool) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	return &Watcher{cfg: cfg, onPress: onPress, open: openLine}
}

// Run requests the line and serves presses until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	line, err := w.open(w.cfg, w.edge)
	if err != nil {
		return fmt.Errorf("button: %s line %d: %w", w.cfg.Chip, w.cfg.Line, err)
	}
	log.Infof("button: watching %s line %d", w.cfg.Chip, w.cfg.Line)
	<-ctx.Done()
	_ = line.Close()
	return ctx.Err()
}

// edge handles a falling edge with its kernel timestamp. The kernel debounce
// is not available on every chip, so bounces are also filtered here.
func (w *Watcher) edge(ts time.Duration) {
	w.mu.Lock()
	if w.seen && ts-w.last < w.cfg.Debounce {
		w.mu.Unlock()
		return
	}
	w.seen = true
	w.last = ts
	w.mu.Unlock()

	if w.onPress == nil {
		return
	}
	if w.onPress() {
		log.Infof("button: calibrated")
	} else {
		log.Infof("button: press ignored, engine has no attitude yet")
	}
}
