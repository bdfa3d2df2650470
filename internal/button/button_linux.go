//go:build linux

package button

import (
	"io"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

func openLine(cfg Config, edge func(ts time.Duration)) (io.Closer, error) {
	return gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithDebounce(cfg.Debounce),
		gpiocdev.WithConsumer("levelcube-button"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventFallingEdge {
				edge(evt.Timestamp)
			}
		}),
	)
}
