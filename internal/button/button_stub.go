//go:build !linux

package button

import (
	"fmt"
	"io"
	"time"
)

func openLine(cfg Config, edge func(ts time.Duration)) (io.Closer, error) {
	return nil, fmt.Errorf("gpio unsupported on this platform")
}
