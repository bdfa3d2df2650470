package motion

import (
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const defaultHI229Baud = 115200

type HI229Config struct {
	Device string
	Baud   int
}

// HI229 reads on-board fused quaternions from a HI229/CH-protocol serial IMU.
type HI229 struct {
	cfg HI229Config

	openPort func(cfg HI229Config) (io.ReadCloser, error)
	stat     func(path string) (os.FileInfo, error)
}

func NewHI229(cfg HI229Config) *HI229 {
	if cfg.Baud <= 0 {
		cfg.Baud = defaultHI229Baud
	}
	return &HI229{cfg: cfg, openPort: openSerial, stat: os.Stat}
}

func openSerial(cfg HI229Config) (io.ReadCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	_ = port.Flush()
	return port, nil
}

func (p *HI229) Name() string { return "hi229" }

func (p *HI229) Available() error {
	if p.cfg.Device == "" {
		return fmt.Errorf("%w: hi229: no serial device configured", ErrUnavailable)
	}
	if _, err := p.stat(p.cfg.Device); err != nil {
		return fmt.Errorf("%w: hi229: %v", ErrUnavailable, err)
	}
	return nil
}

// Open starts reading. The device streams at its own configured rate;
// interval only throttles delivery.
func (p *HI229) Open(interval time.Duration) (Stream, error) {
	port, err := p.openPort(p.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: hi229 %s: %v", ErrUnavailable, p.cfg.Device, err)
	}
	s := newChanStream(4)
	s.closeErr = port.Close
	go p.run(s, port, interval)
	return s, nil
}

func (p *HI229) run(s *chanStream, port io.Reader, interval time.Duration) {
	defer s.finish()

	var dec chDecoder
	gate := newRateGate(interval, interval/2)
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		select {
		case <-s.stopped():
			return
		default:
		}
		if err == io.EOF && n == 0 {
			// Read timeout on a silent port.
			continue
		}
		if err != nil {
			log.Warnf("hi229: read %s: %v", p.cfg.Device, err)
			return
		}
		for _, b := range buf[:n] {
			q, ok := dec.Feed(b)
			if !ok {
				continue
			}
			now := time.Now()
			if !gate.due(now) {
				continue
			}
			if !s.deliver(Reading{Q: q, At: now}) {
				return
			}
		}
	}
}
