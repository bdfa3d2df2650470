package motion

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/fusion"
	"levelcube/internal/i2c"
	"levelcube/internal/sensors/icm20948"
)

// IMUConfig selects the I2C bus and sensor setup for the ICM-20948 provider.
type IMUConfig struct {
	Bus int
	// Addr 0 probes both strap addresses.
	Addr   uint16
	Sensor icm20948.Config
	// MaxReadErrors ends the stream after this many consecutive failures.
	MaxReadErrors int
}

type imuReader interface {
	Read() (icm20948.Sample, error)
}

// IMU fuses ICM-20948 accel/gyro into attitude with a Mahony filter.
type IMU struct {
	cfg IMUConfig

	// Replaced in tests.
	open func(cfg IMUConfig) (imuReader, func() error, error)
	stat func(path string) (os.FileInfo, error)
}

func NewIMU(cfg IMUConfig) *IMU {
	if cfg.MaxReadErrors <= 0 {
		cfg.MaxReadErrors = 10
	}
	return &IMU{cfg: cfg, open: openICM20948, stat: os.Stat}
}

func (p *IMU) Name() string { return "icm20948" }

func (p *IMU) Available() error {
	path := fmt.Sprintf("/dev/i2c-%d", p.cfg.Bus)
	if _, err := p.stat(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func openICM20948(cfg IMUConfig) (imuReader, func() error, error) {
	bus, err := i2c.OpenBus(cfg.Bus)
	if err != nil {
		return nil, nil, err
	}
	addrs := icm20948.Addresses()
	if cfg.Addr != 0 {
		addrs = []uint16{cfg.Addr}
	}
	var lastErr error
	for _, addr := range addrs {
		dev, err := icm20948.New(bus.Dev(addr), cfg.Sensor)
		if err != nil {
			lastErr = err
			continue
		}
		log.Infof("icm20948: found at 0x%02X on %s (%.1f Hz)", addr, bus.Path(), dev.SampleRate())
		return dev, bus.Close, nil
	}
	_ = bus.Close()
	return nil, nil, lastErr
}

func (p *IMU) Open(interval time.Duration) (Stream, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("imu: interval must be > 0")
	}
	cfg := p.cfg
	// Run the sensor and filter at least at 100 Hz regardless of delivery rate.
	if want := float64(time.Second) / float64(interval); cfg.Sensor.SampleRateHz < want {
		cfg.Sensor.SampleRateHz = want
	}
	if cfg.Sensor.SampleRateHz < 100 {
		cfg.Sensor.SampleRateHz = 100
	}
	dev, closeDev, err := p.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: icm20948: %v", ErrUnavailable, err)
	}

	fusePeriod := time.Duration(float64(time.Second) / cfg.Sensor.SampleRateHz)
	s := newChanStream(4)
	s.closeErr = closeDev
	go p.run(s, dev, fusePeriod, interval)
	return s, nil
}

func (p *IMU) run(s *chanStream, dev imuReader, fusePeriod, interval time.Duration) {
	defer s.finish()

	filter := fusion.NewMahony()
	ticker := time.NewTicker(fusePeriod)
	defer ticker.Stop()

	var last time.Time
	gate := newRateGate(interval, fusePeriod/2)
	errs := 0
	for {
		select {
		case <-s.stopped():
			return
		case <-ticker.C:
		}

		smp, err := dev.Read()
		if err != nil {
			errs++
			if errs == 1 || errs == p.cfg.MaxReadErrors {
				log.Warnf("icm20948: read failed (%d consecutive): %v", errs, err)
			}
			if errs >= p.cfg.MaxReadErrors {
				return
			}
			continue
		}
		errs = 0

		dt := fusePeriod.Seconds()
		if !last.IsZero() {
			dt = smp.Time.Sub(last).Seconds()
		}
		last = smp.Time
		gx, gy, gz := smp.GyroRad()
		q := filter.Update(gx, gy, gz, smp.Ax, smp.Ay, smp.Az, dt)

		if !gate.due(smp.Time) {
			continue
		}
		if !s.deliver(Reading{Q: q, At: smp.Time}) {
			return
		}
	}
}
