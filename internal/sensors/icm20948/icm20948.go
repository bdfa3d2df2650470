package icm20948

import (
	"fmt"
	"math"
	"time"

	"levelcube/internal/i2c"
)

var sleep = time.Sleep

// ICM-20948 accel/gyro driver. Only the 6-axis block is used; the AK09916
// magnetometer behind the auxiliary bus is left untouched.

const (
	addrDefault = 0x68
	addrAlt     = 0x69

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	regPwrMgmt2   = 0x07
	bitReset      = 0x80
	clkAuto       = 0x01
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D // accel (6) + gyro (6) contiguous

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig1  = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	// Internal output data rate the dividers apply to.
	baseRateHz = 1125.0
)

// Config selects full-scale ranges and the output data rate.
type Config struct {
	// SampleRateHz is clamped to [5, 1125]. 0 means 100.
	SampleRateHz float64
	// AccelRangeG: 2, 4, 8 or 16. 0 means 4.
	AccelRangeG int
	// GyroRangeDPS: 250, 500, 1000 or 2000. 0 means 500.
	GyroRangeDPS int
}

func (c Config) withDefaults() Config {
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = 100
	}
	c.SampleRateHz = math.Max(5, math.Min(baseRateHz, c.SampleRateHz))
	if c.AccelRangeG == 0 {
		c.AccelRangeG = 4
	}
	if c.GyroRangeDPS == 0 {
		c.GyroRangeDPS = 500
	}
	return c
}

// Sample is one accel/gyro reading in body axes.
type Sample struct {
	Time time.Time
	// Accel in g.
	Ax, Ay, Az float64
	// Gyro in deg/s.
	Gx, Gy, Gz float64
}

// GyroRad returns the gyro rates in rad/s.
func (s Sample) GyroRad() (float64, float64, float64) {
	const k = math.Pi / 180
	return s.Gx * k, s.Gy * k, s.Gz * k
}

type Device struct {
	dev regIO
	cfg Config

	curBank    byte
	scaleAccel float64
	scaleGyro  float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Addresses lists the two strap-selectable addresses, default first.
func Addresses() []uint16 { return []uint16{addrDefault, addrAlt} }

func New(dev *i2c.Dev, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	cfg = cfg.withDefaults()
	accelBits, err := accelRangeBits(cfg.AccelRangeG)
	if err != nil {
		return nil, err
	}
	gyroBits, err := gyroRangeBits(cfg.GyroRangeDPS)
	if err != nil {
		return nil, err
	}

	d := &Device{dev: dev, cfg: cfg, curBank: 0xFF}
	if err := d.setBank(0); err != nil {
		return nil, err
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(accelBits, gyroBits); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init(accelBits, gyroBits byte) error {
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns the part to bank 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	// All accel and gyro axes on.
	if err := d.dev.WriteReg(regPwrMgmt2, 0x00); err != nil {
		return fmt.Errorf("icm20948: enable axes failed: %w", err)
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.setBank(bank2); err != nil {
		return err
	}
	div := rateDivider(d.cfg.SampleRateHz)
	if err := d.dev.WriteReg(regGyroSmplrt, div); err != nil {
		return fmt.Errorf("icm20948: gyro rate failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelSmplrt2, div); err != nil {
		return fmt.Errorf("icm20948: accel rate failed: %w", err)
	}
	// FS_SEL in bits [2:1], DLPF enabled (bit 0).
	if err := d.dev.WriteReg(regGyroConfig1, gyroBits<<1|0x01); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, accelBits<<1|0x01); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = float64(d.cfg.AccelRangeG) / 32768.0
	d.scaleGyro = float64(d.cfg.GyroRangeDPS) / 32768.0
	return nil
}

func rateDivider(hz float64) byte {
	div := math.Round(baseRateHz/hz) - 1
	if div < 0 {
		div = 0
	}
	if div > 255 {
		div = 255
	}
	return byte(div)
}

func accelRangeBits(g int) (byte, error) {
	switch g {
	case 2:
		return 0, nil
	case 4:
		return 1, nil
	case 8:
		return 2, nil
	case 16:
		return 3, nil
	}
	return 0, fmt.Errorf("icm20948: unsupported accel range %dg", g)
}

func gyroRangeBits(dps int) (byte, error) {
	switch dps {
	case 250:
		return 0, nil
	case 500:
		return 1, nil
	case 1000:
		return 2, nil
	case 2000:
		return 3, nil
	}
	return 0, fmt.Errorf("icm20948: unsupported gyro range %ddps", dps)
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// SampleRate is the configured output data rate in Hz.
func (d *Device) SampleRate() float64 {
	if d == nil {
		return 0
	}
	return baseRateHz / float64(int(rateDivider(d.cfg.SampleRateHz))+1)
}

func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	be := func(i int) float64 { return float64(int16(uint16(buf[i])<<8 | uint16(buf[i+1]))) }

	return Sample{
		Time: time.Now(),
		Ax:   be(0) * d.scaleAccel,
		Ay:   be(2) * d.scaleAccel,
		Az:   be(4) * d.scaleAccel,
		Gx:   be(6) * d.scaleGyro,
		Gy:   be(8) * d.scaleGyro,
		Gz:   be(10) * d.scaleGyro,
	}, nil
}
