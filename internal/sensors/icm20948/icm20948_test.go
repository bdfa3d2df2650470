package icm20948

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeI2C) wrote(reg, val byte) bool {
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	if _, err := newWithIO(f, Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_RejectsUnsupportedRanges(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	if _, err := newWithIO(f, Config{AccelRangeG: 3}); err == nil {
		t.Fatalf("expected accel range error")
	}
	if _, err := newWithIO(f, Config{GyroRangeDPS: 300}); err == nil {
		t.Fatalf("expected gyro range error")
	}
}

func TestNew_WritesExpectedInitRegisters(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	d, err := newWithIO(f, Config{SampleRateHz: 112.5, AccelRangeG: 8, GyroRangeDPS: 1000})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	if !f.wrote(regPwrMgmt1, bitReset) {
		t.Fatalf("expected reset write to PWR_MGMT_1")
	}
	if !f.wrote(regPwrMgmt1, clkAuto) {
		t.Fatalf("expected wake write to PWR_MGMT_1")
	}
	if !f.wrote(regBankSel, bank2<<4) {
		t.Fatalf("expected bank2 select write")
	}
	// 1125/112.5 - 1 = 9
	if !f.wrote(regGyroSmplrt, 9) || !f.wrote(regAccelSmplrt2, 9) {
		t.Fatalf("expected divider 9, writes=%v", f.writes)
	}
	if !f.wrote(regAccelConfig, 2<<1|0x01) {
		t.Fatalf("expected accel 8g config")
	}
	if !f.wrote(regGyroConfig1, 2<<1|0x01) {
		t.Fatalf("expected gyro 1000dps config")
	}
	if got := d.SampleRate(); math.Abs(got-112.5) > 1e-9 {
		t.Fatalf("SampleRate=%v want 112.5", got)
	}
	// Left in bank 0 for reads.
	if last := f.writes[len(f.writes)-1]; last.reg != regBankSel || last.val != 0 {
		t.Fatalf("last write=%+v want bank 0 select", last)
	}
}

func TestRead_ScalesAccelAndGyro(t *testing.T) {
	noSleep(t)
	// ax=16384 -> 2g at 4g full-scale; gx=16384 -> 250 dps at 500 dps full-scale.
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	f.regs[regAccelXoutH] = []byte{
		0x40, 0x00, // ax
		0x00, 0x00, // ay
		0xC0, 0x00, // az = -16384
		0x40, 0x00, // gx
		0x00, 0x00, // gy
		0xC0, 0x00, // gz = -16384
	}

	d, err := newWithIO(f, Config{})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if math.Abs(s.Ax-2) > 0.01 {
		t.Fatalf("Ax=%v want ~2.0", s.Ax)
	}
	if math.Abs(s.Az+2) > 0.01 {
		t.Fatalf("Az=%v want ~-2.0", s.Az)
	}
	if math.Abs(s.Gx-250) > 0.1 {
		t.Fatalf("Gx=%v want ~250", s.Gx)
	}
	if math.Abs(s.Gz+250) > 0.1 {
		t.Fatalf("Gz=%v want ~-250", s.Gz)
	}
	gx, _, _ := s.GyroRad()
	if math.Abs(gx-250*math.Pi/180) > 1e-3 {
		t.Fatalf("GyroRad x=%v", gx)
	}
}

func TestRead_PropagatesBusError(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	d, err := newWithIO(f, Config{})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	busErr := errors.New("nack")
	f.readErrFor = map[byte]error{regAccelXoutH: busErr}
	if _, err := d.Read(); !errors.Is(err, busErr) {
		t.Fatalf("err=%v want %v", err, busErr)
	}
}
