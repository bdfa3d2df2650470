package efb

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"levelcube/internal/engine"
	"levelcube/internal/gdl90"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *fakeSender) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, append([]byte(nil), p...))
	return nil
}

func (f *fakeSender) Dest() string { return "fake:4000" }

func (f *fakeSender) ids() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, fr := range f.frames {
		msg, _, err := gdl90.Unframe(fr)
		if err != nil {
			continue
		}
		out = append(out, msg[0])
	}
	return out
}

func TestAttitude_Validity(t *testing.T) {
	st := engine.State{Valid: true, Running: true, RollDeg: 3, PitchDeg: 4, YawDeg: -10}
	a := Attitude(st)
	if !a.Valid || !a.HeadingValid || a.RollDeg != 3 || a.PitchDeg != 4 || a.HeadingDeg != -10 {
		t.Fatalf("att=%+v", a)
	}
	st.Error = "sensor unavailable"
	if Attitude(st).Valid {
		t.Fatalf("failing engine reported valid")
	}
	st.Error = ""
	st.Running = false
	if Attitude(st).Valid {
		t.Fatalf("stopped engine reported valid")
	}
}

func TestSender_HeartbeatOncePerSecond(t *testing.T) {
	out := &fakeSender{}
	s := newSender(Config{DeviceName: "cube"}, func() engine.State {
		return engine.State{Valid: true, Running: true}
	}, out)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.tick(base)
	s.tick(base.Add(200 * time.Millisecond))
	s.tick(base.Add(time.Second))

	got := out.ids()
	want := []byte{
		0x00, 0xCC, 0x65, 0x65, 0x4C, // heartbeat set + AHRS pair
		0x65, 0x4C,
		0x00, 0xCC, 0x65, 0x65, 0x4C,
	}
	if string(got) != string(want) {
		t.Fatalf("ids=% X want % X", got, want)
	}
}

func TestSender_AHRSFrameCarriesState(t *testing.T) {
	out := &fakeSender{}
	s := newSender(Config{}, func() engine.State {
		return engine.State{Valid: true, Running: true, RollDeg: 10, PitchDeg: -5, YawDeg: 90}
	}, out)
	s.lastHeartbeat = time.Now().UTC()
	s.tick(s.lastHeartbeat)

	msg, ok, err := gdl90.Unframe(out.frames[0])
	if err != nil || !ok {
		t.Fatalf("unframe ok=%v err=%v", ok, err)
	}
	if msg[0] != 0x65 || msg[1] != 0x01 {
		t.Fatalf("msg=% X", msg)
	}
	roll := int16(uint16(msg[2])<<8 | uint16(msg[3]))
	pitch := int16(uint16(msg[4])<<8 | uint16(msg[5]))
	hdg := uint16(msg[6])<<8 | uint16(msg[7])
	if roll != 100 || pitch != -50 || hdg != 900 {
		t.Fatalf("roll=%d pitch=%d hdg=%d", roll, pitch, hdg)
	}
}

func TestSender_SendErrorsDoNotStop(t *testing.T) {
	out := &fakeSender{err: errors.New("network unreachable")}
	s := newSender(Config{}, func() engine.State { return engine.State{} }, out)
	s.tick(time.Now().UTC())
	if s.lastErr == "" {
		t.Fatalf("expected error recorded")
	}
	out.mu.Lock()
	out.err = nil
	out.mu.Unlock()
	s.tick(time.Now().UTC())
	if s.lastErr != "" {
		t.Fatalf("lastErr=%q want cleared", s.lastErr)
	}
}

func TestSender_RunStopsOnCancel(t *testing.T) {
	out := &fakeSender{}
	s := newSender(Config{Interval: 10 * time.Millisecond}, func() engine.State { return engine.State{} }, out)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if len(out.ids()) == 0 {
		t.Fatalf("nothing sent")
	}
}

func TestListen_DecodesSenderOverLoopback(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	s, err := New(Config{Dest: pc.LocalAddr().String(), DeviceName: "cube"}, func() engine.State {
		return engine.State{Valid: true, Running: true, RollDeg: 7.5, PitchDeg: -2, YawDeg: 45}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan gdl90.Attitude, 16)
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, pc, func(a gdl90.Attitude) {
			select {
			case got <- a:
			default:
			}
		})
	}()

	s.tick(time.Now().UTC())
	select {
	case a := <-got:
		want := gdl90.Attitude{Valid: true, RollDeg: 7.5, PitchDeg: -2, HeadingDeg: 45, HeadingValid: true}
		if a != want {
			t.Fatalf("got=%+v want=%+v", a, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no AHRS report received")
	}
	_ = s.close()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Listen err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Listen did not return")
	}
}
