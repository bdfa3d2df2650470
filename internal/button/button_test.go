package button

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestEdge_Debounces(t *testing.T) {
	presses := 0
	w := New(Config{Debounce: 50 * time.Millisecond}, func() bool { presses++; return true })

	w.edge(1 * time.Second)
	w.edge(1*time.Second + 10*time.Millisecond) // bounce
	w.edge(1*time.Second + 49*time.Millisecond) // bounce
	w.edge(1*time.Second + 120*time.Millisecond)
	if presses != 2 {
		t.Fatalf("presses=%d want 2", presses)
	}
}

func TestRun_OpensAndClosesLine(t *testing.T) {
	calls := 0
	w := New(Config{Chip: "gpiochip0", Line: 17}, func() bool { calls++; return false })
	closed := make(chan struct{})
	var gotCfg Config
	w.open = func(cfg Config, edge func(time.Duration)) (io.Closer, error) {
		gotCfg = cfg
		edge(time.Second)
		return closerFunc(func() error { close(closed); return nil }), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	select {
	case <-closed:
	default:
		t.Fatalf("line not closed")
	}
	if gotCfg.Line != 17 || gotCfg.Debounce != 50*time.Millisecond {
		t.Fatalf("cfg=%+v", gotCfg)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestRun_OpenError(t *testing.T) {
	w := New(Config{Chip: "gpiochip9", Line: 4}, nil)
	w.open = func(Config, func(time.Duration)) (io.Closer, error) {
		return nil, errors.New("no such chip")
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
