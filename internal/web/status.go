package web

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"levelcube/internal/engine"
)

// Status carries daemon facts that are not part of the engine state.
type Status struct {
	startUnixNano int64
	provider      atomic.Value // string
	outputs       atomic.Value // map[string]string
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.provider.Store("")
	s.outputs.Store(map[string]string{})
	return s
}

// SetStatic records the motion provider name and the enabled outputs
// (e.g. "gdl90" -> "192.168.10.255:4000").
func (s *Status) SetStatic(provider string, outputs map[string]string) {
	if s == nil {
		return
	}
	if provider != "" {
		s.provider.Store(provider)
	}
	if outputs != nil {
		s.outputs.Store(outputs)
	}
}

type StatusSnapshot struct {
	Service   string            `json:"service"`
	NowUTC    string            `json:"now_utc"`
	UptimeSec int64             `json:"uptime_sec"`
	GoVersion string            `json:"go_version"`
	Version   string            `json:"version,omitempty"`
	Commit    string            `json:"commit,omitempty"`
	Provider  string            `json:"provider"`
	Outputs   map[string]string `json:"outputs"`

	// StreamClients counts open /api/stream connections.
	StreamClients int          `json:"stream_clients"`
	State         engine.State `json:"state"`
}

func (s *Status) Snapshot(nowUTC time.Time, st engine.State, streamClients int) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	if s == nil {
		s = NewStatus()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:   "levelcube",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		GoVersion: runtime.Version(),
		Provider:  s.provider.Load().(string),
		Outputs:   s.outputs.Load().(map[string]string),

		StreamClients: streamClients,
		State:         st,
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		snap.Version = bi.Main.Version
		for _, kv := range bi.Settings {
			if kv.Key == "vcs.revision" {
				snap.Commit = kv.Value
			}
		}
	}
	return snap
}
