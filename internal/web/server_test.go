package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"levelcube/internal/engine"
	"levelcube/internal/source"
)

type fakeController struct {
	mu        sync.Mutex
	st        engine.State
	startHz   float64
	startDemo bool
	starts    int
	stops     int
	calOK     bool
	bc        *engine.Broadcaster
}

func newFakeController() *fakeController {
	return &fakeController{st: engine.State{Qw: 1}, bc: engine.NewBroadcaster()}
}

func (f *fakeController) Start(hz float64, demo bool) error {
	if hz <= 0 || hz > 120 {
		return fmt.Errorf("%w: %v Hz", engine.ErrInvalidFrequency, hz)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.startHz, f.startDemo = hz, demo
	f.st.Running = true
	f.st.TargetHz = hz
	f.st.Mode = source.ModeFor(demo)
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.st.Running = false
}

func (f *fakeController) Calibrate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calOK {
		f.st.Calibrated = true
	}
	return f.calOK
}

func (f *fakeController) ClearCalibration() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.st.Calibrated
	f.st.Calibrated = false
	return was
}

func (f *fakeController) Subscribers() int { return f.bc.Subscribers() }

func (f *fakeController) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeController) Subscribe(buffer int) (int, <-chan engine.State) {
	return f.bc.Subscribe(buffer)
}

func (f *fakeController) Unsubscribe(id int) { f.bc.Unsubscribe(id) }

func (f *fakeController) lastStart() (hz float64, demo bool, starts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startHz, f.startDemo, f.starts
}

func (f *fakeController) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeController) allowCalibrate() {
	f.mu.Lock()
	f.calOK = true
	f.mu.Unlock()
}

func newTestServer(t *testing.T, ctl Controller, logs *LogBuffer) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(Handler(ctl, Options{DefaultHz: 50, Status: NewStatus(), Logs: logs}))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIState(t *testing.T) {
	ctl := newFakeController()
	ctl.st.RollDeg = 12.5
	ts := newTestServer(t, ctl, nil)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	for _, k := range []string{"qx", "qy", "qz", "qw", "roll_deg", "pitch_deg", "yaw_deg", "sample_hz"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %v", k, m)
		}
	}
	if m["roll_deg"].(float64) != 12.5 {
		t.Fatalf("roll_deg=%v", m["roll_deg"])
	}
	if _, ok := m["error"]; ok {
		t.Fatalf("error should be omitted when empty")
	}
}

func TestAPIState_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, newFakeController(), nil)
	resp := post(t, ts.URL+"/api/state", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodGet {
		t.Fatalf("Allow=%q", got)
	}
}

func TestAPIStart(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)

	resp := post(t, ts.URL+"/api/start", `{"hz":30,"demo":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if hz, demo, _ := ctl.lastStart(); hz != 30 || !demo {
		t.Fatalf("hz=%v demo=%v", hz, demo)
	}
	var st engine.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Running || st.Mode != source.ModeDemo {
		t.Fatalf("state=%+v", st)
	}
}

func TestAPIStart_DefaultHz(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)
	if resp := post(t, ts.URL+"/api/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if hz, demo, _ := ctl.lastStart(); hz != 50 || demo {
		t.Fatalf("hz=%v demo=%v want 50 live", hz, demo)
	}
}

func TestAPIStart_InvalidFrequency(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)
	resp := post(t, ts.URL+"/api/start", `{"hz":121}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "invalid frequency") {
		t.Fatalf("body=%q", b)
	}
	if _, _, n := ctl.lastStart(); n != 0 {
		t.Fatalf("starts=%d", n)
	}
}

func TestAPIStart_BadJSON(t *testing.T) {
	ts := newTestServer(t, newFakeController(), nil)
	if resp := post(t, ts.URL+"/api/start", `{"hz":`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPIStop(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)
	post(t, ts.URL+"/api/start", `{"hz":60}`)
	if resp := post(t, ts.URL+"/api/stop", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if n := ctl.stopCount(); n != 1 || ctl.State().Running {
		t.Fatalf("stops=%d running=%v", n, ctl.State().Running)
	}
}

func TestAPICalibrate(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)

	if resp := post(t, ts.URL+"/api/calibrate", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("idle calibrate status=%d want 409", resp.StatusCode)
	}
	ctl.allowCalibrate()
	resp := post(t, ts.URL+"/api/calibrate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var st engine.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Calibrated {
		t.Fatalf("expected calibrated")
	}

	resp = do(t, http.MethodDelete, ts.URL+"/api/calibrate")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status=%d want 200", resp.StatusCode)
	}
	if ctl.State().Calibrated {
		t.Fatalf("calibration not cleared")
	}
	if resp := do(t, http.MethodDelete, ts.URL+"/api/calibrate"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second clear status=%d want 409", resp.StatusCode)
	}
	if resp := do(t, http.MethodPut, ts.URL+"/api/calibrate"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("put status=%d want 405", resp.StatusCode)
	}
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIStatus(t *testing.T) {
	ctl := newFakeController()
	st := NewStatus()
	st.SetStatic("icm20948", map[string]string{"gdl90": "127.0.0.1:4000"})
	ts := httptest.NewServer(Handler(ctl, Options{Status: st}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "levelcube" || snap.Provider != "icm20948" {
		t.Fatalf("snap=%+v", snap)
	}
	if snap.Outputs["gdl90"] != "127.0.0.1:4000" {
		t.Fatalf("outputs=%v", snap.Outputs)
	}
	if snap.StreamClients != 0 {
		t.Fatalf("stream_clients=%d want 0", snap.StreamClients)
	}

	id, _ := ctl.Subscribe(1)
	defer ctl.Unsubscribe(id)
	resp2, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.StreamClients != 1 {
		t.Fatalf("stream_clients=%d want 1", snap.StreamClients)
	}
}

func TestRootPage(t *testing.T) {
	ts := newTestServer(t, newFakeController(), nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "/api/stream") {
		t.Fatalf("page does not follow the stream")
	}

	resp2, err := http.Get(ts.URL + "/api/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown api status=%d want 404", resp2.StatusCode)
	}

	for _, p := range []string{"/favicon.ico", "/index.html", "/x/y"} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("get %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status=%d want 404", p, resp.StatusCode)
		}
	}
}

func TestAPILogs(t *testing.T) {
	logs := NewLogBuffer(10)
	_, _ = logs.Write([]byte("engine: start\nweb: listening\nengine: stop"))
	ts := newTestServer(t, newFakeController(), logs)

	resp, err := http.Get(ts.URL + "/api/logs?q=engine")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The trailing "engine: stop" has no newline yet.
	if len(out.Lines) != 1 || out.Lines[0] != "engine: start" {
		t.Fatalf("lines=%v", out.Lines)
	}
}

func TestLogBuffer_KeepsTail(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}
	_, _ = b.Write([]byte("par"))
	_, _ = b.Write([]byte("tial\n"))
	lines, dropped := b.Snapshot(0)
	want := []string{"line 3", "line 4", "partial"}
	if len(lines) != len(want) {
		t.Fatalf("lines=%v want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines=%v want %v", lines, want)
		}
	}
	if dropped != 3 {
		t.Fatalf("dropped=%d want 3", dropped)
	}
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStream_DeliversPublishedStates(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)
	conn := dialStream(t, ts)

	// Nothing published yet: the handler sends the current state first.
	var st engine.State
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read initial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctl.bc.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctl.bc.Publish(engine.State{Seq: 7, PitchDeg: -3, Valid: true})
	for {
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read: %v", err)
		}
		if st.Seq == 7 {
			break
		}
	}
	if st.PitchDeg != -3 || !st.Valid {
		t.Fatalf("state=%+v", st)
	}
}

func TestStream_UnsubscribesOnClose(t *testing.T) {
	ctl := newFakeController()
	ts := newTestServer(t, ctl, nil)
	conn := dialStream(t, ts)

	var st engine.State
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ctl.bc.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber leaked")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAPI_WithEngineDemo(t *testing.T) {
	e := engine.New(engine.Config{})
	defer e.Close()
	ts := newTestServer(t, e, nil)

	if resp := post(t, ts.URL+"/api/start", `{"hz":50,"demo":true}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("start status=%d", resp.StatusCode)
	}
	conn := dialStream(t, ts)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var st engine.State
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read: %v", err)
		}
		if st.Valid {
			if st.Mode != source.ModeDemo || !st.Running {
				t.Fatalf("state=%+v", st)
			}
			break
		}
	}
	if resp := post(t, ts.URL+"/api/calibrate", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("calibrate status=%d", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/stop", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status=%d", resp.StatusCode)
	}
	if e.State().Running {
		t.Fatalf("engine still running")
	}
}
