package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/engine"
)

// Controller is the engine surface the HTTP API drives. Implementations must
// be safe for concurrent use.
type Controller interface {
	Start(hz float64, demo bool) error
	Stop()
	Calibrate() bool
	ClearCalibration() bool
	State() engine.State
	Subscribe(buffer int) (int, <-chan engine.State)
	Unsubscribe(id int)
	Subscribers() int
}

// Options configure the handler.
type Options struct {
	// DefaultHz is used by /api/start when the request omits hz.
	DefaultHz float64
	Status    *Status
	Logs      *LogBuffer
}

type startRequest struct {
	Hz   *float64 `json:"hz"`
	Demo bool     `json:"demo"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func Handler(ctl Controller, opts Options) http.Handler {
	if opts.DefaultHz <= 0 {
		opts.DefaultHz = 60
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, ctl.State())
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, opts.Status.Snapshot(time.Now().UTC(), ctl.State(), ctl.Subscribers()))
	})

	mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		var req startRequest
		body := http.MaxBytesReader(w, r.Body, 4096)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		hz := opts.DefaultHz
		if req.Hz != nil {
			hz = *req.Hz
		}
		if err := ctl.Start(hz, req.Demo); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, engine.ErrInvalidFrequency) {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, http.StatusOK, ctl.State())
	})

	mux.HandleFunc("/api/stop", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		ctl.Stop()
		writeJSON(w, http.StatusOK, ctl.State())
	})

	// POST sets the zero reference, DELETE drops it.
	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if !ctl.Calibrate() {
				http.Error(w, "no attitude to calibrate against (engine idle or no sample yet)", http.StatusConflict)
				return
			}
		case http.MethodDelete:
			if !ctl.ClearCalibration() {
				http.Error(w, "no calibration set", http.StatusConflict)
				return
			}
		default:
			w.Header().Set("Allow", "POST, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, ctl.State())
	})

	mux.Handle("/api/stream", streamHandler(ctl))

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		st := ctl.State()
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, indexHTML, st.Running, st.Mode, st.RollDeg, st.PitchDeg, st.YawDeg)
	})

	return mux
}

// indexHTML renders the state once and then follows /api/stream.
const indexHTML = `<!doctype html><html><head><meta charset="utf-8"><title>levelcube</title>
<style>body{font-family:sans-serif;margin:2em}td{padding:0 1em;font-variant-numeric:tabular-nums}</style>
</head><body>
<h1>levelcube</h1>
<table>
<tr><td>running</td><td id="running">%t</td></tr>
<tr><td>mode</td><td id="mode">%s</td></tr>
<tr><td>roll</td><td id="roll">%.1f</td></tr>
<tr><td>pitch</td><td id="pitch">%.1f</td></tr>
<tr><td>yaw</td><td id="yaw">%.1f</td></tr>
<tr><td>rate</td><td id="hz"></td></tr>
<tr><td>error</td><td id="error"></td></tr>
</table>
<p>
<button onclick="post('/api/start',{demo:false})">start</button>
<button onclick="post('/api/start',{demo:true})">demo</button>
<button onclick="post('/api/stop')">stop</button>
<button onclick="post('/api/calibrate')">calibrate</button>
<button onclick="fetch('/api/calibrate',{method:'DELETE'})">clear calibration</button>
</p>
<script>
function post(u,b){fetch(u,{method:'POST',body:b?JSON.stringify(b):''});}
function set(id,v){document.getElementById(id).textContent=v;}
var ws=new WebSocket((location.protocol==='https:'?'wss://':'ws://')+location.host+'/api/stream');
ws.onmessage=function(ev){var s=JSON.parse(ev.data);
set('running',s.running);set('mode',s.mode||'');
set('roll',s.roll_deg.toFixed(1));set('pitch',s.pitch_deg.toFixed(1));set('yaw',s.yaw_deg.toFixed(1));
set('hz',s.sample_hz.toFixed(1)+' Hz');set('error',s.error||'');};
</script>
</body></html>
`

func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infof("web: listening on %s", listenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
