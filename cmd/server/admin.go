package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/protocol"
	"beaconranger.dev/internal/transport/ws"
)

func (a *app) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if a.tracker.Closed() {
			http.Error(rw, "closed", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if envBool("BR_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/status", a.loopbackOnly(a.handleStatus))
		mux.HandleFunc("/admin/v1/radius", a.loopbackOnly(a.handleRadius))
		mux.HandleFunc("/admin/v1/reload", a.loopbackOnly(a.handleReload))
		mux.HandleFunc("/admin/v1/reconcile", a.loopbackOnly(a.handleReconcile))
		mux.HandleFunc("/admin/v1/stream", a.stream.Handler())
	} else {
		a.logger.Printf("admin endpoints disabled (BR_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("BR_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (a *app) loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !ws.IsLoopbackRemote(r.RemoteAddr) {
			writeError(rw, http.StatusForbidden, protocol.ErrForbidden, "admin endpoints are loopback only")
			return
		}
		next(rw, r)
	}
}

func (a *app) handleStatus(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.NewStatus(a.tracker.Status(), time.Now()))
}

type radiusResponse struct {
	OK     bool `json:"ok"`
	Radius int  `json:"radius"`
}

// handleRadius reports the radius on GET and sets it on POST. The value may
// come as ?value= or as {"value": ...} with a string or number.
func (a *app) handleRadius(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(rw, http.StatusOK, radiusResponse{OK: true, Radius: a.tracker.Radius()})
	case http.MethodPost:
		if a.tracker.Closed() {
			writeError(rw, http.StatusServiceUnavailable, protocol.ErrClosed, "tracker is shut down")
			return
		}
		raw, err := radiusValue(r)
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		applied, err := a.tracker.SetRadiusInput(raw)
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRadius, err.Error())
			return
		}
		a.logger.Printf("radius set to %d by %s", applied, r.RemoteAddr)
		writeJSON(rw, http.StatusOK, radiusResponse{OK: true, Radius: applied})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func radiusValue(r *http.Request) (string, error) {
	if v := r.URL.Query().Get("value"); v != "" {
		return v, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return "", errors.New("missing value")
	}
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return "", errors.New("body must be a JSON object")
	}
	if len(body.Value) == 0 {
		return "", errors.New("missing value")
	}
	var s string
	if err := json.Unmarshal(body.Value, &s); err == nil {
		return s, nil
	}
	return string(body.Value), nil
}

func (a *app) handleReload(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s, err := a.reload()
	if err != nil {
		if errors.Is(err, beacons.ErrClosed) {
			writeError(rw, http.StatusServiceUnavailable, protocol.ErrClosed, err.Error())
			return
		}
		writeError(rw, http.StatusBadRequest, protocol.ErrReloadFailed, err.Error())
		return
	}
	a.logger.Printf("configuration reloaded radius=%d interval=%ds", s.Radius, s.IntervalSeconds)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "settings": s})
}

func (a *app) handleReconcile(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.tracker.Closed() {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrClosed, "tracker is shut down")
		return
	}
	a.tracker.ReconcileNow()
	writeJSON(rw, http.StatusAccepted, map[string]any{"ok": true})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(rw, code, protocol.NewError(errCode, msg))
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
