// Package health serves the liveness and readiness probes of the voicelink
// debug listener.
//
// GET /healthz answers 200 while the process can serve HTTP and carries the
// details of an [InfoFunc]. GET /readyz runs every [Checker] and answers 503
// when any of them fails. Both reply with JSON:
//
//	{"status":"fail","checks":{"store":"ok","session":"fail: no session"}}
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one checker within a readiness request.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	// Name keys the outcome in the "checks" object, e.g. "store".
	Name  string
	Check func(ctx context.Context) error
}

// InfoFunc reports liveness details such as the session state.
type InfoFunc func() map[string]string

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Handler serves both probes. It is safe for concurrent use, including
// [Handler.Add] while requests are in flight.
type Handler struct {
	mu       sync.RWMutex
	info     InfoFunc
	checkers []Checker
}

// New returns a Handler running checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetInfo sets the details reported by /healthz.
func (h *Handler) SetInfo(fn InfoFunc) {
	h.mu.Lock()
	h.info = fn
	h.mu.Unlock()
}

// Add registers another checker.
func (h *Handler) Add(c Checker) {
	h.mu.Lock()
	h.checkers = append(h.checkers, c)
	h.mu.Unlock()
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	info := h.info
	h.mu.RUnlock()

	res := result{Status: "ok"}
	if info != nil {
		res.Info = info()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs all checkers concurrently, each under [checkTimeout] derived
// from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.check(r.Context())
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (h *Handler) check(ctx context.Context) result {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	errs := make([]error, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(checkers))}
	for i, c := range checkers {
		if errs[i] != nil {
			res.Status = "fail"
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	return res
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
