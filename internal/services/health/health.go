// Package health exposes liveness and readiness over HTTP and gRPC.
package health

import (
	"net/http"
	"sync"

	gojson "github.com/goccy/go-json"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Probe reports whether one dependency is usable.
type Probe struct {
	Name  string
	Check func() bool
}

// Checker evaluates a fixed set of probes.
type Checker struct {
	mu     sync.RWMutex
	probes []Probe
}

func NewChecker(probes ...Probe) *Checker {
	return &Checker{probes: probes}
}

// Add registers a probe after construction (transports are wired late).
func (c *Checker) Add(p Probe) {
	c.mu.Lock()
	c.probes = append(c.probes, p)
	c.mu.Unlock()
}

type Report struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// Report runs every probe. ok when all pass, degraded when some pass, down
// when none does.
func (c *Checker) Report() Report {
	c.mu.RLock()
	probes := append([]Probe(nil), c.probes...)
	c.mu.RUnlock()

	r := Report{Checks: make(map[string]bool, len(probes))}
	passed := 0
	for _, p := range probes {
		ok := p.Check != nil && p.Check()
		r.Checks[p.Name] = ok
		if ok {
			passed++
		}
	}
	switch {
	case passed == len(probes):
		r.Status = StatusOK
	case passed > 0:
		r.Status = StatusDegraded
	default:
		r.Status = StatusDown
	}
	return r
}

func (c *Checker) Ready() bool {
	return c.Report().Status == StatusOK
}

type healthHandler struct {
	checker *Checker
}

// NewHealthHandler serves /healthz: always 200 with the probe report.
func NewHealthHandler(c *Checker) http.Handler {
	return &healthHandler{checker: c}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = gojson.NewEncoder(w).Encode(h.checker.Report())
}

type readyHandler struct {
	checker *Checker
}

// NewReadyHandler serves /readyz: 200 only when every probe passes.
func NewReadyHandler(c *Checker) http.Handler {
	return &readyHandler{checker: c}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.checker.Ready()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = gojson.NewEncoder(w).Encode(resp{Ready: ready})
}
