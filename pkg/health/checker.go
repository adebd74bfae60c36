// Package health runs the periodic probe loop described in spec 4.D: one
// GET per backend per tick, classified into Success/SuccessWithParseError/
// Failure, driven through a two-counter hysteresis state machine that
// decides status transitions. Grounded on the teacher's pkg/health probe
// loop shape (interval timer + per-backend sequential probing) and
// pkg/circuit/breaker.go's RWMutex-guarded per-entry state struct, adapted
// from the teacher's independent three-state breaker to the spec's simpler
// two-counter design. Probe pacing uses golang.org/x/time/rate the way the
// teacher's pkg/ratelimit does, here bounding the burst of probes issued
// within one tick rather than per-client-IP.
package health

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	nexuserrors "github.com/normanking/nexus/pkg/errors"
	"github.com/normanking/nexus/pkg/logging"
	"github.com/normanking/nexus/pkg/metrics"
	"github.com/normanking/nexus/pkg/parsers"
	"github.com/normanking/nexus/pkg/registry"
)

// outcomeKind distinguishes the three probe results spec 4.D names.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeSuccessParseError
	outcomeFailure
)

type probeOutcome struct {
	kind      outcomeKind
	latencyMs int64
	models    []registry.Model
	err       error
}

// BackendHealthState is the per-backend hysteresis state the checker owns
// exclusively; no other component touches it.
type BackendHealthState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	consecutiveSuccess  int
	lastCheckTime       time.Time
	lastStatus          registry.Status
	lastModels          []registry.Model
}

// Config controls the checker's timing and hysteresis thresholds (spec 6's
// [health_check] block).
type Config struct {
	IntervalSeconds  int
	TimeoutSeconds   int
	FailureThreshold int
	RecoveryThreshold int
}

// Checker runs the probe loop against a registry.
type Checker struct {
	reg    *registry.Registry
	cfg    Config
	client *http.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	states map[string]*BackendHealthState
}

// New constructs a Checker. The probe-burst limiter lets a burst of 32
// probes fire immediately and paces further probes at 32 per second — it
// exists to smooth bursts when the registry briefly holds far more backends
// than usual (e.g. right after a wave of mDNS discovery).
func New(reg *registry.Registry, cfg Config) *Checker {
	return &Checker{
		reg: reg,
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(32), 32),
		states:  make(map[string]*BackendHealthState),
	}
}

func (c *Checker) stateFor(id string) *BackendHealthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[id]
	if !ok {
		s = &BackendHealthState{lastStatus: registry.StatusUnknown}
		c.states[id] = s
	}
	return s
}

// Run drives the interval timer until ctx is cancelled, probing every
// registered backend sequentially each tick (bounded by N x timeout per
// spec's "sequential per-tick probing" note).
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Checker) tick(ctx context.Context) {
	for _, b := range c.reg.GetAllBackends() {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		c.probeAndApply(ctx, b)
	}
}

// probeAndApply runs one probe cycle for a backend and applies its result
// to the hysteresis state machine and the registry.
func (c *Checker) probeAndApply(ctx context.Context, b registry.Backend) {
	outcome := c.probe(ctx, b)
	c.apply(b.ID, string(b.Type), outcome)
}

func (c *Checker) probe(ctx context.Context, b registry.Backend) probeOutcome {
	path := parsers.ProbePath(b.Type)
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, b.URL+path, nil)
	if err != nil {
		return probeOutcome{kind: outcomeFailure, err: nexuserrors.NewConnectionFailedError(b.ID, err.Error())}
	}

	resp, err := c.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return probeOutcome{kind: outcomeFailure, err: classifyTransportError(b.ID, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return probeOutcome{kind: outcomeFailure, err: nexuserrors.NewHTTPError(b.ID, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return probeOutcome{kind: outcomeSuccessParseError, latencyMs: latency, err: nexuserrors.NewParseError(b.ID, err.Error())}
	}

	return c.parseBody(b, body, latency)
}

func (c *Checker) parseBody(b registry.Backend, body []byte, latency int64) probeOutcome {
	switch b.Type {
	case registry.Ollama:
		models, err := parsers.ParseOllamaTags(b.ID, body)
		if err != nil {
			return probeOutcome{kind: outcomeSuccessParseError, latencyMs: latency, err: err}
		}
		return probeOutcome{kind: outcomeSuccess, latencyMs: latency, models: models}

	case registry.LlamaCpp:
		healthy, err := parsers.ParseLlamaCppHealth(b.ID, body)
		if err != nil {
			return probeOutcome{kind: outcomeSuccessParseError, latencyMs: latency, err: err}
		}
		if !healthy {
			// Synthetic failure: distinguishes in-band unhealthy from transport failure.
			return probeOutcome{kind: outcomeFailure, err: nexuserrors.NewHTTPError(b.ID, 503)}
		}
		return probeOutcome{kind: outcomeSuccess, latencyMs: latency, models: nil}

	default:
		models, err := parsers.ParseOpenAICompatModels(b.ID, body)
		if err != nil {
			return probeOutcome{kind: outcomeSuccessParseError, latencyMs: latency, err: err}
		}
		return probeOutcome{kind: outcomeSuccess, latencyMs: latency, models: models}
	}
}

func classifyTransportError(backendID string, err error) error {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok && t.Timeout() {
		return nexuserrors.NewTimeoutError(backendID, "")
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "no such host", "lookup"):
		return nexuserrors.NewDNSError(backendID, "")
	case containsAny(msg, "certificate", "tls", "x509"):
		return nexuserrors.NewTLSError(backendID, msg)
	default:
		return nexuserrors.NewConnectionFailedError(backendID, msg)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// apply runs the hysteresis state machine for one probe outcome and pushes
// side effects (registry status/latency/models update, transition logging).
func (c *Checker) apply(backendID, backendType string, outcome probeOutcome) {
	st := c.stateFor(backendID)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastCheckTime = time.Now()
	oldStatus := st.lastStatus
	newStatus := transition(oldStatus, outcome.kind, st, c.cfg)
	st.lastStatus = newStatus

	switch outcome.kind {
	case outcomeSuccess:
		c.reg.UpdateLatency(backendID, outcome.latencyMs)
		metrics.SetBackendLatency(backendID, outcome.latencyMs)
		if len(outcome.models) > 0 {
			st.lastModels = outcome.models
			c.reg.UpdateModels(backendID, outcome.models)
		} else {
			c.reg.UpdateModels(backendID, st.lastModels)
		}
	case outcomeSuccessParseError:
		c.reg.UpdateLatency(backendID, outcome.latencyMs)
		metrics.SetBackendLatency(backendID, outcome.latencyMs)
		c.reg.UpdateModels(backendID, st.lastModels)
	case outcomeFailure:
		// No latency update; last_models unchanged.
	}

	if newStatus != oldStatus {
		lastErr := ""
		if outcome.err != nil {
			lastErr = outcome.err.Error()
		}
		c.reg.UpdateStatus(backendID, newStatus, lastErr)
		metrics.SetBackendHealth(backendID, backendType, healthGaugeValue(newStatus))
		logging.Info("backend status transition",
			zap.String("backend_id", backendID),
			zap.String("old_status", oldStatus.String()),
			zap.String("new_status", newStatus.String()),
		)
	}
}

// healthGaugeValue maps a registry.Status onto the metric's documented
// 1/0/0.5 scale (nexus_backend_health: "1=healthy, 0=unhealthy, 0.5=unknown").
func healthGaugeValue(s registry.Status) float64 {
	switch s {
	case registry.StatusHealthy:
		return 1
	case registry.StatusUnhealthy:
		return 0
	default:
		return 0.5
	}
}

// transition implements spec 4.D's hysteresis table. Counter updates: the
// opposite-outcome counter resets to 0 before the matching counter
// increments.
func transition(current registry.Status, kind outcomeKind, st *BackendHealthState, cfg Config) registry.Status {
	success := kind != outcomeFailure

	switch current {
	case registry.StatusUnknown:
		if success {
			st.consecutiveFailures = 0
			st.consecutiveSuccess = 1
			return registry.StatusHealthy
		}
		st.consecutiveSuccess = 0
		st.consecutiveFailures = 1
		return registry.StatusUnhealthy

	case registry.StatusHealthy:
		if success {
			st.consecutiveFailures = 0
			st.consecutiveSuccess++
			return registry.StatusHealthy
		}
		st.consecutiveSuccess = 0
		st.consecutiveFailures++
		if st.consecutiveFailures >= cfg.FailureThreshold {
			return registry.StatusUnhealthy
		}
		return registry.StatusHealthy

	case registry.StatusUnhealthy:
		if success {
			st.consecutiveFailures = 0
			st.consecutiveSuccess++
			if st.consecutiveSuccess >= cfg.RecoveryThreshold {
				return registry.StatusHealthy
			}
			return registry.StatusUnhealthy
		}
		st.consecutiveSuccess = 0
		st.consecutiveFailures++
		return registry.StatusUnhealthy

	default:
		return current
	}
}
