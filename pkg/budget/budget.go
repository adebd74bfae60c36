// Package budget implements spec 4.H's budget reconciler: a lock-free
// atomic spending counter in cents, a pricing table with exact/prefix
// lookup, and a 60s reconciliation loop that resets the counter on the
// configured billing-cycle day. Grounded on the teacher's pkg/ratelimit for
// the "background loop ticks, guarded state read lock-free" shape and
// pkg/config for the config-driven threshold pattern.
package budget

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/normanking/nexus/pkg/config"
	nexuserrors "github.com/normanking/nexus/pkg/errors"
	"github.com/normanking/nexus/pkg/logging"
	"github.com/normanking/nexus/pkg/metrics"
)

// Status is the computed budget state (spec 4.H).
type Status int

const (
	Normal Status = iota
	SoftLimit
	HardLimit
)

func (s Status) String() string {
	switch s {
	case SoftLimit:
		return "soft_limit"
	case HardLimit:
		return "hard_limit"
	default:
		return "normal"
	}
}

// TokenCountTier marks how a CostEstimate's token count was derived.
type TokenCountTier int

const (
	Estimated TokenCountTier = iota
	Approximation
	Exact
)

// PriceEntry is one pricing-table row (spec 4.H step 3).
type PriceEntry struct {
	Provider            string
	Model                string // exact model id, or a "*" prefix-match entry
	InputPricePer1kUSD  float64
	OutputPricePer1kUSD float64
}

// PricingTable holds a small in-memory set of (provider, model) rates with
// exact-then-prefix lookup and a conservative unknown fallback.
type PricingTable struct {
	entries []PriceEntry
	unknown PriceEntry
}

// DefaultPricingTable seeds the representative entries SPEC_FULL.md names:
// OpenAI's cloud models carry real per-token cost; self-hosted backends
// (Ollama, vLLM, llama.cpp, Exo, LM Studio) are free to run.
func DefaultPricingTable() *PricingTable {
	return &PricingTable{
		entries: []PriceEntry{
			{Provider: "openai", Model: "gpt-4o", InputPricePer1kUSD: 0.005, OutputPricePer1kUSD: 0.015},
			{Provider: "openai", Model: "gpt-4o-mini", InputPricePer1kUSD: 0.00015, OutputPricePer1kUSD: 0.0006},
			{Provider: "ollama", Model: "*", InputPricePer1kUSD: 0, OutputPricePer1kUSD: 0},
			{Provider: "vllm", Model: "*", InputPricePer1kUSD: 0, OutputPricePer1kUSD: 0},
			{Provider: "llamacpp", Model: "*", InputPricePer1kUSD: 0, OutputPricePer1kUSD: 0},
			{Provider: "exo", Model: "*", InputPricePer1kUSD: 0, OutputPricePer1kUSD: 0},
			{Provider: "lmstudio", Model: "*", InputPricePer1kUSD: 0, OutputPricePer1kUSD: 0},
		},
		unknown: PriceEntry{Provider: "unknown", Model: "*", InputPricePer1kUSD: 0.002, OutputPricePer1kUSD: 0.006},
	}
}

// Lookup resolves a (provider, model) pair to a price entry: exact match
// first, then a "*" prefix entry for the provider, then the unknown
// fallback.
func (t *PricingTable) Lookup(provider, model string) PriceEntry {
	var providerWildcard *PriceEntry
	for i := range t.entries {
		e := &t.entries[i]
		if e.Provider != provider {
			continue
		}
		if e.Model == model {
			return *e
		}
		if e.Model == "*" {
			providerWildcard = e
		}
	}
	if providerWildcard != nil {
		return *providerWildcard
	}
	return t.unknown
}

// CostEstimate is attached to a RoutingIntent's annotations per spec 4.H.
type CostEstimate struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Tier         TokenCountTier
}

// Estimate computes a CostEstimate for a request, per spec 4.H steps 1-4:
// output tokens are heuristically half the input, and cost is the
// proportional sum of input/output rates.
func Estimate(table *PricingTable, provider, model string, inputTokens int) CostEstimate {
	outputTokens := inputTokens / 2
	price := table.Lookup(provider, model)
	costUSD := float64(inputTokens)/1000*price.InputPricePer1kUSD + float64(outputTokens)/1000*price.OutputPricePer1kUSD
	return CostEstimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      costUSD,
		Tier:         Estimated,
	}
}

// State is the atomic spending accumulator and reconciliation loop owner.
// Reads are lock-free; AddSpending uses a simple atomic add (the spec
// documents the resulting small overage window as accepted).
type State struct {
	currentSpendingCents atomic.Int64
	lastResetUnix        atomic.Int64
	cfg                  config.BudgetConfig
}

func New(cfg config.BudgetConfig) *State {
	s := &State{cfg: cfg}
	s.lastResetUnix.Store(time.Now().Unix())
	return s
}

// AddSpendingCents is called only on successful dispatch; failures don't
// add to the estimate, per spec 4.H's conservative-for-users rule.
func (s *State) AddSpendingCents(cents int64) {
	newTotal := s.currentSpendingCents.Add(cents)
	metrics.SetBudgetSpending(newTotal)
}

// CurrentSpendingCents is a lock-free point-in-time read.
func (s *State) CurrentSpendingCents() int64 {
	return s.currentSpendingCents.Load()
}

// ComputeStatus is the pure, lock-free status computation from spec 4.H.
func (s *State) ComputeStatus() Status {
	if s.cfg.MonthlyLimitUSD == nil {
		return Normal
	}
	limitUSD := *s.cfg.MonthlyLimitUSD
	if limitUSD <= 0 {
		return Normal
	}

	currentUSD := float64(s.currentSpendingCents.Load()) / 100
	percent := currentUSD / limitUSD * 100
	if percent > 999 {
		percent = 999
	}

	var computed Status
	switch {
	case percent >= 100:
		computed = HardLimit
	case percent >= float64(s.cfg.SoftLimitPercent):
		computed = SoftLimit
	default:
		computed = Normal
	}
	metrics.SetBudgetStatus(float64(computed))
	return computed
}

// Gate applies spec 4.G's budget gate: on HardLimit it either restricts
// candidates to local backends, signals queueing, or rejects outright. The
// Queue action never rejects (Nexus has no durable queue to hold the
// request in) but returns a BudgetQueuedError annotation so callers can
// tell it apart from Normal instead of silently enforcing nothing.
func (s *State) Gate(status Status) (reject bool, rejectErr error) {
	if status != HardLimit {
		return false, nil
	}
	limitCents := int64(0)
	if s.cfg.MonthlyLimitUSD != nil {
		limitCents = int64(*s.cfg.MonthlyLimitUSD * 100)
	}
	switch s.cfg.HardLimitAction {
	case config.Reject:
		return true, nexuserrors.NewBudgetExceededError(s.currentSpendingCents.Load(), limitCents)
	case config.Queue:
		return false, nexuserrors.NewBudgetQueuedError(s.currentSpendingCents.Load(), limitCents)
	default:
		return false, nil
	}
}

// LocalOnly reports whether a HardLimit status should restrict routing to
// local backend types rather than reject or queue (spec 4.G).
func (s *State) LocalOnly() bool {
	return s.cfg.HardLimitAction == config.LocalOnly
}

// RunResetLoop ticks every minute; on the configured billing-cycle day, if
// the last reset predates the start of the current day, it zeroes the
// counter and logs the restored budget (spec 4.H's reconciliation loop).
func (s *State) RunResetLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeReset(time.Now())
		}
	}
}

func (s *State) maybeReset(now time.Time) {
	if now.Day() != s.cfg.BillingCycleStartDay {
		return
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	lastReset := time.Unix(s.lastResetUnix.Load(), 0)
	if lastReset.Before(startOfDay) {
		s.currentSpendingCents.Store(0)
		s.lastResetUnix.Store(now.Unix())
		metrics.SetBudgetSpending(0)
		available := "unlimited"
		if s.cfg.MonthlyLimitUSD != nil {
			available = formatUSD(*s.cfg.MonthlyLimitUSD)
		}
		logging.Info("budget reset for new billing cycle", zap.String("available_budget", available))
	}
}

func formatUSD(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}
