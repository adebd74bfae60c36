package budget

import (
	"testing"
	"time"

	"github.com/normanking/nexus/pkg/config"
	"github.com/normanking/nexus/pkg/errors"
)

func TestPricingTableExactMatch(t *testing.T) {
	table := DefaultPricingTable()
	entry := table.Lookup("openai", "gpt-4o")
	if entry.InputPricePer1kUSD != 0.005 {
		t.Errorf("InputPricePer1kUSD = %v, want 0.005", entry.InputPricePer1kUSD)
	}
}

func TestPricingTablePrefixMatch(t *testing.T) {
	table := DefaultPricingTable()
	entry := table.Lookup("ollama", "llama3:70b")
	if entry.InputPricePer1kUSD != 0 {
		t.Errorf("ollama wildcard InputPricePer1kUSD = %v, want 0", entry.InputPricePer1kUSD)
	}
}

func TestPricingTableUnknownFallback(t *testing.T) {
	table := DefaultPricingTable()
	entry := table.Lookup("anthropic", "claude-3")
	if entry.Provider != "unknown" {
		t.Errorf("Provider = %q, want unknown", entry.Provider)
	}
}

func TestEstimateHalvesOutputTokens(t *testing.T) {
	table := DefaultPricingTable()
	est := Estimate(table, "openai", "gpt-4o", 1000)
	if est.OutputTokens != 500 {
		t.Errorf("OutputTokens = %d, want 500", est.OutputTokens)
	}
	if est.Tier != Estimated {
		t.Errorf("Tier = %v, want Estimated", est.Tier)
	}
}

func limitPtr(v float64) *float64 { return &v }

func TestComputeStatusNormalWhenUnset(t *testing.T) {
	s := New(config.BudgetConfig{SoftLimitPercent: 80})
	if got := s.ComputeStatus(); got != Normal {
		t.Errorf("ComputeStatus = %v, want Normal when limit unset", got)
	}
}

func TestComputeStatusTransitions(t *testing.T) {
	s := New(config.BudgetConfig{MonthlyLimitUSD: limitPtr(10), SoftLimitPercent: 80})

	if got := s.ComputeStatus(); got != Normal {
		t.Fatalf("ComputeStatus at 0 spend = %v, want Normal", got)
	}

	s.AddSpendingCents(850) // $8.50 of $10 = 85%
	if got := s.ComputeStatus(); got != SoftLimit {
		t.Fatalf("ComputeStatus at 85%% = %v, want SoftLimit", got)
	}

	s.AddSpendingCents(200) // now $10.50 of $10 = 105%
	if got := s.ComputeStatus(); got != HardLimit {
		t.Fatalf("ComputeStatus at 105%% = %v, want HardLimit", got)
	}
}

func TestGateRejectsOnHardLimitReject(t *testing.T) {
	s := New(config.BudgetConfig{MonthlyLimitUSD: limitPtr(10), HardLimitAction: config.Reject})
	s.AddSpendingCents(1500)

	reject, err := s.Gate(s.ComputeStatus())
	if !reject || err == nil {
		t.Fatalf("Gate = (%v, %v), want (true, non-nil)", reject, err)
	}
}

func TestGateAllowsBelowHardLimit(t *testing.T) {
	s := New(config.BudgetConfig{MonthlyLimitUSD: limitPtr(10), HardLimitAction: config.Reject})
	reject, err := s.Gate(Normal)
	if reject || err != nil {
		t.Fatalf("Gate = (%v, %v), want (false, nil)", reject, err)
	}
}

func TestGateQueueSignalsWithoutRejecting(t *testing.T) {
	s := New(config.BudgetConfig{MonthlyLimitUSD: limitPtr(10), HardLimitAction: config.Queue})
	s.AddSpendingCents(1500)

	reject, err := s.Gate(s.ComputeStatus())
	if reject {
		t.Fatal("Gate with Queue action rejected; want pass-through")
	}
	if err == nil {
		t.Fatal("Gate with Queue action returned nil error; want a distinguishable queue signal")
	}
	if _, ok := err.(*errors.BudgetQueuedError); !ok {
		t.Fatalf("Gate error = %T, want *errors.BudgetQueuedError", err)
	}
}

func TestMaybeResetOnlyOnBillingDay(t *testing.T) {
	s := New(config.BudgetConfig{BillingCycleStartDay: 1})
	s.AddSpendingCents(500)
	s.lastResetUnix.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix())

	notResetDay := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	s.maybeReset(notResetDay)
	if s.CurrentSpendingCents() != 500 {
		t.Fatalf("CurrentSpendingCents after non-reset-day tick = %d, want unchanged 500", s.CurrentSpendingCents())
	}

	resetDay := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.maybeReset(resetDay)
	if s.CurrentSpendingCents() != 0 {
		t.Fatalf("CurrentSpendingCents after reset-day tick = %d, want 0", s.CurrentSpendingCents())
	}
}

func TestMaybeResetSkipsIfAlreadyResetToday(t *testing.T) {
	s := New(config.BudgetConfig{BillingCycleStartDay: 1})
	s.AddSpendingCents(500)

	resetDay := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s.lastResetUnix.Store(time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC).Unix())

	s.maybeReset(resetDay)
	if s.CurrentSpendingCents() != 500 {
		t.Fatalf("CurrentSpendingCents = %d, want unchanged 500 (already reset today)", s.CurrentSpendingCents())
	}
}
