package config

import (
	"strings"

	"go.uber.org/multierr"

	nexuserrors "github.com/normanking/nexus/pkg/errors"
)

// Validate runs every pre-flight check spec 4.A requires. On any failure
// the caller refuses to start — this is a hard gate, not a runtime error.
// Independent failures are aggregated with multierr; the alias-cycle check
// is an exception since a cycle is inherently a first-one-wins short
// circuit (spec 4.A).
func Validate(cfg Config) error {
	if err := validateAliases(cfg.Routing.Aliases); err != nil {
		return err
	}

	var errs error
	errs = multierr.Append(errs, validateBudget(cfg.Budget))
	errs = multierr.Append(errs, validateHealthCheck(cfg.HealthCheck))
	return errs
}

// validateAliases walks each alias key, accumulating visited names; a
// target reappearing in the walk is a cycle.
func validateAliases(aliases map[string]string) error {
	for start := range aliases {
		visited := []string{start}
		seen := map[string]struct{}{start: {}}
		current := start

		for {
			target, ok := aliases[current]
			if !ok {
				break
			}
			if _, isCycle := seen[target]; isCycle {
				return nexuserrors.NewCircularAliasError(start, append(visited, target))
			}
			visited = append(visited, target)
			seen[target] = struct{}{}
			current = target
		}
	}
	return nil
}

func validateBudget(b BudgetConfig) error {
	var errs error
	if b.MonthlyLimitUSD != nil && *b.MonthlyLimitUSD < 0 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidBudgetError("monthly_limit", "must be >= 0"))
	}
	if b.SoftLimitPercent < 0 || b.SoftLimitPercent > 100 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidBudgetError("soft_limit_percent", "must be in [0,100]"))
	}
	if b.BillingCycleStartDay < 1 || b.BillingCycleStartDay > 31 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidBudgetError("billing_cycle_start_day", "must be in [1,31]"))
	}
	return errs
}

func validateHealthCheck(h HealthCheckConfig) error {
	var errs error
	if h.IntervalSeconds <= 0 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidThresholdError("interval_seconds", h.IntervalSeconds))
	}
	if h.TimeoutSeconds <= 0 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidThresholdError("timeout_seconds", h.TimeoutSeconds))
	}
	if h.FailureThreshold <= 0 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidThresholdError("failure_threshold", h.FailureThreshold))
	}
	if h.RecoveryThreshold <= 0 {
		errs = multierr.Append(errs, nexuserrors.NewInvalidThresholdError("recovery_threshold", h.RecoveryThreshold))
	}
	return errs
}

// NormalizeDiscoveryServiceTypes appends a trailing dot to service type
// strings missing one, per spec 4.A.
func NormalizeDiscoveryServiceTypes(cfg *Config) {
	for i, t := range cfg.Discovery.ServiceTypes {
		if !strings.HasSuffix(t, ".") {
			cfg.Discovery.ServiceTypes[i] = t + "."
		}
	}
}
