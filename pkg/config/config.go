// Package config holds Nexus's configuration struct and its pre-flight
// validation, grounded on the teacher's pkg/config: a plain YAML-decoded
// struct (gopkg.in/yaml.v3) plus an ApplyEnvOverrides pass and a Validate
// pass that runs before anything else starts.
package config

// Config is the root configuration object, covering spec 6's accepted keys.
type Config struct {
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Routing     RoutingConfig     `yaml:"routing"`
	Budget      BudgetConfig      `yaml:"budget"`
	Backends    []BackendConfig   `yaml:"backends"`
	LogLevel    string            `yaml:"log_level"`
	HTTPPort    int               `yaml:"http_port"`
	MetricsPort int               `yaml:"metrics_port"`
}

type HealthCheckConfig struct {
	Enabled           bool `yaml:"enabled"`
	IntervalSeconds   int  `yaml:"interval_seconds"`
	TimeoutSeconds    int  `yaml:"timeout_seconds"`
	FailureThreshold  int  `yaml:"failure_threshold"`
	RecoveryThreshold int  `yaml:"recovery_threshold"`
}

func (h HealthCheckConfig) withDefaults() HealthCheckConfig {
	if h.IntervalSeconds == 0 {
		h.IntervalSeconds = 30
	}
	if h.TimeoutSeconds == 0 {
		h.TimeoutSeconds = 5
	}
	if h.FailureThreshold == 0 {
		h.FailureThreshold = 3
	}
	if h.RecoveryThreshold == 0 {
		h.RecoveryThreshold = 2
	}
	return h
}

type DiscoveryConfig struct {
	Enabled            bool     `yaml:"enabled"`
	ServiceTypes       []string `yaml:"service_types"`
	GracePeriodSeconds int      `yaml:"grace_period_seconds"`
}

func (d DiscoveryConfig) withDefaults() DiscoveryConfig {
	if d.GracePeriodSeconds == 0 {
		d.GracePeriodSeconds = 60
	}
	if len(d.ServiceTypes) == 0 {
		d.ServiceTypes = []string{"_ollama._tcp.local", "_llm._tcp.local"}
	}
	return d
}

// RoutingConfig carries selection strategy, aliasing, and fallback data.
type RoutingConfig struct {
	Strategy   string              `yaml:"strategy"`
	MaxRetries int                 `yaml:"max_retries"`
	Weights    map[string]float64  `yaml:"weights"`
	Aliases    map[string]string   `yaml:"aliases"`
	Fallbacks  map[string][]string `yaml:"fallbacks"`
}

func (r RoutingConfig) withDefaults() RoutingConfig {
	if r.Strategy == "" {
		r.Strategy = "smart"
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 1
	}
	return r
}

// HardLimitAction enumerates the enforcement choices spec 6 names for a
// hard budget limit.
type HardLimitAction string

const (
	LocalOnly HardLimitAction = "local-only"
	Queue     HardLimitAction = "queue"
	Reject    HardLimitAction = "reject"
)

type BudgetConfig struct {
	MonthlyLimitUSD      *float64        `yaml:"monthly_limit"`
	SoftLimitPercent     int             `yaml:"soft_limit_percent"`
	HardLimitAction      HardLimitAction `yaml:"hard_limit_action"`
	BillingCycleStartDay int             `yaml:"billing_cycle_start_day"`
}

func (b BudgetConfig) withDefaults() BudgetConfig {
	if b.SoftLimitPercent == 0 {
		b.SoftLimitPercent = 80
	}
	if b.HardLimitAction == "" {
		b.HardLimitAction = Reject
	}
	if b.BillingCycleStartDay == 0 {
		b.BillingCycleStartDay = 1
	}
	return b
}

type BackendConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Type     string `yaml:"type"`
	Priority int    `yaml:"priority"`
}

// WithDefaults returns a copy of cfg with the zero-valued optional fields
// filled in per spec 6's documented defaults. Call before Validate.
func (c Config) WithDefaults() Config {
	c.HealthCheck = c.HealthCheck.withDefaults()
	c.Discovery = c.Discovery.withDefaults()
	c.Routing = c.Routing.withDefaults()
	c.Budget = c.Budget.withDefaults()
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}
