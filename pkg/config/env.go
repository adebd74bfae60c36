package config

import (
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/normanking/nexus/pkg/logging"
)

// ApplyEnvOverrides applies operational environment-variable overrides to
// an already-decoded config, in the teacher's env.go style: each variable
// is checked, parsed, and logged independently.
func ApplyEnvOverrides(cfg *Config) {
	if val := os.Getenv("NEXUS_LOG_LEVEL"); val != "" {
		logging.Info("override from environment", zap.String("var", "NEXUS_LOG_LEVEL"), zap.String("value", val))
		cfg.LogLevel = val
	}

	if val := os.Getenv("NEXUS_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			logging.Info("override from environment", zap.String("var", "NEXUS_HTTP_PORT"), zap.Int("value", port))
			cfg.HTTPPort = port
		} else {
			logging.Warn("invalid NEXUS_HTTP_PORT", zap.String("value", val), zap.Error(err))
		}
	}

	if val := os.Getenv("NEXUS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			logging.Info("override from environment", zap.String("var", "NEXUS_METRICS_PORT"), zap.Int("value", port))
			cfg.MetricsPort = port
		} else {
			logging.Warn("invalid NEXUS_METRICS_PORT", zap.String("value", val), zap.Error(err))
		}
	}

	if val := os.Getenv("NEXUS_BUDGET_MONTHLY_LIMIT"); val != "" {
		if limit, err := strconv.ParseFloat(val, 64); err == nil {
			logging.Info("override from environment", zap.String("var", "NEXUS_BUDGET_MONTHLY_LIMIT"), zap.Float64("value", limit))
			cfg.Budget.MonthlyLimitUSD = &limit
		} else {
			logging.Warn("invalid NEXUS_BUDGET_MONTHLY_LIMIT", zap.String("value", val), zap.Error(err))
		}
	}

	if val := os.Getenv("NEXUS_DISCOVERY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			logging.Info("override from environment", zap.String("var", "NEXUS_DISCOVERY_ENABLED"), zap.Bool("value", enabled))
			cfg.Discovery.Enabled = enabled
		} else {
			logging.Warn("invalid NEXUS_DISCOVERY_ENABLED", zap.String("value", val), zap.Error(err))
		}
	}

	if val := os.Getenv("NEXUS_HEALTH_CHECK_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			logging.Info("override from environment", zap.String("var", "NEXUS_HEALTH_CHECK_ENABLED"), zap.Bool("value", enabled))
			cfg.HealthCheck.Enabled = enabled
		} else {
			logging.Warn("invalid NEXUS_HEALTH_CHECK_ENABLED", zap.String("value", val), zap.Error(err))
		}
	}
}
