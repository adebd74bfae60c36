// Command nexus is the OpenAI-compatible inference gateway: it loads a
// backend/routing/budget configuration, starts the health checker, mDNS
// discovery listener, and budget reset loop, then serves the four HTTP
// endpoints spec §6 names. Wiring grounded on the teacher's cmd/proxy/main.go
// (flag parsing, two-phase logger init, env overrides, fail-fast validation,
// separate metrics server, signal-driven shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/normanking/nexus/pkg/budget"
	"github.com/normanking/nexus/pkg/config"
	"github.com/normanking/nexus/pkg/discovery"
	"github.com/normanking/nexus/pkg/gateway"
	"github.com/normanking/nexus/pkg/health"
	"github.com/normanking/nexus/pkg/logging"
	"github.com/normanking/nexus/pkg/middleware"
	"github.com/normanking/nexus/pkg/ratelimit"
	"github.com/normanking/nexus/pkg/registry"
	"github.com/normanking/nexus/pkg/routing"
)

var (
	configPath  = flag.String("config", "config/config.yaml", "Path to configuration file")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error) - overrides config")
	httpPort    = flag.Int("http-port", 0, "HTTP port - overrides config")
	metricsPort = flag.Int("metrics-port", 0, "Metrics port - overrides config")
	rateLimit   = flag.Float64("rate-limit", 0, "Per-client requests/sec on the gateway surface (0 disables)")
)

func main() {
	flag.Parse()

	if err := logging.InitLogger("info", false); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logging.Logger.Info("starting nexus gateway", zap.String("config_path", *configPath))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logging.Logger.Fatal("failed to load config", zap.Error(err), zap.String("config_path", *configPath))
	}

	config.ApplyEnvOverrides(cfg)

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
		logging.Logger.Info("log level overridden by CLI flag", zap.String("log_level", *logLevel))
	}
	if *httpPort > 0 {
		cfg.HTTPPort = *httpPort
		logging.Logger.Info("http port overridden by CLI flag", zap.Int("http_port", *httpPort))
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
		logging.Logger.Info("metrics port overridden by CLI flag", zap.Int("metrics_port", *metricsPort))
	}

	*cfg = cfg.WithDefaults()
	config.NormalizeDiscoveryServiceTypes(cfg)

	if err := config.Validate(*cfg); err != nil {
		logging.Logger.Fatal("invalid configuration", zap.Error(err))
	}

	if err := logging.InitLogger(cfg.LogLevel, true); err != nil {
		logging.Logger.Error("failed to reconfigure logger", zap.Error(err))
	}
	logging.Info("configuration validated successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	for _, b := range cfg.Backends {
		backend := registry.NewBackend(b.ID, b.Name, b.URL, registry.BackendType(b.Type), b.Priority, registry.Static)
		if err := reg.AddBackend(backend); err != nil {
			logging.Warn("skipping duplicate static backend", zap.String("backend_id", b.ID), zap.Error(err))
		}
	}
	logging.Info("registry initialized", zap.Int("static_backends", len(cfg.Backends)))

	if cfg.HealthCheck.Enabled {
		checker := health.New(reg, health.Config{
			IntervalSeconds:   cfg.HealthCheck.IntervalSeconds,
			TimeoutSeconds:    cfg.HealthCheck.TimeoutSeconds,
			FailureThreshold:  cfg.HealthCheck.FailureThreshold,
			RecoveryThreshold: cfg.HealthCheck.RecoveryThreshold,
		})
		go checker.Run(ctx)
		logging.Info("health checker started", zap.Int("interval_seconds", cfg.HealthCheck.IntervalSeconds))
	}

	if cfg.Discovery.Enabled {
		listener := discovery.New(reg, discovery.Config{
			Enabled:            cfg.Discovery.Enabled,
			ServiceTypes:       cfg.Discovery.ServiceTypes,
			GracePeriodSeconds: cfg.Discovery.GracePeriodSeconds,
		})
		go listener.Run(ctx)
		logging.Info("mdns discovery started", zap.Strings("service_types", cfg.Discovery.ServiceTypes))
	}

	bstate := budget.New(cfg.Budget)
	go bstate.RunResetLoop(ctx)

	weights := routing.DefaultWeights()
	if v, ok := cfg.Routing.Weights["latency"]; ok {
		weights.Latency = v
	}
	if v, ok := cfg.Routing.Weights["pending"]; ok {
		weights.Pending = v
	}
	if v, ok := cfg.Routing.Weights["priority"]; ok {
		weights.Priority = v
	}

	router := routing.NewRouter(reg, bstate, routing.Config{
		Aliases:   cfg.Routing.Aliases,
		Fallbacks: cfg.Routing.Fallbacks,
		Strategy:  routing.Strategy(cfg.Routing.Strategy),
		Weights:   weights,
	})

	gw := gateway.New(reg, router)

	var applyMiddleware func(http.Handler) http.Handler = middleware.HTTPRecovery
	if *rateLimit > 0 {
		limiter := ratelimit.NewIPRateLimiter(rate.Limit(*rateLimit), int(*rateLimit)+1)
		base := applyMiddleware
		applyMiddleware = func(h http.Handler) http.Handler {
			return limiter.Middleware(base(h))
		}
		logging.Info("gateway rate limiting enabled", zap.Float64("requests_per_second", *rateLimit))
	}

	http.Handle("/v1/chat/completions", applyMiddleware(http.HandlerFunc(gw.HandleChatCompletions)))
	http.Handle("/v1/embeddings", applyMiddleware(http.HandlerFunc(gw.HandleEmbeddings)))
	http.Handle("/v1/models", applyMiddleware(http.HandlerFunc(gw.HandleModels)))
	http.Handle("/health", applyMiddleware(http.HandlerFunc(gw.HandleHealth)))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf(":%d", cfg.MetricsPort)
	go func() {
		logging.Info("metrics server listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			logging.Logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	go func() {
		logging.Info("http server listening", zap.String("addr", httpAddr))
		if err := http.ListenAndServe(httpAddr, nil); err != nil {
			logging.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			// Config reload isn't wired: Router/Checker/Listener hold their
			// config by value with no swap path. Logged so operators don't
			// wonder whether a SIGHUP had any effect.
			logging.Info("received SIGHUP; config reload is not supported, ignoring")
			continue
		}

		logging.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		time.Sleep(200 * time.Millisecond)
		return
	}
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
