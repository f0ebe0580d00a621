package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/reactorlab/setpoint-core/internal/metrics"
	"github.com/reactorlab/setpoint-core/internal/neural"
	"github.com/reactorlab/setpoint-core/internal/reactor"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/internal/setpointd"
	"github.com/reactorlab/setpoint-core/internal/surrogate"
	"github.com/reactorlab/setpoint-core/pkg/config"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/process"
)

func main() {
	var configPath string
	var addr string
	var logLevel string

	flag.StringVar(&configPath, "config", "", "config file path (falls back to $"+config.EnvConfigPath+")")
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides the config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides the config)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Error("failed to load config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if cfg.Logging.Format == "text" {
		logger.SetDefault(logger.NewText(cfg.Logging.Level, os.Stdout))
	} else {
		logger.SetDefault(logger.New(cfg.Logging.Level, os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	model, err := buildModel(cfg.Model)
	if err != nil {
		logger.Error("failed to build process model", "kind", cfg.Model.Kind, "error", err)
		stop()
		os.Exit(1)
	}

	defaults := searchOptions(cfg.Optimizer)
	if err := defaults.Validate(); err != nil {
		logger.Error("invalid optimizer defaults", "error", err)
		stop()
		os.Exit(1)
	}

	store := setpointd.NewJobStore()
	recorder := metrics.NewRecorder(metrics.DefaultMaxJobs, metrics.DefaultMaxPoints)
	executor := setpointd.NewExecutor(store, model, recorder, defaults)

	notifyTimeout, _ := cfg.Notifier.GetTimeout()
	executor.SetNotifier(setpointd.NewNotifier(cfg.Notifier.Secret, notifyTimeout, cfg.Notifier.MaxRetries))

	srv := setpointd.NewHTTPServer(store, executor, model, recorder)
	if cfg.Surrogate.Enabled {
		sur, err := surrogate.Load(cfg.Surrogate.Weights, defaults.Bounds)
		if err != nil {
			logger.Error("failed to load surrogate weights", "path", cfg.Surrogate.Weights, "error", err)
			stop()
			os.Exit(1)
		}
		srv.SetSurrogate(sur)
		logger.Info("surrogate loaded", "path", cfg.Surrogate.Weights)
	}

	readHeaderTimeout, _ := cfg.Server.GetReadHeaderTimeout()
	idleTimeout, _ := cfg.Server.GetIdleTimeout()

	// No WriteTimeout: progress streams stay open for the length of a job.
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr, "model", model.Name())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownTimeout, _ := cfg.Server.GetShutdownTimeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
}

// buildModel constructs the forward model named by the config.
func buildModel(m config.Model) (process.Model, error) {
	switch m.Kind {
	case "analytic", "":
		return reactor.NewCSTR(), nil
	case "neural":
		fm, err := neural.LoadForwardModel(m.Weights)
		if err != nil {
			return nil, err
		}
		return fm, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", m.Kind)
	}
}

// searchOptions maps the optimizer config section onto search options.
func searchOptions(o config.Optimizer) setpoint.Options {
	opts := setpoint.DefaultOptions()
	opts.MaxEvaluations = o.MaxEvaluations
	opts.Seed = o.Seed
	opts.Restarts = o.Restarts
	opts.Polish = o.Polish
	opts.PolishReserve = o.PolishReserve
	opts.Anneal.InitialTemp = o.InitialTemp
	opts.Anneal.FinalTemp = o.FinalTemp
	opts.ProgressStride = o.ProgressStride
	return opts
}
