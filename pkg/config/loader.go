package config

import (
	"fmt"
	"os"
)

// LoadConfig loads and parses a daemon configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadCampaign loads and parses a sweep campaign file
func LoadCampaign(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file %s: %w", path, err)
	}
	cam, err := ParseCampaignYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse campaign file %s: %w", path, err)
	}
	return cam, nil
}

// validateConfig performs validation on the daemon configuration
func validateConfig(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}
	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if err := validateOptimizer(&cfg.Optimizer); err != nil {
		return fmt.Errorf("optimizer validation failed: %w", err)
	}
	if cfg.Surrogate.Enabled && cfg.Surrogate.Weights == "" {
		return fmt.Errorf("surrogate is enabled but no weights path is set")
	}
	if err := validateNotifier(&cfg.Notifier); err != nil {
		return fmt.Errorf("notifier validation failed: %w", err)
	}
	return nil
}

// validateServer validates the HTTP listener settings
func validateServer(s *Server) error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if _, err := s.GetReadHeaderTimeout(); err != nil {
		return fmt.Errorf("invalid read_header_timeout %s: %w", s.ReadHeaderTimeout, err)
	}
	if _, err := s.GetIdleTimeout(); err != nil {
		return fmt.Errorf("invalid idle_timeout %s: %w", s.IdleTimeout, err)
	}
	if _, err := s.GetShutdownTimeout(); err != nil {
		return fmt.Errorf("invalid shutdown_timeout %s: %w", s.ShutdownTimeout, err)
	}
	return nil
}

// validateLogging validates the log output settings
func validateLogging(l *Logging) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", l.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[l.Format] {
		return fmt.Errorf("invalid format: %s (must be json or text)", l.Format)
	}
	return nil
}

// validateModel validates the forward model selection
func validateModel(m *Model) error {
	validKinds := map[string]bool{
		"analytic": true,
		"neural":   true,
	}
	if !validKinds[m.Kind] {
		return fmt.Errorf("invalid kind: %s (must be analytic or neural)", m.Kind)
	}
	if m.Kind == "neural" && m.Weights == "" {
		return fmt.Errorf("model kind neural requires a weights path")
	}
	return nil
}

// validateOptimizer validates the default search settings
func validateOptimizer(o *Optimizer) error {
	if o.MaxEvaluations <= 0 {
		return fmt.Errorf("max_evaluations must be positive, got %d", o.MaxEvaluations)
	}
	if o.Restarts < 1 {
		return fmt.Errorf("restarts must be at least 1, got %d", o.Restarts)
	}
	if o.PolishReserve < 0 {
		return fmt.Errorf("polish_reserve cannot be negative, got %d", o.PolishReserve)
	}
	if o.InitialTemp <= 0 || o.FinalTemp <= 0 {
		return fmt.Errorf("temperatures must be positive, got initial %g and final %g", o.InitialTemp, o.FinalTemp)
	}
	if o.FinalTemp >= o.InitialTemp {
		return fmt.Errorf("final_temp (%g) must be below initial_temp (%g)", o.FinalTemp, o.InitialTemp)
	}
	if o.ProgressStride < 0 {
		return fmt.Errorf("progress_stride cannot be negative, got %d", o.ProgressStride)
	}
	return nil
}

// validateNotifier validates the webhook settings
func validateNotifier(n *Notifier) error {
	if _, err := n.GetTimeout(); err != nil {
		return fmt.Errorf("invalid timeout %s: %w", n.Timeout, err)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", n.MaxRetries)
	}
	return nil
}

// validateCampaign validates the sweep campaign
func validateCampaign(c *Campaign) error {
	if len(c.Targets) == 0 {
		if c.Count < 1 {
			return fmt.Errorf("count must be at least 1 when no explicit targets are given, got %d", c.Count)
		}
		if c.Count > 1 && c.Max <= c.Min {
			return fmt.Errorf("max (%g) must be above min (%g)", c.Max, c.Min)
		}
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism cannot be negative, got %d", c.Parallelism)
	}
	if err := validateOptimizer(&c.Optimizer); err != nil {
		return fmt.Errorf("optimizer validation failed: %w", err)
	}
	return nil
}
