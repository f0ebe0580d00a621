package config

import "time"

// EnvConfigPath names the environment variable consulted for the
// daemon config path when no -config flag is given.
const EnvConfigPath = "SETPOINT_CONFIG"

// Config represents the daemon configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Model     Model     `yaml:"model"`
	Optimizer Optimizer `yaml:"optimizer"`
	Surrogate Surrogate `yaml:"surrogate"`
	Notifier  Notifier  `yaml:"notifier"`
}

// Server represents the HTTP listener settings
type Server struct {
	Addr              string `yaml:"addr"`
	ReadHeaderTimeout string `yaml:"read_header_timeout"`
	IdleTimeout       string `yaml:"idle_timeout"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

// Logging represents the log output settings
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Model selects the forward process model
type Model struct {
	Kind    string `yaml:"kind"`              // analytic or neural
	Weights string `yaml:"weights,omitempty"` // network weights path, required for kind: neural
}

// Optimizer represents the default search settings for jobs that do
// not override them
type Optimizer struct {
	MaxEvaluations int     `yaml:"max_evaluations"`
	Seed           int64   `yaml:"seed"` // 0 seeds each job from the wall clock
	Restarts       int     `yaml:"restarts"`
	Polish         bool    `yaml:"polish"`
	PolishReserve  int     `yaml:"polish_reserve"`
	InitialTemp    float64 `yaml:"initial_temp"`
	FinalTemp      float64 `yaml:"final_temp"`
	ProgressStride int     `yaml:"progress_stride"`
}

// Surrogate controls the inverse-surrogate proposal endpoint
type Surrogate struct {
	Enabled bool   `yaml:"enabled"`
	Weights string `yaml:"weights,omitempty"`
}

// Notifier represents the completion webhook settings
type Notifier struct {
	Secret     string `yaml:"secret,omitempty"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// Default returns the configuration used when no file is given.
// Parsed files are overlaid on top of it, so partial configs work.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:              ":8080",
			ReadHeaderTimeout: "5s",
			IdleTimeout:       "120s",
			ShutdownTimeout:   "10s",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Model: Model{
			Kind: "analytic",
		},
		Optimizer: Optimizer{
			MaxEvaluations: 2000,
			Seed:           0,
			Restarts:       1,
			Polish:         true,
			PolishReserve:  200,
			InitialTemp:    1.0,
			FinalTemp:      1e-6,
			ProgressStride: 25,
		},
		Surrogate: Surrogate{
			Enabled: false,
		},
		Notifier: Notifier{
			Timeout:    "10s",
			MaxRetries: 3,
		},
	}
}

// GetReadHeaderTimeout parses the read header timeout
func (s *Server) GetReadHeaderTimeout() (time.Duration, error) {
	return time.ParseDuration(s.ReadHeaderTimeout)
}

// GetIdleTimeout parses the idle timeout
func (s *Server) GetIdleTimeout() (time.Duration, error) {
	return time.ParseDuration(s.IdleTimeout)
}

// GetShutdownTimeout parses the graceful shutdown timeout
func (s *Server) GetShutdownTimeout() (time.Duration, error) {
	return time.ParseDuration(s.ShutdownTimeout)
}

// GetTimeout parses the per-delivery webhook timeout
func (n *Notifier) GetTimeout() (time.Duration, error) {
	return time.ParseDuration(n.Timeout)
}
