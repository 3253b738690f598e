package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		// RateLimit is the sustained number of job starts per second; zero
		// disables limiting.
		RateLimit float64 `env:"HTTP_RATE_LIMIT" envDefault:"10"`
		RateBurst int     `env:"HTTP_RATE_BURST" envDefault:"20"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		// WorkerCount bounds how many restarts of one job run at once.
		WorkerCount   int     `env:"OPT_WORKER_COUNT" envDefault:"4"`
		Acceleration  float64 `env:"OPT_ACCELERATION" envDefault:"1.2"`
		StepSize      float64 `env:"OPT_STEP_SIZE" envDefault:"1.0"`
		MaxIterations int     `env:"OPT_MAX_ITERATIONS" envDefault:"100"`
		MinError      float64 `env:"OPT_MIN_ERROR" envDefault:"0.01"`
		MaxRestarts   int     `env:"OPT_MAX_RESTARTS" envDefault:"16"`
		MaxDimensions int     `env:"OPT_MAX_DIMENSIONS" envDefault:"1024"`

		// MaxIterationsLimit caps the max_iterations a job request may ask for.
		MaxIterationsLimit int `env:"OPT_MAX_ITERATIONS_LIMIT" envDefault:"100000"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at job start.
func (c *Config) Validate() error {
	var errs []error

	a := c.Optimization.Acceleration
	if a <= 0 || math.IsNaN(a) || math.IsInf(a, 0) || math.IsInf(1/a, 0) {
		errs = append(errs, fmt.Errorf("OPT_ACCELERATION must be a positive finite number, got %v", a))
	}
	if st := c.Optimization.StepSize; st == 0 || math.IsNaN(st) || math.IsInf(st, 0) {
		errs = append(errs, fmt.Errorf("OPT_STEP_SIZE must be a non-zero finite number, got %v", st))
	}
	if c.Optimization.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("OPT_WORKER_COUNT must be at least 1, got %d", c.Optimization.WorkerCount))
	}
	if c.Optimization.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("OPT_MAX_ITERATIONS must be at least 1, got %d", c.Optimization.MaxIterations))
	}
	if c.Optimization.MaxIterationsLimit < c.Optimization.MaxIterations {
		errs = append(errs, fmt.Errorf("OPT_MAX_ITERATIONS_LIMIT must be at least OPT_MAX_ITERATIONS (%d), got %d",
			c.Optimization.MaxIterations, c.Optimization.MaxIterationsLimit))
	}
	if c.Optimization.MaxRestarts < 1 {
		errs = append(errs, fmt.Errorf("OPT_MAX_RESTARTS must be at least 1, got %d", c.Optimization.MaxRestarts))
	}
	if c.Optimization.MaxDimensions < 1 {
		errs = append(errs, fmt.Errorf("OPT_MAX_DIMENSIONS must be at least 1, got %d", c.Optimization.MaxDimensions))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("HTTP_RATE_LIMIT must not be negative, got %v", c.HTTP.RateLimit))
	}

	return errors.Join(errs...)
}
