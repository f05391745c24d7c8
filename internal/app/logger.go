package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration. Every record carries
// the service name and environment.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	env := "development"
	if cfg != nil {
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stdout, opts)
		}
		if cfg.AppEnv != "" {
			env = cfg.AppEnv
		}
	}
	return slog.New(handler).With(slog.String("service", "replenish"), slog.String("env", env))
}
