package main

import (
	"log/slog"
	"os"

	"kvcore/internal/config"
)

// initLogger configures the global slog.Logger (JSON or text) per the
// loaded config.
func initLogger(cfg config.Config) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", cfg.LogLevel, "json", cfg.LogJSON)
}
