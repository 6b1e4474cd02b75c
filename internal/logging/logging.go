// Package logging builds the host's zap logger from launcher settings.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and an optional directory for a log file.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Directory, when set, adds a host.log file there alongside stdout.
	Directory string

	// Development switches to the console encoder with colored levels.
	Development bool
}

// New builds a logger from config.
func New(config Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(config.Level))
		if err != nil {
			return nil, fmt.Errorf("unknown log level %q", config.Level)
		}
		level = parsed
	}

	base := zap.NewProductionConfig()
	base.Level = zap.NewAtomicLevelAt(level)
	base.DisableStacktrace = true
	if config.Development {
		base.Encoding = "console"
		base.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		base.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if config.Directory != "" {
		if err := os.MkdirAll(config.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		base.OutputPaths = append(base.OutputPaths, filepath.Join(config.Directory, "host.log"))
	}

	logger, err := base.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
