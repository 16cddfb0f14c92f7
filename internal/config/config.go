// Package config loads the replayer's environment configuration and the host
// file describing the replaying binary's native functions.
package config

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"nativereplay/internal/logging"
)

// Config is the environment configuration of the replayer.
type Config struct {
	LogLevel          string        `env:"NATIVEREPLAY_LOG_LEVEL"            envDefault:"info"`
	LogJSON           bool          `env:"NATIVEREPLAY_LOG_JSON"`
	StallTimeout      time.Duration `env:"NATIVEREPLAY_STALL_TIMEOUT"        envDefault:"5s"`
	StrictMutation    bool          `env:"NATIVEREPLAY_STRICT_MUTATION"`
	CompilerID        string        `env:"NATIVEREPLAY_COMPILER_ID"`
	StrictFunctionIDs bool          `env:"NATIVEREPLAY_STRICT_FUNCTION_IDS"`
	StateDir          string        `env:"NATIVEREPLAY_STATE_DIR"            envDefault:"."`
	ArchiveDir        string        `env:"NATIVEREPLAY_ARCHIVE_DIR"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("NATIVEREPLAY_LOG_LEVEL: %w", err)
	}
	if cfg.StallTimeout < 0 {
		return Config{}, fmt.Errorf("NATIVEREPLAY_STALL_TIMEOUT must not be negative, got %s", cfg.StallTimeout)
	}
	return cfg, nil
}

// Logging returns the logger configuration writing to out.
func (c Config) Logging(out io.Writer) logging.Config {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{Level: level, JSON: c.LogJSON, Output: out, Service: "nativereplay"}
}

// ArchivePath is ArchiveDir, defaulting to an archive inside StateDir.
func (c Config) ArchivePath() string {
	if c.ArchiveDir != "" {
		return c.ArchiveDir
	}
	return filepath.Join(c.StateDir, ".nativereplay", "archive")
}
