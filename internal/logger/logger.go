package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// FileConfig describes an optional rotating log file for the manager's own
// output. When Path is empty the manager logs to stdout only.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config describes how the manager logger is built. Components receive the
// resulting *slog.Logger via their constructors; there is no global state
// beyond what the caller chooses to install with slog.SetDefault.
type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Color  bool       `mapstructure:"color"`
	File   FileConfig `mapstructure:"file"`
}

// NewSlogger builds a slog.Logger from the config.
func (c Config) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stdout
	if c.File.Path != "" {
		w = io.MultiWriter(os.Stdout, &lj.Logger{
			Filename:   c.File.Path,
			MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.File.Compress,
		})
	}
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	var h slog.Handler
	switch {
	case strings.EqualFold(c.Format, FormatJSON):
		h = slog.NewJSONHandler(w, opts)
	case c.Color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func (c Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
