package svcman

import (
	"context"
	"log/slog"

	"github.com/friendfinder/svcman/internal/config"
	"github.com/friendfinder/svcman/internal/logger"
	"github.com/friendfinder/svcman/internal/manager"
	"github.com/friendfinder/svcman/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type ServerConfig = config.ServerConfig

type DatabaseConfig = config.DatabaseConfig

type LoggerConfig = logger.Config

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.

type Manager struct{ inner *manager.Manager }

func New(cfg *Config, log *slog.Logger) *Manager {
	return &Manager{inner: manager.New(cfg, log)}
}

// Run blocks until all components have shut down. It returns nil for a
// signal-initiated graceful shutdown and the first fatal error otherwise.
func (m *Manager) Run(ctx context.Context) error { return m.inner.Run(ctx) }

// Shutdown triggers graceful shutdown. Idempotent.
func (m *Manager) Shutdown() { m.inner.Shutdown() }

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewLogger builds a slog.Logger from the logging section of the config.
func NewLogger(cfg LoggerConfig) *slog.Logger { return cfg.NewSlogger() }

// RegisterMetrics registers the manager's collectors on r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
