package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/friendfinder/svcman/internal/logger"
)

// ServerConfig describes the supervised application server and the manager's
// own listener behavior.
type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	PythonPath    string        `mapstructure:"python_path"`
	EntryPath     string        `mapstructure:"entry_path"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	HealthPort    string        `mapstructure:"health_port"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	Env           []string      `mapstructure:"env"`
}

type DatabaseConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	DBName        string        `mapstructure:"db_name"`
	SSLMode       string        `mapstructure:"ssl_mode"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PingTimeout   time.Duration `mapstructure:"ping_timeout"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// Config is the top-level settings structure, read once at startup and
// treated as immutable thereafter.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  logger.Config  `mapstructure:"logging"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// Load reads a YAML config file and applies defaults for unset fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.PythonPath == "" {
		c.Server.PythonPath = "python3"
	}
	if c.Server.EntryPath == "" {
		c.Server.EntryPath = "server.py"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.HealthPort == "" {
		c.Server.HealthPort = "9090"
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = 30 * time.Second
	}
	if c.Server.DrainTimeout == 0 {
		c.Server.DrainTimeout = 10 * time.Second
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.CheckInterval == 0 {
		c.Database.CheckInterval = 30 * time.Second
	}
	if c.Database.MaxRetries == 0 {
		c.Database.MaxRetries = 3
	}
	if c.Database.PingTimeout == 0 {
		c.Database.PingTimeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logger.FormatText
	}
}

// Validate checks fatal-at-startup conditions.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.db_name is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server.port and server.health_port must differ (both %q)", c.Server.Port)
	}
	return nil
}

// DSN builds the postgres connection string. Credentials are omitted
// entirely when user is unset so trust-based local connections work.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%d", d.Port),
	}
	if d.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", d.User))
		if d.Password != "" {
			parts = append(parts, fmt.Sprintf("password=%s", d.Password))
		}
	}
	parts = append(parts,
		fmt.Sprintf("dbname=%s", d.DBName),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
	)
	return strings.Join(parts, " ")
}
