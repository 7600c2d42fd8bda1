package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// EngineConfig configures evaluation runs.
type EngineConfig struct {
	MaxConcurrency      int         `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	ConfidenceFloor     float64     `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	InferEdges          bool        `yaml:"infer_edges" mapstructure:"infer_edges"`
	ReadRatePerSec      float64     `yaml:"read_rate_per_sec" mapstructure:"read_rate_per_sec"`
	ReadBurst           int         `yaml:"read_burst" mapstructure:"read_burst"`
	ActualsCacheTTLSecs int         `yaml:"actuals_cache_ttl_secs" mapstructure:"actuals_cache_ttl_secs"`
	TablesPath          string      `yaml:"tables_path" mapstructure:"tables_path"`
	Retry               RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures backoff for transient store failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// WorkerConfig configures the Temporal worker.
type WorkerConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// MonitoringConfig configures run alerts. An empty WebhookURL disables
// delivery.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	NotifyBreaches       bool    `yaml:"notify_breaches" mapstructure:"notify_breaches"`
	DamagesThreshold     float64 `yaml:"damages_threshold" mapstructure:"damages_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMPLIANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("engine.max_concurrency", 4)
	v.SetDefault("engine.confidence_floor", 0.0)
	v.SetDefault("engine.infer_edges", false)
	v.SetDefault("engine.read_rate_per_sec", 0.0)
	v.SetDefault("engine.read_burst", 10)
	v.SetDefault("engine.actuals_cache_ttl_secs", 0)
	v.SetDefault("engine.tables_path", "")
	v.SetDefault("engine.retry.max_attempts", 3)
	v.SetDefault("engine.retry.initial_backoff_ms", 200)
	v.SetDefault("engine.retry.max_backoff_ms", 5000)
	v.SetDefault("worker.host_port", "localhost:7233")
	v.SetDefault("worker.namespace", "default")
	v.SetDefault("worker.task_queue", "compliance-evaluations")
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.notify_breaches", true)
	v.SetDefault("monitoring.damages_threshold", 0.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode: "evaluate",
// "serve", "worker" or "migrate". Every problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	switch mode {
	case "migrate":
	case "evaluate", "serve", "worker":
		if c.Engine.MaxConcurrency < 1 || c.Engine.MaxConcurrency > 64 {
			add("engine.max_concurrency must be between 1 and 64")
		}
		if c.Engine.ConfidenceFloor < 0 || c.Engine.ConfidenceFloor > 1 {
			add("engine.confidence_floor must be between 0 and 1")
		}
		if c.Engine.ReadRatePerSec < 0 {
			add("engine.read_rate_per_sec must be >= 0")
		}
		if c.Engine.ActualsCacheTTLSecs < 0 {
			add("engine.actuals_cache_ttl_secs must be >= 0")
		}
		if c.Engine.Retry.MaxAttempts < 0 {
			add("engine.retry.max_attempts must be >= 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			add("monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if mode == "worker" {
			if c.Worker.HostPort == "" {
				add("worker.host_port is required")
			}
			if c.Worker.TaskQueue == "" {
				add("worker.task_queue is required")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
