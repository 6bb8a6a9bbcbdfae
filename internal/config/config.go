package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pygase/internal/connection"
)

// Config holds all runtime configuration for a pygase server or client
// process: transport tunables, simulation cadence, and the ambient
// logging/metrics stack.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the UDP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ConnectionConfig mirrors internal/connection.Config's tunables so they
// can be overridden from the environment or a config file.
type ConnectionConfig struct {
	SequenceWidth      int           `mapstructure:"sequence_width"`
	MaxDatagramSize    int           `mapstructure:"max_datagram_size"`
	GoodRateHz         float64       `mapstructure:"good_rate_hz"`
	BadRateHz          float64       `mapstructure:"bad_rate_hz"`
	LatencyThresholdMs float64       `mapstructure:"latency_threshold_ms"`
	BadHold            time.Duration `mapstructure:"bad_hold"`
	GoodHold           time.Duration `mapstructure:"good_hold"`
	HoldBackoffFactor  float64       `mapstructure:"hold_backoff_factor"`
	MaxHold            time.Duration `mapstructure:"max_hold"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	DeadTimeout        time.Duration `mapstructure:"dead_timeout"`
	EventTimeout       time.Duration `mapstructure:"event_timeout"`
	DefaultRetries     int           `mapstructure:"default_retries"`
	InboundRateLimit   float64       `mapstructure:"inbound_rate_limit"`
}

// SimulationConfig controls the statemachine's ticker and update cache.
type SimulationConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	CacheSize  int           `mapstructure:"cache_size"`
	EventQueue int           `mapstructure:"event_queue_size"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ListenAddr  string `mapstructure:"listen_addr"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and an optional
// config file named pygase.yaml/pygase.json/etc in the working
// directory or ./config.
func Load() (Config, error) {
	// Best-effort: a .env file is a development convenience, not a
	// requirement. Production deployments set real environment
	// variables and PYGASE_-prefixed viper.AutomaticEnv picks those up
	// regardless of whether this succeeds.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("connection.sequence_width", 2)
	v.SetDefault("connection.max_datagram_size", 2048)
	v.SetDefault("connection.good_rate_hz", 40.0)
	v.SetDefault("connection.bad_rate_hz", 5.0)
	v.SetDefault("connection.latency_threshold_ms", 250.0)
	v.SetDefault("connection.bad_hold", time.Second)
	v.SetDefault("connection.good_hold", 10*time.Second)
	v.SetDefault("connection.hold_backoff_factor", 1.5)
	v.SetDefault("connection.max_hold", 60*time.Second)
	v.SetDefault("connection.idle_timeout", 5*time.Second)
	v.SetDefault("connection.dead_timeout", 15*time.Second)
	v.SetDefault("connection.event_timeout", time.Second)
	v.SetDefault("connection.default_retries", 0)
	v.SetDefault("connection.inbound_rate_limit", 200.0)

	v.SetDefault("simulation.interval", 20*time.Millisecond)
	v.SetDefault("simulation.cache_size", 100)
	v.SetDefault("simulation.event_queue_size", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.service_name", "pygase")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("pygase")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("PYGASE")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Connection.SequenceWidth <= 0 {
		cfg.Connection.SequenceWidth = 2
	}
	if cfg.Connection.MaxDatagramSize <= 0 {
		cfg.Connection.MaxDatagramSize = 2048
	}
	if cfg.Simulation.CacheSize <= 0 {
		cfg.Simulation.CacheSize = 100
	}
	if cfg.Simulation.EventQueue <= 0 {
		cfg.Simulation.EventQueue = 256
	}

	return cfg, nil
}

// ToConnectionConfig adapts the loaded tunables to internal/connection's
// own Config shape.
func (c ConnectionConfig) ToConnectionConfig() connection.Config {
	return connection.Config{
		SequenceWidth:      c.SequenceWidth,
		MaxDatagramSize:    c.MaxDatagramSize,
		GoodRateHz:         c.GoodRateHz,
		BadRateHz:          c.BadRateHz,
		LatencyThresholdMs: c.LatencyThresholdMs,
		BadHold:            c.BadHold,
		GoodHold:           c.GoodHold,
		HoldBackoffFactor:  c.HoldBackoffFactor,
		MaxHold:            c.MaxHold,
		IdleTimeout:        c.IdleTimeout,
		DeadTimeout:        c.DeadTimeout,
		EventTimeout:       c.EventTimeout,
		DefaultRetries:     c.DefaultRetries,
		InboundRateLimit:   c.InboundRateLimit,
	}
}
