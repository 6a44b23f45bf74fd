// Package types provides configuration types for the EA bridge.
package types

import "time"

// ServerConfig holds the listener configuration for the EA-facing HTTP ports.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	ControlPort     int           `mapstructure:"control_port"`
	TickPort        int           `mapstructure:"tick_port"`
	TradeSyncPort   int           `mapstructure:"trade_sync_port"`
	LogPort         int           `mapstructure:"log_port"`
	OpsPort         int           `mapstructure:"ops_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	APIKey          string        `mapstructure:"api_key"`

	// HeartbeatIntervalSeconds is returned to the EA on /api/connect as its
	// polling cadence hint.
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
}

// DefaultServerConfig returns the standard EA-facing port layout.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "0.0.0.0",
		ControlPort:   9900,
		TickPort:      9901,
		TradeSyncPort: 9902,
		LogPort:       9903,
		OpsPort:       9905,
		MetricsPort:   9906,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,

		HeartbeatIntervalSeconds: 10,
	}
}

// DataConfig holds persistence configuration.
type DataConfig struct {
	DBPath          string        `mapstructure:"db_path"`
	TickRetention   time.Duration `mapstructure:"tick_retention"`
	DecisionRetention time.Duration `mapstructure:"decision_retention"`
	RedisAddr       string        `mapstructure:"redis_addr"`
}

// DefaultDataConfig returns the default persistence retention windows.
func DefaultDataConfig() DataConfig {
	return DataConfig{
		DBPath:            "./data/bridge.db",
		TickRetention:     7 * 24 * time.Hour,
		DecisionRetention: 30 * 24 * time.Hour,
	}
}

// TickBufferConfig tunes the per-symbol ring buffer and flusher.
type TickBufferConfig struct {
	RingSize      int           `mapstructure:"ring_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	FlushThreshold int          `mapstructure:"flush_threshold"`
}

// DefaultTickBufferConfig returns the default ring buffer and flush tuning.
func DefaultTickBufferConfig() TickBufferConfig {
	return TickBufferConfig{
		RingSize:       4096,
		FlushInterval:  1 * time.Second,
		FlushThreshold: 1000,
	}
}

// CommandQueueConfig tunes timeout sweeping for the per-account command queues.
type CommandQueueConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
}

// DefaultCommandQueueConfig returns sweep defaults.
func DefaultCommandQueueConfig() CommandQueueConfig {
	return CommandQueueConfig{
		SweepInterval:     5 * time.Second,
		DefaultTimeout:    30 * time.Second,
		DefaultMaxRetries: 3,
	}
}

// RiskWorkerConfig tunes the periodic protective workers.
type RiskWorkerConfig struct {
	DrawdownCheckInterval   time.Duration `mapstructure:"drawdown_check_interval"`
	TimeoutCheckInterval    time.Duration `mapstructure:"timeout_check_interval"`
	StrategyValidateInterval time.Duration `mapstructure:"strategy_validate_interval"`
}

// DefaultRiskWorkerConfig returns the default worker cadences.
func DefaultRiskWorkerConfig() RiskWorkerConfig {
	return RiskWorkerConfig{
		DrawdownCheckInterval:    60 * time.Second,
		TimeoutCheckInterval:     5 * time.Minute,
		StrategyValidateInterval: 5 * time.Minute,
	}
}
