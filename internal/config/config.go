// Package config loads the bridge's static configuration via viper, with
// environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-ea/bridge/pkg/types"
)

// Config is the full static configuration loaded at boot. GlobalSettings
// (the mutable trading parameters) is deliberately not part of this struct —
// it lives in the database as described in internal/store.
type Config struct {
	Server       types.ServerConfig       `mapstructure:"server"`
	Data         types.DataConfig         `mapstructure:"data"`
	TickBuffer   types.TickBufferConfig   `mapstructure:"tick_buffer"`
	CommandQueue types.CommandQueueConfig `mapstructure:"command_queue"`
	RiskWorkers  types.RiskWorkerConfig   `mapstructure:"risk_workers"`
	LogLevel     string                   `mapstructure:"log_level"`
	AssetClassesPath string               `mapstructure:"asset_classes_path"`
	IndicatorWeightsPath string           `mapstructure:"indicator_weights_path"`

	// AlertWebhookURL, when set, receives CRITICAL risk alerts via
	// internal/alerting's retrying webhook forwarder.
	AlertWebhookURL string `mapstructure:"alert_webhook_url"`
}

// Default returns the configuration used when no file or env override is
// present, mirroring every package's DefaultXConfig() constructor.
func Default() Config {
	return Config{
		Server:               types.DefaultServerConfig(),
		Data:                 types.DefaultDataConfig(),
		TickBuffer:           types.DefaultTickBufferConfig(),
		CommandQueue:         types.DefaultCommandQueueConfig(),
		RiskWorkers:          types.DefaultRiskWorkerConfig(),
		LogLevel:             "info",
		AssetClassesPath:     "configs/asset_classes.yaml",
		IndicatorWeightsPath: "configs/indicator_weights.yaml",
	}
}

// Load reads configPath (if non-empty) over the defaults, then applies
// EABRIDGE_-prefixed environment variable overrides (e.g.
// EABRIDGE_SERVER_CONTROL_PORT).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("EABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}
