// Package config loads the trading server configuration from yaml plus
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Logger   LoggerConfig   `yaml:"logger" json:"logger" mapstructure:"logger"`
	Database DatabaseConfig `yaml:"database" json:"database" mapstructure:"database"`
	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch" mapstructure:"dispatch"`
	FlowCtrl FlowCtrlConfig `yaml:"flow_ctrl" json:"flow_ctrl" mapstructure:"flow_ctrl"`
	Fees     FeesConfig     `yaml:"fees" json:"fees" mapstructure:"fees"`
	Resync   ResyncConfig   `yaml:"resync" json:"resync" mapstructure:"resync"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

type LoggerConfig struct {
	Level    string `yaml:"level" json:"level" mapstructure:"level"`
	Encoding string `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver" json:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DSN        string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	QueueDepth int    `yaml:"queue_depth" json:"queue_depth" mapstructure:"queue_depth"`
}

type DispatchConfig struct {
	Workers      int           `yaml:"workers" json:"workers" mapstructure:"workers"`
	QueueDepth   int           `yaml:"queue_depth" json:"queue_depth" mapstructure:"queue_depth"`
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval" mapstructure:"tick_interval"`
}

// FlowCtrlConfig holds the per-target enable switches keyed by target
// name; targets not listed stay enabled.
type FlowCtrlConfig struct {
	Targets map[string]bool `yaml:"targets" json:"targets" mapstructure:"targets"`
}

type FeesConfig struct {
	DefaultRate string          `yaml:"default_rate" json:"default_rate" mapstructure:"default_rate"`
	Rates       []FeeRateConfig `yaml:"rates" json:"rates" mapstructure:"rates"`
}

type FeeRateConfig struct {
	MarketCode string `yaml:"market_code" json:"market_code" mapstructure:"market_code"`
	SymbolType string `yaml:"symbol_type" json:"symbol_type" mapstructure:"symbol_type"`
	SymbolCode string `yaml:"symbol_code" json:"symbol_code" mapstructure:"symbol_code"`
	FeeRate    string `yaml:"fee_rate" json:"fee_rate" mapstructure:"fee_rate"`
}

type ResyncConfig struct {
	Interval  time.Duration `yaml:"interval" json:"interval" mapstructure:"interval"`
	OlderThan time.Duration `yaml:"older_than" json:"older_than" mapstructure:"older_than"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr" mapstructure:"addr"`
}

// Load reads the configuration: defaults, then the yaml file at path (or
// the standard search locations when path is empty), then TRADESRV_*
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tradesrv")
	}
	v.SetEnvPrefix("TRADESRV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:tradesrv.db")
	v.SetDefault("database.queue_depth", 10240)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_depth", 1024)
	v.SetDefault("dispatch.tick_interval", 5*time.Second)

	v.SetDefault("fees.default_rate", "0.001")

	v.SetDefault("resync.interval", 30*time.Second)
	v.SetDefault("resync.older_than", 10*time.Second)

	v.SetDefault("metrics.addr", "")
}
