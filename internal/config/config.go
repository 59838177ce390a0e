package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultSettingsPath = "configs/settings.json"
	defaultTradingPath  = "configs/trading.json"
	envPrefix           = "fxpilot"
)

// Load 读取通用配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := newViper(path, defaultSettingsPath)

	setDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadTrading 读取交易配置文件并返回 TradingConfig。
func LoadTrading(path string) (*TradingConfig, error) {
	v := newViper(path, defaultTradingPath)

	setTradingDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg TradingConfig
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析交易配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func newViper(path, fallback string) *viper.Viper {
	v := viper.New()

	if path == "" {
		path = fallback
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	return v
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("未找到配置文件 %q: %w", v.ConfigFileUsed(), err)
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("data_source.excel.sheet", "Sheet1")
	v.SetDefault("data_source.retry.max_attempts", 3)
	v.SetDefault("data_source.retry.min_delay", "500ms")
	v.SetDefault("data_source.retry.max_delay", "5s")

	v.SetDefault("execution.mode", ModeSimulation)
	v.SetDefault("execution.call_timeout", "10s")
	v.SetDefault("execution.simulated_latency", "0s")

	v.SetDefault("database.path", "data/fx_pilot.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("report.enabled", true)
	v.SetDefault("report.port", 8700)
}

func setTradingDefaults(v *viper.Viper) {
	v.SetDefault("schedule.lead_time", "30s")
	v.SetDefault("schedule.grace_window", "60s")
	v.SetDefault("schedule.tick_interval", "1s")

	v.SetDefault("defaults.lot_size", 1000)

	v.SetDefault("risk.max_open_positions", 5)
	v.SetDefault("risk.max_lot_size", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
