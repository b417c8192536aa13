package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, defaults and validates the yaml configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	applyDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":9981")
	v.SetDefault("app.log_path", "data/logs/robotrader.log")

	v.SetDefault("kis.base_url", "https://openapi.koreainvestment.com:9443")
	v.SetDefault("kis.account_product", "01")
	v.SetDefault("kis.timeout_seconds", 10)

	v.SetDefault("data.refresh_interval_seconds", 60)
	v.SetDefault("data.api_call_ceiling_per_second", 20)
	v.SetDefault("data.calls_per_stock", 2)
	v.SetDefault("data.target_refresh_seconds", 10)
	v.SetDefault("data.max_tracked_stocks", 200)
	v.SetDefault("data.recent_window_minutes", 10)
	v.SetDefault("data.reconcile_lookback", 10)
	v.SetDefault("data.min_bars", 20)

	v.SetDefault("trading.initial_capital", 10_000_000)
	v.SetDefault("trading.per_stock_position_ratio", 0.1)
	v.SetDefault("trading.max_total_investment_ratio", 0.8)
	v.SetDefault("trading.buy_cooldown_minutes", 30)
	v.SetDefault("trading.daily_reentry_limit", 2)
	v.SetDefault("trading.order_timeout_seconds", 180)
	v.SetDefault("trading.order_poll_seconds", 10)
	v.SetDefault("trading.decision_interval_seconds", 30)
	v.SetDefault("trading.eod_liquidation", true)

	v.SetDefault("store.path", "data/db/trades.db")
	v.SetDefault("universe.path", "configs/watchlist.yaml")
}
