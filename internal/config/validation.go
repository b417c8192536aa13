package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.KIS.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (k *KISConfig) validate() error {
	if strings.TrimSpace(k.BaseURL) == "" {
		return fmt.Errorf("kis.base_url cannot be empty")
	}
	if strings.TrimSpace(k.AppKey) == "" || strings.TrimSpace(k.AppSecret) == "" {
		return fmt.Errorf("kis.app_key and kis.app_secret are required")
	}
	if strings.TrimSpace(k.AccountNo) == "" {
		return fmt.Errorf("kis.account_no is required")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if d.RefreshIntervalSeconds <= 0 {
		return fmt.Errorf("data.refresh_interval_seconds must be > 0")
	}
	if d.APICallCeilingPerSecond <= 0 {
		return fmt.Errorf("data.api_call_ceiling_per_second must be > 0")
	}
	if d.CallsPerStock <= 0 {
		return fmt.Errorf("data.calls_per_stock must be > 0")
	}
	if d.MaxTrackedStocks <= 0 {
		return fmt.Errorf("data.max_tracked_stocks must be > 0")
	}
	if d.MinBars < 0 {
		return fmt.Errorf("data.min_bars must be >= 0")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be > 0")
	}
	if t.PerStockPositionRatio <= 0 || t.PerStockPositionRatio > 1 {
		return fmt.Errorf("trading.per_stock_position_ratio must be in (0,1]")
	}
	if t.MaxTotalInvestmentRatio <= 0 || t.MaxTotalInvestmentRatio > 1 {
		return fmt.Errorf("trading.max_total_investment_ratio must be in (0,1]")
	}
	if t.PerStockPositionRatio > t.MaxTotalInvestmentRatio {
		return fmt.Errorf("trading.per_stock_position_ratio cannot exceed max_total_investment_ratio")
	}
	if t.BuyCooldownMinutes < 0 {
		return fmt.Errorf("trading.buy_cooldown_minutes must be >= 0")
	}
	if t.DailyReentryLimit < 0 {
		return fmt.Errorf("trading.daily_reentry_limit must be >= 0")
	}
	if t.OrderTimeoutSeconds <= 0 {
		return fmt.Errorf("trading.order_timeout_seconds must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
