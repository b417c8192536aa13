package config

// Config is the top-level application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	KIS      KISConfig      `mapstructure:"kis"`
	Data     DataConfig     `mapstructure:"data"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Store    StoreConfig    `mapstructure:"store"`
	Universe UniverseConfig `mapstructure:"universe"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

// KISConfig is the brokerage API connection.
type KISConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AppKey         string `mapstructure:"app_key"`
	AppSecret      string `mapstructure:"app_secret"`
	AccountNo      string `mapstructure:"account_no"`
	AccountProduct string `mapstructure:"account_product"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DataConfig tunes the intraday refresh pipeline.
type DataConfig struct {
	RefreshIntervalSeconds  int     `mapstructure:"refresh_interval_seconds"`
	APICallCeilingPerSecond int     `mapstructure:"api_call_ceiling_per_second"`
	CallsPerStock           int     `mapstructure:"calls_per_stock"`
	TargetRefreshSeconds    float64 `mapstructure:"target_refresh_seconds"`
	MaxTrackedStocks        int     `mapstructure:"max_tracked_stocks"`
	RecentWindowMinutes     int     `mapstructure:"recent_window_minutes"`
	ReconcileLookback       int     `mapstructure:"reconcile_lookback"`
	MinBars                 int     `mapstructure:"min_bars"`
}

// TradingConfig tunes capital allocation and the order lifecycle.
type TradingConfig struct {
	InitialCapital          float64 `mapstructure:"initial_capital"`
	PerStockPositionRatio   float64 `mapstructure:"per_stock_position_ratio"`
	MaxTotalInvestmentRatio float64 `mapstructure:"max_total_investment_ratio"`
	BuyCooldownMinutes      int     `mapstructure:"buy_cooldown_minutes"`
	DailyReentryLimit       int     `mapstructure:"daily_reentry_limit"`
	OrderTimeoutSeconds     int     `mapstructure:"order_timeout_seconds"`
	OrderPollSeconds        int     `mapstructure:"order_poll_seconds"`
	DecisionIntervalSeconds int     `mapstructure:"decision_interval_seconds"`
	EODLiquidation          bool    `mapstructure:"eod_liquidation"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type UniverseConfig struct {
	Path string `mapstructure:"path"`
}
