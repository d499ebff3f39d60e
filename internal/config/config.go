package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"odds-oracle/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Odds        OddsConfig        `mapstructure:"odds"`
	Prediction  PredictionConfig  `mapstructure:"prediction"`
	Loop        LoopConfig        `mapstructure:"loop"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Status      StatusConfig      `mapstructure:"status"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
	DataDir     string `mapstructure:"data_dir"`
	Sport       string `mapstructure:"sport"`
}

// CredentialsConfig holds the three required secrets.
type CredentialsConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	OddsAPIKey   string `mapstructure:"odds_api_key"`
}

// ScheduleConfig points at the public schedule API.
type ScheduleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SportID        int           `mapstructure:"sport_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OddsConfig points at the odds website.
type OddsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	OpeningLine    bool          `mapstructure:"opening_line"`
}

// PredictionConfig covers the prediction service and model fan-out.
type PredictionConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TokenURL       string        `mapstructure:"token_url"`
	Scopes         []string      `mapstructure:"scopes"`
	Models         []string      `mapstructure:"models"`
	ForecastModels []string      `mapstructure:"forecast_models"`
	MaxConcurrent  int64         `mapstructure:"max_concurrent"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	WebSearch      bool          `mapstructure:"web_search"`
	ArticlesToUse  int           `mapstructure:"articles_to_use"`
	Lookback       int           `mapstructure:"lookback"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LoopConfig governs the main processing loop.
type LoopConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	ErrorBackoff          time.Duration `mapstructure:"error_backoff"`
	Window                time.Duration `mapstructure:"window"`
	InProgressSpan        time.Duration `mapstructure:"in_progress_span"`
	InitialRefreshTimeout time.Duration `mapstructure:"initial_refresh_timeout"`
	ScheduleTimeout       time.Duration `mapstructure:"schedule_timeout"`
	DailyRefreshCron      string        `mapstructure:"daily_refresh_cron"`
	AdvisoryLockKey       int64         `mapstructure:"advisory_lock_key"`
	StartupDelay          time.Duration `mapstructure:"startup_delay"`
}

// RetryConfig is the shared upstream retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// the mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the odds snapshot mirror when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AlertingConfig routes forecast notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// StatusConfig exposes the read-only status endpoint when Listen is set.
type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from .env, file, environment, and defaults and
// requires the three upstream credentials.
func Load(path string) (*Config, error) {
	cfg, err := LoadWithoutCredentials(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithoutCredentials is Load for commands that only read local results or
// the database mirror.
func LoadWithoutCredentials(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ODDSORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindSecrets(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// bindSecrets lets the plain CLIENT_ID / CLIENT_SECRET / ODDS_API_KEY
// variables fill the credentials section.
func bindSecrets(v *viper.Viper) error {
	bindings := map[string][]string{
		"credentials.client_id":     {"CLIENT_ID", "ODDSORACLE_CREDENTIALS_CLIENT_ID"},
		"credentials.client_secret": {"CLIENT_SECRET", "ODDSORACLE_CREDENTIALS_CLIENT_SECRET"},
		"credentials.odds_api_key":  {"ODDS_API_KEY", "ODDSORACLE_CREDENTIALS_ODDS_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "oddsoracle")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "America/New_York")
	v.SetDefault("app.data_dir", "mlb_data")
	v.SetDefault("app.sport", "MLB")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("schedule.base_url", "https://statsapi.mlb.com")
	v.SetDefault("schedule.sport_id", 1)
	v.SetDefault("schedule.request_timeout", "180s")
	v.SetDefault("schedule.user_agent", "oddsoracle/1.0")

	v.SetDefault("odds.base_url", "https://www.sportsbookreview.com")
	v.SetDefault("odds.request_timeout", "60s")
	v.SetDefault("odds.user_agent", "oddsoracle/1.0")
	v.SetDefault("odds.opening_line", false)

	v.SetDefault("prediction.base_url", "https://api.asknews.app")
	v.SetDefault("prediction.token_url", "https://auth.asknews.app/oauth2/token")
	v.SetDefault("prediction.scopes", []string{"chat", "news", "stories"})
	v.SetDefault("prediction.models", []string{"gpt-4o", "meta-llama/Meta-Llama-3-70B-Instruct", "claude-3-5-sonnet-20240620"})
	v.SetDefault("prediction.forecast_models", []string{"claude-3-5-sonnet-20240620", "gpt-4o"})
	v.SetDefault("prediction.max_concurrent", 5)
	v.SetDefault("prediction.call_timeout", "180s")
	v.SetDefault("prediction.web_search", true)
	v.SetDefault("prediction.articles_to_use", 12)
	v.SetDefault("prediction.lookback", 1)
	v.SetDefault("prediction.user_agent", "oddsoracle/1.0")

	v.SetDefault("loop.interval", "15m")
	v.SetDefault("loop.error_backoff", "60s")
	v.SetDefault("loop.window", "1h")
	v.SetDefault("loop.in_progress_span", "3h")
	v.SetDefault("loop.initial_refresh_timeout", "5m")
	v.SetDefault("loop.schedule_timeout", "180s")
	v.SetDefault("loop.daily_refresh_cron", "0 6 * * *")
	v.SetDefault("loop.advisory_lock_key", int64(0x6f646473))
	v.SetDefault("loop.startup_delay", "0s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "4s")
	v.SetDefault("retry.max_delay", "60s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_rows", 100000)
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

// RequireCredentials fails when any upstream secret is absent.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Credentials.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.Credentials.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if c.Credentials.OddsAPIKey == "" {
		missing = append(missing, "ODDS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// validateSettings performs basic sanity checks on the configuration values.
func (c *Config) validateSettings() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.App.DataDir == "" {
		return fmt.Errorf("app.data_dir must be set")
	}
	if c.Prediction.MaxConcurrent <= 0 {
		return fmt.Errorf("prediction.max_concurrent must be greater than zero")
	}
	if len(c.Prediction.Models)+len(c.Prediction.ForecastModels) == 0 {
		return fmt.Errorf("at least one prediction model must be configured")
	}
	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be greater than zero")
	}
	if c.Loop.Window < 0 {
		return fmt.Errorf("loop.window cannot be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than zero")
	}
	if c.Loop.DailyRefreshCron != "" {
		if _, err := cron.ParseStandard(c.Loop.DailyRefreshCron); err != nil {
			return fmt.Errorf("loop.daily_refresh_cron: %w", err)
		}
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// Location resolves the application timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app.timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
