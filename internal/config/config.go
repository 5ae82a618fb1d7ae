package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"steam-price-reporter/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Items     []string        `mapstructure:"items"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Steam     SteamConfig     `mapstructure:"steam"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Report    ReportConfig    `mapstructure:"report"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs sampling cadence and the daily report time.
type SchedulerConfig struct {
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	ReportTime      string        `mapstructure:"report_time"`
	Timezone        string        `mapstructure:"timezone"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SteamConfig covers Steam Community Market access.
type SteamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AppID          int           `mapstructure:"app_id"`
	Currency       string        `mapstructure:"currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// StorageConfig selects and parameterises the persistence backend.
type StorageConfig struct {
	Backend         string         `mapstructure:"backend"`
	Dir             string         `mapstructure:"dir"`
	SQLitePath      string         `mapstructure:"sqlite_path"`
	Timezone        string         `mapstructure:"timezone"`
	Database        DatabaseConfig `mapstructure:"database"`
	AdvisoryLockKey int64          `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ReportConfig shapes the daily report.
type ReportConfig struct {
	Window         time.Duration `mapstructure:"window"`
	ChartPath      string        `mapstructure:"chart_path"`
	ChartWidth     int           `mapstructure:"chart_width"`
	ChartHeight    int           `mapstructure:"chart_height"`
	CurrencySymbol string        `mapstructure:"currency_symbol"`
}

// TelegramConfig describes the delivery channel.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Storage backends.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PRICEREPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	cfg.Items = normaliseItems(cfg.Items)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricereporter")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("items", []string{})

	v.SetDefault("scheduler.sample_interval", "1h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.report_time", "21:00")
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("steam.base_url", "https://steamcommunity.com/market")
	v.SetDefault("steam.app_id", 730)
	v.SetDefault("steam.currency", "RUB")
	v.SetDefault("steam.request_timeout", "5s")
	v.SetDefault("steam.user_agent", "pricereporter/1.0")

	v.SetDefault("storage.backend", BackendCSV)
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.sqlite_path", "./data/prices.db")
	v.SetDefault("storage.timezone", "Local")
	v.SetDefault("storage.database.dsn", "")
	v.SetDefault("storage.advisory_lock_key", int64(0x70726963))
	v.SetDefault("storage.database.max_open_conns", 10)
	v.SetDefault("storage.database.max_idle_conns", 2)
	v.SetDefault("storage.database.conn_max_lifetime", "30m")

	v.SetDefault("report.window", "168h")
	v.SetDefault("report.chart_path", "./price_graph.png")
	v.SetDefault("report.chart_width", 1280)
	v.SetDefault("report.chart_height", 720)
	v.SetDefault("report.currency_symbol", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")
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

func normaliseItems(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Items) == 0 {
		return errors.New("items must list at least one tracked item")
	}
	if c.Scheduler.SampleInterval <= 0 {
		return errors.New("scheduler.sample_interval must be greater than zero")
	}
	if _, _, err := ParseClock(c.Scheduler.ReportTime); err != nil {
		return fmt.Errorf("scheduler.report_time: %w", err)
	}
	if _, err := LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if _, err := LoadLocation(c.Storage.Timezone); err != nil {
		return fmt.Errorf("storage.timezone: %w", err)
	}
	if c.Steam.Currency == "" {
		return errors.New("steam.currency must be set")
	}
	if c.Report.Window <= 0 {
		return errors.New("report.window must be greater than zero")
	}
	switch c.Storage.Backend {
	case BackendCSV:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the csv backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.Database.DSN == "" {
			return errors.New("storage.database.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

// ValidateDelivery checks the settings needed to send reports.
func (c *Config) ValidateDelivery() error {
	if c.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token must be configured")
	}
	if c.Telegram.ChatID == "" {
		return errors.New("telegram.chat_id must be configured")
	}
	return nil
}

// ParseClock parses a wall-clock time in HH:MM form.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}

// LoadLocation resolves a timezone name, treating "" and "Local" as the host zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
