package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "items:\n  - Recoil Case\n  - \"  Recoil Case \"\n  - Dreams & Nightmares Case\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Recoil Case", "Dreams & Nightmares Case"}, cfg.Items)
	assert.Equal(t, time.Hour, cfg.Scheduler.SampleInterval)
	assert.Equal(t, "21:00", cfg.Scheduler.ReportTime)
	assert.Equal(t, BackendCSV, cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Steam.RequestTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Report.Window)
	assert.Equal(t, "RUB", cfg.Steam.Currency)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "items: [\"Recoil Case\"]\n")
	t.Setenv("PRICEREPORTER_TELEGRAM_BOT_TOKEN", "secret")
	t.Setenv("PRICEREPORTER_SCHEDULER_REPORT_TIME", "08:30")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Telegram.BotToken)
	assert.Equal(t, "08:30", cfg.Scheduler.ReportTime)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Items:     []string{"Recoil Case"},
			Scheduler: SchedulerConfig{SampleInterval: time.Hour, ReportTime: "21:00"},
			Steam:     SteamConfig{Currency: "RUB"},
			Storage:   StorageConfig{Backend: BackendCSV, Dir: "data"},
			Report:    ReportConfig{Window: time.Hour},
		}
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no items", func(c *Config) { c.Items = nil }},
		{"zero interval", func(c *Config) { c.Scheduler.SampleInterval = 0 }},
		{"bad report time", func(c *Config) { c.Scheduler.ReportTime = "9pm" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"zero window", func(c *Config) { c.Report.Window = 0 }},
	}

	ok := base()
	require.NoError(t, ok.Validate())

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDelivery(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.ValidateDelivery())
	cfg.Telegram.BotToken = "token"
	assert.Error(t, cfg.ValidateDelivery())
	cfg.Telegram.ChatID = "42"
	assert.NoError(t, cfg.ValidateDelivery())
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)

	_, _, err = ParseClock("25:00")
	assert.Error(t, err)
}
