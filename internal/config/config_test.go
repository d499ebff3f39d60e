package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("CLIENT_ID", "id")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("ODDS_API_KEY", "key")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置应可加载: %v", err)
	}

	if cfg.Credentials.ClientID != "id" || cfg.Credentials.OddsAPIKey != "key" {
		t.Fatalf("secrets not bound: %+v", cfg.Credentials)
	}
	if cfg.Loop.Interval != 15*time.Minute || cfg.Loop.ErrorBackoff != time.Minute || cfg.Loop.Window != time.Hour {
		t.Fatalf("unexpected loop defaults: %+v", cfg.Loop)
	}
	if cfg.Loop.InitialRefreshTimeout != 5*time.Minute || cfg.Loop.ScheduleTimeout != 180*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Loop)
	}
	if cfg.Prediction.MaxConcurrent != 5 || cfg.Prediction.CallTimeout != 180*time.Second {
		t.Fatalf("unexpected prediction defaults: %+v", cfg.Prediction)
	}
	if len(cfg.Prediction.Models) != 3 || len(cfg.Prediction.ForecastModels) != 2 {
		t.Fatalf("unexpected models: %v / %v", cfg.Prediction.Models, cfg.Prediction.ForecastModels)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != 4*time.Second || cfg.Retry.MaxDelay != time.Minute {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}

	loc, err := cfg.Location()
	if err != nil || loc.String() != "America/New_York" {
		t.Fatalf("unexpected location %v: %v", loc, err)
	}
}

func TestLoadMissingSecrets(t *testing.T) {
	t.Setenv("CLIENT_ID", "id")
	t.Setenv("CLIENT_SECRET", "")
	t.Setenv("ODDS_API_KEY", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("缺少密钥应报错")
	}
	want := "missing required credentials: CLIENT_SECRET, ODDS_API_KEY"
	if err.Error() != want {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadWithoutCredentials(t *testing.T) {
	t.Setenv("CLIENT_ID", "")
	t.Setenv("CLIENT_SECRET", "")
	t.Setenv("ODDS_API_KEY", "")

	cfg, err := LoadWithoutCredentials("")
	if err != nil {
		t.Fatalf("本地命令不应要求密钥: %v", err)
	}
	if cfg.App.DataDir != "mlb_data" {
		t.Fatalf("defaults not applied: %+v", cfg.App)
	}
	if err := cfg.RequireCredentials(); err == nil {
		t.Fatal("RequireCredentials 应报错")
	}

	path := writeConfig(t, `
loop:
  daily_refresh_cron: "not a cron"
`)
	if _, err := LoadWithoutCredentials(path); err == nil {
		t.Fatal("settings are still validated without credentials")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	setSecrets(t)
	t.Setenv("ODDSORACLE_LOOP_INTERVAL", "5m")

	path := writeConfig(t, `
app:
  data_dir: /var/lib/oddsoracle
prediction:
  models: ["gpt-4o"]
  forecast_models: []
  max_concurrent: 2
loop:
  window: 30m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.DataDir != "/var/lib/oddsoracle" {
		t.Fatalf("data_dir not applied: %q", cfg.App.DataDir)
	}
	if len(cfg.Prediction.Models) != 1 || len(cfg.Prediction.ForecastModels) != 0 || cfg.Prediction.MaxConcurrent != 2 {
		t.Fatalf("prediction overrides not applied: %+v", cfg.Prediction)
	}
	if cfg.Loop.Window != 30*time.Minute {
		t.Fatalf("window not applied: %v", cfg.Loop.Window)
	}
	if cfg.Loop.Interval != 5*time.Minute {
		t.Fatalf("env override not applied: %v", cfg.Loop.Interval)
	}
}

func TestValidateRejectsBadCron(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
loop:
  daily_refresh_cron: "not a cron"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("invalid cron expression should fail")
	}
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
alerting:
  telegram:
    enabled: true
    chat_id: "42"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("telegram without token should fail")
	}
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 10}}
	if cfg.ResolveMaxRows(0) != 10 || cfg.ResolveMaxRows(3) != 3 {
		t.Fatal("override resolution incorrect")
	}
}
