package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/chartman_test")
	t.Setenv("LASTFM_API_KEY", "test-key")
}

func TestLoad_RequiredVariables(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.DatabaseURL != "postgres://localhost:5432/chartman_test" {
		t.Errorf("DatabaseURL = %s", cfg.DatabaseURL)
	}
	if cfg.LastfmAPIKey != "test-key" {
		t.Errorf("LastfmAPIKey = %s", cfg.LastfmAPIKey)
	}
}

func TestLoad_MissingRequiredVariables(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LASTFM_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("必須環境変数が未設定の場合はエラーを返すべき")
	}

	// 不足している変数名がすべてエラーメッセージに含まれる
	for _, name := range []string{"DATABASE_URL", "LASTFM_API_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("エラーメッセージに %s が含まれていない: %v", name, err)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.LastfmAPIURL != "https://ws.audioscrobbler.com/2.0/" {
		t.Errorf("LastfmAPIURL = %s", cfg.LastfmAPIURL)
	}
	if cfg.LastfmRateLimit != 2.0 {
		t.Errorf("LastfmRateLimit = %f, want 2.0", cfg.LastfmRateLimit)
	}
	if cfg.SyncMaxConcurrent != 3 {
		t.Errorf("SyncMaxConcurrent = %d, want 3", cfg.SyncMaxConcurrent)
	}
	if cfg.SyncJobDelay != 2*time.Second {
		t.Errorf("SyncJobDelay = %v, want 2s", cfg.SyncJobDelay)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.SyncStaleAfter != 12*time.Hour {
		t.Errorf("SyncStaleAfter = %v, want 12h", cfg.SyncStaleAfter)
	}
	if cfg.TopPageSize != 1000 {
		t.Errorf("TopPageSize = %d, want 1000", cfg.TopPageSize)
	}
	if cfg.TopMaxPages != 4 {
		t.Errorf("TopMaxPages = %d, want 4", cfg.TopMaxPages)
	}
	if cfg.FraudWindow != 90*24*time.Hour {
		t.Errorf("FraudWindow = %v, want 2160h", cfg.FraudWindow)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %s, want 8080", cfg.ServerPort)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYNC_MAX_CONCURRENT", "5")
	t.Setenv("SYNC_JOB_DELAY", "500ms")
	t.Setenv("LASTFM_RATE_LIMIT", "4.5")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.SyncMaxConcurrent != 5 {
		t.Errorf("SyncMaxConcurrent = %d, want 5", cfg.SyncMaxConcurrent)
	}
	if cfg.SyncJobDelay != 500*time.Millisecond {
		t.Errorf("SyncJobDelay = %v, want 500ms", cfg.SyncJobDelay)
	}
	if cfg.LastfmRateLimit != 4.5 {
		t.Errorf("LastfmRateLimit = %f, want 4.5", cfg.LastfmRateLimit)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %s, want 9090", cfg.ServerPort)
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYNC_MAX_CONCURRENT", "not-a-number")
	t.Setenv("SYNC_JOB_DELAY", "invalid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.SyncMaxConcurrent != 3 {
		t.Errorf("SyncMaxConcurrent = %d, want 3 (不正値はデフォルト)", cfg.SyncMaxConcurrent)
	}
	if cfg.SyncJobDelay != 2*time.Second {
		t.Errorf("SyncJobDelay = %v, want 2s (不正値はデフォルト)", cfg.SyncJobDelay)
	}
}
