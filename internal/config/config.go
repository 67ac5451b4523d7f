package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Scrobble API
	LastfmAPIKey    string
	LastfmAPIURL    string
	LastfmTimeout   time.Duration
	LastfmRateLimit float64 // req/sec
	LastfmRateBurst int

	// Sync
	SyncMaxConcurrent int
	SyncJobDelay      time.Duration
	SyncIdleBackoff   time.Duration
	SyncInterval      time.Duration
	SyncStaleAfter    time.Duration
	SyncDueLimit      int

	// Reindex / Incremental
	TopPageSize      int
	TopMaxPages      int
	RecentFetchLimit int

	// Ranking
	FraudWindow time.Duration

	// Alias
	AliasReloadInterval time.Duration

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.LastfmAPIKey = os.Getenv("LASTFM_API_KEY")
	if cfg.LastfmAPIKey == "" {
		missing = append(missing, "LASTFM_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LastfmAPIURL = getEnvString("LASTFM_API_URL", "https://ws.audioscrobbler.com/2.0/")
	cfg.LastfmTimeout = getEnvDuration("LASTFM_TIMEOUT", 10*time.Second)
	cfg.LastfmRateLimit = getEnvFloat("LASTFM_RATE_LIMIT", 2.0)
	cfg.LastfmRateBurst = getEnvInt("LASTFM_RATE_BURST", 4)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 3)
	cfg.SyncJobDelay = getEnvDuration("SYNC_JOB_DELAY", 2*time.Second)
	cfg.SyncIdleBackoff = getEnvDuration("SYNC_IDLE_BACKOFF", 500*time.Millisecond)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncStaleAfter = getEnvDuration("SYNC_STALE_AFTER", 12*time.Hour)
	cfg.SyncDueLimit = getEnvInt("SYNC_DUE_LIMIT", 100)
	cfg.TopPageSize = getEnvInt("TOP_PAGE_SIZE", 1000)
	cfg.TopMaxPages = getEnvInt("TOP_MAX_PAGES", 4)
	cfg.RecentFetchLimit = getEnvInt("RECENT_FETCH_LIMIT", 1000)
	cfg.FraudWindow = getEnvDuration("FRAUD_WINDOW", 90*24*time.Hour)
	cfg.AliasReloadInterval = getEnvDuration("ALIAS_RELOAD_INTERVAL", 1*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
