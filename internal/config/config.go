// Package config は環境変数ベースのアプリケーション設定を提供する。
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

	// Queue
	AMQPURL       string
	DispatchQueue string

	// Dispatch
	DispatchInterval      time.Duration
	DispatchMaxConcurrent int
	AttemptTimeout        time.Duration
	MaxAttempts           int
	RetryDeadline         time.Duration

	// Poster gateway
	GatewayBaseURL    string
	PostTimeout       time.Duration
	GatewayRatePerSec float64
	GatewayBurst      int

	// Content source sync
	SyncInterval time.Duration
	SyncTimeout  time.Duration
	SyncMaxSize  int64

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

	cfg.AMQPURL = os.Getenv("AMQP_URL")
	if cfg.AMQPURL == "" {
		missing = append(missing, "AMQP_URL")
	}

	cfg.GatewayBaseURL = os.Getenv("GATEWAY_BASE_URL")
	if cfg.GatewayBaseURL == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DispatchQueue = getEnvString("DISPATCH_QUEUE", "post_dispatch")
	cfg.DispatchInterval = getEnvDuration("DISPATCH_INTERVAL", 30*time.Second)
	cfg.DispatchMaxConcurrent = getEnvInt("DISPATCH_MAX_CONCURRENT", 10)
	cfg.AttemptTimeout = getEnvDuration("ATTEMPT_TIMEOUT", 5*time.Minute)
	cfg.MaxAttempts = getEnvInt("MAX_ATTEMPTS", 3)
	cfg.RetryDeadline = getEnvDuration("RETRY_DEADLINE", 30*time.Minute)
	cfg.PostTimeout = getEnvDuration("POST_TIMEOUT", 60*time.Second)
	cfg.GatewayRatePerSec = getEnvFloat("GATEWAY_RATE_PER_SEC", 5)
	cfg.GatewayBurst = getEnvInt("GATEWAY_BURST", 10)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 10*time.Minute)
	cfg.SyncTimeout = getEnvDuration("SYNC_TIMEOUT", 30*time.Second)
	cfg.SyncMaxSize = getEnvInt64("SYNC_MAX_SIZE", 5242880)
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
