// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/finsight/internal/codef"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database（空の場合はメモリストアを使う）
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// CODEF
	CodefEnabled             bool
	CodefClientID            string
	CodefClientSecret        string
	CodefAPIURL              string
	CodefOAuthURL            string
	CodefTimeout             time.Duration
	CodefTokenExpiryMargin   time.Duration
	CodefAccountListPolicy   codef.AccountListPolicy
	CodefAccountOrganization string

	// 外部サービス
	AgentAPIURL     string
	AgentTimeout    time.Duration
	ForecastURL     string
	ForecastTimeout time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitCodefReg int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigins []string
}

// LoadDotEnv は指定されたファイル（省略時は .env）から環境変数を読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.GoogleClientID = require("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = require("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = require("GOOGLE_REDIRECT_URL")
	cfg.BaseURL = require("BASE_URL")

	cfg.CodefEnabled = getEnvBool("CODEF_ENABLED", false)
	if cfg.CodefEnabled {
		cfg.CodefClientID = require("CODEF_CLIENT_ID")
		cfg.CodefClientSecret = require("CODEF_CLIENT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	policy, err := codef.ParseAccountListPolicy(getEnvString("CODEF_ACCOUNT_LIST_POLICY", string(codef.AccountListStrict)))
	if err != nil {
		return nil, fmt.Errorf("invalid CODEF_ACCOUNT_LIST_POLICY: %w", err)
	}
	cfg.CodefAccountListPolicy = policy

	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q", cfg.LogLevel)
	}

	// Optional fields with defaults
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.CodefAPIURL = getEnvString("CODEF_API_URL", codef.DefaultAPIURL)
	cfg.CodefOAuthURL = getEnvString("CODEF_OAUTH_URL", codef.DefaultOAuthURL)
	cfg.CodefTimeout = getEnvDuration("CODEF_TIMEOUT", 30*time.Second)
	cfg.CodefTokenExpiryMargin = getEnvDuration("CODEF_TOKEN_EXPIRY_MARGIN", codef.DefaultExpiryMargin)
	cfg.CodefAccountOrganization = getEnvString("CODEF_ACCOUNT_ORGANIZATION", codef.DefaultOrganization)
	cfg.AgentAPIURL = getEnvString("AGENT_API_URL", "http://localhost:8000")
	cfg.AgentTimeout = getEnvDuration("AGENT_TIMEOUT", 60*time.Second)
	cfg.ForecastURL = getEnvString("ML_FORECAST_URL", "http://ml-forecast:8000")
	cfg.ForecastTimeout = getEnvDuration("ML_FORECAST_TIMEOUT", 30*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCodefReg = getEnvInt("RATE_LIMIT_CODEF_REG", 5)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"})

	return cfg, nil
}

// UsePostgres はPostgreSQLストアを使うかどうかを返す。
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

// getEnvList はカンマ区切りの値を空白を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
