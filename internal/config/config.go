package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// minJWTSecretBytes はHS256署名鍵に要求する最小バイト数。
const minJWTSecretBytes = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Token
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"cafesns"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"336h"`

	// OAuth (Naver)。CLIENT_IDが空ならOAuthログインは無効
	NaverClientID     string        `env:"NAVER_CLIENT_ID"`
	NaverClientSecret string        `env:"NAVER_CLIENT_SECRET"`
	NaverRedirectURL  string        `env:"NAVER_REDIRECT_URL"`
	OAuthHTTPTimeout  time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`
	OAuthStateTTL     time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// 空ならSSRF対策の検証のみ。指定時はアバターURLのホストをこれらとそのサブドメインに限定する
	OAuthAvatarHosts []string `env:"OAUTH_AVATAR_HOSTS" envSeparator:","`

	// Redis
	RedisURL string `env:"REDIS_URL"`

	// S3。BUCKETが空なら画像アップロードは無効
	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION" envDefault:"ap-northeast-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3PublicBaseURL   string `env:"S3_PUBLIC_BASE_URL"`
	S3ForcePathStyle  bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	ImageMaxBytes     int64  `env:"IMAGE_MAX_BYTES" envDefault:"5242880"`

	// Rate Limit
	RateLimitAuthPerMin int `env:"RATE_LIMIT_AUTH_PER_MIN" envDefault:"20"`

	// Server
	ServerPort         string        `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	HSTSMaxAge         time.Duration `env:"HSTS_MAX_AGE" envDefault:"0s"`

	// X-Forwarded-Forを信用するプロキシ（IPまたはCIDR）。空なら接続元IPのみを使う
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Logging
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// NaverEnabled はNaver OAuthログインが設定されているかを返す。
func (c *Config) NaverEnabled() bool {
	return c.NaverClientID != ""
}

// S3Enabled は画像アップロード先が設定されているかを返す。
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// Load は.envファイル（存在すれば）と環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、欠けている変数をまとめたエラーを返す。
func Load() (*Config, error) {
	// .envは任意。既に設定済みの環境変数は上書きしない
	_ = godotenv.Load()

	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate は変数間の整合性を検証する。
func (c *Config) validate() error {
	var errs []error

	if len(c.JWTSecret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be positive"))
	}
	if c.ImageMaxBytes <= 0 {
		errs = append(errs, errors.New("IMAGE_MAX_BYTES must be positive"))
	}

	if c.NaverEnabled() {
		var missing []string
		if c.NaverClientSecret == "" {
			missing = append(missing, "NAVER_CLIENT_SECRET")
		}
		if c.NaverRedirectURL == "" {
			missing = append(missing, "NAVER_REDIRECT_URL")
		}
		// OAuth stateの保存先
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("required when NAVER_CLIENT_ID is set: %s", strings.Join(missing, ", ")))
		}
	}

	return errors.Join(errs...)
}
