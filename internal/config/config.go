// Package config はサーバーの設定を読み込む。
//
// 読み込み順は 既定値 → YAMLファイル（任意） → 環境変数 で、後のものが優先される。
// .env ファイルがあれば環境変数として先に読み込む。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/filterkeeper/internal/filter"
)

// DefaultJWTSecret は開発用の署名鍵。本番では JWT_SECRET で必ず上書きすること。
const DefaultJWTSecret = "dev-secret-key"

// Config はサーバー全体の設定。
type Config struct {
	// Port はHTTPサーバーの待ち受けポート。
	Port int `yaml:"port"`
	// Auth は管理者資格情報とトークンの設定。
	Auth AuthConfig `yaml:"auth"`
	// Storage は濾心ストアの設定。
	Storage StorageConfig `yaml:"storage"`
	// CORSAllowedOrigins はCORSで許可するオリジン。"*" ですべて許可。
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// Timezone は「今日」の日付を決めるタイムゾーン（IANA名または Local）。
	Timezone string `yaml:"timezone"`
	// LoginRatePerMinute はクライアントIPごとの1分あたりのログイン試行回数の上限。0で無制限。
	LoginRatePerMinute int `yaml:"login_rate_per_minute"`
	// MetricsEnabled がtrueの場合 /metrics を公開する。
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// TrustedProxies は X-Forwarded-For を信用するプロキシのIPまたはCIDR。既定では信用しない。
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// AuthConfig は認証の設定。
type AuthConfig struct {
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// StorageConfig はストアの設定。
type StorageConfig struct {
	Driver       string      `yaml:"driver"`
	DataFile     string      `yaml:"data_file"`
	DatabasePath string      `yaml:"database_path"`
	Redis        RedisConfig `yaml:"redis"`
}

// RedisConfig はredisバックエンドの接続設定。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default は既定値の設定を返す。
func Default() *Config {
	return &Config{
		Port: 5000,
		Auth: AuthConfig{
			Username:  "admin",
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver:       filter.DriverSQLite,
			DataFile:     "filters.json",
			DatabasePath: "filters.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "filters",
			},
		},
		CORSAllowedOrigins: []string{"*"},
		Log:                LogConfig{Level: "info"},
		Timezone:           "Local",
		LoginRatePerMinute: 10,
		MetricsEnabled:     true,
	}
}

// Load は .env、pathのYAMLファイル（空なら読まない）、環境変数の順に設定を読み込み、検証する。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s は整数である必要があります: %q", key, v)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s は真偽値である必要があります: %q", key, v)
		}
		*dst = b
		return nil
	}

	str("ADMIN_USERNAME", &c.Auth.Username)
	str("ADMIN_PASSWORD", &c.Auth.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("DATA_FILE", &c.Storage.DataFile)
	str("DATABASE_PATH", &c.Storage.DatabasePath)
	str("REDIS_ADDR", &c.Storage.Redis.Addr)
	str("REDIS_PASSWORD", &c.Storage.Redis.Password)
	str("REDIS_KEY", &c.Storage.Redis.Key)
	str("LOG_LEVEL", &c.Log.Level)
	str("TIMEZONE", &c.Timezone)

	if v, ok := lookup("TOKEN_TTL"); ok && v != "" {
		ttl, err := ParseTTL(v)
		if err != nil {
			return err
		}
		c.Auth.TokenTTL = ttl
	}
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}
	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		c.TrustedProxies = splitList(v)
	}

	for _, f := range []func() error{
		func() error { return integer("PORT", &c.Port) },
		func() error { return integer("REDIS_DB", &c.Storage.Redis.DB) },
		func() error { return integer("LOGIN_RATE_PER_MINUTE", &c.LoginRatePerMinute) },
		func() error { return boolean("LOG_JSON", &c.Log.JSON) },
		func() error { return boolean("METRICS_ENABLED", &c.MetricsEnabled) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT は1〜65535の範囲である必要があります: %d", c.Port))
	}
	if c.Auth.Username == "" {
		errs = append(errs, errors.New("ADMIN_USERNAME は必須です"))
	}
	if c.Auth.Password == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD は必須です"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET は必須です"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL は正の期間である必要があります: %s", c.Auth.TokenTTL))
	}
	switch c.Storage.Driver {
	case filter.DriverFile:
		if c.Storage.DataFile == "" {
			errs = append(errs, errors.New("DATA_FILE は必須です"))
		}
	case filter.DriverSQLite:
		if c.Storage.DatabasePath == "" {
			errs = append(errs, errors.New("DATABASE_PATH は必須です"))
		}
	case filter.DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR は必須です"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER が不明です: %q", c.Storage.Driver))
	}
	if c.LoginRatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("LOGIN_RATE_PER_MINUTE は0以上である必要があります: %d", c.LoginRatePerMinute))
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES にIPまたはCIDRではない値があります: %q", p))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location は Timezone に対応する *time.Location を返す。
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE が不明です: %q", c.Timezone)
	}
	return loc, nil
}

// UsesDefaultSecret は開発用の署名鍵のままかどうかを返す。
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// StoreConfig はストア生成用の設定を返す。
func (c *Config) StoreConfig() filter.Config {
	return filter.Config{
		Driver:     c.Storage.Driver,
		FilePath:   c.Storage.DataFile,
		SQLitePath: c.Storage.DatabasePath,
		Redis: filter.RedisConfig{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
			Key:      c.Storage.Redis.Key,
		},
	}
}

// ParseTTL は "168h" のようなtime.ParseDuration形式に加えて "7d" のような日数表記を受け付ける。
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("TOKEN_TTL の形式が不正です: %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("TOKEN_TTL の形式が不正です: %q", s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
