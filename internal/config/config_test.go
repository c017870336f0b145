package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/filterkeeper/internal/filter"
)

// env はテスト用の環境変数の代わり。
type env map[string]string

func (e env) lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad は既定値・YAML・環境変数の優先順位を検証する。
func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("パスワードだけ指定すれば既定値で起動できること", func(t *testing.T) {
		t.Parallel()

		cfg, err := load("", env{"ADMIN_PASSWORD": "pw"}.lookup)
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Port)
		assert.Equal(t, "admin", cfg.Auth.Username)
		assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
		assert.Equal(t, filter.DriverSQLite, cfg.Storage.Driver)
		assert.Equal(t, "filters.db", cfg.Storage.DatabasePath)
		assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
		assert.Empty(t, cfg.TrustedProxies, "既定ではどのプロキシも信用しない")
		assert.True(t, cfg.UsesDefaultSecret())
	})

	t.Run("信用するプロキシをIPとCIDRで指定できること", func(t *testing.T) {
		t.Parallel()

		cfg, err := load("", env{
			"ADMIN_PASSWORD":  "pw",
			"TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.10",
		}.lookup)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)
	})

	t.Run("YAMLの値を環境変数が上書きすること", func(t *testing.T) {
		t.Parallel()

		path := writeYAML(t, `
port: 8080
auth:
  username: operator
  password: from-yaml
  jwt_secret: yaml-secret
  token_ttl: 24h
storage:
  driver: file
  data_file: /tmp/filters.json
cors_allowed_origins:
  - https://dashboard.example.com
log:
  level: debug
timezone: UTC
`)
		cfg, err := load(path, env{
			"PORT":                 "9090",
			"ADMIN_PASSWORD":       "from-env",
			"CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com,",
			"LOG_JSON":             "true",
		}.lookup)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "operator", cfg.Auth.Username)
		assert.Equal(t, "from-env", cfg.Auth.Password)
		assert.Equal(t, "yaml-secret", cfg.Auth.JWTSecret)
		assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
		assert.Equal(t, filter.DriverFile, cfg.Storage.Driver)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.JSON)
		assert.False(t, cfg.UsesDefaultSecret())

		loc, err := cfg.Location()
		require.NoError(t, err)
		assert.Equal(t, time.UTC, loc)
	})

	t.Run("redisの設定がストア設定に反映されること", func(t *testing.T) {
		t.Parallel()

		cfg, err := load("", env{
			"ADMIN_PASSWORD": "pw",
			"STORAGE_DRIVER": "redis",
			"REDIS_ADDR":     "redis:6379",
			"REDIS_PASSWORD": "secret",
			"REDIS_DB":       "2",
			"REDIS_KEY":      "water:filters",
			"TOKEN_TTL":      "3d",
		}.lookup)
		require.NoError(t, err)

		assert.Equal(t, filter.Config{
			Driver:     filter.DriverRedis,
			FilePath:   "filters.json",
			SQLitePath: "filters.db",
			Redis: filter.RedisConfig{
				Addr:     "redis:6379",
				Password: "secret",
				DB:       2,
				Key:      "water:filters",
			},
		}, cfg.StoreConfig())
		assert.Equal(t, 72*time.Hour, cfg.Auth.TokenTTL)
	})

	t.Run("存在しない設定ファイルはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env{"ADMIN_PASSWORD": "pw"}.lookup)
		assert.Error(t, err)
	})

	t.Run("YAMLの構文エラーはエラーになること", func(t *testing.T) {
		t.Parallel()

		path := writeYAML(t, "port: [not a number\n")
		_, err := load(path, env{"ADMIN_PASSWORD": "pw"}.lookup)
		assert.Error(t, err)
	})
}

// TestLoad_InvalidValues は不正な値が拒否されることを検証する。
func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  env
	}{
		{name: "パスワードが空", env: env{}},
		{name: "不明なドライバ", env: env{"ADMIN_PASSWORD": "pw", "STORAGE_DRIVER": "mongo"}},
		{name: "ポートが範囲外", env: env{"ADMIN_PASSWORD": "pw", "PORT": "70000"}},
		{name: "ポートが数値でない", env: env{"ADMIN_PASSWORD": "pw", "PORT": "http"}},
		{name: "TTLが0", env: env{"ADMIN_PASSWORD": "pw", "TOKEN_TTL": "0s"}},
		{name: "TTLの形式が不正", env: env{"ADMIN_PASSWORD": "pw", "TOKEN_TTL": "one week"}},
		{name: "不明なタイムゾーン", env: env{"ADMIN_PASSWORD": "pw", "TIMEZONE": "Mars/Olympus"}},
		{name: "真偽値でないLOG_JSON", env: env{"ADMIN_PASSWORD": "pw", "LOG_JSON": "maybe"}},
		{name: "負のレート制限", env: env{"ADMIN_PASSWORD": "pw", "LOGIN_RATE_PER_MINUTE": "-1"}},
		{name: "IPでもCIDRでもないプロキシ", env: env{"ADMIN_PASSWORD": "pw", "TRUSTED_PROXIES": "proxy.internal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := load("", tt.env.lookup)
			assert.Error(t, err)
		})
	}
}

// TestParseTTL は有効期間の解析を検証する。
func TestParseTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "168h", want: 168 * time.Hour},
		{in: " 30m ", want: 30 * time.Minute},
		{in: "xd", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseTTL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
