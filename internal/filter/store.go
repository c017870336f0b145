package filter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store は濾心レコードの永続化層が満たすべき振る舞いを定義する。
type Store interface {
	// Initialize は保存先を用意し、空であれば初期データを投入する。
	// 何度呼び出しても、既にデータがある場合は何も変更しない。
	// 保存先が読み取れない・構造が壊れている場合はログに記録したうえで初期データに戻す。
	Initialize(ctx context.Context) error
	// List は全レコードのスナップショットを返す。順序は規定しない。
	List(ctx context.Context) ([]Record, error)
	// Create は新しいレコードを保存する。同名が存在する場合は KindConflict を返す。
	Create(ctx context.Context, r Record) (Record, error)
	// Touch は指定レコードの last_replace を今日の日付に更新する。
	Touch(ctx context.Context, name string) (Record, error)
	// Delete は指定レコードを削除する。存在しない場合は KindNotFound を返す。
	Delete(ctx context.Context, name string) error
	// Close は保持しているリソースを解放する。
	Close() error
}

// Driver identifiers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config はバックエンドの選択と接続パラメータ。
type Config struct {
	// Driver は使用するバックエンド（file / sqlite / redis）。
	Driver string
	// FilePath はfileバックエンドのJSONファイルパス。
	FilePath string
	// SQLitePath はsqliteバックエンドのデータベースファイルパス。
	SQLitePath string
	// Redis はredisバックエンドの接続設定。
	Redis RedisConfig
}

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Key はレコードを格納するハッシュのキー名。
	Key string
}

// Options はすべてのバックエンドに共通する依存。
type Options struct {
	// Logger はリセット等の重要な出来事を記録するロガー。
	Logger *zap.Logger
	// Now は現在時刻を返す。テストで差し替える。
	Now func() time.Time
	// Location は「今日」を決めるタイムゾーン。1つのデプロイ内で固定する。
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// today は設定されたタイムゾーンでの今日の日付を返す。
func (o Options) today() string {
	return o.Now().In(o.Location).Format(DateLayout)
}

// Today は設定されたタイムゾーンでの今日の日付（YYYY-MM-DD）を返す。
func (o Options) Today() string {
	return o.withDefaults().today()
}

// Open はConfig.Driverに応じたストアを生成する。
// Initializeは呼び出さないため、呼び出し元で明示的に実行すること。
func Open(ctx context.Context, cfg Config, opts Options) (Store, error) {
	opts = opts.withDefaults()

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		store Store
		err   error
	)
	switch driver {
	case DriverFile:
		store, err = NewFileStore(cfg.FilePath, opts)
	case DriverSQLite:
		store, err = OpenSQLite(ctx, cfg.SQLitePath, opts)
	case DriverRedis:
		store, err = NewRedisStore(ctx, cfg.Redis, opts)
	default:
		return nil, fmt.Errorf("未対応のストレージドライバ: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
