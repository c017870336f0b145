package filter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/filterkeeper/pkg/apperr"
	"github.com/nao1215/filterkeeper/pkg/migration"
)

// SQLiteStore はSQLiteの filters テーブルにレコードを保存するストア。
// 書き込みはSQLite自身の単一ライタ制御で直列化される。
type SQLiteStore struct {
	// path はデータベースファイルのパス。リセット時のファイル再作成に使う。
	path string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// opts は共通の依存。
	opts Options
}

// OpenSQLite はSQLiteデータベースを開く。
// ファイルの中身はここでは読まないため、壊れたファイルでも Initialize で復旧できる。
func OpenSQLite(_ context.Context, path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqliteバックエンドにはデータベースパスが必要です")
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		path: path,
		db:   db,
		opts: opts.withDefaults(),
	}, nil
}

// newSQLiteStore は既存の接続からストアを生成する。
func newSQLiteStore(db *sql.DB, opts Options) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		opts: opts.withDefaults(),
	}
}

func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// Initialize はスキーマを適用し、空であれば初期データを投入する。
// 保存データの破損で失敗した場合に限り、テーブル（またはファイル）を作り直してから再試行する。
// キャンセルやロック競合による失敗ではデータに触れずにエラーを返す。
// サーバーがリクエストを受け付ける前に呼び出すこと。
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	err := s.initialize(ctx)
	if err == nil {
		return nil
	}
	if !resettable(ctx, err) {
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "データベースの初期化に失敗しました", err)
	}

	s.opts.Logger.Error("データベースが読み取れないため初期データにリセットします",
		zap.String("path", s.path), zap.Error(err))

	if err := s.reset(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "データベースのリセットに失敗しました", err)
	}
	if err := s.initialize(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorage, "filter.initialize", "データベースの初期化に失敗しました", err)
	}
	return nil
}

func (s *SQLiteStore) initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("データベースへの接続に失敗: %w", err)
	}
	if s.path != "" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return fmt.Errorf("journal_modeの設定に失敗: %w", err)
		}
	}
	if err := initSchema(ctx, s.db, s.opts.Logger); err != nil {
		return err
	}

	records, err := s.List(ctx)
	if err != nil {
		return err
	}
	if err := validateSet(records); err != nil {
		return fmt.Errorf("不正なレコード: %w", err)
	}
	if len(records) > 0 {
		return nil
	}

	s.opts.Logger.Info("濾心データが空のため初期データを投入します")
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range DefaultRecords() {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO filters (name, last_replace, lifespan) VALUES (?, ?, ?)",
				r.Name, r.LastReplace, r.Lifespan,
			); err != nil {
				return fmt.Errorf("初期データの投入に失敗: %w", err)
			}
		}
		return nil
	})
}

// reset はテーブルを削除する。ファイル自体がデータベースとして読めない場合は作り直す。
func (s *SQLiteStore) reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DROP TABLE IF EXISTS filters; DROP TABLE IF EXISTS "+migration.VersionTable+";")
	if err == nil {
		return nil
	}
	if s.path == "" || !isCorruptFile(err) {
		return err
	}

	s.opts.Logger.Warn("データベースファイルを作り直します", zap.String("path", s.path), zap.Error(err))
	_ = s.db.Close()
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("データベースファイルの削除に失敗: %w", err)
		}
	}

	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// List は全レコードを返す。
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT name, last_replace, lifespan FROM filters")
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var r Record
			if err := rows.Scan(&r.Name, &r.LastReplace, &r.Lifespan); err != nil {
				return err
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "filter.list", "濾心一覧の取得に失敗しました", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Create は新しいレコードを挿入する。
func (s *SQLiteStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM filters WHERE name = ?)", r.Name,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return conflict(r.Name)
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO filters (name, last_replace, lifespan) VALUES (?, ?, ?)",
			r.Name, r.LastReplace, r.Lifespan,
		)
		if isUniqueViolation(err) {
			return conflict(r.Name)
		}
		return err
	})
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.create", "濾心の保存に失敗しました", err)
	}
	return r, nil
}

// Touch は指定レコードの交換日を今日に更新する。
func (s *SQLiteStore) Touch(ctx context.Context, name string) (Record, error) {
	var updated Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE filters SET last_replace = ? WHERE name = ?", s.opts.today(), name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("filter.touch", name)
		}

		return tx.QueryRowContext(ctx,
			"SELECT name, last_replace, lifespan FROM filters WHERE name = ?", name,
		).Scan(&updated.Name, &updated.LastReplace, &updated.Lifespan)
	})
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindStorage, "filter.touch", "濾心の更新に失敗しました", err)
	}
	return updated, nil
}

// Delete は指定レコードを削除する。
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, "DELETE FROM filters WHERE name = ?", name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("filter.delete", name)
		}
		return nil
	})
	return apperr.Wrap(apperr.KindStorage, "filter.delete", "濾心の削除に失敗しました", err)
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withConn は接続を1本確保してfnを実行し、どの経路でも必ず解放する。
func (s *SQLiteStore) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("接続の確保に失敗: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return fn(conn)
}

// withTx はトランザクション内でfnを実行する。fnがエラーを返した場合はロールバックする。
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("トランザクション開始に失敗: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// resettable はInitializeの失敗が保存データ自体の破損によるものかを判定する。
// キャンセルやロック競合、I/O障害ではリセットしない。
func resettable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errCorrupt) {
		return true
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_ERROR, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB,
		sqlite3.SQLITE_SCHEMA, sqlite3.SQLITE_MISMATCH:
		return true
	default:
		return false
	}
}

// isCorruptFile はファイル自体がデータベースとして読めないことを表すエラーかを判定する。
func isCorruptFile(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	default:
		return false
	}
}

// isUniqueViolation は主キー・一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	default:
		return false
	}
}

func conflict(name string) error {
	return apperr.New(apperr.KindConflict, "filter.create", fmt.Sprintf("濾心 %s は既に存在します", name))
}
