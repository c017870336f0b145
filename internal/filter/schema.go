package filter

import (
	"context"
	"database/sql"
	"embed"

	"go.uber.org/zap"

	"github.com/nao1215/filterkeeper/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを実行して filters テーブルを用意する。
func initSchema(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	_, err := migration.Run(ctx, db, migrationsFS, "migrations", logger)
	return err
}
