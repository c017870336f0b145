// 濾心管理APIサーバーのエントリポイント。
// 設定を読み込み、濾心ストアを初期化してからHTTPリクエストの受け付けを開始する。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/filterkeeper/internal/auth"
	"github.com/nao1215/filterkeeper/internal/config"
	"github.com/nao1215/filterkeeper/internal/filter"
	"github.com/nao1215/filterkeeper/internal/logging"
	"github.com/nao1215/filterkeeper/internal/server"
	"github.com/nao1215/filterkeeper/pkg/middleware"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "filterkeeper: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run はフラグを解釈してサーバーを起動する。-init-db の場合はストアを初期化して終了する。
func run(ctx context.Context, args []string, logOut io.Writer) error {
	fs := flag.NewFlagSet("filterkeeper", flag.ContinueOnError)
	fs.SetOutput(logOut)
	configPath := fs.String("config", "", "YAML設定ファイルのパス")
	initOnly := fs.Bool("init-db", false, "ストアを初期化（必要なら初期データを投入）して終了する")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Writer: logOut})
	if err != nil {
		return fmt.Errorf("ロガーの生成に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	fopts := filter.Options{Logger: logger.Named("store"), Now: time.Now, Location: loc}

	store, err := filter.Open(ctx, cfg.StoreConfig(), fopts)
	if err != nil {
		return fmt.Errorf("ストアのオープンに失敗: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("ストアのクローズに失敗しました", zap.Error(err))
		}
	}()

	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("ストアの初期化に失敗: %w", err)
	}
	logger.Info("ストアを初期化しました", zap.String("driver", cfg.Storage.Driver))
	if *initOnly {
		return nil
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("開発用のJWT_SECRETを使用しています。本番環境では必ず変更してください")
	}
	gate, err := auth.NewGate(auth.Config{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		Secret:   cfg.Auth.JWTSecret,
		TTL:      cfg.Auth.TokenTTL,
	}, time.Now)
	if err != nil {
		return fmt.Errorf("認証の初期化に失敗: %w", err)
	}

	var metrics *middleware.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = middleware.NewMetrics(reg)
	}

	srv := server.New(server.Options{
		Store:              store,
		Auth:               gate,
		TokenTTL:           gate.TTL(),
		Today:              fopts.Today,
		Logger:             logger.Named("http"),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		Metrics:            metrics,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("濾心管理APIを起動します", zap.String("addr", addr))
	if err := srv.Run(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("サーバーの実行に失敗: %w", err)
	}
	return nil
}
