package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/filterkeeper/internal/filter"
	"github.com/nao1215/filterkeeper/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// Authenticator は資格情報の照合とトークンの検証を行う。
type Authenticator interface {
	Login(username, password string) (string, error)
	Verify(token string) (string, error)
}

// Options はServerの依存。
type Options struct {
	// Store は濾心レコードのストア。Initialize済みであること。
	Store filter.Store
	// Auth はログインとトークン検証。
	Auth Authenticator
	// TokenTTL はログイン応答の expires_in に使う。
	TokenTTL time.Duration
	// Today は「今日」の日付（YYYY-MM-DD）を返す。
	Today func() string
	// Logger はログ出力先。nilの場合は出力しない。
	Logger *zap.Logger
	// CORSAllowedOrigins はCORSで許可するオリジン。
	CORSAllowedOrigins []string
	// LoginRatePerMinute はクライアントIPごとのログイン試行回数の上限。0で無制限。
	LoginRatePerMinute int
	// TrustedProxies は X-Forwarded-For を信用するプロキシのIPまたはCIDR。
	// 空の場合はどのプロキシも信用せず、接続元アドレスをクライアントIPとする。
	TrustedProxies []string
	// Metrics がnilでない場合はメトリクスを記録し /metrics で公開する。
	Metrics *middleware.Metrics
}

// Server は濾心管理APIのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store は濾心レコードのストア。
	store filter.Store
	// auth はログインとトークン検証。
	auth Authenticator
	// tokenTTL はトークンの有効期間。
	tokenTTL time.Duration
	// today は今日の日付を返す。
	today func() string
	// logger はログ出力先。
	logger *zap.Logger
}

// New は新しいServerを生成し、ルーティングを設定する。
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	today := opts.Today
	if today == nil {
		today = func() string { return time.Now().Format(filter.DateLayout) }
	}

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		logger.Error("信用するプロキシの設定が不正なため、どのプロキシも信用しません",
			zap.Strings("trusted_proxies", opts.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
	}
	router.Use(middleware.CORS(opts.CORSAllowedOrigins))

	s := &Server{
		router:   router,
		store:    opts.Store,
		auth:     opts.Auth,
		tokenTTL: opts.TokenTTL,
		today:    today,
		logger:   logger,
	}
	s.setupRoutes(opts)
	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はaddrでHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("サーバーを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(opts Options) {
	// サービス情報
	s.router.GET("/", s.handleRoot())
	// ヘルスチェック
	s.router.GET("/healthz", s.handleHealth())
	if opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	limiter := middleware.NewRateLimiter(opts.LoginRatePerMinute)
	s.router.POST("/login", limiter.Middleware(), s.handleLogin())

	protected := s.router.Group("")
	protected.Use(middleware.JWTAuth(s.auth))
	{
		// 濾心一覧取得
		protected.GET("/filters", s.handleList())
		// 交換時期つきの濾心一覧取得
		protected.GET("/filters/status", s.handleStatus())
		// 濾心追加
		protected.POST("/add", s.handleAdd())
		// 交換日を今日に更新
		protected.POST("/update", s.handleUpdate())
		// 濾心削除
		protected.POST("/delete", s.handleDelete())
	}

	// プリフライトは通常CORSミドルウェアが先に応答する。
	for _, path := range []string{"/login", "/add", "/update", "/delete"} {
		s.router.OPTIONS(path, func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
	}
}
