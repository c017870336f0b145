package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/filterkeeper/internal/filter"
	"github.com/nao1215/filterkeeper/pkg/apperr"
	"github.com/nao1215/filterkeeper/pkg/middleware"
)

// maxBodyBytes はリクエストボディの最大サイズ。
const maxBodyBytes = 1 << 20

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username"`
	// Password はパスワード。
	Password string `json:"password"`
}

// loginResponse はログイン成功時のJSON構造。
type loginResponse struct {
	// AccessToken はBearerトークン。
	AccessToken string `json:"access_token"`
	// TokenType は常に "Bearer"。
	TokenType string `json:"token_type"`
	// ExpiresIn はトークンの有効期間（秒）。
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// addRequest は濾心追加リクエストのJSON構造。
// lifespan は整数と数字の文字列の両方を受け付ける。
type addRequest struct {
	Name        string          `json:"name"`
	LastReplace string          `json:"last_replace"`
	Lifespan    json.RawMessage `json:"lifespan"`
}

// nameRequest は名前だけを指定するリクエストのJSON構造。
type nameRequest struct {
	Name string `json:"name"`
}

// bindJSON はリクエストボディをdstにデコードする。失敗した場合はInvalidInputを返す。
func bindJSON(c *gin.Context, dst any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "server.bind", "リクエストボディが不正なJSONです", err)
	}
	return nil
}

// requireName はnameが空でないことを検証する。
func requireName(op, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.KindInvalidInput, op, "name は必須です")
	}
	return nil
}

// handleRoot はサービス情報を返すハンドラー。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "filterkeeper",
			"message": "濾心管理APIは稼働中です",
		})
	}
}

// handleHealth はストアに到達できるかを確認するハンドラー。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := s.store.List(c.Request.Context()); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleLogin は資格情報を照合してトークンを発行するハンドラー。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		token, err := s.auth.Login(req.Username, req.Password)
		if err != nil {
			s.logger.Warn("ログインに失敗しました",
				zap.String("client_ip", c.ClientIP()),
				zap.String("request_id", middleware.GetRequestID(c)))
			middleware.AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, loginResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int64(s.tokenTTL.Seconds()),
		})
	}
}

// handleList は濾心一覧を返すハンドラー。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.store.List(c.Request.Context())
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// handleStatus は交換時期を計算した濾心一覧を返すハンドラー。
func (s *Server) handleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.store.List(c.Request.Context())
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		statuses, err := filter.AssessAll(records, s.today())
		if err != nil {
			middleware.AbortWithError(c, apperr.Wrap(apperr.KindStorage, "server.status", "交換時期の計算に失敗しました", err))
			return
		}
		c.JSON(http.StatusOK, statuses)
	}
}

// handleAdd は濾心を追加するハンドラー。
func (s *Server) handleAdd() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addRequest
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		if err := requireName("server.add", req.Name); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		lifespan, err := filter.ParseLifespan(req.Lifespan)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		created, err := s.store.Create(c.Request.Context(), filter.Record{
			Name:        req.Name,
			LastReplace: req.LastReplace,
			Lifespan:    lifespan,
		})
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		s.logger.Info("濾心を追加しました",
			zap.String("name", created.Name),
			zap.String("identity", middleware.GetIdentity(c)))
		c.JSON(http.StatusCreated, gin.H{
			"message": "濾心を追加しました",
			"filter":  created,
		})
	}
}

// handleUpdate は濾心の交換日を今日に更新するハンドラー。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req nameRequest
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		if err := requireName("server.update", req.Name); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		updated, err := s.store.Touch(c.Request.Context(), req.Name)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		s.logger.Info("濾心の交換日を更新しました",
			zap.String("name", updated.Name),
			zap.String("last_replace", updated.LastReplace),
			zap.String("identity", middleware.GetIdentity(c)))
		c.JSON(http.StatusOK, gin.H{
			"message": "更新しました",
			"updated": updated,
		})
	}
}

// handleDelete は濾心を削除するハンドラー。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req nameRequest
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		if err := requireName("server.delete", req.Name); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		if err := s.store.Delete(c.Request.Context(), req.Name); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		s.logger.Info("濾心を削除しました",
			zap.String("name", req.Name),
			zap.String("identity", middleware.GetIdentity(c)))
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("濾心 %s を削除しました", req.Name),
		})
	}
}
