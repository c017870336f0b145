package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// identityKey はGinコンテキストに認証済みの識別子を格納するキー。
const identityKey = "identity"

// Verifier はBearerトークンを検証して識別子を返す。
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTAuth はAuthorizationヘッダーのBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに識別子を設定する。
func JWTAuth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, apperr.New(apperr.KindUnauthorized, "middleware.jwt", "Authorizationヘッダーが必要です"))
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			AbortWithError(c, apperr.New(apperr.KindUnauthorized, "middleware.jwt", "Bearer トークン形式が不正です"))
			return
		}

		identity, err := verifier.Verify(strings.TrimSpace(tokenString))
		if err != nil {
			AbortWithError(c, apperr.Wrap(apperr.KindUnauthorized, "middleware.jwt", "トークンが無効です", err))
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// GetIdentity はGinコンテキストから認証済みの識別子を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetIdentity(c *gin.Context) string {
	return c.GetString(identityKey)
}
