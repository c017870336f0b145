package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// AbortWithError はエラーの分類に対応するステータスコードでJSONを返し、後続の処理を中断する。
// レスポンスは {"error": 分類, "message": メッセージ} の形式。
func AbortWithError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{
		"error":   string(kind),
		"message": apperr.MessageOf(err),
	})
}
