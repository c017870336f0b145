// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証、リクエストIDの付与、リクエストログ、パニックリカバリ、
// CORS設定、ログインのレート制限、Prometheusメトリクスを含む。
// エラー応答はすべて AbortWithError を通じて apperr の分類から生成する。
package middleware
