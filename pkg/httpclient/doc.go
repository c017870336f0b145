// Package httpclient は濾心管理APIを呼び出すJSON HTTPクライアントを提供する。
//
// Bearerトークンの付与、リクエストIDの伝播、エラー応答（{"error", "message"}）の
// APIError への変換を行う。filterctl コマンドから使用する。
package httpclient
