// Package server は濾心管理のHTTP APIを提供する。
//
// GET / と POST /login 以外の操作はBearerトークンによる認証が必要。
// 読み取り（GET /filters）も認証の対象とする。
package server
