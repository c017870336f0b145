// Package apperr はアプリケーション全体で共有するエラー分類を提供する。
//
// ストア・認証・HTTP層はすべて *Error を返し、HTTP層は Kind から
// ステータスコードを決定する。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind はエラーの分類を表す。
type Kind string

const (
	// KindInvalidInput はリクエストのフィールド欠落や不正値を表す。
	KindInvalidInput Kind = "invalid_input"
	// KindUnauthorized は認証情報またはトークンが不正であることを表す。
	KindUnauthorized Kind = "unauthorized"
	// KindConflict は同名の濾心が既に存在することを表す。
	KindConflict Kind = "conflict"
	// KindNotFound は指定された名前の濾心が存在しないことを表す。
	KindNotFound Kind = "not_found"
	// KindStorage はバックエンドストレージの障害を表す。
	KindStorage Kind = "storage"
	// KindRateLimited はリクエスト数の上限超過を表す。
	KindRateLimited Kind = "rate_limited"
)

// Error は分類付きのアプリケーションエラー。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Op はエラーが発生した操作名（例: "filter.create"）。
	Op string
	// Message は利用者向けのメッセージ。
	Message string
	// Cause は元になったエラー。
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New は原因を持たないエラーを生成する。
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Wrap はerrを指定した分類でラップする。
// errがnilの場合はnilを返す。既に *Error の場合は分類を保ったまま返す。
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// KindOf はエラーチェーン中の最初の *Error の分類を返す。
// 分類を持たないエラーは KindStorage として扱う。
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindStorage
}

// IsKind はエラーチェーン中の *Error が指定の分類かどうかを判定する。
func IsKind(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}

// MessageOf は利用者向けメッセージを返す。
// *Error 以外のエラーは内部情報を漏らさないよう固定文言を返す。
func MessageOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}
	return "内部サーバーエラーが発生しました"
}

// HTTPStatus は分類に対応するHTTPステータスコードを返す。
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
