package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// Issuer はトークンの iss クレーム。
const Issuer = "filterkeeper"

// DefaultTTL はトークンの既定の有効期間（7日）。
const DefaultTTL = 7 * 24 * time.Hour

// invalidCredentials はユーザー名とパスワードのどちらが誤っていても同じ応答にするためのメッセージ。
const invalidCredentials = "ユーザー名またはパスワードが正しくありません"

// Config はGateの設定。
type Config struct {
	// Username は唯一の管理者ユーザー名。
	Username string
	// Password は平文またはargon2idのPHC形式ハッシュ。
	Password string
	// Secret はHS256の署名鍵。
	Secret string
	// TTL はトークンの有効期間。0以下の場合はDefaultTTL。
	TTL time.Duration
}

// Gate は資格情報の照合とトークンの発行・検証を行う。
// 状態を持たないため並行に使用してよい。
type Gate struct {
	username string
	password string
	hashed   bool
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewGate はGateを生成する。nowがnilの場合はtime.Nowを使う。
func NewGate(cfg Config, now func() time.Time) (*Gate, error) {
	if cfg.Username == "" {
		return nil, errors.New("ユーザー名は必須です")
	}
	if cfg.Password == "" {
		return nil, errors.New("パスワードは必須です")
	}
	if cfg.Secret == "" {
		return nil, errors.New("署名鍵は必須です")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}

	hashed := IsPasswordHash(cfg.Password)
	if hashed {
		if _, _, _, err := parsePHC(strings.TrimPrefix(cfg.Password, "$")); err != nil {
			return nil, fmt.Errorf("パスワードハッシュの解析に失敗: %w", err)
		}
	}

	return &Gate{
		username: cfg.Username,
		password: cfg.Password,
		hashed:   hashed,
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TTL,
		now:      now,
	}, nil
}

// Login は資格情報を照合し、一致すれば署名済みトークンを返す。
func (g *Gate) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK, err := g.checkPassword(password)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, "auth.login", invalidCredentials, err)
	}
	if !userOK || !passOK {
		return "", apperr.New(apperr.KindUnauthorized, "auth.login", invalidCredentials)
	}

	now := g.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "auth.login", "トークンの署名に失敗しました", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、識別子（ユーザー名）を返す。
func (g *Gate) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.New(apperr.KindUnauthorized, "auth.verify", "トークンが必要です")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(_ *jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		msg := "トークンが無効です"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "トークンの有効期限が切れています"
		}
		return "", apperr.Wrap(apperr.KindUnauthorized, "auth.verify", msg, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", apperr.New(apperr.KindUnauthorized, "auth.verify", "トークンが無効です")
	}
	return claims.Subject, nil
}

// TTL はトークンの有効期間を返す。
func (g *Gate) TTL() time.Duration {
	return g.ttl
}

func (g *Gate) checkPassword(password string) (bool, error) {
	if g.hashed {
		return VerifyPassword(password, g.password)
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1, nil
}
