package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

const (
	testUser   = "admin"
	testPass   = "correct horse"
	testSecret = "test-secret-key-for-unit-tests"
)

// clock はテスト用の進められる時計。
type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func newTestGate(t *testing.T, password string) (*Gate, *clock) {
	t.Helper()

	c := &clock{t: time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)}
	g, err := NewGate(Config{Username: testUser, Password: password, Secret: testSecret}, c.Now)
	if err != nil {
		t.Fatalf("NewGate()でエラーが発生: %v", err)
	}
	return g, c
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()

	if err == nil {
		t.Fatal("エラーが返るべき")
	}
	if !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Errorf("Kind = %q, want %q (err = %v)", apperr.KindOf(err), apperr.KindUnauthorized, err)
	}
}

// TestGate_Login はログインとトークン発行を検証する。
func TestGate_Login(t *testing.T) {
	t.Parallel()

	t.Run("正しい資格情報でトークンを発行すること", func(t *testing.T) {
		t.Parallel()

		g, c := newTestGate(t, testPass)
		token, err := g.Login(testUser, testPass)
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}

		claims := &jwt.RegisteredClaims{}
		_, err = jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}, jwt.WithTimeFunc(c.Now))
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if claims.Subject != testUser {
			t.Errorf("Subject = %q, want %q", claims.Subject, testUser)
		}
		if claims.Issuer != Issuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
		}
		if want := c.t.Add(7 * 24 * time.Hour); !claims.ExpiresAt.Time.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, want)
		}
		if claims.ID == "" {
			t.Error("jtiが空")
		}
	})

	t.Run("ユーザー名とパスワードの誤りを区別しないこと", func(t *testing.T) {
		t.Parallel()

		g, _ := newTestGate(t, testPass)
		_, errUser := g.Login("root", testPass)
		_, errPass := g.Login(testUser, "wrong")
		assertUnauthorized(t, errUser)
		assertUnauthorized(t, errPass)
		if apperr.MessageOf(errUser) != apperr.MessageOf(errPass) {
			t.Errorf("メッセージが異なる: %q != %q", apperr.MessageOf(errUser), apperr.MessageOf(errPass))
		}
	})

	t.Run("空の資格情報は拒否すること", func(t *testing.T) {
		t.Parallel()

		g, _ := newTestGate(t, testPass)
		_, err := g.Login("", "")
		assertUnauthorized(t, err)
	})

	t.Run("argon2idハッシュのパスワードで照合できること", func(t *testing.T) {
		t.Parallel()

		hash, err := HashPassword(testPass, testParams)
		if err != nil {
			t.Fatalf("HashPassword()でエラーが発生: %v", err)
		}
		g, _ := newTestGate(t, hash)

		if _, err := g.Login(testUser, testPass); err != nil {
			t.Errorf("Login()でエラーが発生: %v", err)
		}
		_, err = g.Login(testUser, hash)
		assertUnauthorized(t, err)
	})
}

// TestGate_Verify はトークン検証を検証する。
func TestGate_Verify(t *testing.T) {
	t.Parallel()

	t.Run("発行したトークンからユーザー名を取り出せること", func(t *testing.T) {
		t.Parallel()

		g, _ := newTestGate(t, testPass)
		token, err := g.Login(testUser, testPass)
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}
		identity, err := g.Verify(token)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if identity != testUser {
			t.Errorf("identity = %q, want %q", identity, testUser)
		}
	})

	t.Run("有効期限の直前までは有効で期限後は拒否すること", func(t *testing.T) {
		t.Parallel()

		g, c := newTestGate(t, testPass)
		token, err := g.Login(testUser, testPass)
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}

		c.t = c.t.Add(7*24*time.Hour - time.Minute)
		if _, err := g.Verify(token); err != nil {
			t.Errorf("期限前のVerify()でエラーが発生: %v", err)
		}

		c.t = c.t.Add(2 * time.Minute)
		_, err = g.Verify(token)
		assertUnauthorized(t, err)
	})

	t.Run("ペイロードを改ざんしたトークンは拒否すること", func(t *testing.T) {
		t.Parallel()

		g, _ := newTestGate(t, testPass)
		token, err := g.Login(testUser, testPass)
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}
		parts := strings.Split(token, ".")
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		forged := strings.Replace(string(payload), `"sub":"admin"`, `"sub":"intruder"`, 1)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

		_, err = g.Verify(strings.Join(parts, "."))
		assertUnauthorized(t, err)
	})

	t.Run("別の鍵で署名したトークンは拒否すること", func(t *testing.T) {
		t.Parallel()

		g, c := newTestGate(t, testPass)
		other, err := NewGate(Config{Username: testUser, Password: testPass, Secret: "another-secret"}, c.Now)
		if err != nil {
			t.Fatalf("NewGate()でエラーが発生: %v", err)
		}
		token, err := other.Login(testUser, testPass)
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}
		_, err = g.Verify(token)
		assertUnauthorized(t, err)
	})

	t.Run("署名なし（alg=none）のトークンは拒否すること", func(t *testing.T) {
		t.Parallel()

		g, c := newTestGate(t, testPass)
		claims := jwt.RegisteredClaims{
			Subject:   testUser,
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(c.t.Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}
		_, err = g.Verify(token)
		assertUnauthorized(t, err)
	})

	t.Run("有効期限のないトークンは拒否すること", func(t *testing.T) {
		t.Parallel()

		g, _ := newTestGate(t, testPass)
		claims := jwt.RegisteredClaims{Subject: testUser, Issuer: Issuer}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}
		_, err = g.Verify(token)
		assertUnauthorized(t, err)
	})

	t.Run("空文字列と不正な文字列は拒否すること", func(t *testing.T) {
		t.Parallel()

		g, _ := newTestGate(t, testPass)
		_, err := g.Verify("")
		assertUnauthorized(t, err)
		_, err = g.Verify("not.a.jwt")
		assertUnauthorized(t, err)
	})
}

// TestNewGate は設定の検証を確認する。
func TestNewGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "正しい設定", cfg: Config{Username: "u", Password: "p", Secret: "s"}},
		{name: "ユーザー名なし", cfg: Config{Password: "p", Secret: "s"}, wantErr: true},
		{name: "パスワードなし", cfg: Config{Username: "u", Secret: "s"}, wantErr: true},
		{name: "署名鍵なし", cfg: Config{Username: "u", Password: "p"}, wantErr: true},
		{name: "壊れたハッシュ", cfg: Config{Username: "u", Password: "argon2id$broken", Secret: "s"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, err := NewGate(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && g.TTL() != DefaultTTL {
				t.Errorf("TTL() = %v, want %v", g.TTL(), DefaultTTL)
			}
		})
	}
}
