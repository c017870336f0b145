package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// hashPrefix はargon2idのPHC形式ハッシュの先頭。
const hashPrefix = "argon2id$"

// Argon2Params はargon2idのコストパラメータ。
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params はADMIN_PASSWORDのハッシュ生成に使う既定値を返す。
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// IsPasswordHash はsがargon2idのPHC形式ハッシュかどうかを返す。
func IsPasswordHash(s string) bool {
	return strings.HasPrefix(strings.TrimPrefix(s, "$"), hashPrefix)
}

// HashPassword はパスワードをPHC形式の文字列にする。
// 形式: argon2id$v=19$m=65536,t=3,p=4$<salt_b64>$<hash_b64>
func HashPassword(password string, p Argon2Params) (string, error) {
	if password == "" {
		return "", errors.New("パスワードは必須です")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ソルトの生成に失敗: %w", err)
	}
	h := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		enc.EncodeToString(salt),
		enc.EncodeToString(h),
	), nil
}

// VerifyPassword はパスワードがPHC形式のハッシュと一致するかを定数時間で比較する。
func VerifyPassword(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}
	p, salt, want, err := parsePHC(strings.TrimPrefix(encoded, "$"))
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parsePHC(s string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 5 {
		return Argon2Params{}, nil, nil, errors.New("パスワードハッシュの形式が不正です")
	}
	if parts[0] != "argon2id" {
		return Argon2Params{}, nil, nil, errors.New("未対応のハッシュアルゴリズムです")
	}
	ver, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v="))
	if !strings.HasPrefix(parts[1], "v=") || err != nil || ver != argon2.Version {
		return Argon2Params{}, nil, nil, errors.New("未対応のargon2バージョンです")
	}

	var p Argon2Params
	for _, kv := range strings.Split(parts[2], ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2Params{}, nil, nil, errors.New("argon2パラメータが不正です")
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Argon2Params{}, nil, nil, errors.New("argon2のmemoryが不正です")
			}
			p.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Argon2Params{}, nil, nil, errors.New("argon2のiterationsが不正です")
			}
			p.Iterations = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return Argon2Params{}, nil, nil, errors.New("argon2のparallelismが不正です")
			}
			p.Parallelism = uint8(v)
		default:
			return Argon2Params{}, nil, nil, fmt.Errorf("不明なargon2パラメータです: %s", key)
		}
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Argon2Params{}, nil, nil, errors.New("argon2パラメータが不足しています")
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, errors.New("argon2のソルトが不正です")
	}
	hash, err := enc.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, errors.New("argon2のハッシュが不正です")
	}
	if len(hash) < 16 {
		return Argon2Params{}, nil, nil, errors.New("argon2のハッシュ長が不正です")
	}
	return p, salt, hash, nil
}
