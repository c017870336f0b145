package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// errCorrupt は保存データの中身が壊れていることを表す。
// Initialize はこのエラーを含む失敗に限って初期データへのリセットを行う。
var errCorrupt = errors.New("保存データが壊れています")

// DateLayout は last_replace の日付形式（ISO 8601 の日付部分）。
const DateLayout = "2006-01-02"

// Record は1本の濾心カートリッジを表す。
type Record struct {
	// Name は濾心の名前。ストア内で一意。
	Name string `json:"name"`
	// LastReplace は最後に交換した日付（YYYY-MM-DD）。
	LastReplace string `json:"last_replace"`
	// Lifespan は想定寿命（日数）。正の整数。
	Lifespan int `json:"lifespan"`
}

// DefaultRecords はストアが空の状態で初期化されたときに投入する初期データ。
func DefaultRecords() []Record {
	return []Record{
		{Name: "前置濾網", LastReplace: "2025-05-01", Lifespan: 60},
		{Name: "活性碳濾心", LastReplace: "2025-05-01", Lifespan: 90},
	}
}

// Validate はレコードの不変条件を検証する。
func (r Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.New(apperr.KindInvalidInput, "filter.validate", "name は必須です")
	}
	if r.LastReplace == "" {
		return apperr.New(apperr.KindInvalidInput, "filter.validate", "last_replace は必須です")
	}
	if _, err := time.Parse(DateLayout, r.LastReplace); err != nil {
		return apperr.New(apperr.KindInvalidInput, "filter.validate", "last_replace は YYYY-MM-DD 形式の日付である必要があります")
	}
	if r.Lifespan <= 0 {
		return apperr.New(apperr.KindInvalidInput, "filter.validate", "lifespan は正の整数である必要があります")
	}
	return nil
}

// ParseLifespan はリクエストJSONの lifespan フィールドを日数に変換する。
// JSONの整数と数字のみの文字列（"30"）を受け付ける。
func ParseLifespan(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperr.New(apperr.KindInvalidInput, "filter.parse_lifespan", "lifespan は必須です")
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, apperr.New(apperr.KindInvalidInput, "filter.parse_lifespan", "lifespan の形式が不正です")
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	days, err := strconv.Atoi(text)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidInput, "filter.parse_lifespan", "lifespan は整数である必要があります")
	}
	if days <= 0 {
		return 0, apperr.New(apperr.KindInvalidInput, "filter.parse_lifespan", "lifespan は正の整数である必要があります")
	}
	return days, nil
}

// validateSet は永続化済みのレコード集合が構造的に正しいかを検証する。
// 名前の重複も不正とみなす。保存データの不正は入力エラーではなくストレージ障害として返す。
func validateSet(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return &apperr.Error{
				Kind:    apperr.KindStorage,
				Op:      "filter.validate_set",
				Message: "保存データに不正なレコードがあります",
				Cause:   fmt.Errorf("%w: %w", errCorrupt, err),
			}
		}
		if _, dup := seen[r.Name]; dup {
			return &apperr.Error{
				Kind:    apperr.KindStorage,
				Op:      "filter.validate_set",
				Message: "濾心名が重複しています: " + r.Name,
				Cause:   errCorrupt,
			}
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}
