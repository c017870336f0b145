package filter

import (
	"time"
)

// Level は濾心の交換時期の状態。
type Level string

const (
	// LevelOK は寿命に余裕がある状態。
	LevelOK Level = "ok"
	// LevelWarning は残り寿命が設計寿命の20%以下の状態。
	LevelWarning Level = "warning"
	// LevelExpired は寿命を過ぎた状態。
	LevelExpired Level = "expired"
)

// warningRatio はLevelWarningとみなす残り寿命の割合。
const warningRatio = 0.2

// Status はレコードに交換時期の計算結果を加えたもの。
type Status struct {
	Record
	// NextReplace は次回交換予定日（last_replace + lifespan）。
	NextReplace string `json:"next_replace"`
	// DaysUsed は最後の交換からの経過日数。
	DaysUsed int `json:"days_used"`
	// RemainingDays は残り寿命（日数）。期限切れの場合は0以下。
	RemainingDays int `json:"remaining_days"`
	// Level は交換時期の状態。
	Level Level `json:"level"`
}

// Assess はtoday（YYYY-MM-DD）時点でのレコードの状態を計算する。
func Assess(r Record, today string) (Status, error) {
	last, err := time.Parse(DateLayout, r.LastReplace)
	if err != nil {
		return Status{}, err
	}
	now, err := time.Parse(DateLayout, today)
	if err != nil {
		return Status{}, err
	}

	// 交換日が未来の場合も差の絶対値を経過日数とする。
	used := int(now.Sub(last).Hours() / 24)
	if used < 0 {
		used = -used
	}
	remaining := r.Lifespan - used

	level := LevelOK
	switch {
	case remaining <= 0:
		level = LevelExpired
	case float64(remaining) <= float64(r.Lifespan)*warningRatio:
		level = LevelWarning
	}

	return Status{
		Record:        r,
		NextReplace:   last.AddDate(0, 0, r.Lifespan).Format(DateLayout),
		DaysUsed:      used,
		RemainingDays: remaining,
		Level:         level,
	}, nil
}

// AssessAll はすべてのレコードの状態を計算する。解析できない日付を含む場合はエラーを返す。
func AssessAll(records []Record, today string) ([]Status, error) {
	statuses := make([]Status, 0, len(records))
	for _, r := range records {
		st, err := Assess(r, today)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

