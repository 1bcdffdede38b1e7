package usecase

import (
	"encoding/json"
	"strings"
	"time"
)

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// 監査ログ用のJSON文字列（失敗しても空にするだけ）
func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// 期間パラメータ。空なら nil
func ParseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
