package telemetry

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// OverflowLabel подставляется, когда лимит различных значений исчерпан.
	OverflowLabel     = "other"
	MaxLabelLength    = 64
	DefaultLabelLimit = 200
)

// LabelLimiter: ограничитель кардинальности одной метки.
// Значения приходят от клиентов API, поэтому число серий держим конечным.
type LabelLimiter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]struct{}
}

func NewLabelLimiter(limit int) *LabelLimiter {
	if limit <= 0 {
		limit = DefaultLabelLimit
	}
	return &LabelLimiter{limit: limit, seen: make(map[string]struct{})}
}

// Value возвращает допустимое значение метки: валидный UTF-8 не длиннее MaxLabelLength,
// а после limit различных значений — OverflowLabel.
func (l *LabelLimiter) Value(v string) string {
	v = strings.ToValidUTF8(v, "")
	if utf8.RuneCountInString(v) > MaxLabelLength {
		v = string([]rune(v)[:MaxLabelLength])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[v]; ok {
		return v
	}
	if len(l.seen) >= l.limit {
		return OverflowLabel
	}
	l.seen[v] = struct{}{}
	return v
}
