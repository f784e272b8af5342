// Package memory: минимальный агент памяти: сохранение записей с меткой
// времени и выборка свежих записей. Бэкенд выбирается при старте.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type Store interface {
	SaveTimestampedMemory(ctx context.Context, rec domain.MemoryRecord) (string, error)
	GetRecentMemories(ctx context.Context, q domain.MemoryQuery) ([]domain.MemoryRecord, error)
}

const DefaultQueryLimit = 100

// prepare проставляет id и время, если их нет.
func prepare(rec domain.MemoryRecord, now time.Time) domain.MemoryRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if rec.Importance == "" {
		rec.Importance = "medium"
	}
	return rec
}

func since(q domain.MemoryQuery, now time.Time) time.Time {
	if q.DaysBack <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -q.DaysBack)
}

// newestFirst сортирует по убыванию времени и обрезает до лимита.
func newestFirst(records []domain.MemoryRecord, limit int) []domain.MemoryRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// safeSegment делает из id агента или типа безопасный компонент пути.
func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", string(rune(0)), "_")
	return r.Replace(s)
}
