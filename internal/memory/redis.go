package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/infra"
)

// RedisStore держит память агента в sorted set, score — UnixNano записи.
type RedisStore struct {
	rdb *redis.Client
	// MaxPerAgent ограничивает размер set; 0 — без ограничения.
	MaxPerAgent int64
	now         func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, MaxPerAgent: 10000, now: time.Now}
}

func (s *RedisStore) SaveTimestampedMemory(ctx context.Context, rec domain.MemoryRecord) (string, error) {
	rec = prepare(rec, s.now())
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal memory: %w", err)
	}

	key := infra.MemoryKey(rec.AgentID)
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(rec.Timestamp.UnixNano()), Member: payload})
	if s.MaxPerAgent > 0 {
		// оставляем только MaxPerAgent самых свежих
		pipe.ZRemRangeByRank(ctx, key, 0, -s.MaxPerAgent-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return rec.ID, nil
}

func (s *RedisStore) GetRecentMemories(ctx context.Context, q domain.MemoryQuery) ([]domain.MemoryRecord, error) {
	min := "-inf"
	if cutoff := since(q, s.now()); !cutoff.IsZero() {
		min = strconv.FormatInt(cutoff.UnixNano(), 10)
	}

	raw, err := s.rdb.ZRevRangeByScore(ctx, infra.MemoryKey(q.AgentID), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	out := make([]domain.MemoryRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.MemoryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		out = append(out, rec)
	}
	return newestFirst(out, q.Limit), nil
}
