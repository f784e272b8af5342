package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// RedisNotifier транслирует события тревог в канал Pub/Sub,
// чтобы их видели другие процессы (alertwatch, дашборды).
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev domain.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

// MemoryWriter: часть агента памяти, которая нужна для записи тревог.
type MemoryWriter interface {
	SaveTimestampedMemory(ctx context.Context, rec domain.MemoryRecord) (string, error)
}

// MemoryNotifier сохраняет события тревог как записи памяти агента мониторинга.
type MemoryNotifier struct {
	store   MemoryWriter
	agentID string
}

func NewMemoryNotifier(store MemoryWriter, agentID string) *MemoryNotifier {
	return &MemoryNotifier{store: store, agentID: agentID}
}

func (n *MemoryNotifier) Notify(ctx context.Context, ev domain.AlertEvent) error {
	importance := "medium"
	if ev.Alert.Severity == domain.SeverityCritical {
		importance = "high"
	}
	_, err := n.store.SaveTimestampedMemory(ctx, domain.MemoryRecord{
		AgentID: n.agentID,
		Type:    "alert",
		Content: map[string]interface{}{
			"kind":      string(ev.Kind),
			"alert_id":  ev.Alert.ID,
			"severity":  string(ev.Alert.Severity),
			"message":   ev.Alert.Message,
			"value":     ev.Alert.Value,
			"threshold": ev.Alert.Threshold,
		},
		Importance: importance,
		Tags:       []string{"alert", string(ev.Kind)},
		Timestamp:  ev.At,
	})
	return err
}

// NotifierFunc адаптирует функцию к Notifier.
type NotifierFunc func(ctx context.Context, ev domain.AlertEvent) error

func (f NotifierFunc) Notify(ctx context.Context, ev domain.AlertEvent) error { return f(ctx, ev) }

// logFields: общий набор полей для логирования события.
func logFields(ev domain.AlertEvent) []zap.Field {
	return []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("alert_id", ev.Alert.ID),
		zap.String("severity", string(ev.Alert.Severity)),
		zap.String("message", ev.Alert.Message),
		zap.Float64("value", ev.Alert.Value),
		zap.Time("at", ev.At),
	}
}
