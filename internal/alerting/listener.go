package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// Listen: "живучая" подписка на канал событий тревог.
// Переподписывается при обрыве и завершается только по ctx.
func Listen(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onEvent func(ev domain.AlertEvent),
) {
	for {
		if ctx.Err() != nil {
			return
		}
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // канал закрыт, идем на переподключение
				}
				var ev domain.AlertEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Error("invalid alert event payload", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				onEvent(ev)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// LogEvent пишет событие тревоги в лог (используется alertwatch).
func LogEvent(logger *zap.Logger, ev domain.AlertEvent) {
	switch ev.Kind {
	case domain.AlertTriggered:
		logger.Warn("alert", logFields(ev)...)
	default:
		logger.Info("alert", logFields(ev)...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
