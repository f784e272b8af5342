// alertwatch подписывается на события тревог сервиса мониторинга и пишет их в лог.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Redis.Addr == "" {
		log.Fatal("redis.addr (REDIS_ADDR) is required")
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("alertwatch")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Listen сам переподключится, стартуем все равно
		logger.Warn("redis unreachable, will keep retrying", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancel()

	logger.Info("watching alert events", zap.String("channel", infra.RedisChanAlertEvents))
	alerting.Listen(ctx, rdb, logger, infra.RedisChanAlertEvents, func(ev domain.AlertEvent) {
		alerting.LogEvent(logger, ev)
	})
	logger.Info("alertwatch stopped")
}
