package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/console/handler"
	"github.com/xela07ax/mindx-monitoring/internal/console/server"
	"github.com/xela07ax/mindx-monitoring/internal/infra"
	"github.com/xela07ax/mindx-monitoring/internal/infra/auth"
	"github.com/xela07ax/mindx-monitoring/internal/ledger"
	"github.com/xela07ax/mindx-monitoring/internal/memory"
	"github.com/xela07ax/mindx-monitoring/internal/monitor"
	"github.com/xela07ax/mindx-monitoring/internal/pricing"
	"github.com/xela07ax/mindx-monitoring/internal/repository/postgres"
	"github.com/xela07ax/mindx-monitoring/internal/sampler"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
	"github.com/xela07ax/mindx-monitoring/internal/tokens"
	"github.com/xela07ax/mindx-monitoring/internal/usage"
)

// Имя сервиса в gRPC health: SERVING, пока работает цикл мониторинга.
const healthService = "mindx.monitoring"

func main() {
	// .env необязателен: в Docker/K8s переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("monitoring service failed", zap.Error(err))
	}
	logger.Info("monitoring service exited properly")
}

func run(ctx context.Context, cfg *infra.Config, logger *zap.Logger) error {
	// 1. Метрики
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(promReg)

	// 2. Инфраструктура: Redis и Postgres опциональны
	rdb, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	mem, err := newMemoryStore(cfg, rdb, logger)
	if err != nil {
		return err
	}

	var storeOpts []usage.Option
	storeOpts = append(storeOpts, usage.WithMetrics(metrics))
	mirror, err := openMirror(ctx, cfg.Database, metrics, logger)
	if err != nil {
		return err
	}
	if mirror != nil {
		mirror.Start()
		defer mirror.Stop()
		storeOpts = append(storeOpts, usage.WithSink(mirror))
	}

	// 3. Тревоги
	regOpts := []alerting.Option{
		alerting.WithMetrics(metrics),
		alerting.WithNotifier(alerting.NewMemoryNotifier(mem, cfg.Monitoring.AgentID)),
	}
	if rdb != nil {
		regOpts = append(regOpts, alerting.WithNotifier(alerting.NewRedisNotifier(rdb, infra.RedisChanAlertEvents)))
	}
	alerts := alerting.NewRegistry(cfg.Alerts.Cooldown, cfg.Monitoring.AlertHistoryCapacity, logger, regOpts...)
	defer alerts.Close()

	// 4. Учет стоимости
	budget, err := parseBudget(cfg.Budget.DailyUSD)
	if err != nil {
		return err
	}
	calc := pricing.NewCalculator(pricing.LoadPriceTable(cfg.Pricing.ConfigPath, logger), logger)
	journal := usage.NewStore(cfg.Usage.JournalPath, cfg.Usage.MaxEntries, logger, storeOpts...)
	tracker := tokens.NewTracker(tokens.Config{
		CallsPerMinute:   cfg.RateLimit.CallsPerMinute,
		DailyBudgetUSD:   budget,
		AlertUtilization: cfg.Budget.AlertUtilization,
		StatePath:        cfg.Usage.TokenStatePath,
	}, calc, journal, logger, tokens.WithAlerts(alerts), tokens.WithMetrics(metrics))

	perf := ledger.New(ledger.Config{
		SuccessRateFloor: cfg.Alerts.SuccessRateFloor,
		LatencyCeilingMs: cfg.Alerts.LatencyCeilingMs,
		MinCalls:         cfg.Alerts.MinCalls,
		LatencyWindow:    cfg.Alerts.LatencyWindow,
	}, alerts, logger, ledger.WithMetrics(metrics))

	// 5. Цикл мониторинга
	hostSampler := sampler.NewFallbackSampler(
		sampler.New(sampler.NewHostSource(cfg.Monitoring.CPUSampleInterval), cfg.Monitoring.DiskPaths, logger),
		cfg.Monitoring.Interval, metrics, logger)
	loop := monitor.NewLoop(monitor.Config{
		Interval:        cfg.Monitoring.Interval,
		StopTimeout:     cfg.Monitoring.StopTimeout,
		SummaryEvery:    cfg.Monitoring.SummaryEvery,
		ExportEvery:     cfg.Monitoring.ExportEvery,
		HistoryCapacity: cfg.Monitoring.HistoryCapacity,
		Thresholds:      alerting.ResourceThresholds(cfg.Thresholds),
		AgentID:         cfg.Monitoring.AgentID,
	}, hostSampler, alerts, logger, monitor.WithMemory(mem), monitor.WithMetrics(metrics))

	exporter := monitor.NewExporter(cfg.Monitoring.ExportDir, loop, perf, alerts, tracker, journal, logger)
	loop.AttachReporter(exporter)

	// 6. Console API
	validator, err := newValidator(cfg.Auth, logger)
	if err != nil {
		return err
	}
	console := server.NewConsoleServer(logger, validator, promReg,
		handler.NewCostHandler(tracker, monitor.NewCallLogger(tracker, perf), logger),
		handler.NewStatsHandler(journal, perf, alerts, tracker, logger),
		handler.NewReportHandler(exporter, logger),
	)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. gRPC health
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.Server.GRPCAddr(), err)
	}

	if err := loop.Start(ctx); err != nil {
		_ = lis.Close()
		return err
	}
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("console API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("monitoring service stopping")

		// Даем 5 секунд на завершение запросов
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		healthSrv.Shutdown()
		loop.Stop(shutdownCtx)
		if _, err := exporter.Export(shutdownCtx, ""); err != nil {
			logger.Error("final report export failed", zap.Error(err))
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}

func openRedis(ctx context.Context, cfg infra.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func newMemoryStore(cfg *infra.Config, rdb *redis.Client, logger *zap.Logger) (memory.Store, error) {
	var backend memory.Store
	switch cfg.Memory.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("memory.backend=redis requires redis.addr")
		}
		backend = memory.NewRedisStore(rdb)
	default:
		backend = memory.NewFileStore(cfg.Memory.Dir, logger)
	}
	return memory.NewReliableStore(backend, memory.DefaultReliableConfig(), logger), nil
}

// openMirror поднимает зеркало журнала в Postgres. Пустой URL — зеркала нет.
func openMirror(ctx context.Context, cfg infra.DatabaseConfig, metrics *telemetry.Metrics, logger *zap.Logger) (*usage.Mirror, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := postgres.OpenDB(cfg.URL)
	if err != nil {
		return nil, err
	}

	// Проверяем соединение с таймаутом
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	repo := postgres.NewUsageRepo(db)
	if err := repo.EnsureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return usage.NewMirror(repo, usage.MirrorConfig{
		BufferSize:    cfg.MirrorBufferSize,
		BatchSize:     cfg.MirrorBatchSize,
		FlushInterval: cfg.MirrorFlushInterval,
	}, metrics, logger), nil
}

func parseBudget(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("budget.daily_usd: invalid amount %q", raw)
	}
	return d, nil
}

func newValidator(cfg infra.AuthConfig, logger *zap.Logger) (auth.TokenValidator, error) {
	if len(cfg.PublicKey) == 0 {
		logger.Warn("console auth disabled: no public key configured")
		return nil, nil
	}
	pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth public key: %w", err)
	}
	return auth.NewBaseValidator(pub, auth.WithIssuer(cfg.Issuer), auth.WithLeeway(cfg.Leeway)), nil
}
