// Package monitor: оркестратор мониторинга: периодический тик
// (снимок -> история -> тревоги -> сводка -> экспорт), экспорт отчета
// и точка входа для учета вызовов LLM.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/ring"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

type State string

// ErrPreviousLoopRunning: Stop не дождался старой горутины, она еще пишет в историю.
var ErrPreviousLoopRunning = errors.New("previous monitoring loop is still running")

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// SnapshotSource: сэмплер, который не возвращает ошибок (sampler.FallbackSampler).
type SnapshotSource interface {
	Sample(ctx context.Context) domain.MetricsSnapshot
}

type ResourceAlerts interface {
	EvaluateSnapshot(t alerting.ResourceThresholds, s domain.MetricsSnapshot) []domain.AlertEvent
	Active() []domain.Alert
}

type Reporter interface {
	Export(ctx context.Context, path string) (string, error)
}

type Config struct {
	Interval        time.Duration
	StopTimeout     time.Duration
	SummaryEvery    int
	ExportEvery     int
	HistoryCapacity int
	Thresholds      alerting.ResourceThresholds
	// AgentID: от чьего имени пишутся записи памяти.
	AgentID string
}

func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		StopTimeout:     5 * time.Second,
		SummaryEvery:    10,
		ExportEvery:     120,
		HistoryCapacity: 1000,
		Thresholds:      alerting.DefaultResourceThresholds(),
		AgentID:         "monitoring_agent",
	}
}

type Loop struct {
	cfg     Config
	sampler SnapshotSource
	alerts  ResourceAlerts
	memory  alerting.MemoryWriter
	history *ring.Buffer[domain.MetricsSnapshot]
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	stale    chan struct{} // done брошенной по таймауту горутины
	reporter Reporter
	ticks    int64
}

type Option func(*Loop)

// WithMemory включает запись сводок system_state в агент памяти.
func WithMemory(m alerting.MemoryWriter) Option {
	return func(l *Loop) { l.memory = m }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func NewLoop(cfg Config, sampler SnapshotSource, alerts ResourceAlerts, logger *zap.Logger, opts ...Option) *Loop {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.AgentID == "" {
		cfg.AgentID = def.AgentID
	}
	l := &Loop{
		cfg:     cfg,
		sampler: sampler,
		alerts:  alerts,
		history: ring.New[domain.MetricsSnapshot](cfg.HistoryCapacity),
		logger:  logger.Named("monitor"),
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = telemetry.NewMetrics(nil)
	}
	return l
}

// AttachReporter подключает экспорт. Экспортер читает историю цикла, поэтому
// создается после него.
func (l *Loop) AttachReporter(r Reporter) {
	l.mu.Lock()
	l.reporter = r
	l.mu.Unlock()
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Running() bool { return l.State() == StateRunning }

// Start запускает цикл в отдельной горутине. Повторный Start: no-op с предупреждением.
// Пока горутина, брошенная Stop по таймауту, не завершилась, возвращает ErrPreviousLoopRunning.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateRunning {
		l.logger.Warn("monitoring loop already running")
		return nil
	}
	if l.stale != nil {
		select {
		case <-l.stale:
			l.stale = nil
		default:
			l.logger.Warn("refusing to start: previous monitoring loop has not exited")
			return ErrPreviousLoopRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.state, l.cancel, l.done = StateRunning, cancel, done

	go l.run(runCtx, done)
	l.logger.Info("monitoring loop started", zap.Duration("interval", l.cfg.Interval))
	return nil
}

// Stop отменяет цикл и ждет его завершения не дольше StopTimeout.
// Stop в состоянии Stopped — no-op.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.state, l.cancel, l.done = StateStopped, nil, nil
	l.mu.Unlock()

	cancel()

	timer := time.NewTimer(l.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		l.logger.Info("monitoring loop stopped")
	case <-timer.C:
		l.logger.Warn("monitoring loop did not stop in time, abandoning it",
			zap.Duration("timeout", l.cfg.StopTimeout))
		l.markStale(done)
	case <-ctx.Done():
		l.logger.Warn("monitoring loop stop interrupted", zap.Error(ctx.Err()))
		l.markStale(done)
	}
}

func (l *Loop) markStale(done chan struct{}) {
	l.mu.Lock()
	l.stale = done
	l.mu.Unlock()
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		// родительский контекст отменен без Stop
		l.mu.Lock()
		if l.done == done {
			l.state, l.cancel, l.done = StateStopped, nil, nil
		}
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick: одна итерация цикла. Вызывается только горутиной цикла (и тестами).
func (l *Loop) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { l.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	snap := l.sampler.Sample(ctx)
	if ctx.Err() != nil {
		return
	}
	l.history.Push(snap)
	l.observe(snap)

	l.alerts.EvaluateSnapshot(l.cfg.Thresholds, snap)

	l.mu.Lock()
	l.ticks++
	n := l.ticks
	reporter := l.reporter
	l.mu.Unlock()

	if l.cfg.SummaryEvery > 0 && n%int64(l.cfg.SummaryEvery) == 0 {
		l.summarize(ctx, snap)
	}
	if reporter != nil && l.cfg.ExportEvery > 0 && n%int64(l.cfg.ExportEvery) == 0 {
		if path, err := reporter.Export(ctx, ""); err != nil {
			l.logger.Error("periodic export failed", zap.Error(err))
		} else {
			l.logger.Info("periodic export written", zap.String("path", path))
		}
	}
}

func (l *Loop) observe(s domain.MetricsSnapshot) {
	l.metrics.CPUPercent.Set(s.CPUPercent)
	l.metrics.MemoryPercent.Set(s.MemoryPercent)
	l.metrics.SwapPercent.Set(s.SwapPercent)
	for path, pct := range s.DiskUsage {
		l.metrics.DiskPercent.WithLabelValues(path).Set(pct)
	}
}

func (l *Loop) summarize(ctx context.Context, s domain.MetricsSnapshot) {
	active := l.alerts.Active()
	ids := make([]string, 0, len(active))
	for _, a := range active {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)

	l.logger.Info("system state",
		zap.Float64("cpu_percent", s.CPUPercent),
		zap.Float64("memory_percent", s.MemoryPercent),
		zap.Float64("swap_percent", s.SwapPercent),
		zap.Any("disk_usage", s.DiskUsage),
		zap.Int("process_count", s.ProcessCount),
		zap.Float64("load1", s.LoadAverage.Load1),
		zap.Strings("active_alerts", ids),
	)

	if l.memory == nil {
		return
	}
	_, err := l.memory.SaveTimestampedMemory(ctx, domain.MemoryRecord{
		AgentID: l.cfg.AgentID,
		Type:    "system_state",
		Content: map[string]interface{}{
			"cpu_percent":    s.CPUPercent,
			"memory_percent": s.MemoryPercent,
			"swap_percent":   s.SwapPercent,
			"disk_usage":     s.DiskUsage,
			"process_count":  s.ProcessCount,
			"load_average":   s.LoadAverage,
			"active_alerts":  ids,
		},
		Importance: "low",
		Tags:       []string{"monitoring", "system_state"},
		Timestamp:  s.Timestamp,
	})
	if err != nil {
		l.logger.Warn("failed to store system state summary", zap.Error(err))
	}
}

// History: копия кольцевого буфера снимков, от старых к новым.
func (l *Loop) History() []domain.MetricsSnapshot {
	items := l.history.Items()
	for i := range items {
		items[i] = items[i].Clone()
	}
	return items
}

func (l *Loop) Latest() (domain.MetricsSnapshot, bool) {
	s, ok := l.history.Last()
	if !ok {
		return s, false
	}
	return s.Clone(), true
}
