package sampler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

// Sampler собирает снимок из Source. CPU и память обязательны:
// их сбой возвращается как *domain.SamplingError. Остальные показания
// при сбое остаются нулевыми.
type Sampler struct {
	src       Source
	diskPaths []string
	logger    *zap.Logger
	now       func() time.Time
}

func New(src Source, diskPaths []string, logger *zap.Logger) *Sampler {
	if len(diskPaths) == 0 {
		diskPaths = []string{"/"}
	}
	paths := append([]string(nil), diskPaths...)
	sort.Strings(paths)
	return &Sampler{src: src, diskPaths: paths, logger: logger.Named("sampler"), now: time.Now}
}

func (s *Sampler) Sample(ctx context.Context) (domain.MetricsSnapshot, error) {
	snap := domain.MetricsSnapshot{
		Timestamp: s.now(),
		DiskUsage: make(map[string]float64, len(s.diskPaths)),
	}

	total, perCore, err := s.src.CPU(ctx)
	if err != nil {
		return domain.MetricsSnapshot{}, &domain.SamplingError{Op: "cpu", Err: err}
	}
	snap.CPUPercent, snap.CPUPerCore = total, perCore

	m, err := s.src.Memory(ctx)
	if err != nil {
		return domain.MetricsSnapshot{}, &domain.SamplingError{Op: "memory", Err: err}
	}
	snap.MemoryPercent = m.Percent
	snap.MemoryTotal, snap.MemoryUsed, snap.MemoryAvailable = m.Total, m.Used, m.Available

	if snap.SwapPercent, err = s.src.SwapPercent(ctx); err != nil {
		s.partial("swap", err)
	}
	for _, p := range s.diskPaths {
		pct, err := s.src.DiskPercent(ctx, p)
		if err != nil {
			s.partial("disk:"+p, err)
			continue
		}
		snap.DiskUsage[p] = pct
	}
	if snap.NetworkIO, err = s.src.Network(ctx); err != nil {
		s.partial("network", err)
	}
	if snap.ProcessCount, err = s.src.ProcessCount(ctx); err != nil {
		s.partial("processes", err)
	}
	if snap.LoadAverage, err = s.src.LoadAverage(ctx); err != nil {
		s.partial("load", err)
	}
	return snap, nil
}

func (s *Sampler) partial(op string, err error) {
	s.logger.Debug("partial sample", zap.String("op", op), zap.Error(err))
}

// FallbackSampler никогда не возвращает ошибку: при сбое отдается последний
// удачный снимок со свежей меткой времени (нулевой, если удачных еще не было).
type FallbackSampler struct {
	inner   *Sampler
	slow    time.Duration
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	last     domain.MetricsSnapshot
	haveLast bool
}

// NewFallbackSampler: slow — порог, после которого сэмпл логируется как медленный (обычно интервал тика).
func NewFallbackSampler(inner *Sampler, slow time.Duration, metrics *telemetry.Metrics, logger *zap.Logger) *FallbackSampler {
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &FallbackSampler{inner: inner, slow: slow, metrics: metrics, logger: logger.Named("sampler")}
}

func (f *FallbackSampler) Sample(ctx context.Context) domain.MetricsSnapshot {
	start := time.Now()
	snap, err := f.inner.Sample(ctx)
	if elapsed := time.Since(start); f.slow > 0 && elapsed > f.slow {
		f.logger.Warn("sample slower than tick interval",
			zap.Duration("elapsed", elapsed), zap.Duration("interval", f.slow))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		// отмена контекста при остановке не считается сбоем сэмплинга
		if ctx.Err() != nil {
			f.logger.Debug("sampling cancelled", zap.Error(err))
		} else {
			f.metrics.SampleErrors.Inc()
			f.logger.Error("sampling failed, using last known snapshot", zap.Error(err), zap.Bool("have_last", f.haveLast))
		}
		fallback := domain.MetricsSnapshot{DiskUsage: map[string]float64{}}
		if f.haveLast {
			fallback = f.last.Clone()
		}
		fallback.Timestamp = f.inner.now()
		return fallback
	}

	f.last, f.haveLast = snap.Clone(), true
	return snap
}
