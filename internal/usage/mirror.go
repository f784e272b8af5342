package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

// BatchWriter определяет, куда физически зеркалируется журнал (Postgres).
type BatchWriter interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []domain.UsageRecord) error
}

type MirrorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{BufferSize: 10000, BatchSize: 100, FlushInterval: 500 * time.Millisecond}
}

// Mirror асинхронно пересылает строки журнала в BatchWriter.
// Enqueue не блокирует: при переполнении буфера запись отбрасывается с ошибкой в логе.
// Stop закрывает вход и дожидается финального flush.
type Mirror struct {
	ch      chan domain.UsageRecord
	writer  BatchWriter
	cfg     MirrorConfig
	metrics *telemetry.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewMirror(writer BatchWriter, cfg MirrorConfig, metrics *telemetry.Metrics, logger *zap.Logger) *Mirror {
	def := DefaultMirrorConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Mirror{
		ch:      make(chan domain.UsageRecord, cfg.BufferSize),
		writer:  writer,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("usage_mirror"),
	}
}

func (m *Mirror) Start() {
	m.wg.Add(1)
	go m.worker()
}

func (m *Mirror) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.logger.Info("stopping usage mirror: closing channel and flushing buffer...")
	close(m.ch)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("usage mirror stopped gracefully")
}

func (m *Mirror) Enqueue(rec domain.UsageRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		m.logger.Warn("usage record dropped: mirror is stopping", zap.String("id", rec.ID))
		return
	}

	select {
	case m.ch <- rec:
		m.metrics.MirrorBufferFill.Set(float64(len(m.ch)))
	default:
		m.logger.Error("usage_mirror_buffer_overflow",
			zap.String("id", rec.ID),
			zap.String("agent_id", rec.AgentID),
		)
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()

	batch := make([]domain.UsageRecord, 0, m.cfg.BatchSize)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст сервиса к этому моменту может быть уже отменен
		if err := m.writer.WriteBatch(context.Background(), batch); err != nil {
			m.logger.Error("usage mirror flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		m.metrics.MirrorBufferFill.Set(float64(len(m.ch)))
	}

	for {
		select {
		case rec, ok := <-m.ch:
			if !ok {
				flush()
				m.logger.Info("usage mirror worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
