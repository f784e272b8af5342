package memory

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type ReliableConfig struct {
	Attempts    uint
	BaseDelay   time.Duration
	CallTimeout time.Duration
	// После стольких ошибок подряд предохранитель размыкается.
	MaxConsecutiveFailures uint32
	OpenTimeout            time.Duration
}

func DefaultReliableConfig() ReliableConfig {
	return ReliableConfig{
		Attempts:               3,
		BaseDelay:              100 * time.Millisecond,
		CallTimeout:            5 * time.Second,
		MaxConsecutiveFailures: 5,
		OpenTimeout:            30 * time.Second,
	}
}

// ReliableStore оборачивает Store предохранителем и повторами.
// Пока предохранитель разомкнут, вызовы сразу получают gobreaker.ErrOpenState.
type ReliableStore struct {
	next   Store
	cb     *gobreaker.CircuitBreaker
	cfg    ReliableConfig
	logger *zap.Logger
}

func NewReliableStore(next Store, cfg ReliableConfig, logger *zap.Logger) *ReliableStore {
	def := DefaultReliableConfig()
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	logger = logger.Named("memory")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "memory-store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout, // через сколько пробуем полуоткрыться
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("memory store breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &ReliableStore{next: next, cb: cb, cfg: cfg, logger: logger}
}

func (s *ReliableStore) State() gobreaker.State { return s.cb.State() }

func (s *ReliableStore) SaveTimestampedMemory(ctx context.Context, rec domain.MemoryRecord) (string, error) {
	var id string
	err := s.call(ctx, func(cctx context.Context) error {
		var err error
		id, err = s.next.SaveTimestampedMemory(cctx, rec)
		return err
	})
	return id, err
}

func (s *ReliableStore) GetRecentMemories(ctx context.Context, q domain.MemoryQuery) ([]domain.MemoryRecord, error) {
	var out []domain.MemoryRecord
	err := s.call(ctx, func(cctx context.Context) error {
		var err error
		out, err = s.next.GetRecentMemories(cctx, q)
		return err
	})
	return out, err
}

// call: одна попытка предохранителя на всю серию повторов.
func (s *ReliableStore) call(ctx context.Context, fn func(context.Context) error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.cfg.Attempts),
			retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
				return s.cfg.BaseDelay << n
			}),
		)
		return nil, r.Do(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()
			return fn(cctx)
		})
	})
	if err != nil {
		s.logger.Warn("memory store call failed", zap.Error(err))
	}
	return err
}
