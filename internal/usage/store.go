// Package usage: журнал вызовов LLM на диске и агрегаты по периодам.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/fsutil"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

const (
	DefaultMaxEntries = 10000
	// retainRatio: доля max_entries, остающаяся после ротации.
	retainRatio = 0.8
)

// Sink получает каждую успешно записанную строку (зеркало в БД).
type Sink interface {
	Enqueue(rec domain.UsageRecord)
}

type Store struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	sink       Sink
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithSink(sink Sink) Option {
	return func(s *Store) { s.sink = sink }
}

func NewStore(path string, maxEntries int, logger *zap.Logger, opts ...Option) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{
		path:       path,
		maxEntries: maxEntries,
		logger:     logger.Named("usage"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics(nil)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// Append дописывает запись: чтение журнала, ротация, атомарная перезапись.
// Поврежденный журнал откладывается в сторону, запись идет в новый.
func (s *Store) Append(ctx context.Context, rec domain.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	s.mu.Lock()
	records, err := s.loadLocked()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("append usage record: %w", err)
	}
	records = append(records, rec)

	if len(records) > s.maxEntries {
		keep := int(float64(s.maxEntries) * retainRatio)
		if keep < 1 {
			keep = 1
		}
		dropped := len(records) - keep
		records = append([]domain.UsageRecord(nil), records[dropped:]...)
		s.metrics.JournalRotations.Inc()
		s.logger.Info("usage journal rotated",
			zap.String("path", s.path), zap.Int("dropped", dropped), zap.Int("kept", keep))
	}

	err = fsutil.WriteJSONAtomic(s.path, records)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}

	if s.sink != nil {
		s.sink.Enqueue(rec)
	}
	return nil
}

// loadLocked читает журнал. Отсутствующий или пустой файл: пустой журнал.
// Ошибка чтения (EACCES, EIO, EISDIR) возвращается как есть, файл не трогаем.
func (s *Store) loadLocked() ([]domain.UsageRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		s.logger.Error("usage journal unreadable", zap.String("path", s.path), zap.Error(err))
		return nil, fmt.Errorf("read usage journal %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []domain.UsageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		cerr := s.quarantineLocked(err)
		s.metrics.JournalCorruptions.Inc()
		s.logger.Error("usage journal corrupt, starting fresh", zap.Error(cerr))
		return nil, nil
	}
	return records, nil
}

func (s *Store) quarantineLocked(parseErr error) *domain.JournalCorruptionError {
	dst := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102T150405.000000000Z"))
	cerr := &domain.JournalCorruptionError{Path: s.path, Quarantined: dst, Err: parseErr}
	if err := os.Rename(s.path, dst); err != nil {
		s.logger.Error("failed to quarantine corrupt usage journal", zap.String("path", s.path), zap.Error(err))
		cerr.Quarantined = ""
	}
	return cerr
}

// Records возвращает копию всего журнала.
func (s *Store) Records(ctx context.Context) ([]domain.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Query агрегирует текущий календарный день, ISO-неделю (с понедельника) или месяц по локальному времени.
func (s *Store) Query(ctx context.Context, period domain.Period) (domain.AggregateReport, error) {
	now := s.now()
	start, err := PeriodStart(period, now)
	if err != nil {
		return domain.AggregateReport{}, err
	}
	report, err := s.between(ctx, start, now)
	if err != nil {
		return report, err
	}
	report.Period = period
	return report, nil
}

// QuerySince агрегирует записи начиная с since.
func (s *Store) QuerySince(ctx context.Context, since time.Time) (domain.AggregateReport, error) {
	return s.between(ctx, since, s.now())
}

func (s *Store) between(ctx context.Context, start, end time.Time) (domain.AggregateReport, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return domain.AggregateReport{}, err
	}
	var selected []domain.UsageRecord
	for _, r := range records {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			selected = append(selected, r)
		}
	}
	return Aggregate(selected, start, end), nil
}

func PeriodStart(period domain.Period, now time.Time) (time.Time, error) {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch period {
	case domain.PeriodDay:
		return midnight, nil
	case domain.PeriodWeek:
		// Weekday: воскресенье = 0
		offset := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset), nil
	case domain.PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("unknown period %q", period)
	}
}

func Aggregate(records []domain.UsageRecord, start, end time.Time) domain.AggregateReport {
	report := domain.AggregateReport{
		Start:        start,
		End:          end,
		TotalCostUSD: decimal.Zero,
		ByModel:      make(map[string]domain.UsageBucket),
		ByAgent:      make(map[string]domain.UsageBucket),
		ByProvider:   make(map[string]domain.UsageBucket),
		Records:      make([]domain.UsageRecord, 0, len(records)),
	}
	for _, r := range records {
		report.TotalCalls++
		if r.Success {
			report.SuccessfulCalls++
		}
		report.TotalPromptTokens += r.PromptTokens
		report.TotalCompletionTokens += r.CompletionTokens
		report.TotalCostUSD = report.TotalCostUSD.Add(r.CostUSD)

		addTo(report.ByModel, r.Model, r)
		addTo(report.ByAgent, r.AgentID, r)
		addTo(report.ByProvider, r.Provider, r)
		report.Records = append(report.Records, r)
	}
	sort.SliceStable(report.Records, func(i, j int) bool {
		return report.Records[i].Timestamp.Before(report.Records[j].Timestamp)
	})
	return report
}

func addTo(buckets map[string]domain.UsageBucket, key string, r domain.UsageRecord) {
	if key == "" {
		key = "unknown"
	}
	b := buckets[key]
	b.Calls++
	b.PromptTokens += r.PromptTokens
	b.CompletionTokens += r.CompletionTokens
	b.CostUSD = b.CostUSD.Add(r.CostUSD)
	buckets[key] = b
}
