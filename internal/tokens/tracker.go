// Package tokens учитывает расход токенов и денег по (provider, model),
// ограничивает частоту оценок стоимости и следит за дневным бюджетом.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/fsutil"
	"github.com/xela07ax/mindx-monitoring/internal/pricing"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

const (
	BudgetWarningAlertID  = "daily_budget_warning"
	BudgetExceededAlertID = "daily_budget_exceeded"
)

type Config struct {
	CallsPerMinute   int
	DailyBudgetUSD   decimal.Decimal
	AlertUtilization float64
	// StatePath: файл с накопленными APITokenUsageEntry. Пустой путь отключает сохранение.
	StatePath string
}

// Journal: то, что трекеру нужно от usage.Store.
type Journal interface {
	Append(ctx context.Context, rec domain.UsageRecord) error
	QuerySince(ctx context.Context, since time.Time) (domain.AggregateReport, error)
}

// UsageReport: отчет агента о сделанном вызове.
// Ненулевой CostUSD имеет приоритет над стоимостью, посчитанной по тарифу.
type UsageReport struct {
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	Task             string          `json:"task"`
	AgentID          string          `json:"agent_id"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
	LatencyMs        float64         `json:"latency_ms"`
	Success          bool            `json:"success"`
	ErrorType        string          `json:"error_type,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*domain.APITokenUsageEntry

	cfg      Config
	calc     *pricing.Calculator
	journal  Journal
	alerts   alerting.Evaluator
	limiter  *rate.Limiter
	allowed  atomic.Int64
	rejected atomic.Int64

	// stateFrozen: файл состояния не прочитался, перезаписывать его нельзя
	stateFrozen bool

	// накопитель дневного расхода; засевается из журнала раз в локальные сутки
	dayMu    sync.Mutex
	dayStart time.Time
	daySpend decimal.Decimal
	daySeed  bool

	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithAlerts(a alerting.Evaluator) Option {
	return func(t *Tracker) { t.alerts = a }
}

// WithLimiter подменяет лимитер (тесты).
func WithLimiter(l *rate.Limiter) Option {
	return func(t *Tracker) { t.limiter = l }
}

func NewTracker(cfg Config, calc *pricing.Calculator, journal Journal, logger *zap.Logger, opts ...Option) *Tracker {
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = 60
	}
	if cfg.AlertUtilization <= 0 {
		cfg.AlertUtilization = 0.8
	}
	t := &Tracker{
		entries: make(map[string]*domain.APITokenUsageEntry),
		cfg:     cfg,
		calc:    calc,
		journal: journal,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMinute)), cfg.CallsPerMinute),
		logger:  logger.Named("tokens"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = telemetry.NewMetrics(nil)
	}
	t.loadState()
	return t
}

func entryKey(provider, model string) string { return provider + "/" + model }

// EstimateCost считает стоимость без учета. Исчерпанный лимит — сразу ErrRateLimited, без ожидания.
func (t *Tracker) EstimateCost(ctx context.Context, provider, model string, promptTokens, completionTokens int64) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if !t.limiter.Allow() {
		t.rejected.Add(1)
		t.metrics.RateLimited.Inc()
		// счетчик только у уже учтенных моделей: имя приходит от клиента
		t.mu.Lock()
		if e, ok := t.entries[entryKey(provider, model)]; ok {
			e.RateLimitHits++
		}
		t.mu.Unlock()
		t.logger.Warn("cost estimation rate limited",
			zap.String("provider", provider), zap.String("model", model))
		return decimal.Zero, domain.ErrRateLimited
	}
	t.allowed.Add(1)
	return t.calc.Cost(provider, model, promptTokens, completionTokens)
}

// TrackUsage проверяет отчет, обновляет накопители, сохраняет состояние,
// пишет строку в журнал и проверяет дневной бюджет. Возвращает учтенную стоимость.
// Ошибки возвращаются только для невалидного отчета и неизвестного тарифа.
func (t *Tracker) TrackUsage(ctx context.Context, r UsageReport) (decimal.Decimal, error) {
	if err := pricing.ValidateTokens(r.PromptTokens, r.CompletionTokens); err != nil {
		t.logger.Warn("rejected usage report", zap.String("model", r.Model), zap.Error(err))
		return decimal.Zero, err
	}
	if r.CostUSD.IsNegative() {
		err := &domain.InvalidCurrencyError{Field: "cost_usd", Value: r.CostUSD.String()}
		t.logger.Warn("rejected usage report", zap.String("model", r.Model), zap.Error(err))
		return decimal.Zero, err
	}

	cost := r.CostUSD
	if cost.IsZero() {
		computed, err := t.calc.Cost(r.Provider, r.Model, r.PromptTokens, r.CompletionTokens)
		if err != nil {
			return decimal.Zero, err
		}
		cost = computed
	}
	cost = pricing.RoundCost(cost)

	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}

	t.mu.Lock()
	e := t.entryLocked(r.Provider, r.Model)
	e.TotalPromptTokens += r.PromptTokens
	e.TotalCompletionTokens += r.CompletionTokens
	e.TotalCostUSD = e.TotalCostUSD.Add(cost)
	e.CallCount++
	e.LastUsedAt = r.Timestamp
	e.TokenEfficiency = e.Efficiency()
	t.persistLocked()
	t.mu.Unlock()

	costF, _ := cost.Float64()
	provider, model := t.metrics.Providers.Value(r.Provider), t.metrics.Models.Value(r.Model)
	t.metrics.CostUSD.WithLabelValues(provider, model).Add(costF)
	t.metrics.Tokens.WithLabelValues(provider, model, "prompt").Add(float64(r.PromptTokens))
	t.metrics.Tokens.WithLabelValues(provider, model, "completion").Add(float64(r.CompletionTokens))

	if t.journal != nil {
		rec := domain.UsageRecord{
			Timestamp:        r.Timestamp,
			Provider:         r.Provider,
			Model:            r.Model,
			Task:             r.Task,
			AgentID:          r.AgentID,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			CostUSD:          cost,
			LatencyMs:        r.LatencyMs,
			Success:          r.Success,
			ErrorType:        r.ErrorType,
		}
		spent, err := t.journalAndAccount(ctx, rec)
		if err != nil {
			t.logger.Error("daily spend unavailable", zap.Error(err))
		} else {
			t.checkBudget(spent)
		}
	}
	return cost, nil
}

// journalAndAccount пишет строку в журнал и добавляет ее стоимость к дневному накопителю.
// Сбой журнала не отменяет учет: пишем в лог и продолжаем.
func (t *Tracker) journalAndAccount(ctx context.Context, rec domain.UsageRecord) (decimal.Decimal, error) {
	t.dayMu.Lock()
	defer t.dayMu.Unlock()

	now := t.now()
	if err := t.seedDayLocked(ctx, now); err != nil {
		// накопитель не засеян: запись все равно уходит в журнал
		if jerr := t.journal.Append(ctx, rec); jerr != nil {
			t.logger.Error("failed to journal usage record",
				zap.String("provider", rec.Provider), zap.String("model", rec.Model), zap.Error(jerr))
		}
		return decimal.Zero, err
	}
	if err := t.journal.Append(ctx, rec); err != nil {
		t.logger.Error("failed to journal usage record",
			zap.String("provider", rec.Provider), zap.String("model", rec.Model), zap.Error(err))
		return t.daySpend, nil
	}
	if !rec.Timestamp.Before(t.dayStart) && !rec.Timestamp.After(now) {
		t.daySpend = t.daySpend.Add(rec.CostUSD)
	}
	return t.daySpend, nil
}

// seedDayLocked читает журнал с локальной полуночи при первом обращении и после смены суток.
func (t *Tracker) seedDayLocked(ctx context.Context, now time.Time) error {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if t.daySeed && t.dayStart.Equal(midnight) {
		return nil
	}
	report, err := t.journal.QuerySince(ctx, midnight)
	if err != nil {
		t.daySeed = false
		return fmt.Errorf("seed daily spend: %w", err)
	}
	t.dayStart = midnight
	t.daySpend = report.TotalCostUSD
	t.daySeed = true
	return nil
}

func (t *Tracker) entryLocked(provider, model string) *domain.APITokenUsageEntry {
	k := entryKey(provider, model)
	e, ok := t.entries[k]
	if !ok {
		e = &domain.APITokenUsageEntry{Provider: provider, Model: model, TotalCostUSD: decimal.Zero}
		t.entries[k] = e
	}
	return e
}

// DailySpend: расход с локальной полуночи. Журнал читается только при смене суток.
func (t *Tracker) DailySpend(ctx context.Context) (decimal.Decimal, error) {
	if t.journal == nil {
		return decimal.Zero, nil
	}
	t.dayMu.Lock()
	defer t.dayMu.Unlock()
	if err := t.seedDayLocked(ctx, t.now()); err != nil {
		return decimal.Zero, err
	}
	return t.daySpend, nil
}

func (t *Tracker) checkBudget(spent decimal.Decimal) {
	if t.alerts == nil || !t.cfg.DailyBudgetUSD.IsPositive() {
		return
	}
	utilization, _ := spent.Div(t.cfg.DailyBudgetUSD).Float64()
	budget := t.cfg.DailyBudgetUSD.StringFixed(2)

	t.alerts.Evaluate(alerting.Check{
		ID:        BudgetWarningAlertID,
		Value:     utilization,
		Threshold: t.cfg.AlertUtilization,
		Severity:  domain.SeverityHigh,
		Message:   fmt.Sprintf("daily LLM spend %s USD is %.0f%% of budget %s USD", spent.StringFixed(2), utilization*100, budget),
	})
	t.alerts.Evaluate(alerting.Check{
		ID:        BudgetExceededAlertID,
		Value:     utilization,
		Threshold: 1.0,
		Severity:  domain.SeverityCritical,
		Message:   fmt.Sprintf("daily LLM budget %s USD exceeded: %s USD spent", budget, spent.StringFixed(2)),
	})
}

// Snapshot возвращает копию накопителей, ключ — "provider/model".
func (t *Tracker) Snapshot() map[string]domain.APITokenUsageEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]domain.APITokenUsageEntry, len(t.entries))
	for k, e := range t.entries {
		c := *e
		c.TokenEfficiency = c.Efficiency()
		out[k] = c
	}
	return out
}

// Entries: то же, что Snapshot, но списком по ключу.
func (t *Tracker) Entries() []domain.APITokenUsageEntry {
	snap := t.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.APITokenUsageEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, snap[k])
	}
	return out
}

func (t *Tracker) RateLimiterStats() domain.RateLimiterStats {
	return domain.RateLimiterStats{
		CallsPerMinute: t.cfg.CallsPerMinute,
		Allowed:        t.allowed.Load(),
		Rejected:       t.rejected.Load(),
	}
}

func (t *Tracker) persistLocked() {
	if t.cfg.StatePath == "" || t.stateFrozen {
		return
	}
	state := make(map[string]domain.APITokenUsageEntry, len(t.entries))
	for k, e := range t.entries {
		state[k] = *e
	}
	if err := fsutil.WriteJSONAtomic(t.cfg.StatePath, state); err != nil {
		t.logger.Error("failed to persist token state", zap.String("path", t.cfg.StatePath), zap.Error(err))
	}
}

func (t *Tracker) loadState() {
	if t.cfg.StatePath == "" {
		return
	}
	data, err := os.ReadFile(t.cfg.StatePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.stateFrozen = true
			t.logger.Error("token state unreadable, persistence disabled", zap.String("path", t.cfg.StatePath), zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	var state map[string]domain.APITokenUsageEntry
	if err := json.Unmarshal(data, &state); err != nil {
		dst := fmt.Sprintf("%s.corrupt-%s", t.cfg.StatePath, t.now().UTC().Format("20060102T150405.000000000Z"))
		if rerr := os.Rename(t.cfg.StatePath, dst); rerr != nil {
			t.stateFrozen = true
			t.logger.Error("failed to quarantine corrupt token state, persistence disabled",
				zap.String("path", t.cfg.StatePath), zap.Error(rerr))
			return
		}
		t.logger.Error("token state corrupt, starting fresh",
			zap.String("path", t.cfg.StatePath), zap.String("quarantined", dst), zap.Error(err))
		return
	}
	for k, e := range state {
		e := e
		t.entries[k] = &e
	}
	t.logger.Info("token state restored", zap.Int("entries", len(state)))
}
