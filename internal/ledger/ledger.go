// Package ledger накапливает статистику вызовов LLM по (model, task, agent)
// и сам поднимает тревоги о падении success rate и росте латентности.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/ring"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

type Config struct {
	SuccessRateFloor float64
	LatencyCeilingMs float64
	// MinCalls: с какого числа вызовов по ключу проверяется success rate.
	MinCalls int64
	// LatencyWindow: сколько последних латентностей берется для p50.
	LatencyWindow int
}

func DefaultConfig() Config {
	return Config{
		SuccessRateFloor: 0.8,
		LatencyCeilingMs: 5000,
		MinCalls:         5,
		LatencyWindow:    10,
	}
}

type bucket struct {
	entry     domain.PerformanceLedgerEntry
	latencies *ring.Buffer[float64]
}

type Ledger struct {
	mu      sync.Mutex
	buckets map[domain.MetricKey]*bucket
	cfg     Config
	alerts  alerting.Evaluator
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New создает леджер. alerts может быть nil, тогда проверки порогов не выполняются.
func New(cfg Config, alerts alerting.Evaluator, logger *zap.Logger, opts ...Option) *Ledger {
	def := DefaultConfig()
	if cfg.SuccessRateFloor <= 0 {
		cfg.SuccessRateFloor = def.SuccessRateFloor
	}
	if cfg.LatencyCeilingMs <= 0 {
		cfg.LatencyCeilingMs = def.LatencyCeilingMs
	}
	if cfg.MinCalls <= 0 {
		cfg.MinCalls = def.MinCalls
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = def.LatencyWindow
	}

	l := &Ledger{
		buckets: make(map[domain.MetricKey]*bucket),
		cfg:     cfg,
		alerts:  alerts,
		logger:  logger.Named("ledger"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = telemetry.NewMetrics(nil)
	}
	return l
}

// Record никогда не возвращает ошибку: некорректные поля приводятся к нулю.
func (l *Ledger) Record(rec domain.LLMCallRecord) {
	rec = l.sanitize(rec)

	l.mu.Lock()
	b, ok := l.buckets[rec.Key]
	if !ok {
		b = &bucket{
			entry: domain.PerformanceLedgerEntry{
				Key:             rec.Key,
				ErrorTypeCounts: make(map[string]int64),
				TotalCostUSD:    decimal.Zero,
				FirstCallAt:     rec.Timestamp,
			},
			latencies: ring.New[float64](l.cfg.LatencyWindow),
		}
		l.buckets[rec.Key] = b
	}

	e := &b.entry
	e.TotalCalls++
	if rec.Success {
		e.SuccessfulCalls++
	} else {
		e.FailedCalls++
		errType := rec.ErrorType
		if errType == "" {
			errType = "unknown"
		}
		e.ErrorTypeCounts[errType]++
	}
	e.TotalLatencyMs += rec.LatencyMs
	// инкрементальное среднее
	e.AvgLatencyMs += (rec.LatencyMs - e.AvgLatencyMs) / float64(e.TotalCalls)
	e.TotalPromptTokens += rec.PromptTokens
	e.TotalCompletionTokens += rec.CompletionTokens
	e.TotalCostUSD = e.TotalCostUSD.Add(rec.CostUSD)
	if rec.Timestamp.Before(e.FirstCallAt) {
		e.FirstCallAt = rec.Timestamp
	}
	if rec.Timestamp.After(e.LastCallAt) {
		e.LastCallAt = rec.Timestamp
	}
	b.latencies.Push(rec.LatencyMs)

	total := e.TotalCalls
	rate := e.SuccessRate()
	p50 := median(b.latencies.Items())
	l.mu.Unlock()

	status := "success"
	if !rec.Success {
		status = "failure"
	}
	model := l.metrics.Models.Value(rec.Key.Model)
	l.metrics.LLMCalls.WithLabelValues(model, l.metrics.Tasks.Value(rec.Key.Task), l.metrics.Agents.Value(rec.Key.AgentID), status).Inc()
	l.metrics.LLMLatency.WithLabelValues(model).Observe(rec.LatencyMs / 1000)

	l.checkThresholds(rec.Key, total, rate, p50)
}

func (l *Ledger) sanitize(rec domain.LLMCallRecord) domain.LLMCallRecord {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.LatencyMs < 0 {
		l.logger.Warn("negative latency clamped to zero",
			zap.String("key", rec.Key.String()), zap.Float64("latency_ms", rec.LatencyMs))
		rec.LatencyMs = 0
	}
	if rec.PromptTokens < 0 {
		l.logger.Warn("negative prompt tokens clamped to zero",
			zap.String("key", rec.Key.String()), zap.Int64("prompt_tokens", rec.PromptTokens))
		rec.PromptTokens = 0
	}
	if rec.CompletionTokens < 0 {
		l.logger.Warn("negative completion tokens clamped to zero",
			zap.String("key", rec.Key.String()), zap.Int64("completion_tokens", rec.CompletionTokens))
		rec.CompletionTokens = 0
	}
	if rec.CostUSD.IsNegative() {
		l.logger.Warn("negative cost clamped to zero",
			zap.String("key", rec.Key.String()), zap.String("cost_usd", rec.CostUSD.String()))
		rec.CostUSD = decimal.Zero
	}
	return rec
}

func (l *Ledger) checkThresholds(key domain.MetricKey, total int64, rate, p50 float64) {
	if l.alerts == nil {
		return
	}

	if total >= l.cfg.MinCalls {
		l.alerts.Evaluate(alerting.Check{
			ID:        SuccessRateAlertID(key),
			Value:     rate,
			Threshold: l.cfg.SuccessRateFloor,
			Severity:  domain.SeverityHigh,
			Message:   fmt.Sprintf("low success rate for %s: %.1f%%", key, rate*100),
			Below:     true,
		})
	}

	l.alerts.Evaluate(alerting.Check{
		ID:        LatencyAlertID(key),
		Value:     p50,
		Threshold: l.cfg.LatencyCeilingMs,
		Severity:  domain.SeverityMedium,
		Message:   fmt.Sprintf("high median latency for %s: %.0fms", key, p50),
	})
}

func SuccessRateAlertID(key domain.MetricKey) string { return "llm_success_rate:" + key.String() }

func LatencyAlertID(key domain.MetricKey) string { return "llm_latency:" + key.String() }

// Snapshot возвращает глубокую копию агрегатов, ключ — "model:task:agent".
func (l *Ledger) Snapshot() map[string]domain.PerformanceLedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]domain.PerformanceLedgerEntry, len(l.buckets))
	for k, b := range l.buckets {
		out[k.String()] = b.entry.Clone()
	}
	return out
}

func (l *Ledger) Entry(key domain.MetricKey) (domain.PerformanceLedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return domain.PerformanceLedgerEntry{}, false
	}
	return b.entry.Clone(), true
}

// AgentSnapshot сворачивает агрегаты по агентам.
func (l *Ledger) AgentSnapshot() map[string]domain.AgentPerformance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]domain.AgentPerformance)
	models := make(map[string]map[string]struct{})
	for k, b := range l.buckets {
		ap := out[k.AgentID]
		ap.AgentID = k.AgentID
		totalLatency := ap.AvgLatencyMs * float64(ap.TotalCalls)
		ap.TotalCalls += b.entry.TotalCalls
		ap.SuccessfulCalls += b.entry.SuccessfulCalls
		ap.FailedCalls += b.entry.FailedCalls
		ap.TotalCostUSD = ap.TotalCostUSD.Add(b.entry.TotalCostUSD)
		if ap.TotalCalls > 0 {
			ap.AvgLatencyMs = (totalLatency + b.entry.TotalLatencyMs) / float64(ap.TotalCalls)
			ap.SuccessRate = float64(ap.SuccessfulCalls) / float64(ap.TotalCalls)
		}
		out[k.AgentID] = ap

		if models[k.AgentID] == nil {
			models[k.AgentID] = make(map[string]struct{})
		}
		models[k.AgentID][k.Model] = struct{}{}
	}

	for agent, set := range models {
		ap := out[agent]
		ap.Models = make([]string, 0, len(set))
		for m := range set {
			ap.Models = append(ap.Models, m)
		}
		sort.Strings(ap.Models)
		out[agent] = ap
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
