package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/fsutil"
)

type HistorySource interface {
	History() []domain.MetricsSnapshot
}

type PerformanceSource interface {
	Snapshot() map[string]domain.PerformanceLedgerEntry
	AgentSnapshot() map[string]domain.AgentPerformance
}

type AlertSource interface {
	ActiveMap() map[string]domain.Alert
	History() []domain.Alert
}

type TokenSource interface {
	Snapshot() map[string]domain.APITokenUsageEntry
	RateLimiterStats() domain.RateLimiterStats
}

type UsageSource interface {
	QuerySince(ctx context.Context, since time.Time) (domain.AggregateReport, error)
}

// Report: документ экспорта.
type Report struct {
	ExportTimestamp    time.Time                                `json:"export_timestamp"`
	ResourceHistory    []domain.MetricsSnapshot                 `json:"resource_history"`
	LLMPerformance     map[string]domain.PerformanceLedgerEntry `json:"llm_performance"`
	AgentPerformance   map[string]domain.AgentPerformance       `json:"agent_performance"`
	AlertHistory       []domain.Alert                           `json:"alert_history"`
	ActiveAlerts       map[string]domain.Alert                  `json:"active_alerts"`
	APITokenMetrics    map[string]domain.APITokenUsageEntry     `json:"api_token_metrics"`
	RateLimiterMetrics domain.RateLimiterStats                  `json:"rate_limiter_metrics"`
	UsageLast24h       *domain.AggregateReport                  `json:"usage_last_24h"`
}

// Exporter пишет отчет о текущем состоянии. Читает только копии,
// поэтому безопасен параллельно с циклом.
type Exporter struct {
	dir     string
	history HistorySource
	ledger  PerformanceSource
	alerts  AlertSource
	tokens  TokenSource
	usage   UsageSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewExporter: любой источник, кроме history, может быть nil — соответствующий раздел будет пустым.
func NewExporter(dir string, history HistorySource, ledger PerformanceSource, alerts AlertSource,
	tokens TokenSource, usage UsageSource, logger *zap.Logger) *Exporter {
	if dir == "" {
		dir = "."
	}
	return &Exporter{
		dir:     dir,
		history: history,
		ledger:  ledger,
		alerts:  alerts,
		tokens:  tokens,
		usage:   usage,
		logger:  logger.Named("exporter"),
		now:     time.Now,
	}
}

// Build собирает документ без записи на диск.
func (e *Exporter) Build(ctx context.Context) Report {
	now := e.now()
	r := Report{
		ExportTimestamp:  now,
		ResourceHistory:  []domain.MetricsSnapshot{},
		LLMPerformance:   map[string]domain.PerformanceLedgerEntry{},
		AgentPerformance: map[string]domain.AgentPerformance{},
		AlertHistory:     []domain.Alert{},
		ActiveAlerts:     map[string]domain.Alert{},
		APITokenMetrics:  map[string]domain.APITokenUsageEntry{},
	}

	if e.history != nil {
		r.ResourceHistory = e.history.History()
	}
	if e.ledger != nil {
		r.LLMPerformance = e.ledger.Snapshot()
		r.AgentPerformance = e.ledger.AgentSnapshot()
	}
	if e.alerts != nil {
		r.ActiveAlerts = e.alerts.ActiveMap()
		r.AlertHistory = e.alerts.History()
	}
	if e.tokens != nil {
		r.APITokenMetrics = e.tokens.Snapshot()
		r.RateLimiterMetrics = e.tokens.RateLimiterStats()
	}
	if e.usage != nil {
		agg, err := e.usage.QuerySince(ctx, now.Add(-24*time.Hour))
		if err != nil {
			e.logger.Warn("usage aggregate unavailable for export", zap.Error(err))
		} else {
			r.UsageLast24h = &agg
		}
	}
	return r
}

// Export пишет отчет атомарно. Пустой path — <dir>/monitoring_report_<UTC>.json.
func (e *Exporter) Export(ctx context.Context, path string) (string, error) {
	report := e.Build(ctx)
	if path == "" {
		path = filepath.Join(e.dir,
			fmt.Sprintf("monitoring_report_%s.json", report.ExportTimestamp.UTC().Format("20060102_150405")))
	}
	if err := fsutil.WriteJSONAtomic(path, report); err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	e.logger.Info("report exported", zap.String("path", path),
		zap.Int("snapshots", len(report.ResourceHistory)), zap.Int("active_alerts", len(report.ActiveAlerts)))
	return path, nil
}
