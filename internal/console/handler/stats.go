package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type UsageQuerier interface {
	Query(ctx context.Context, period domain.Period) (domain.AggregateReport, error)
}

type PerformanceReader interface {
	Snapshot() map[string]domain.PerformanceLedgerEntry
	AgentSnapshot() map[string]domain.AgentPerformance
}

type AlertReader interface {
	Active() []domain.Alert
	History() []domain.Alert
}

type TokenReader interface {
	Entries() []domain.APITokenUsageEntry
	RateLimiterStats() domain.RateLimiterStats
}

// StatsHandler отдает read-only срезы состояния мониторинга.
type StatsHandler struct {
	usage       UsageQuerier
	performance PerformanceReader
	alerts      AlertReader
	tokens      TokenReader
	logger      *zap.Logger
}

func NewStatsHandler(usage UsageQuerier, performance PerformanceReader, alerts AlertReader, tokens TokenReader, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{usage: usage, performance: performance, alerts: alerts, tokens: tokens, logger: logger}
}

// Usage: агрегат журнала за период.
// GET /v1/usage?period=day|week|month
func (h *StatsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodDay
	}
	switch period {
	case domain.PeriodDay, domain.PeriodWeek, domain.PeriodMonth:
	default:
		writeError(w, http.StatusBadRequest, "period must be one of day, week, month")
		return
	}

	report, err := h.usage.Query(r.Context(), period)
	if err != nil {
		h.logger.Error("usage query failed", zap.String("period", string(period)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query usage")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type PerformanceResponse struct {
	Models map[string]domain.PerformanceLedgerEntry `json:"llm_performance"`
	Agents map[string]domain.AgentPerformance       `json:"agent_performance"`
}

// GET /v1/performance
func (h *StatsHandler) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PerformanceResponse{
		Models: h.performance.Snapshot(),
		Agents: h.performance.AgentSnapshot(),
	})
}

type AlertsResponse struct {
	Active  []domain.Alert `json:"active"`
	History []domain.Alert `json:"history"`
}

// GET /v1/alerts
func (h *StatsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AlertsResponse{
		Active:  h.alerts.Active(),
		History: h.alerts.History(),
	})
}

type TokensResponse struct {
	Entries     []domain.APITokenUsageEntry `json:"entries"`
	RateLimiter domain.RateLimiterStats     `json:"rate_limiter"`
}

// GET /v1/tokens
func (h *StatsHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TokensResponse{
		Entries:     h.tokens.Entries(),
		RateLimiter: h.tokens.RateLimiterStats(),
	})
}
