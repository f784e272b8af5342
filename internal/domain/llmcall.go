package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricKey: корзина агрегации вызовов LLM.
type MetricKey struct {
	Model   string `json:"model"`
	Task    string `json:"task"`
	AgentID string `json:"agent_id"`
}

func (k MetricKey) String() string {
	return k.Model + ":" + k.Task + ":" + k.AgentID
}

// LLMCallRecord: один отчет о вызове модели.
type LLMCallRecord struct {
	Key              MetricKey       `json:"metric_key"`
	LatencyMs        float64         `json:"latency_ms"`
	Success          bool            `json:"success"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
	ErrorType        string          `json:"error_type,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// PerformanceLedgerEntry: агрегат по одному MetricKey.
// Инвариант: SuccessfulCalls + FailedCalls == TotalCalls.
type PerformanceLedgerEntry struct {
	Key                   MetricKey        `json:"metric_key"`
	TotalCalls            int64            `json:"total_calls"`
	SuccessfulCalls       int64            `json:"successful_calls"`
	FailedCalls           int64            `json:"failed_calls"`
	TotalLatencyMs        float64          `json:"total_latency_ms"`
	AvgLatencyMs          float64          `json:"avg_latency_ms"`
	ErrorTypeCounts       map[string]int64 `json:"error_type_counts"`
	TotalPromptTokens     int64            `json:"total_prompt_tokens"`
	TotalCompletionTokens int64            `json:"total_completion_tokens"`
	TotalCostUSD          decimal.Decimal  `json:"total_cost_usd"`
	FirstCallAt           time.Time        `json:"first_call_at"`
	LastCallAt            time.Time        `json:"last_call_at"`
}

// SuccessRate возвращает долю успешных вызовов (0 при отсутствии вызовов).
func (e PerformanceLedgerEntry) SuccessRate() float64 {
	if e.TotalCalls == 0 {
		return 0
	}
	return float64(e.SuccessfulCalls) / float64(e.TotalCalls)
}

func (e PerformanceLedgerEntry) Clone() PerformanceLedgerEntry {
	out := e
	out.ErrorTypeCounts = make(map[string]int64, len(e.ErrorTypeCounts))
	for k, v := range e.ErrorTypeCounts {
		out.ErrorTypeCounts[k] = v
	}
	return out
}

// AgentPerformance: сводка по агенту поверх всех моделей и задач.
type AgentPerformance struct {
	AgentID         string          `json:"agent_id"`
	TotalCalls      int64           `json:"total_calls"`
	SuccessfulCalls int64           `json:"successful_calls"`
	FailedCalls     int64           `json:"failed_calls"`
	SuccessRate     float64         `json:"success_rate"`
	AvgLatencyMs    float64         `json:"avg_latency_ms"`
	TotalCostUSD    decimal.Decimal `json:"total_cost_usd"`
	Models          []string        `json:"models"`
}
