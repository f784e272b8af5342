package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord: строка журнала использования (форма LLMCallRecord + провайдер).
type UsageRecord struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	Task             string          `json:"task,omitempty"`
	AgentID          string          `json:"agent_id"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
	LatencyMs        float64         `json:"latency_ms"`
	Success          bool            `json:"success"`
	ErrorType        string          `json:"error_type,omitempty"`
}

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// UsageBucket: сумма по одному измерению отчета (модель, агент, провайдер).
type UsageBucket struct {
	Calls            int64           `json:"calls"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
}

// AggregateReport: агрегат журнала за период.
type AggregateReport struct {
	Period                Period                 `json:"period"`
	Start                 time.Time              `json:"start"`
	End                   time.Time              `json:"end"`
	TotalCalls            int64                  `json:"total_calls"`
	SuccessfulCalls       int64                  `json:"successful_calls"`
	TotalPromptTokens     int64                  `json:"total_prompt_tokens"`
	TotalCompletionTokens int64                  `json:"total_completion_tokens"`
	TotalCostUSD          decimal.Decimal        `json:"total_cost_usd"`
	ByModel               map[string]UsageBucket `json:"by_model"`
	ByAgent               map[string]UsageBucket `json:"by_agent"`
	ByProvider            map[string]UsageBucket `json:"by_provider"`
	Records               []UsageRecord          `json:"records"`
}

// APITokenUsageEntry: накопленное использование API по (provider, model).
type APITokenUsageEntry struct {
	Provider              string          `json:"provider"`
	Model                 string          `json:"model"`
	TotalPromptTokens     int64           `json:"total_prompt_tokens"`
	TotalCompletionTokens int64           `json:"total_completion_tokens"`
	TotalCostUSD          decimal.Decimal `json:"total_cost_usd"`
	CallCount             int64           `json:"call_count"`
	RateLimitHits         int64           `json:"rate_limit_hits"`
	TokenEfficiency       float64         `json:"token_efficiency"`
	LastUsedAt            time.Time       `json:"last_used_at"`
}

// Efficiency = completion / prompt, 0 если prompt == 0.
func (e APITokenUsageEntry) Efficiency() float64 {
	if e.TotalPromptTokens == 0 {
		return 0
	}
	return float64(e.TotalCompletionTokens) / float64(e.TotalPromptTokens)
}

// RateLimiterStats: счетчики лимитера оценки стоимости.
type RateLimiterStats struct {
	CallsPerMinute int   `json:"calls_per_minute"`
	Allowed        int64 `json:"allowed"`
	Rejected       int64 `json:"rejected"`
}
