package monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/tokens"
)

type UsageTracker interface {
	TrackUsage(ctx context.Context, r tokens.UsageReport) (decimal.Decimal, error)
}

type CallRecorder interface {
	Record(rec domain.LLMCallRecord)
}

// CallLogger: "запиши этот вызов LLM": цена, журнал, токены, леджер.
type CallLogger struct {
	tracker UsageTracker
	ledger  CallRecorder
	now     func() time.Time
}

func NewCallLogger(tracker UsageTracker, ledger CallRecorder) *CallLogger {
	return &CallLogger{tracker: tracker, ledger: ledger, now: time.Now}
}

// LogCall возвращает ошибку валидации или отсутствия тарифа до того, как что-либо записано.
func (c *CallLogger) LogCall(ctx context.Context, r tokens.UsageReport) (domain.LLMCallRecord, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}
	if !r.Success && r.ErrorType == "" {
		r.ErrorType = "unknown"
	}

	cost, err := c.tracker.TrackUsage(ctx, r)
	if err != nil {
		return domain.LLMCallRecord{}, err
	}

	rec := domain.LLMCallRecord{
		Key:              domain.MetricKey{Model: r.Model, Task: r.Task, AgentID: r.AgentID},
		LatencyMs:        r.LatencyMs,
		Success:          r.Success,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		CostUSD:          cost,
		ErrorType:        r.ErrorType,
		Timestamp:        r.Timestamp,
	}
	c.ledger.Record(rec)
	return rec, nil
}
