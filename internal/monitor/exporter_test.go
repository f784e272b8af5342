package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/ledger"
	"github.com/xela07ax/mindx-monitoring/internal/pricing"
	"github.com/xela07ax/mindx-monitoring/internal/tokens"
	"github.com/xela07ax/mindx-monitoring/internal/usage"
)

type pipeline struct {
	loop     *Loop
	registry *alerting.Registry
	ledger   *ledger.Ledger
	tracker  *tokens.Tracker
	store    *usage.Store
	exporter *Exporter
	calls    *CallLogger
	dir      string
}

func newPipeline(t *testing.T) pipeline {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	reg := alerting.NewRegistry(time.Minute, 50, logger)
	store := usage.NewStore(filepath.Join(dir, "usage.json"), 1000, logger)
	calc := pricing.NewCalculator(pricing.DefaultPriceTable(), logger)
	tracker := tokens.NewTracker(tokens.Config{StatePath: filepath.Join(dir, "tokens.json")}, calc, store, logger, tokens.WithAlerts(reg))
	led := ledger.New(ledger.DefaultConfig(), reg, logger)
	loop := NewLoop(testConfig(), &stubSampler{}, reg, logger)
	exp := NewExporter(dir, loop, led, reg, tracker, store, logger)
	loop.AttachReporter(exp)

	return pipeline{
		loop: loop, registry: reg, ledger: led, tracker: tracker, store: store,
		exporter: exp, calls: NewCallLogger(tracker, led), dir: dir,
	}
}

func TestExportDocument(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	p.loop.Tick(ctx)
	_, err := p.calls.LogCall(ctx, tokens.UsageReport{
		Provider: "openai", Model: "gpt-4o", Task: "planning", AgentID: "bdi_agent",
		PromptTokens: 150, CompletionTokens: 200, LatencyMs: 900, Success: true,
	})
	require.NoError(t, err)
	p.registry.Evaluate(alerting.Check{ID: "cpu_warning", Value: 91, Threshold: 80, Severity: domain.SeverityHigh, Message: "High CPU usage"})

	path, err := p.exporter.Export(ctx, filepath.Join(p.dir, "out", "report.json"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{
		"export_timestamp", "resource_history", "llm_performance", "agent_performance",
		"alert_history", "active_alerts", "api_token_metrics", "rate_limiter_metrics", "usage_last_24h",
	} {
		assert.Contains(t, doc, key)
	}

	// active_alerts: объект alert-id -> тревога, alert_history: массив
	var active map[string]domain.Alert
	require.NoError(t, json.Unmarshal(doc["active_alerts"], &active))
	require.Contains(t, active, "cpu_warning")
	assert.Equal(t, domain.SeverityHigh, active["cpu_warning"].Severity)
	var history []domain.Alert
	require.NoError(t, json.Unmarshal(doc["alert_history"], &history))

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Len(t, report.ResourceHistory, 1)
	entry := report.LLMPerformance["gpt-4o:planning:bdi_agent"]
	assert.Equal(t, int64(1), entry.TotalCalls)
	assert.True(t, entry.TotalCostUSD.Equal(decimal.RequireFromString("0.002375")))
	assert.Equal(t, int64(1), report.AgentPerformance["bdi_agent"].TotalCalls)
	assert.Equal(t, int64(1), report.APITokenMetrics["openai/gpt-4o"].CallCount)
	require.NotNil(t, report.UsageLast24h)
	assert.Equal(t, int64(1), report.UsageLast24h.TotalCalls)
}

func TestExportDefaultPath(t *testing.T) {
	p := newPipeline(t)
	p.exporter.now = func() time.Time { return time.Date(2026, 10, 17, 8, 30, 15, 0, time.UTC) }

	path, err := p.exporter.Export(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.dir, "monitoring_report_20261017_083015.json"), path)
	assert.True(t, strings.HasSuffix(path, ".json"))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestExportWithoutOptionalSources(t *testing.T) {
	loop := NewLoop(testConfig(), &stubSampler{}, alerting.NewRegistry(time.Minute, 5, zap.NewNop()), zap.NewNop())
	exp := NewExporter(t.TempDir(), loop, nil, nil, nil, nil, zap.NewNop())

	report := exp.Build(context.Background())
	assert.NotNil(t, report.LLMPerformance)
	assert.Empty(t, report.ActiveAlerts)
	assert.Nil(t, report.UsageLast24h)
}

func TestExportConcurrentWithTicks(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			p.loop.Tick(ctx)
		}
	}()
	for i := 0; i < 5; i++ {
		_, err := p.exporter.Export(ctx, filepath.Join(p.dir, "concurrent.json"))
		require.NoError(t, err)
	}
	<-done
}

func TestLogCallValidationRecordsNothing(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	_, err := p.calls.LogCall(ctx, tokens.UsageReport{Provider: "openai", Model: "gpt-4o", PromptTokens: -3})
	require.Error(t, err)

	assert.Empty(t, p.ledger.Snapshot())
	records, err := p.store.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLogCallFailureDefaultsErrorType(t *testing.T) {
	p := newPipeline(t)

	rec, err := p.calls.LogCall(context.Background(), tokens.UsageReport{Provider: "openai", Model: "gpt-4o", Task: "t", AgentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", rec.ErrorType)

	e, ok := p.ledger.Entry(domain.MetricKey{Model: "gpt-4o", Task: "t", AgentID: "a"})
	require.True(t, ok)
	assert.Equal(t, int64(1), e.FailedCalls)
}
