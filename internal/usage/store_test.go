package usage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

func newTestStore(t *testing.T, maxEntries int, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.json")
	return NewStore(path, maxEntries, zap.NewNop(), opts...), path
}

func sampleRecord(ts time.Time) domain.UsageRecord {
	return domain.UsageRecord{
		ID:               "rec-1",
		Timestamp:        ts,
		Provider:         "openai",
		Model:            "gpt-4o",
		Task:             "planning",
		AgentID:          "bdi_agent",
		PromptTokens:     150,
		CompletionTokens: 200,
		CostUSD:          decimal.RequireFromString("0.002375"),
		LatencyMs:        1234.5,
		Success:          false,
		ErrorType:        "timeout",
	}
}

func TestAppendQueryDayRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 100)

	want := sampleRecord(time.Now().Truncate(time.Millisecond))
	require.NoError(t, s.Append(ctx, want))

	report, err := s.Query(ctx, domain.PeriodDay)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)

	got := report.Records[0]
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, want.Provider, got.Provider)
	assert.Equal(t, want.Model, got.Model)
	assert.Equal(t, want.Task, got.Task)
	assert.Equal(t, want.AgentID, got.AgentID)
	assert.Equal(t, want.PromptTokens, got.PromptTokens)
	assert.Equal(t, want.CompletionTokens, got.CompletionTokens)
	assert.True(t, want.CostUSD.Equal(got.CostUSD))
	assert.Equal(t, want.LatencyMs, got.LatencyMs)
	assert.Equal(t, want.Success, got.Success)
	assert.Equal(t, want.ErrorType, got.ErrorType)

	assert.Equal(t, domain.PeriodDay, report.Period)
	assert.Equal(t, int64(1), report.TotalCalls)
	assert.Equal(t, int64(0), report.SuccessfulCalls)
	assert.True(t, report.TotalCostUSD.Equal(decimal.RequireFromString("0.002375")))
	assert.Equal(t, int64(1), report.ByModel["gpt-4o"].Calls)
	assert.Equal(t, int64(150), report.ByAgent["bdi_agent"].PromptTokens)
	assert.Equal(t, int64(200), report.ByProvider["openai"].CompletionTokens)
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.Local)
	s, _ := newTestStore(t, 100, WithClock(func() time.Time { return now }))

	require.NoError(t, s.Append(context.Background(), domain.UsageRecord{Model: "m"}))

	records, err := s.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
	assert.True(t, records[0].Timestamp.Equal(now))
}

func TestRotationKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	s, _ := newTestStore(t, 10, WithMetrics(metrics))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 11; i++ {
		rec := sampleRecord(base.Add(time.Duration(i) * time.Second))
		rec.ID = string(rune('a' + i))
		require.NoError(t, s.Append(ctx, rec))
	}

	records, err := s.Records(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(records), 10)
	assert.Len(t, records, 8)
	assert.Equal(t, "k", records[len(records)-1].ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JournalRotations))
}

func TestCorruptJournalIsQuarantined(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	s, path := newTestStore(t, 100, WithMetrics(metrics))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	require.NoError(t, s.Append(ctx, sampleRecord(time.Now())))

	records, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JournalCorruptions))
}

func TestUnreadableJournalIsLeftUntouched(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	s, path := newTestStore(t, 100, WithMetrics(metrics))

	// каталог на месте журнала: ReadFile вернет EISDIR
	require.NoError(t, os.Mkdir(path, 0o755))
	keep := filepath.Join(path, "history.json")
	require.NoError(t, os.WriteFile(keep, []byte("[]"), 0o644))

	err := s.Append(ctx, sampleRecord(time.Now()))
	require.Error(t, err)
	assert.ErrorContains(t, err, "read usage journal")

	_, err = s.Records(ctx)
	require.Error(t, err)
	_, err = s.Query(ctx, domain.PeriodDay)
	require.Error(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(keep)
	assert.NoError(t, err)

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.JournalCorruptions))
}

func TestJournalIsValidJSONArray(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t, 100)
	require.NoError(t, s.Append(ctx, sampleRecord(time.Now())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, "0.002375", raw[0]["cost_usd"])
}

func TestQuerySinceFiltersByTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, 100, WithClock(func() time.Time { return now }))

	old := sampleRecord(now.Add(-48 * time.Hour))
	old.ID = "old"
	fresh := sampleRecord(now.Add(-time.Hour))
	fresh.ID = "fresh"
	require.NoError(t, s.Append(ctx, old))
	require.NoError(t, s.Append(ctx, fresh))

	report, err := s.QuerySince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "fresh", report.Records[0].ID)
}

func TestQueryUnknownPeriod(t *testing.T) {
	s, _ := newTestStore(t, 100)
	_, err := s.Query(context.Background(), domain.Period("year"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "year"))
}

func TestAppendHonoursCancelledContext(t *testing.T) {
	s, path := newTestStore(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, sampleRecord(time.Now()))
	assert.True(t, errors.Is(err, context.Canceled))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPeriodStart(t *testing.T) {
	// пятница
	now := time.Date(2026, 10, 16, 15, 4, 5, 0, time.UTC)

	day, err := PeriodStart(domain.PeriodDay, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), day)

	week, err := PeriodStart(domain.PeriodWeek, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), week)
	assert.Equal(t, time.Monday, week.Weekday())

	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	week, err = PeriodStart(domain.PeriodWeek, sunday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), week)

	month, err := PeriodStart(domain.PeriodMonth, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), month)
}

type sinkFunc func(domain.UsageRecord)

func (f sinkFunc) Enqueue(rec domain.UsageRecord) { f(rec) }

func TestAppendForwardsToSink(t *testing.T) {
	var got []domain.UsageRecord
	s, _ := newTestStore(t, 100, WithSink(sinkFunc(func(r domain.UsageRecord) { got = append(got, r) })))

	require.NoError(t, s.Append(context.Background(), sampleRecord(time.Now())))
	require.Len(t, got, 1)
	assert.Equal(t, "rec-1", got[0].ID)
}
