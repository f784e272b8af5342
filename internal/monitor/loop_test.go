package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/alerting"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type stubSampler struct {
	cpu   atomic.Int64
	calls atomic.Int64
	block chan struct{} // если не nil, Sample ждет его закрытия, игнорируя ctx
}

func (s *stubSampler) Sample(ctx context.Context) domain.MetricsSnapshot {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	return domain.MetricsSnapshot{
		Timestamp:  time.Now(),
		CPUPercent: float64(s.cpu.Load()),
		DiskUsage:  map[string]float64{"/": 10},
	}
}

type memoryRecorder struct {
	mu   sync.Mutex
	recs []domain.MemoryRecord
}

func (m *memoryRecorder) SaveTimestampedMemory(_ context.Context, rec domain.MemoryRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return "id", nil
}

func (m *memoryRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

type countingReporter struct {
	calls atomic.Int64
}

func (r *countingReporter) Export(context.Context, string) (string, error) {
	r.calls.Add(1)
	return "report.json", nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.StopTimeout = 200 * time.Millisecond
	cfg.HistoryCapacity = 3
	cfg.SummaryEvery = 2
	cfg.ExportEvery = 3
	return cfg
}

func newTestLoop(t *testing.T, s SnapshotSource, opts ...Option) (*Loop, *alerting.Registry) {
	t.Helper()
	reg := alerting.NewRegistry(time.Minute, 10, zap.NewNop())
	return NewLoop(testConfig(), s, reg, zap.NewNop(), opts...), reg
}

func TestTickPushesHistoryAndEvaluatesAlerts(t *testing.T) {
	s := &stubSampler{}
	s.cpu.Store(97)
	l, reg := newTestLoop(t, s)

	l.Tick(context.Background())

	require.Len(t, l.History(), 1)
	assert.True(t, reg.IsActive("cpu_warning"))
	assert.True(t, reg.IsActive("cpu_critical"))

	s.cpu.Store(10)
	l.Tick(context.Background())
	assert.False(t, reg.IsActive("cpu_critical"))
	assert.Len(t, reg.History(), 2)
}

func TestHistoryIsBoundedAndCopied(t *testing.T) {
	s := &stubSampler{}
	l, _ := newTestLoop(t, s)

	for i := 0; i < 5; i++ {
		s.cpu.Store(int64(i))
		l.Tick(context.Background())
	}

	h := l.History()
	require.Len(t, h, 3)
	assert.Equal(t, 2.0, h[0].CPUPercent)
	assert.Equal(t, 4.0, h[2].CPUPercent)

	h[2].DiskUsage["/"] = 99
	latest, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, 10.0, latest.DiskUsage["/"])
}

func TestTickSummaryAndExportCadence(t *testing.T) {
	mem := &memoryRecorder{}
	rep := &countingReporter{}
	l, _ := newTestLoop(t, &stubSampler{}, WithMemory(mem))
	l.AttachReporter(rep)

	for i := 0; i < 6; i++ {
		l.Tick(context.Background())
	}

	assert.Equal(t, 3, mem.len())
	assert.Equal(t, int64(2), rep.calls.Load())
	assert.Equal(t, "system_state", mem.recs[0].Type)
	assert.Equal(t, "monitoring_agent", mem.recs[0].AgentID)
}

func TestStartStopStateMachine(t *testing.T) {
	s := &stubSampler{}
	l, _ := newTestLoop(t, s)
	ctx := context.Background()

	assert.Equal(t, StateStopped, l.State())
	l.Stop(ctx) // no-op

	require.NoError(t, l.Start(ctx))
	assert.True(t, l.Running())
	require.NoError(t, l.Start(ctx)) // no-op, второй горутины нет

	assert.Eventually(t, func() bool { return len(l.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), s.calls.Load())

	l.Stop(ctx)
	assert.Equal(t, StateStopped, l.State())

	require.NoError(t, l.Start(ctx))
	assert.Eventually(t, func() bool { return s.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	l.Stop(ctx)
	assert.False(t, l.Running())
}

func TestStopTimesOutOnStuckTick(t *testing.T) {
	s := &stubSampler{block: make(chan struct{})}
	defer close(s.block)
	l, _ := newTestLoop(t, s)

	require.NoError(t, l.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	l.Stop(context.Background())
	assert.Equal(t, StateStopped, l.State())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestParentCancelStopsLoop(t *testing.T) {
	l, _ := newTestLoop(t, &stubSampler{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Start(ctx))
	require.True(t, l.Running())
	cancel()

	assert.Eventually(t, func() bool { return !l.Running() }, time.Second, 5*time.Millisecond)
}

func TestStartRefusedWhileAbandonedLoopRuns(t *testing.T) {
	s := &stubSampler{block: make(chan struct{})}
	l, _ := newTestLoop(t, s)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	assert.Eventually(t, func() bool { return s.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	l.Stop(ctx)
	require.Equal(t, StateStopped, l.State())

	// старая горутина все еще висит в Sample
	assert.ErrorIs(t, l.Start(ctx), ErrPreviousLoopRunning)
	assert.False(t, l.Running())
	assert.Equal(t, int64(1), s.calls.Load())

	close(s.block)
	assert.Eventually(t, func() bool { return l.Start(ctx) == nil }, time.Second, 5*time.Millisecond)
	assert.True(t, l.Running())
	assert.Eventually(t, func() bool { return s.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	l.Stop(ctx)
}
