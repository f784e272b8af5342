package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func cpuCheck(v float64) Check {
	return Check{ID: "cpu_warning", Value: v, Threshold: 80, Severity: domain.SeverityHigh, Message: "High CPU"}
}

func TestEvaluateNoAlertWhenBelowThreshold(t *testing.T) {
	r := NewRegistry(time.Minute, 10, zap.NewNop())
	assert.Nil(t, r.Evaluate(cpuCheck(50)))
	assert.Empty(t, r.Active())
}

func TestEvaluateThresholdIsStrictlyGreater(t *testing.T) {
	r := NewRegistry(time.Minute, 10, zap.NewNop())
	assert.Nil(t, r.Evaluate(cpuCheck(80)))
	ev := r.Evaluate(cpuCheck(80.01))
	require.NotNil(t, ev)
	assert.Equal(t, domain.AlertTriggered, ev.Kind)
}

func TestEvaluateTriggerSuppressResolveSequence(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(5*time.Minute, 10, zap.NewNop(), WithClock(clock.Now))

	values := []float64{85, 90, 91, 88, 40}
	var kinds []domain.AlertEventKind
	for _, v := range values {
		if ev := r.Evaluate(cpuCheck(v)); ev != nil {
			kinds = append(kinds, ev.Kind)
		}
		clock.Advance(30 * time.Second)
	}

	assert.Equal(t, []domain.AlertEventKind{
		domain.AlertTriggered,
		domain.AlertSuppressed,
		domain.AlertSuppressed,
		domain.AlertSuppressed,
		domain.AlertResolved,
	}, kinds)
	assert.Empty(t, r.Active())

	history := r.History()
	require.Len(t, history, 1)
	assert.Equal(t, "cpu_warning", history[0].ID)
	require.NotNil(t, history[0].ResolvedAt)
	assert.Equal(t, 40.0, history[0].Value)
}

func TestEvaluateRetriggersAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(time.Minute, 10, zap.NewNop(), WithClock(clock.Now))

	first := r.Evaluate(cpuCheck(90))
	require.NotNil(t, first)
	firstAt := first.Alert.FirstTriggeredAt

	clock.Advance(59 * time.Second)
	assert.Equal(t, domain.AlertSuppressed, r.Evaluate(cpuCheck(90)).Kind)

	clock.Advance(time.Second)
	again := r.Evaluate(cpuCheck(92))
	require.NotNil(t, again)
	assert.Equal(t, domain.AlertTriggered, again.Kind)
	assert.Equal(t, firstAt, again.Alert.FirstTriggeredAt)
	assert.Equal(t, clock.Now(), again.Alert.LastTriggeredAt)
	assert.Equal(t, 92.0, again.Alert.Value)
}

func TestEvaluateAtMostOneTriggerPerCooldownWindow(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(time.Minute, 10, zap.NewNop(), WithClock(clock.Now))

	triggered := 0
	for i := 0; i < 120; i++ { // 10 минут с шагом 5 секунд
		if ev := r.Evaluate(cpuCheck(99)); ev != nil && ev.Kind == domain.AlertTriggered {
			triggered++
		}
		clock.Advance(5 * time.Second)
	}
	assert.Equal(t, 10, triggered)
}

func TestEvaluateBelowFloor(t *testing.T) {
	r := NewRegistry(time.Minute, 10, zap.NewNop())
	c := Check{ID: "success_rate", Value: 0.9, Threshold: 0.8, Severity: domain.SeverityHigh, Below: true}
	assert.Nil(t, r.Evaluate(c))

	c.Value = 0.7
	ev := r.Evaluate(c)
	require.NotNil(t, ev)
	assert.Equal(t, domain.AlertTriggered, ev.Kind)

	c.Value = 0.85
	ev = r.Evaluate(c)
	require.NotNil(t, ev)
	assert.Equal(t, domain.AlertResolved, ev.Kind)
}

func TestHistoryIsCapacityBounded(t *testing.T) {
	r := NewRegistry(0, 3, zap.NewNop())
	for i := 0; i < 5; i++ {
		r.Evaluate(cpuCheck(90))
		r.Evaluate(cpuCheck(10))
	}
	assert.Len(t, r.History(), 3)
}

func TestNotifierReceivesTriggeredAndResolvedOnly(t *testing.T) {
	var mu sync.Mutex
	var got []domain.AlertEventKind
	n := NotifierFunc(func(_ context.Context, ev domain.AlertEvent) error {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
		return nil
	})

	r := NewRegistry(time.Hour, 10, zap.NewNop(), WithNotifier(n))
	r.Evaluate(cpuCheck(90))
	r.Evaluate(cpuCheck(90)) // suppressed
	r.Evaluate(cpuCheck(10))
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.AlertEventKind{domain.AlertTriggered, domain.AlertResolved}, got)
}

func TestSlowNotifierDoesNotBlockEvaluate(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	n := NotifierFunc(func(ctx context.Context, ev domain.AlertEvent) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		mu.Lock()
		got = append(got, string(ev.Kind)+":"+ev.Alert.ID)
		mu.Unlock()
		return nil
	})
	r := NewRegistry(time.Hour, 10, zap.NewNop(), WithNotifier(n), WithNotifyTimeout(10*time.Second))

	start := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		ev := r.Evaluate(Check{ID: id, Value: 90, Threshold: 80, Severity: domain.SeverityHigh, Message: id})
		require.NotNil(t, ev)
	}
	ev := r.Evaluate(Check{ID: "a", Value: 10, Threshold: 80, Severity: domain.SeverityHigh, Message: "a"})
	require.NotNil(t, ev)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, r.ActiveMap(), 2)

	close(release)
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"TRIGGERED:a", "TRIGGERED:b", "TRIGGERED:c", "RESOLVED:a"}, got)
}

func TestNotifyQueueOverflowDropsEvents(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	n := NotifierFunc(func(ctx context.Context, _ domain.AlertEvent) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	r := NewRegistry(time.Hour, 10, zap.NewNop(), WithNotifier(n), WithQueueSize(1), WithNotifyTimeout(10*time.Second))

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NotNil(t, r.Evaluate(Check{ID: id, Value: 90, Threshold: 80, Severity: domain.SeverityHigh, Message: id}))
	}
	// состояние реестра не зависит от очереди
	assert.Len(t, r.ActiveMap(), 4)

	close(release)
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, delivered, 1)
	assert.LessOrEqual(t, delivered, 2)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute, 10, zap.NewNop(), WithNotifier(NotifierFunc(func(context.Context, domain.AlertEvent) error { return nil })))
	r.Close()
	r.Close()
	// после Close оценка продолжает работать, уведомления не отправляются
	assert.NotNil(t, r.Evaluate(cpuCheck(90)))

	plain := NewRegistry(time.Minute, 10, zap.NewNop())
	plain.Close()
}

func TestActiveMapIsCopy(t *testing.T) {
	r := NewRegistry(time.Minute, 10, zap.NewNop())
	r.Evaluate(cpuCheck(90))

	m := r.ActiveMap()
	a := m["cpu_warning"]
	a.Message = "changed"
	m["cpu_warning"] = a

	assert.Equal(t, "High CPU", r.Active()[0].Message)
	assert.True(t, r.IsActive("cpu_warning"))
}
