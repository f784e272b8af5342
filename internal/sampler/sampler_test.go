package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

type fakeSource struct {
	cpuErr  error
	diskErr map[string]error
	loadErr error
	cpu     float64
}

func (f *fakeSource) CPU(context.Context) (float64, []float64, error) {
	if f.cpuErr != nil {
		return 0, nil, f.cpuErr
	}
	return f.cpu, []float64{f.cpu, f.cpu}, nil
}

func (f *fakeSource) Memory(context.Context) (MemoryStat, error) {
	return MemoryStat{Percent: 40, Total: 1000, Used: 400, Available: 600}, nil
}

func (f *fakeSource) SwapPercent(context.Context) (float64, error) { return 5, nil }

func (f *fakeSource) DiskPercent(_ context.Context, path string) (float64, error) {
	if err := f.diskErr[path]; err != nil {
		return 0, err
	}
	return 70, nil
}

func (f *fakeSource) Network(context.Context) (domain.NetworkIO, error) {
	return domain.NetworkIO{BytesSent: 1, BytesRecv: 2, PacketsSent: 3, PacketsRecv: 4}, nil
}

func (f *fakeSource) ProcessCount(context.Context) (int, error) { return 123, nil }

func (f *fakeSource) LoadAverage(context.Context) (domain.LoadAverage, error) {
	if f.loadErr != nil {
		return domain.LoadAverage{}, f.loadErr
	}
	return domain.LoadAverage{Load1: 0.5, Load5: 0.4, Load15: 0.3}, nil
}

func TestSampleBuildsSnapshot(t *testing.T) {
	s := New(&fakeSource{cpu: 33}, []string{"/data", "/"}, zap.NewNop())

	snap, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 33.0, snap.CPUPercent)
	assert.Len(t, snap.CPUPerCore, 2)
	assert.Equal(t, 40.0, snap.MemoryPercent)
	assert.Equal(t, uint64(600), snap.MemoryAvailable)
	assert.Equal(t, 5.0, snap.SwapPercent)
	assert.Equal(t, map[string]float64{"/": 70, "/data": 70}, snap.DiskUsage)
	assert.Equal(t, uint64(2), snap.NetworkIO.BytesRecv)
	assert.Equal(t, 123, snap.ProcessCount)
	assert.Equal(t, 0.5, snap.LoadAverage.Load1)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSamplePartialFailuresAreTolerated(t *testing.T) {
	src := &fakeSource{
		cpu:     10,
		diskErr: map[string]error{"/missing": errors.New("no such path")},
		loadErr: errors.New("not supported"),
	}
	s := New(src, []string{"/", "/missing"}, zap.NewNop())

	snap, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"/": 70}, snap.DiskUsage)
	assert.Zero(t, snap.LoadAverage.Load1)
}

func TestSampleCPUFailureIsSamplingError(t *testing.T) {
	osErr := errors.New("permission denied")
	s := New(&fakeSource{cpuErr: osErr}, nil, zap.NewNop())

	_, err := s.Sample(context.Background())
	var sErr *domain.SamplingError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "cpu", sErr.Op)
	assert.ErrorIs(t, err, osErr)
}

func TestFallbackSamplerUsesLastKnownGood(t *testing.T) {
	src := &fakeSource{cpu: 55}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	f := NewFallbackSampler(New(src, nil, zap.NewNop()), time.Minute, metrics, zap.NewNop())
	ctx := context.Background()

	good := f.Sample(ctx)
	assert.Equal(t, 55.0, good.CPUPercent)

	src.cpuErr = errors.New("boom")
	time.Sleep(2 * time.Millisecond)
	fallback := f.Sample(ctx)
	assert.Equal(t, 55.0, fallback.CPUPercent)
	assert.True(t, fallback.Timestamp.After(good.Timestamp))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SampleErrors))

	// копия не делит мапу с сохраненным снимком
	fallback.DiskUsage["/"] = 1
	again := f.Sample(ctx)
	assert.Equal(t, 70.0, again.DiskUsage["/"])
}

func TestFallbackSamplerZeroSnapshotOnFirstFailure(t *testing.T) {
	f := NewFallbackSampler(New(&fakeSource{cpuErr: errors.New("boom")}, nil, zap.NewNop()), 0, nil, zap.NewNop())

	snap := f.Sample(context.Background())
	assert.Zero(t, snap.CPUPercent)
	assert.False(t, snap.Timestamp.IsZero())
	assert.NotNil(t, snap.DiskUsage)
}

func TestFallbackSamplerIgnoresCancellation(t *testing.T) {
	src := &fakeSource{cpu: 30}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	f := NewFallbackSampler(New(src, nil, zap.NewNop()), 0, metrics, zap.NewNop())

	good := f.Sample(context.Background())
	require.Equal(t, 30.0, good.CPUPercent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src.cpuErr = context.Canceled
	snap := f.Sample(ctx)
	assert.Equal(t, 30.0, snap.CPUPercent)
	assert.Zero(t, testutil.ToFloat64(metrics.SampleErrors))

	// настоящий сбой по-прежнему считается
	f.Sample(context.Background())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SampleErrors))
}
