package telemetry

import (
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.LLMCalls.WithLabelValues("gpt-4", "planning", "bdi_agent", "success").Inc()
	m.CPUPercent.Set(42)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.CPUPercent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("gpt-4", "planning", "bdi_agent", "success")))
}

func TestNewMetricsNilRegistry(t *testing.T) {
	// Два экземпляра без регистра не должны конфликтовать
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.SampleErrors.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.SampleErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SampleErrors))
}

func TestLabelLimiter(t *testing.T) {
	l := NewLabelLimiter(2)

	assert.Equal(t, "gpt-4", l.Value("gpt-4"))
	assert.Equal(t, "gpt-4o", l.Value("gpt-4o"))
	assert.Equal(t, OverflowLabel, l.Value("claude-3"))
	// уже известные значения проходят и после исчерпания лимита
	assert.Equal(t, "gpt-4", l.Value("gpt-4"))

	wide := NewLabelLimiter(0)
	v := wide.Value(strings.Repeat("я", 100))
	assert.Equal(t, MaxLabelLength, len([]rune(v)))
	assert.Equal(t, "ab", wide.Value("a\xffb"))
	for i := 0; i < DefaultLabelLimit; i++ {
		wide.Value("m" + strconv.Itoa(i))
	}
	assert.Equal(t, OverflowLabel, wide.Value("fresh"))
}
