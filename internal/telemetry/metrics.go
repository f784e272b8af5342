package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Ресурсы хоста (последний снимок)
	CPUPercent    prometheus.Gauge
	MemoryPercent prometheus.Gauge
	SwapPercent   prometheus.Gauge
	DiskPercent   *prometheus.GaugeVec

	// Цикл мониторинга
	TickDuration prometheus.Histogram
	SampleErrors prometheus.Counter

	// Вызовы LLM
	LLMCalls   *prometheus.CounterVec
	LLMLatency *prometheus.HistogramVec
	CostUSD    *prometheus.CounterVec
	Tokens     *prometheus.CounterVec

	// Тревоги
	AlertEvents  *prometheus.CounterVec
	ActiveAlerts prometheus.Gauge

	// Лимитер оценки стоимости
	RateLimited prometheus.Counter

	// Журнал использования
	JournalRotations   prometheus.Counter
	JournalCorruptions prometheus.Counter
	MirrorBufferFill   prometheus.Gauge

	// Ограничители меток со значениями от клиентов
	Providers *LabelLimiter
	Models    *LabelLimiter
	Tasks     *LabelLimiter
	Agents    *LabelLimiter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: без регистра используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Providers: NewLabelLimiter(DefaultLabelLimit),
		Models:    NewLabelLimiter(DefaultLabelLimit),
		Tasks:     NewLabelLimiter(DefaultLabelLimit),
		Agents:    NewLabelLimiter(DefaultLabelLimit),

		CPUPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindx_system_cpu_percent",
			Help: "CPU utilisation from the latest sample.",
		}),
		MemoryPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindx_system_memory_percent",
			Help: "Memory utilisation from the latest sample.",
		}),
		SwapPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindx_system_swap_percent",
			Help: "Swap utilisation from the latest sample.",
		}),
		DiskPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mindx_system_disk_percent",
			Help: "Disk utilisation per monitored path.",
		}, []string{"path"}),

		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mindx_monitor_tick_duration_seconds",
			Help:    "Duration of a monitoring loop tick.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SampleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "mindx_monitor_sample_errors_total",
			Help: "Failed OS samples replaced by the last known snapshot.",
		}),

		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindx_llm_calls_total",
			Help: "Recorded LLM calls.",
		}, []string{"model", "task", "agent_id", "status"}),
		LLMLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindx_llm_latency_seconds",
			Help:    "Reported LLM call latency.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		CostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindx_llm_cost_usd_total",
			Help: "Accumulated LLM cost in USD.",
		}, []string{"provider", "model"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindx_llm_tokens_total",
			Help: "Accumulated LLM tokens.",
		}, []string{"provider", "model", "kind"}), // kind: prompt, completion

		AlertEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindx_alert_events_total",
			Help: "Alert registry decisions by kind and severity.",
		}, []string{"kind", "severity"}),
		ActiveAlerts: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindx_alerts_active",
			Help: "Currently active alerts.",
		}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "mindx_cost_estimate_rate_limited_total",
			Help: "Cost estimation calls rejected by the rate limiter.",
		}),

		JournalRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "mindx_usage_journal_rotations_total",
			Help: "Usage journal rotations.",
		}),
		JournalCorruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "mindx_usage_journal_corruptions_total",
			Help: "Corrupt usage journals quarantined.",
		}),
		MirrorBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindx_usage_mirror_buffer_utilization",
			Help: "Current number of records waiting for the usage mirror.",
		}),
	}
}
