// Package alerting принимает решения о срабатывании и снятии тревог.
//
// Реестр хранит активные тревоги по alert-id и применяет cooldown к
// повторным уведомлениям. Завершенные тревоги уходят в кольцевую историю.
package alerting

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/ring"
	"github.com/xela07ax/mindx-monitoring/internal/telemetry"
)

// Check: одно измерение, которое нужно сравнить с порогом.
type Check struct {
	ID        string
	Value     float64
	Threshold float64
	Severity  domain.Severity
	Message   string
	// Below переворачивает сравнение: тревога, когда значение ниже порога (полы, например success rate).
	Below bool
}

func (c Check) breached() bool {
	if c.Below {
		return c.Value < c.Threshold
	}
	return c.Value > c.Threshold
}

// Evaluator: то, что нужно компонентам, которые сами поднимают тревоги (леджер, бюджет).
type Evaluator interface {
	Evaluate(c Check) *domain.AlertEvent
}

// Notifier получает события TRIGGERED и RESOLVED из отдельной горутины-диспетчера,
// поэтому медленный Notify не задерживает Evaluate.
type Notifier interface {
	Notify(ctx context.Context, ev domain.AlertEvent) error
}

const (
	DefaultQueueSize     = 1024
	DefaultNotifyTimeout = 2 * time.Second
)

type Registry struct {
	mu       sync.Mutex
	active   map[string]*domain.Alert
	history  *ring.Buffer[domain.Alert]
	cooldown time.Duration
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	now      func() time.Time

	notifiers     []Notifier
	queueSize     int
	notifyTimeout time.Duration
	queue         chan domain.AlertEvent
	qmu           sync.RWMutex
	closed        bool
	wg            sync.WaitGroup
}

type Option func(*Registry)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifiers = append(r.notifiers, n) }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithQueueSize задает емкость очереди уведомлений. При переполнении событие отбрасывается.
func WithQueueSize(n int) Option {
	return func(r *Registry) { r.queueSize = n }
}

// WithNotifyTimeout ограничивает один вызов Notify.
func WithNotifyTimeout(d time.Duration) Option {
	return func(r *Registry) { r.notifyTimeout = d }
}

// NewRegistry создает реестр. Если есть уведомители, запускается диспетчер;
// его останавливает Close.
func NewRegistry(cooldown time.Duration, historyCapacity int, logger *zap.Logger, opts ...Option) *Registry {
	if historyCapacity <= 0 {
		historyCapacity = 500
	}
	r := &Registry{
		active:        make(map[string]*domain.Alert),
		history:       ring.New[domain.Alert](historyCapacity),
		cooldown:      cooldown,
		logger:        logger.Named("alerts"),
		now:           time.Now,
		queueSize:     DefaultQueueSize,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = telemetry.NewMetrics(nil)
	}
	if r.queueSize <= 0 {
		r.queueSize = DefaultQueueSize
	}
	if r.notifyTimeout <= 0 {
		r.notifyTimeout = DefaultNotifyTimeout
	}
	if len(r.notifiers) > 0 {
		r.queue = make(chan domain.AlertEvent, r.queueSize)
		r.wg.Add(1)
		go r.dispatcher()
	}
	return r
}

// Close доставляет уже поставленные в очередь события и останавливает диспетчер.
// Повторный вызов ничего не делает.
func (r *Registry) Close() {
	r.qmu.Lock()
	if r.closed || r.queue == nil {
		r.closed = true
		r.qmu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.qmu.Unlock()

	r.wg.Wait()
	r.logger.Info("alert dispatcher stopped")
}

// Evaluate: решение над состоянием реестра. Уведомления уходят в очередь,
// вызывающий не ждет их доставки. Возвращает nil, если метрика в норме и активной тревоги нет.
func (r *Registry) Evaluate(c Check) *domain.AlertEvent {
	r.mu.Lock()
	ev := r.evaluateLocked(c)
	activeCount := len(r.active)
	r.mu.Unlock()

	if ev == nil {
		return nil
	}
	r.metrics.ActiveAlerts.Set(float64(activeCount))
	r.metrics.AlertEvents.WithLabelValues(string(ev.Kind), string(ev.Alert.Severity)).Inc()

	if ev.Kind != domain.AlertSuppressed {
		r.dispatch(*ev)
	}
	return ev
}

func (r *Registry) evaluateLocked(c Check) *domain.AlertEvent {
	now := r.now()
	current, isActive := r.active[c.ID]

	if !c.breached() {
		if !isActive {
			return nil
		}
		delete(r.active, c.ID)
		resolved := *current
		resolved.Value = c.Value
		resolved.ResolvedAt = &now
		r.history.Push(resolved)
		return &domain.AlertEvent{Kind: domain.AlertResolved, Alert: resolved, At: now}
	}

	if !isActive {
		a := &domain.Alert{
			ID:               c.ID,
			Severity:         c.Severity,
			Message:          c.Message,
			Value:            c.Value,
			Threshold:        c.Threshold,
			FirstTriggeredAt: now,
			LastTriggeredAt:  now,
		}
		r.active[c.ID] = a
		return &domain.AlertEvent{Kind: domain.AlertTriggered, Alert: *a, At: now}
	}

	// Значение обновляем всегда, уведомление — только после cooldown
	current.Value = c.Value
	if now.Sub(current.LastTriggeredAt) >= r.cooldown {
		current.LastTriggeredAt = now
		current.Message = c.Message
		return &domain.AlertEvent{Kind: domain.AlertTriggered, Alert: *current, At: now}
	}
	return &domain.AlertEvent{Kind: domain.AlertSuppressed, Alert: *current, Reason: "cooldown", At: now}
}

// dispatch пишет событие в лог и ставит его в очередь уведомлений. Не блокируется.
func (r *Registry) dispatch(ev domain.AlertEvent) {
	fields := []zap.Field{
		zap.String("alert_id", ev.Alert.ID),
		zap.String("severity", string(ev.Alert.Severity)),
		zap.Float64("value", ev.Alert.Value),
		zap.Float64("threshold", ev.Alert.Threshold),
	}
	if ev.Kind == domain.AlertTriggered {
		r.logger.Warn("alert triggered: "+ev.Alert.Message, fields...)
	} else {
		r.logger.Info("alert resolved: "+ev.Alert.Message, fields...)
	}

	r.qmu.RLock()
	defer r.qmu.RUnlock()
	if r.queue == nil {
		return
	}
	if r.closed {
		r.logger.Warn("alert notification dropped: registry is closing", zap.String("alert_id", ev.Alert.ID))
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Error("alert_notify_queue_overflow",
			zap.String("alert_id", ev.Alert.ID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// dispatcher доставляет события по порядку, по одному уведомителю за раз.
func (r *Registry) dispatcher() {
	defer r.wg.Done()
	for ev := range r.queue {
		for _, n := range r.notifiers {
			// Background: Close дожидается доставки уже принятых событий
			ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
			if err := n.Notify(ctx, ev); err != nil {
				r.logger.Warn("alert notification failed", zap.String("alert_id", ev.Alert.ID), zap.Error(err))
			}
			cancel()
		}
	}
}

// EvaluateSnapshot прогоняет все ресурсные проверки одного снимка.
// Дисковые тревоги путей, которых нет в снимке, снимаются: иначе их некому перепроверить.
// Возвращает только ненулевые события.
func (r *Registry) EvaluateSnapshot(t ResourceThresholds, s domain.MetricsSnapshot) []domain.AlertEvent {
	var events []domain.AlertEvent
	for _, c := range t.Checks(s) {
		if ev := r.Evaluate(c); ev != nil {
			events = append(events, *ev)
		}
	}
	for _, id := range r.orphanedDiskAlerts(s.DiskUsage) {
		if ev := r.Resolve(id, "disk path missing from sample"); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

func (r *Registry) orphanedDiskAlerts(sampled map[string]float64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id := range r.active {
		path, ok := diskPath(id)
		if !ok {
			continue
		}
		if _, present := sampled[path]; !present {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Resolve снимает активную тревогу без новой проверки значения.
// nil, если тревога не активна.
func (r *Registry) Resolve(id, reason string) *domain.AlertEvent {
	r.mu.Lock()
	current, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	now := r.now()
	delete(r.active, id)
	resolved := *current
	resolved.ResolvedAt = &now
	r.history.Push(resolved)
	activeCount := len(r.active)
	r.mu.Unlock()

	ev := domain.AlertEvent{Kind: domain.AlertResolved, Alert: resolved, Reason: reason, At: now}
	r.metrics.ActiveAlerts.Set(float64(activeCount))
	r.metrics.AlertEvents.WithLabelValues(string(ev.Kind), string(ev.Alert.Severity)).Inc()
	r.dispatch(ev)
	return &ev
}

// Active возвращает копии активных тревог, упорядоченные по ID.
func (r *Registry) Active() []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Alert, 0, len(r.active))
	for _, a := range r.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveMap: активные тревоги в виде alert-id -> Alert (формат экспорта).
func (r *Registry) ActiveMap() map[string]domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.Alert, len(r.active))
	for id, a := range r.active {
		out[id] = *a
	}
	return out
}

// History возвращает завершенные тревоги от старых к новым.
func (r *Registry) History() []domain.Alert {
	return r.history.Items()
}

// IsActive сообщает, активна ли тревога.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}
