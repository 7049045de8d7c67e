// Package metrics содержит метрики Prometheus для синхронизации терминалов и рассылок.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "carwash"

// Итоги цикла синхронизации.
const (
	CycleOK          = "ok"
	CycleFormatError = "format_error"
	CycleFailed      = "failed"
	CycleSkipped     = "skipped"
)

// Причины неудачной выгрузки с терминала.
const (
	FetchAuth      = "auth"
	FetchTransport = "transport"
	FetchUnknown   = "unknown"
)

// Итоги доставки уведомлений.
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationBlocked = "blocked"
)

// Sync собирает метрики цикла синхронизации. Методы безопасны для nil.
type Sync struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetchFailures *prometheus.CounterVec
	newWashings   prometheus.Counter
	bonuses       prometheus.Counter
	notifications *prometheus.CounterVec
}

// NewSync создаёт метрики и регистрирует их в registerer.
func NewSync(registerer prometheus.Registerer) *Sync {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Sync{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a sync cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_failures_total",
			Help:      "Failed sales table fetches by terminal and kind.",
		}, []string{"terminal", "kind"}),
		newWashings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "new_washings_total",
			Help:      "Washings seen for the first time.",
		}),
		bonuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "bonus_changes_total",
			Help:      "Bonus changes applied to client balances.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "notifications_total",
			Help:      "Outgoing notifications by result.",
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.fetchFailures,
		m.newWashings,
		m.bonuses,
		m.notifications,
	)

	return m
}

// CycleFinished учитывает завершённый цикл.
func (m *Sync) CycleFinished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	if result != CycleSkipped {
		m.cycleDuration.Observe(elapsed.Seconds())
	}
}

// FetchFailed учитывает неудачную выгрузку таблицы продаж.
func (m *Sync) FetchFailed(terminalID int, kind string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(strconv.Itoa(terminalID), kind).Inc()
}

// NewWashings учитывает новые мойки.
func (m *Sync) NewWashings(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.newWashings.Add(float64(n))
}

// BonusApplied учитывает изменение бонусного баланса.
func (m *Sync) BonusApplied() {
	if m == nil {
		return
	}
	m.bonuses.Inc()
}

// Notification учитывает результат доставки сообщения.
func (m *Sync) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
