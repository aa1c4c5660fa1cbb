package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fieldsync"

// MetricsSink turns sync telemetry into Prometheus metrics
type MetricsSink struct {
	events        *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	actions       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	pulledTasks   *prometheus.CounterVec
}

// NewMetricsSink registers the sync metrics with reg
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Sync events by name.",
		}, []string{"event"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Critical sync alerts by name.",
		}, []string{"alert"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Pushed actions by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Duration of full sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		pulledTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulled_tasks_total",
			Help:      "Tasks received from the server by disposition.",
		}, []string{"disposition"}),
	}

	for _, c := range []prometheus.Collector{s.events, s.alerts, s.actions, s.cycleDuration, s.pulledTasks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MetricsSink) Event(name string, fields Fields) {
	s.events.WithLabelValues(name).Inc()

	switch name {
	case EventBatchCompleted:
		s.actions.WithLabelValues("synced").Add(number(fields["synced"]))
		s.actions.WithLabelValues("failed").Add(number(fields["failed"]))
	case EventPullPage:
		s.pulledTasks.WithLabelValues("upserted").Add(number(fields["upserted"]))
		s.pulledTasks.WithLabelValues("skipped_pending").Add(number(fields["skipped"]))
	case EventCycleCompleted:
		if ms, ok := fields["duration_ms"]; ok {
			s.cycleDuration.Observe(number(ms) / 1000)
		}
	}
}

func (s *MetricsSink) Alert(name string, fields Fields) {
	s.alerts.WithLabelValues(name).Inc()
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
