package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts lifecycle events in prometheus collectors.
type MetricsSink struct {
	transitions *prometheus.CounterVec
	exhaustions prometheus.Counter
}

// NewMetricsSink registers the collectors on reg and returns the sink.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simrunner_run_transitions_total",
			Help: "Run status transitions applied, by source and target status.",
		}, []string{"from", "to"}),
		exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simrunner_sync_retry_exhaustions_total",
			Help: "Status sync attempts that exhausted their retry budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.transitions, s.exhaustions)
	}
	return s
}

func (s *MetricsSink) RunTransitioned(_ context.Context, evt Transition) {
	s.transitions.WithLabelValues(string(evt.From), string(evt.To)).Inc()
}

func (s *MetricsSink) SyncExhausted(context.Context, SyncExhaustion) {
	s.exhaustions.Inc()
}
