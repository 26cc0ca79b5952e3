package prometheusadapter

import (
	"time"

	"votingdapp/contexts/onchain-voting/voting-program/ports"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts program operations by outcome code and times them.
type Recorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func NewRecorder(registerer prometheus.Registerer) (*Recorder, error) {
	recorder := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "votingdapp",
			Subsystem: "program",
			Name:      "operations_total",
			Help:      "Program operations by operation and outcome code.",
		}, []string{"operation", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "votingdapp",
			Subsystem: "program",
			Name:      "operation_duration_seconds",
			Help:      "Program operation latency including the ledger transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	for _, collector := range []prometheus.Collector{recorder.operations, recorder.latency} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return recorder, nil
}

func (r *Recorder) ObserveOperation(operation string, code string, elapsed time.Duration) {
	r.operations.WithLabelValues(operation, code).Inc()
	r.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

var _ ports.OperationObserver = (*Recorder)(nil)
