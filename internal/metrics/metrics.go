package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeComplete labels runs that produced a full report.
	OutcomeComplete = "complete"
	// OutcomeDegraded labels runs that completed with a degraded report.
	OutcomeDegraded = "degraded"
	// OutcomeError labels runs that failed outright.
	OutcomeError = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_resolve",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	stageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_resolve",
			Name:      "stage_seconds",
			Help:      "Per-stage pipeline latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 3},
		},
		[]string{"stage"},
	)

	pipelineSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_resolve",
			Name:      "pipeline_seconds",
			Help:      "End-to-end pipeline latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 2.5, 3, 4, 5},
		},
	)

	confidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_resolve",
			Name:      "confidence_score",
			Help:      "Distribution of report confidence scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

// Register attaches mirador-resolve collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		stageSeconds,
		pipelineSeconds,
		confidenceScore,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRun records a completed pipeline run.
func ObserveRun(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeComplete, OutcomeDegraded, OutcomeError:
	default:
		outcome = OutcomeError
	}
	runsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineSeconds.Observe(duration.Seconds())
}

// ObserveConfidence records a report confidence score.
func ObserveConfidence(score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	confidenceScore.Observe(score)
}
