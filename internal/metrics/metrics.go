// Package metrics exposes Prometheus instrumentation for reconcile runs
// and blueprint fetches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/reconcile"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guildsync",
		Name:      "runs_total",
		Help:      "Reconcile runs by reason and result.",
	}, []string{"reason", "result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "guildsync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of reconcile runs, including pacing.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guildsync",
		Name:      "mutations_total",
		Help:      "Entities created or updated by reconcile runs.",
	}, []string{"entity", "action"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guildsync",
		Name:      "blueprint_fetches_total",
		Help:      "Blueprint fetch attempts by outcome.",
	}, []string{"outcome"})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guildsync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful reconcile run.",
	})
)

// ObserveRun records one finished run.
func ObserveRun(reason string, sum reconcile.Summary, err error, took time.Duration) {
	runDuration.Observe(took.Seconds())
	if err != nil {
		runsTotal.WithLabelValues(reason, "error").Inc()
		return
	}
	runsTotal.WithLabelValues(reason, "ok").Inc()
	lastSuccess.SetToCurrentTime()

	mutationsTotal.WithLabelValues("role", "create").Add(float64(sum.RolesCreated))
	mutationsTotal.WithLabelValues("category", "create").Add(float64(sum.CategoriesCreated))
	mutationsTotal.WithLabelValues("channel", "create").Add(float64(sum.ChannelsCreated))
	mutationsTotal.WithLabelValues("channel", "update").Add(float64(sum.ChannelsUpdated))
}

// ObserveFetch records one blueprint fetch attempt.
func ObserveFetch(outcome blueprint.Outcome) {
	fetchesTotal.WithLabelValues(string(outcome)).Inc()
}
