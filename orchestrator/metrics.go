package orchestrator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	watcherRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiemployee_watcher_runs_total",
		Help: "Completed watcher runs, by watcher and resulting health.",
	}, []string{"watcher", "health"})

	planTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiemployee_plan_transitions_total",
		Help: "Plan lifecycle transitions driven by the orchestrator's sweeps.",
	}, []string{"transition"})

	executorRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiemployee_executor_retries_total",
		Help: "Executor retry attempts, by channel.",
	}, []string{"channel"})
)

// ObserveExecutorRetry records one retry attempt by the executor's backoff
// layer. The executor package calls this through a callback rather than
// importing prometheus directly, keeping metrics an orchestrator-owned
// concern.
func ObserveExecutorRetry(channel string) {
	executorRetriesTotal.WithLabelValues(channel).Inc()
}

// ServeMetrics starts an HTTP server exposing the Prometheus registry on
// addr (e.g. ":9090"). It runs until the process exits; callers typically
// launch it in a goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
