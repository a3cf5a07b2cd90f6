package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_flows_started_total",
		Help: "Number of flows started.",
	})

	FlowsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_flows_completed_total",
		Help: "Number of flows that terminated successfully.",
	})

	FlowsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_flows_failed_total",
		Help: "Number of flows that terminated with an error.",
	})

	StaleResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_stale_responses_total",
		Help: "Number of responses rejected because the request was no longer outstanding.",
	})

	HuntClientsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_hunt_clients_dispatched_total",
		Help: "Number of per-client hunt flows dispatched.",
	})

	ForemanSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flock_foreman_sweeps_total",
		Help: "Number of foreman client evaluations performed.",
	})
)
