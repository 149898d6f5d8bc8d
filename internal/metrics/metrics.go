package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksDispatched counts dispatch items handed out to agents.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monihub_tasks_dispatched_total",
		Help: "Total number of task records handed out by the dispatch endpoint",
	}, []string{"task_type"})

	// ResultsIngested counts terminal results accepted from agents.
	ResultsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monihub_results_ingested_total",
		Help: "Total number of task results accepted, by terminal status",
	}, []string{"status"})

	// ReportsIngested counts accepted telemetry reports.
	ReportsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monihub_reports_ingested_total",
		Help: "Total number of instance telemetry reports accepted",
	})

	// InstancesMarkedOffline counts sweeper offline transitions.
	InstancesMarkedOffline = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monihub_instances_marked_offline_total",
		Help: "Total number of instances flipped offline by the sweeper",
	})

	// DispatchPollDuration tracks how long pull requests stay open.
	DispatchPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "monihub_dispatch_poll_duration_seconds",
		Help:    "Duration of dispatch pull requests including long-poll wait",
		Buckets: prometheus.DefBuckets,
	})
)
