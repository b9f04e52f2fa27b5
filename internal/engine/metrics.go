package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_jobs_submitted_total",
			Help: "Total number of jobs submitted, by kind.",
		},
		[]string{"kind"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status, by status.",
		},
		[]string{"status"},
	)

	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_jobs_active",
			Help: "Number of tracked jobs that have not reached a terminal status.",
		},
	)

	pollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_polls_total",
			Help: "Total number of status poll responses processed.",
		},
	)

	artifactDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_artifact_downloads_total",
			Help: "Total number of artifact download attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_scheduler_ticks_total",
			Help: "Total number of scheduler ticks driven.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(jobsActive)
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(artifactDownloadsTotal)
	prometheus.MustRegister(ticksTotal)
}
