// Package metrics holds the Prometheus collectors of the orchestration server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vibepie_connections",
		Help: "Live connections by role",
	}, []string{"role"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vibepie_prompt_queue_depth",
		Help: "Prompts waiting for generation",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibepie_prompt_submissions_total",
		Help: "Prompt submissions by gate outcome",
	}, []string{"outcome"})

	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibepie_generation_attempts_total",
		Help: "Generator attempts by result",
	}, []string{"result"})

	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibepie_generations_total",
		Help: "Terminal generation outcomes",
	}, []string{"outcome"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vibepie_generation_duration_seconds",
		Help:    "Time from dequeue to terminal outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	PullSync = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vibepie_pull_sync_total",
		Help: "Pull-sync resolutions by outcome",
	}, []string{"outcome"})

	ForceEmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vibepie_apply_force_total",
		Help: "apply_force directives sent to the master",
	})

	DroppedInbound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vibepie_inbound_dropped_total",
		Help: "Inbound frames dropped by the per-connection flood guard",
	})

	CoalescedInbound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vibepie_inbound_coalesced_total",
		Help: "control_slider frames superseded by a newer value for the same surface",
	})
)

// Submission outcomes
const (
	SubmissionQueued      = "queued"
	SubmissionEmpty       = "empty"
	SubmissionTooLong     = "too_long"
	SubmissionRateLimited = "rate_limited"
	SubmissionModerated   = "moderated"
	SubmissionQueueFull   = "queue_full"
)

// Pull-sync outcomes
const (
	PullSyncFresh      = "fresh"
	PullSyncTimeout    = "timeout"
	PullSyncNoMaster   = "no_master"
	PullSyncSendFailed = "send_failed"
	PullSyncAbandoned  = "abandoned"
	PullSyncCancelled  = "cancelled"
)
