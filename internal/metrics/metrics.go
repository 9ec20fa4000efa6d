// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listening_sessions_started_total",
		Help: "Listening sessions created",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listening_session_transitions_total",
		Help: "Session status transitions by source and target status",
	}, []string{"from", "to"})

	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listening_session_rejected_transitions_total",
		Help: "Transition requests refused by the state machine",
	}, []string{"from", "to"})

	Completions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listening_completions_total",
		Help: "Completion pipeline runs (including idempotent re-completions)",
	})

	SynthesizedNotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listening_synthesized_notes_total",
		Help: "Notes created from synthesis output by note type",
	}, []string{"type"})

	StuckSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listening_stuck_sessions",
		Help: "Sessions found eligible for recovery in the latest sweep",
	})

	RecoveriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listening_recoveries_scheduled_total",
		Help: "Processing re-runs scheduled by the recovery sweep",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processing_stage_duration_seconds",
		Help:    "Per-stage processing latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_errors_total",
		Help: "Processing failures by stage and error kind",
	}, []string{"stage", "error_type"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Transcription and synthesis provider calls by outcome",
	}, []string{"provider", "outcome"})

	TranscriptionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_fallbacks_total",
		Help: "Transcriptions served by the fallback provider",
	})

	ContextTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_pack_tokens_used",
		Help:    "Estimated tokens used by packed synthesis context",
		Buckets: []float64{100, 250, 500, 1000, 2000, 3000, 4000, 8000},
	})
)
