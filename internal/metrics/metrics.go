package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "talkingavatar_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_sessions_total",
			Help: "Speech sessions by final status",
		},
		[]string{"status"},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkingavatar_session_duration_seconds",
			Help:    "Wall time from session start to completion",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talkingavatar_active_sessions",
			Help: "Number of active speech sessions",
		},
	)

	DuplicateRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkingavatar_duplicate_requests_total",
			Help: "Start requests ignored because a session was active",
		},
	)

	SentencesSpoken = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkingavatar_sentences_spoken_total",
			Help: "Sentence units played to completion",
		},
	)

	VoiceAcquireAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkingavatar_voice_acquire_attempts_total",
			Help: "Voice list polls",
		},
	)

	VoiceAcquireFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkingavatar_voice_acquire_failures_total",
			Help: "Voice acquisitions that exhausted their retries",
		},
	)

	AnimationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_animation_transitions_total",
			Help: "Animation state transitions by target state",
		},
		[]string{"state"},
	)

	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkingavatar_chat_requests_total",
			Help: "Chat backend requests by provider and reply mode",
		},
		[]string{"provider", "mode"},
	)
)
