package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chunk outcomes recorded by RecordChunk
const (
	ChunkForwarded = "forwarded"
	ChunkQueued    = "queued"
	ChunkFlushed   = "flushed"
	ChunkDropped   = "dropped"
	ChunkOverflow  = "overflow"
)

// Turn outcomes recorded by RecordTurnEnd
const (
	TurnCompleted = "completed"
	TurnTimedOut  = "timed_out"
	TurnFailed    = "failed"
	TurnAborted   = "aborted"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_active_sessions",
		Help: "Number of connected client sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_sessions_total",
		Help: "Total number of client sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_session_duration_seconds",
		Help:    "Duration of client sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_turns_total",
		Help: "Total number of committed turns by outcome",
	}, []string{"outcome"})

	turnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_turn_latency_seconds",
		Help:    "Time from input commit to response.done in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// Audio metrics
	audioChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_audio_chunks_total",
		Help: "Client audio chunks by outcome",
	}, []string{"outcome"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Provider metrics
	providerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_provider_events_total",
		Help: "Events received from the realtime provider by type",
	}, []string{"type"})

	upstreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_upstream_connected",
		Help: "Whether the provider connection is open (1) or not (0)",
	})

	upstreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_upstream_reconnects_total",
		Help: "Provider reconnection attempts by status",
	}, []string{"status"})

	// Playback metrics (voice probe)
	playbackSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_playback_segments_total",
		Help: "Playback segments by status",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single client session
type Metrics struct {
	sessionID     string
	startTime     time.Time
	turnStartTime time.Time
	mu            sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// SessionID returns the session the tracker belongs to
func (m *Metrics) SessionID() string {
	return m.sessionID
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurnStart marks the input commit of a turn
func (m *Metrics) RecordTurnStart() {
	m.mu.Lock()
	m.turnStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTurnEnd records the outcome of the in-flight turn. It is a no-op
// when no turn was started.
func (m *Metrics) RecordTurnEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.turnStartTime.IsZero() {
		return
	}
	if outcome == TurnCompleted {
		turnLatency.Observe(time.Since(m.turnStartTime).Seconds())
	}
	m.turnStartTime = time.Time{}
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordChunk records what happened to one client audio chunk
func (m *Metrics) RecordChunk(outcome string) {
	audioChunks.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordProviderEvent counts one inbound provider event
func RecordProviderEvent(eventType string) {
	providerEvents.WithLabelValues(eventType).Inc()
}

// SetUpstreamConnected updates the provider connection gauge
func SetUpstreamConnected(connected bool) {
	if connected {
		upstreamConnected.Set(1)
		return
	}
	upstreamConnected.Set(0)
}

// RecordReconnectAttempt counts a provider reconnect attempt
func RecordReconnectAttempt(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamReconnects.WithLabelValues(status).Inc()
}

// RecordPlaybackSegment counts one played (or skipped) playback segment
func RecordPlaybackSegment(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	playbackSegments.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
