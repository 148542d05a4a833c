package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing, which keeps tests free of duplicate
// registration issues.
type Metrics struct {
	ActiveInterviews   prometheus.Gauge
	Frames             *prometheus.CounterVec
	AudioChunks        *prometheus.CounterVec
	PlaybackQueueDepth prometheus.Gauge
	SessionRecoveries  prometheus.Counter
	AnalyzerFailures   prometheus.Counter
	TurnLatency        prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveInterviews: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_interviews",
			Help:      "Number of interviews currently running.",
		}),
		Frames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Protocol frames by direction and kind.",
		}, []string{"direction", "kind"}),
		AudioChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_total",
			Help:      "Audio chunks by pipeline stage.",
		}, []string{"stage"}),
		PlaybackQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Buffered interviewer speech chunks awaiting playback.",
		}),
		SessionRecoveries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_recoveries_total",
			Help:      "Successful recreate-session recoveries.",
		}),
		AnalyzerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_failures_total",
			Help:      "Analyzer calls absorbed by scripted fallbacks.",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Candidate utterance to interviewer response in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 3500},
		}),
	}
}

func (m *Metrics) IncFrame(direction, kind string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) IncAudioChunk(stage string) {
	if m == nil {
		return
	}
	m.AudioChunks.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetActiveInterviews(n int) {
	if m == nil {
		return
	}
	m.ActiveInterviews.Set(float64(n))
}

func (m *Metrics) SetPlaybackQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueueDepth.Set(float64(n))
}

func (m *Metrics) IncSessionRecovery() {
	if m == nil {
		return
	}
	m.SessionRecoveries.Inc()
}

func (m *Metrics) IncAnalyzerFailure() {
	if m == nil {
		return
	}
	m.AnalyzerFailures.Inc()
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
