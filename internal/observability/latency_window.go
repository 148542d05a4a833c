package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyStats summarizes the current window.
type LatencyStats struct {
	GeneratedAt time.Time `json:"generated_at"`
	Samples     int       `json:"samples"`
	LastMS      float64   `json:"last_ms"`
	AvgMS       float64   `json:"avg_ms"`
	P50MS       float64   `json:"p50_ms"`
	P95MS       float64   `json:"p95_ms"`
	MaxMS       float64   `json:"max_ms"`
}

// LatencyWindow keeps a fixed-size ring of recent turn latencies for the
// diagnostics endpoint. Prometheus histograms cover long-term trends; this
// window answers "how does the conversation feel right now".
type LatencyWindow struct {
	mu     sync.RWMutex
	values []float64
	next   int
	filled bool
	last   float64
}

func NewLatencyWindow(maxSamples int) *LatencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &LatencyWindow{values: make([]float64, maxSamples)}
}

func (w *LatencyWindow) Observe(d time.Duration) {
	ms := float64(d.Milliseconds())
	if ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[w.next] = ms
	w.last = ms
	w.next++
	if w.next >= len(w.values) {
		w.next = 0
		w.filled = true
	}
}

func (w *LatencyWindow) Snapshot() LatencyStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := w.next
	if w.filled {
		n = len(w.values)
	}
	stats := LatencyStats{GeneratedAt: time.Now().UTC(), Samples: n}
	if n == 0 {
		return stats
	}

	samples := make([]float64, n)
	copy(samples, w.values[:n])
	sort.Float64s(samples)

	sum := 0.0
	for _, v := range samples {
		sum += v
	}

	stats.LastMS = round2(w.last)
	stats.AvgMS = round2(sum / float64(n))
	stats.P50MS = round2(quantile(samples, 0.50))
	stats.P95MS = round2(quantile(samples, 0.95))
	stats.MaxMS = round2(samples[n-1])
	return stats
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
