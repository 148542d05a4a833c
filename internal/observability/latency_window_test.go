package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowEmpty(t *testing.T) {
	w := NewLatencyWindow(8)
	stats := w.Snapshot()
	if stats.Samples != 0 || stats.AvgMS != 0 || stats.P95MS != 0 {
		t.Fatalf("empty snapshot = %+v, want zeros", stats)
	}
}

func TestLatencyWindowStats(t *testing.T) {
	w := NewLatencyWindow(16)
	for _, ms := range []int{100, 200, 300, 400} {
		w.Observe(time.Duration(ms) * time.Millisecond)
	}

	stats := w.Snapshot()
	if stats.Samples != 4 {
		t.Fatalf("samples = %d, want 4", stats.Samples)
	}
	if stats.LastMS != 400 {
		t.Fatalf("last = %v, want 400", stats.LastMS)
	}
	if stats.AvgMS != 250 {
		t.Fatalf("avg = %v, want 250", stats.AvgMS)
	}
	if stats.P50MS != 250 {
		t.Fatalf("p50 = %v, want 250", stats.P50MS)
	}
	if stats.MaxMS != 400 {
		t.Fatalf("max = %v, want 400", stats.MaxMS)
	}
}

func TestLatencyWindowWrapsOldSamplesOut(t *testing.T) {
	w := NewLatencyWindow(4)
	// One slow outlier, then enough fast turns to evict it.
	w.Observe(5 * time.Second)
	for i := 0; i < 4; i++ {
		w.Observe(100 * time.Millisecond)
	}

	stats := w.Snapshot()
	if stats.Samples != 4 {
		t.Fatalf("samples = %d, want 4", stats.Samples)
	}
	if stats.MaxMS != 100 {
		t.Fatalf("max = %v, want outlier evicted (100)", stats.MaxMS)
	}
}

func TestLatencyWindowIgnoresNegative(t *testing.T) {
	w := NewLatencyWindow(4)
	w.Observe(-time.Second)
	if got := w.Snapshot().Samples; got != 0 {
		t.Fatalf("samples = %d, want 0", got)
	}
}
