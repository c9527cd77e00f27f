package triage

import (
	"math"
	"sync"
	"time"
)

// AnomalyDetector keeps a per-cluster sliding window of event timestamps and
// derives a z-score and a CUSUM-like statistic from the window volume. State
// lives in memory only; a restart resets all history, which is acceptable
// because the anomaly signal is secondary to rule and LLM scoring.
type AnomalyDetector struct {
	mu     sync.Mutex
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

// DefaultAnomalyWindow is the sliding window used when none is configured.
const DefaultAnomalyWindow = 360 * time.Minute

func NewAnomalyDetector(window time.Duration) *AnomalyDetector {
	if window <= 0 {
		window = DefaultAnomalyWindow
	}
	return &AnomalyDetector{
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// UpdateAndScore records one occurrence of clusterKey, prunes events outside
// the window, and returns the z-score and CUSUM statistic for the new volume.
// The baseline is a crude self-referential max(1, volume/3.5) rather than a
// true historical baseline.
func (d *AnomalyDetector) UpdateAndScore(clusterKey string) (z, cusum float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.window)

	kept := d.events[clusterKey][:0]
	for _, t := range d.events[clusterKey] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	d.events[clusterKey] = kept

	vol := float64(len(kept))
	baseline := math.Max(1.0, vol/3.5)
	z = (vol - baseline) / math.Max(1.0, math.Sqrt(baseline))
	cusum = math.Max(0.0, vol-baseline)
	return z, cusum
}

// Volume reports the current in-window event count for a cluster without
// recording a new event.
func (d *AnomalyDetector) Volume(clusterKey string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.window)
	n := 0
	for _, t := range d.events[clusterKey] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
