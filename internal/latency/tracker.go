// ABOUTME: Round-trip latency tracking with exponential smoothing
// ABOUTME: Grades link quality from smoothed RTT and sample freshness
package latency

import (
	"sync"
	"time"
)

const (
	// DefaultStaleAfter is how long without a sample before quality is Lost
	DefaultStaleAfter = 5 * time.Second

	degradedRTT   = 50 * time.Millisecond
	smoothingRate = 0.1 // 10% weight to new samples
)

// Quality represents link quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// Tracker smooths observed round-trip times
type Tracker struct {
	mu         sync.RWMutex
	smoothed   time.Duration
	last       time.Duration
	samples    int
	lastSample time.Time
	staleAfter time.Duration
	now        func() time.Time
}

// Stats is a snapshot of the tracker
type Stats struct {
	Smoothed time.Duration
	Last     time.Duration
	Samples  int
	Quality  Quality
}

// NewTracker creates a tracker. A non-positive staleAfter uses DefaultStaleAfter.
func NewTracker(staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Observe records one round trip
func (t *Tracker) Observe(rtt time.Duration) {
	if rtt < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = rtt
	t.lastSample = t.now()

	// First sample initializes the estimate
	if t.samples == 0 {
		t.smoothed = rtt
	} else {
		t.smoothed += time.Duration(smoothingRate * float64(rtt-t.smoothed))
	}
	t.samples++
}

// Stats returns the current estimate and quality
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		Smoothed: t.smoothed,
		Last:     t.last,
		Samples:  t.samples,
	}

	switch {
	case t.samples == 0 || t.now().Sub(t.lastSample) > t.staleAfter:
		s.Quality = QualityLost
	case t.smoothed < degradedRTT:
		s.Quality = QualityGood
	default:
		s.Quality = QualityDegraded
	}

	return s
}
