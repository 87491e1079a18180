package recorder

import (
	"math"
	"sync"
	"time"
)

// Sync quality grades by average absolute drift.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// SyncStats summarizes audio/video drift over a session.
type SyncStats struct {
	Samples    int     `json:"samples"`
	AvgDriftMs float64 `json:"avg_drift_ms"`
	MaxDriftMs float64 `json:"max_drift_ms"`
	Quality    string  `json:"quality"`
}

// SyncQuality grades an average absolute drift in milliseconds.
func SyncQuality(avgMs float64) string {
	switch {
	case avgMs < 10:
		return QualityExcellent
	case avgMs < 25:
		return QualityGood
	case avgMs < 50:
		return QualityFair
	default:
		return QualityPoor
	}
}

type syncTracker struct {
	mu     sync.Mutex
	n      int
	sumAbs float64
	maxAbs float64
}

func (s *syncTracker) reset() {
	s.mu.Lock()
	s.n, s.sumAbs, s.maxAbs = 0, 0, 0
	s.mu.Unlock()
}

func (s *syncTracker) add(drift time.Duration) float64 {
	ms := math.Abs(float64(drift) / float64(time.Millisecond))
	s.mu.Lock()
	s.n++
	s.sumAbs += ms
	if ms > s.maxAbs {
		s.maxAbs = ms
	}
	s.mu.Unlock()
	return ms
}

func (s *syncTracker) stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SyncStats{Samples: s.n, MaxDriftMs: s.maxAbs}
	if s.n > 0 {
		st.AvgDriftMs = s.sumAbs / float64(s.n)
	}
	st.Quality = SyncQuality(st.AvgDriftMs)
	return st
}
