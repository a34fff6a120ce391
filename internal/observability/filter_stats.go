package observability

import (
	"sort"
	"sync"
	"time"
)

// FilterStats tracks which display filters and predicates callers use, so
// operators can see which cached result sets are hot.
type FilterStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*FieldStats
	filterFreq    map[string]*FieldStats
	window        time.Duration
	now           func() time.Time
}

// FieldStats holds usage statistics for one predicate field or filter set.
type FieldStats struct {
	Field     string         `json:"field"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Operators map[string]int `json:"operators,omitempty"`
}

// NewFilterStats creates a tracker. Entries unseen for longer than window
// are dropped by Prune.
func NewFilterStats(window time.Duration) *FilterStats {
	return &FilterStats{
		predicateFreq: make(map[string]*FieldStats),
		filterFreq:    make(map[string]*FieldStats),
		window:        window,
		now:           time.Now,
	}
}

// RecordPredicate records use of a predicate on field with operator.
func (s *FilterStats) RecordPredicate(field, operator string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.predicateFreq[field]
	if !ok {
		stats = &FieldStats{Field: field, Operators: make(map[string]int)}
		s.predicateFreq[field] = stats
	}
	stats.Frequency++
	stats.LastSeen = s.now()
	stats.Operators[operator]++
}

// RecordFilter records one display request keyed by its canonical filter form.
func (s *FilterStats) RecordFilter(canonical string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.filterFreq[canonical]
	if !ok {
		stats = &FieldStats{Field: canonical}
		s.filterFreq[canonical] = stats
	}
	stats.Frequency++
	stats.LastSeen = s.now()
}

// GetTopPredicates returns the n most used predicate fields, most used first.
func (s *FilterStats) GetTopPredicates(n int) []FieldStats {
	if s == nil {
		return []FieldStats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return topN(s.predicateFreq, n)
}

// GetTopFilters returns the n most requested filter sets, most used first.
func (s *FilterStats) GetTopFilters(n int) []FieldStats {
	if s == nil {
		return []FieldStats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return topN(s.filterFreq, n)
}

// Prune removes entries not seen within the configured window.
func (s *FilterStats) Prune() {
	if s == nil || s.window <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	for k, v := range s.predicateFreq {
		if v.LastSeen.Before(cutoff) {
			delete(s.predicateFreq, k)
		}
	}
	for k, v := range s.filterFreq {
		if v.LastSeen.Before(cutoff) {
			delete(s.filterFreq, k)
		}
	}
}

// Reset clears all statistics.
func (s *FilterStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predicateFreq = make(map[string]*FieldStats)
	s.filterFreq = make(map[string]*FieldStats)
}

func topN(freq map[string]*FieldStats, n int) []FieldStats {
	if n <= 0 || len(freq) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(freq))
	for _, fs := range freq {
		cp := FieldStats{
			Field:     fs.Field,
			Frequency: fs.Frequency,
			LastSeen:  fs.LastSeen,
		}
		if fs.Operators != nil {
			cp.Operators = make(map[string]int, len(fs.Operators))
			for op, c := range fs.Operators {
				cp.Operators[op] = c
			}
		}
		stats = append(stats, cp)
	}

	// Ties break on name so the order is stable.
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}
