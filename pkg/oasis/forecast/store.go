package forecast

import (
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// Store holds weather forecast samples keyed by target time. A sample issued
// later for the same target supersedes the earlier one; superseded samples
// are dropped immediately. Stale targets are pruned by a background sweep.
type Store struct {
	mu      sync.RWMutex
	samples map[int64]types.ForecastSample // key: target UnixNano
	maxAge  time.Duration
	stopCh  chan struct{}
}

// NewStore creates a forecast store. Targets older than maxAge behind the
// wall clock are swept periodically.
func NewStore(maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	s := &Store{
		samples: make(map[int64]types.ForecastSample),
		maxAge:  maxAge,
		stopCh:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Update merges a batch of forecast samples. For each target time the most
// recently issued sample wins. The return value is the largest absolute
// outdoor-temperature revision over targets that were already present; the
// control loop treats a large revision as a replan trigger.
func (s *Store) Update(batch []types.ForecastSample) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxDelta float64
	for _, sample := range batch {
		key := sample.Target.UnixNano()
		if existing, ok := s.samples[key]; ok {
			if !sample.IssuedAt.After(existing.IssuedAt) {
				continue // stale issue, latest-issued wins
			}
			if delta := math.Abs(sample.OutdoorTemp - existing.OutdoorTemp); delta > maxDelta {
				maxDelta = delta
			}
		}
		s.samples[key] = sample
	}

	klog.V(3).InfoS("Merged forecast batch", "samples", len(batch), "maxRevision", maxDelta)
	return maxDelta
}

// At returns the forecast sample whose target is closest to t, however far
// away that is. Callers that need temporal alignment must check the returned
// sample's Target against t.
func (s *Store) At(t time.Time) (types.ForecastSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var closest types.ForecastSample
	found := false
	minDiff := math.Inf(1)
	for _, sample := range s.samples {
		diff := math.Abs(t.Sub(sample.Target).Seconds())
		if diff < minDiff {
			minDiff = diff
			closest = sample
			found = true
		}
	}
	return closest, found
}

// Horizon returns the stored samples with targets in [start, end], ordered
// by target time.
func (s *Store) Horizon(start, end time.Time) []types.ForecastSample {
	s.mu.RLock()
	out := make([]types.ForecastSample, 0, len(s.samples))
	for _, sample := range s.samples {
		if sample.Target.Before(start) || sample.Target.After(end) {
			continue
		}
		out = append(out, sample)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Target.Before(out[j].Target) })
	return out
}

// Size returns the number of stored targets.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

func (s *Store) sweep() {
	ticker := time.NewTicker(s.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.removeStale()
		}
	}
}

func (s *Store) removeStale() {
	cutoff := time.Now().Add(-s.maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sample := range s.samples {
		if sample.Target.Before(cutoff) {
			delete(s.samples, key)
			removed++
		}
	}
	if removed > 0 {
		klog.V(4).InfoS("Removed stale forecast targets", "count", removed)
	}
}

// Close stops the background sweep.
func (s *Store) Close() {
	close(s.stopCh)
}
