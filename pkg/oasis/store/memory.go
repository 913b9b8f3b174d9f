package store

import (
	"sort"
	"sync"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// MemoryStore implements TelemetryStore in memory. Appends from concurrent
// sensor sources take a short per-store lock and land unordered; reads sort
// by timestamp. Intended for tests and for homes that run without a
// database file.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[types.ZoneID][]types.TelemetrySample
	seen map[types.ZoneID]map[int64]struct{}
}

// NewMemoryStore creates an empty in-memory telemetry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[types.ZoneID][]types.TelemetrySample),
		seen: make(map[types.ZoneID]map[int64]struct{}),
	}
}

// Append records a sample. Duplicate (zone, timestamp) pairs are rejected.
func (s *MemoryStore) Append(sample types.TelemetrySample) error {
	key := sample.Timestamp.UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.seen[sample.Zone]
	if !ok {
		seen = make(map[int64]struct{})
		s.seen[sample.Zone] = seen
	}
	if _, dup := seen[key]; dup {
		return ErrDuplicateSample
	}
	seen[key] = struct{}{}
	s.data[sample.Zone] = append(s.data[sample.Zone], sample)
	return nil
}

// Window returns samples for a zone in [start, end] ordered by timestamp.
func (s *MemoryStore) Window(zone types.ZoneID, start, end time.Time) ([]types.TelemetrySample, error) {
	s.mu.RLock()
	samples := s.data[zone]
	out := make([]types.TelemetrySample, 0, len(samples))
	for _, sm := range samples {
		if sm.Timestamp.Before(start) || sm.Timestamp.After(end) {
			continue
		}
		out = append(out, sm)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Latest returns the most recent sample for a zone.
func (s *MemoryStore) Latest(zone types.ZoneID) (types.TelemetrySample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.data[zone]
	if len(samples) == 0 {
		return types.TelemetrySample{}, false, nil
	}
	latest := samples[0]
	for _, sm := range samples[1:] {
		if sm.Timestamp.After(latest.Timestamp) {
			latest = sm
		}
	}
	return latest, true, nil
}

// Cleanup drops samples older than the retention period.
func (s *MemoryStore) Cleanup(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()

	for zone, samples := range s.data {
		kept := samples[:0]
		for _, sm := range samples {
			if sm.Timestamp.Before(cutoff) {
				delete(s.seen[zone], sm.Timestamp.UnixNano())
				continue
			}
			kept = append(kept, sm)
		}
		s.data[zone] = kept
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
