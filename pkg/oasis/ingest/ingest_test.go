package ingest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/store"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

func sampleAt(off time.Duration, temp float64) types.TelemetrySample {
	base := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	return types.TelemetrySample{
		Timestamp:   base.Add(off),
		Zone:        "living",
		Temperature: temp,
	}
}

func countStored(t *testing.T, s store.TelemetryStore) int {
	t.Helper()
	got, err := s.Window("living", time.Time{}, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	return len(got)
}

func TestBatcherFlushesWhenFull(t *testing.T) {
	s := store.NewMemoryStore()
	b := NewBatcher(s, 3, time.Hour)

	b.add(sampleAt(0, 20))
	b.add(sampleAt(time.Minute, 20.1))
	if got := countStored(t, s); got != 0 {
		t.Fatalf("%d samples stored before the batch filled, want 0", got)
	}
	if b.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", b.Pending())
	}

	b.add(sampleAt(2*time.Minute, 20.2))
	if got := countStored(t, s); got != 3 {
		t.Errorf("%d samples stored after the batch filled, want 3", got)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending = %d after flush, want 0", b.Pending())
	}
}

func TestBatcherSkipsNonNumericReadings(t *testing.T) {
	s := store.NewMemoryStore()
	b := NewBatcher(s, 10, time.Hour)

	b.add(sampleAt(0, math.NaN()))
	b.add(sampleAt(time.Minute, math.Inf(1)))
	b.add(sampleAt(2*time.Minute, 21))
	b.Flush()

	if got := countStored(t, s); got != 1 {
		t.Errorf("%d samples stored, want only the numeric one", got)
	}
}

func TestBatcherNormalizesOccupancy(t *testing.T) {
	s := store.NewMemoryStore()
	b := NewBatcher(s, 10, time.Hour)

	sm := sampleAt(0, 21)
	sm.Occupancy = 100 // percentage-style presence sensor
	b.add(sm)
	b.Flush()

	got, err := s.Window("living", time.Time{}, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(got) != 1 || got[0].Occupancy != 1 {
		t.Errorf("stored occupancy = %+v, want clamped to 1", got)
	}
}

func TestBatcherDropsDuplicatesQuietly(t *testing.T) {
	s := store.NewMemoryStore()
	b := NewBatcher(s, 10, time.Hour)

	b.add(sampleAt(0, 20))
	b.add(sampleAt(0, 20)) // retransmission
	b.Flush()

	if got := countStored(t, s); got != 1 {
		t.Errorf("%d samples stored, want 1", got)
	}
}

func TestBatcherRunFlushesOnCancel(t *testing.T) {
	s := store.NewMemoryStore()
	b := NewBatcher(s, 100, time.Hour)

	src := make(chan types.TelemetrySample)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, src)
		close(done)
	}()

	src <- sampleAt(0, 19)
	src <- sampleAt(time.Minute, 19.5)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on cancel")
	}

	if got := countStored(t, s); got != 2 {
		t.Errorf("%d samples stored after shutdown flush, want 2", got)
	}
}

func TestBatcherDefaults(t *testing.T) {
	b := NewBatcher(store.NewMemoryStore(), 0, 0)
	if b.batchSize != 20 {
		t.Errorf("default batch size = %d, want 20", b.batchSize)
	}
	if b.flushInterval != 5*time.Minute {
		t.Errorf("default flush interval = %v, want 5m", b.flushInterval)
	}
}
