// Package ingest buffers telemetry events from the platform adapter and
// writes them to the store in batches.
package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/store"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// Batcher accumulates samples and flushes when the batch fills or the flush
// interval elapses, whichever comes first.
type Batcher struct {
	telemetry     store.TelemetryStore
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []types.TelemetrySample
}

// NewBatcher creates a telemetry batcher.
func NewBatcher(telemetry store.TelemetryStore, batchSize int, flushInterval time.Duration) *Batcher {
	if batchSize < 1 {
		batchSize = 20
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}
	return &Batcher{
		telemetry:     telemetry,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Run consumes the source channel until the context is cancelled, flushing
// any remainder on exit.
func (b *Batcher) Run(ctx context.Context, src <-chan types.TelemetrySample) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush()
			klog.V(2).InfoS("Telemetry batcher exiting")
			return
		case <-ticker.C:
			b.Flush()
		case sample := <-src:
			b.add(sample)
		}
	}
}

func (b *Batcher) add(sample types.TelemetrySample) {
	// Unavailable sensors surface as NaN readings; keep the store clean.
	if math.IsNaN(sample.Temperature) || math.IsInf(sample.Temperature, 0) {
		klog.V(4).InfoS("Skipping non-numeric reading", "zone", sample.Zone)
		return
	}

	// Presence sensors report booleans or percentages; the model wants [0, 1].
	if sample.Occupancy > 1 {
		sample.Occupancy = 1
	} else if sample.Occupancy < 0 || math.IsNaN(sample.Occupancy) {
		sample.Occupancy = 0
	}

	b.mu.Lock()
	b.buffer = append(b.buffer, sample)
	full := len(b.buffer) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

// Flush writes the buffered samples to the store. Duplicates are expected
// when a sensor retransmits and are dropped quietly; other write errors are
// logged and the affected samples are lost, matching the platform's
// at-most-once delivery.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var dupes, failed int
	for _, sample := range batch {
		err := b.telemetry.Append(sample)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicateSample):
			dupes++
		default:
			failed++
			klog.V(2).InfoS("Failed to store telemetry sample", "zone", sample.Zone, "error", err)
		}
	}

	klog.V(3).InfoS("Flushed telemetry batch",
		"size", len(batch),
		"duplicates", dupes,
		"failed", failed)
}

// Pending returns the number of buffered samples.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
