package store

import (
	"errors"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// ErrDuplicateSample is returned when a sample arrives for a (zone,
// timestamp) pair that is already recorded. Samples are immutable; the
// original wins.
var ErrDuplicateSample = errors.New("duplicate telemetry sample")

// TelemetryStore is the durable, append-only record of sensor readings and
// actuator states. Writers from multiple sensor sources may append
// concurrently; ordering is imposed at read time.
type TelemetryStore interface {
	Append(sample types.TelemetrySample) error
	// Window returns samples for a zone in [start, end], ordered by timestamp.
	Window(zone types.ZoneID, start, end time.Time) ([]types.TelemetrySample, error)
	// Latest returns the most recent sample for a zone, if any.
	Latest(zone types.ZoneID) (types.TelemetrySample, bool, error)
	// Cleanup removes samples older than the retention period.
	Cleanup(retention time.Duration) error
	Close() error
}

// LargestGap returns the widest spacing between consecutive samples. Samples
// must already be ordered by timestamp (as Window guarantees). Zero or one
// samples yield zero.
func LargestGap(samples []types.TelemetrySample) time.Duration {
	var widest time.Duration
	for i := 1; i < len(samples); i++ {
		if gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp); gap > widest {
			widest = gap
		}
	}
	return widest
}

// Density returns the fraction of expected samples present in [start, end]
// given a nominal sampling cadence. Used by the learner to reject sparse
// fitting windows.
func Density(samples []types.TelemetrySample, start, end time.Time, cadence time.Duration) float64 {
	if cadence <= 0 || !end.After(start) {
		return 0
	}
	expected := float64(end.Sub(start)) / float64(cadence)
	if expected < 1 {
		expected = 1
	}
	ratio := float64(len(samples)) / expected
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
