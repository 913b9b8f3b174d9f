package learner

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mircotaddei/oasis-core/pkg/oasis/clock"
	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/store"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

const (
	trueAmbient   = 2e-4 // 1/s
	trueActuation = 5e-4 // °C/s per kW
	cadence       = 5 * time.Minute
	fitWindow     = 6 * time.Hour
)

// mapExogenous serves scripted outdoor conditions keyed by instant.
type mapExogenous struct {
	samples map[int64]types.ForecastSample
}

func (m *mapExogenous) At(t time.Time) (types.ForecastSample, bool) {
	s, ok := m.samples[t.UnixNano()]
	return s, ok
}

func outdoorAt(k int) float64 {
	return 10 * math.Sin(float64(k)/7)
}

func powerAt(k int) float64 {
	if k%2 == 0 {
		return 1000 // watts
	}
	return 0
}

// genSeries writes a synthetic single-zone series into the store, integrating
// the true dynamics with forward Euler at the sample cadence. From switchAt
// onward generation uses lateGain instead of the true actuation gain, which
// lets tests corrupt the holdout regime.
func genSeries(t *testing.T, s store.TelemetryStore, from time.Time, steps int, switchAt time.Time, lateGain float64) *mapExogenous {
	t.Helper()
	exo := &mapExogenous{samples: make(map[int64]types.ForecastSample)}

	temp := 18.0
	dt := cadence.Seconds()
	for k := 0; k <= steps; k++ {
		ts := from.Add(time.Duration(k) * cadence)
		tout := outdoorAt(k)
		u := powerAt(k)

		exo.samples[ts.UnixNano()] = types.ForecastSample{
			IssuedAt: ts, Target: ts, OutdoorTemp: tout,
		}
		require.NoError(t, s.Append(types.TelemetrySample{
			Timestamp:   ts,
			Zone:        "living",
			Temperature: temp,
			Power:       u,
		}))

		gain := trueActuation
		if !ts.Before(switchAt) {
			gain = lateGain
		}
		temp += dt * (trueAmbient*(tout-temp) + gain*(u/1000))
	}
	return exo
}

func testLearnerConfig() Config {
	return Config{
		Window:           fitWindow,
		HoldoutFraction:  0.25,
		MinDensity:       0.8,
		SampleCadence:    cadence,
		RegressionMargin: 0.05,
		Interval:         time.Hour,
		MaxExogenousAge:  cadence,
	}
}

func TestFitRecoversTrueParameters(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	now := from.Add(fitWindow)
	telemetry := store.NewMemoryStore()
	// Consistent dynamics throughout: never switch regimes.
	exo := genSeries(t, telemetry, from, int(fitWindow/cadence), now.Add(time.Hour), trueActuation)

	registry := model.NewRegistry(0.5, nil)
	l := New(testLearnerConfig(), telemetry, exo, registry, []types.ZoneID{"living"}, clock.NewMockClock(now))

	m, err := l.FitAndPublish()
	require.NoError(t, err)

	p, ok := m.Params("living")
	require.True(t, ok, "fitted model has no params for living")
	assert.InDelta(t, trueAmbient, p.Ambient, 1e-7)
	assert.InDelta(t, trueActuation, p.Actuation, 1e-7)

	// Noise-free data predicted by its own generator: near-zero holdout
	// error, near-unit confidence.
	assert.Greater(t, m.Confidence(), 0.99)

	active, ok := registry.Active()
	require.True(t, ok, "fitted model was not published as active")
	assert.Equal(t, m.Version(), active.Version())
}

func TestFitInsufficientData(t *testing.T) {
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	telemetry := store.NewMemoryStore()
	registry := model.NewRegistry(0.5, nil)
	l := New(testLearnerConfig(), telemetry, &mapExogenous{}, registry, []types.ZoneID{"living"}, clock.NewMockClock(now))

	_, err := l.FitAndPublish()
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, ok := registry.Active()
	assert.False(t, ok, "a model was published despite insufficient data")
}

func TestFitRejectsLongSensorGap(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	now := from.Add(fitWindow)

	full := store.NewMemoryStore()
	exo := genSeries(t, full, from, int(fitWindow/cadence), now.Add(time.Hour), trueActuation)

	// Re-append everything except a contiguous two-hour outage. Enough
	// samples survive to pass a relaxed density gate; the gap must still
	// block the fit.
	gapStart := from.Add(2 * time.Hour)
	gapEnd := gapStart.Add(2 * time.Hour)
	telemetry := store.NewMemoryStore()
	samples, err := full.Window("living", from, now)
	require.NoError(t, err)
	for _, sm := range samples {
		if !sm.Timestamp.Before(gapStart) && sm.Timestamp.Before(gapEnd) {
			continue
		}
		require.NoError(t, telemetry.Append(sm))
	}

	cfg := testLearnerConfig()
	cfg.MinDensity = 0.5
	registry := model.NewRegistry(0.5, nil)
	l := New(cfg, telemetry, exo, registry, []types.ZoneID{"living"}, clock.NewMockClock(now))

	_, err = l.FitAndPublish()
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFitSkipsStaleExogenous(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	now := from.Add(fitWindow)

	telemetry := store.NewMemoryStore()
	exo := genSeries(t, telemetry, from, int(fitWindow/cadence), now.Add(time.Hour), trueActuation)

	// Shift every forecast target three hours away from the telemetry it is
	// resolved against. The source still answers every lookup, but each
	// answer describes conditions from a different part of the day.
	for k, s := range exo.samples {
		s.Target = s.Target.Add(3 * time.Hour)
		exo.samples[k] = s
	}

	registry := model.NewRegistry(0.5, nil)
	l := New(testLearnerConfig(), telemetry, exo, registry, []types.ZoneID{"living"}, clock.NewMockClock(now))

	_, err := l.FitAndPublish()
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, ok := registry.Active()
	assert.False(t, ok, "a model was fitted from stale outdoor conditions")
}

func TestDriftGuardRejectsWorseCandidate(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	now := from.Add(fitWindow)
	holdoutStart := now.Add(-time.Duration(float64(fitWindow) * 0.25))

	telemetry := store.NewMemoryStore()
	// The holdout tail is generated with an inverted actuation gain, so the
	// candidate fitted on the training head validates poorly.
	exo := genSeries(t, telemetry, from, int(fitWindow/cadence), holdoutStart, -trueActuation)

	registry := model.NewRegistry(0.5, nil)
	incumbent, err := model.New(
		[]types.ZoneID{"living"},
		map[types.ZoneID]model.ZoneParams{"living": {Ambient: trueAmbient, Actuation: trueActuation}},
		0.95, from, now,
	)
	require.NoError(t, err)
	require.NoError(t, registry.Publish(incumbent))

	l := New(testLearnerConfig(), telemetry, exo, registry, []types.ZoneID{"living"}, clock.NewMockClock(now))
	_, err = l.FitAndPublish()
	require.ErrorIs(t, err, ErrDriftGuarded)

	assert.Equal(t, incumbent.Version(), registry.Incumbent().Version(),
		"drift-guarded candidate displaced the incumbent")
}

func TestPlausibilityRejectsInvertedDynamics(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	now := from.Add(fitWindow)

	telemetry := store.NewMemoryStore()
	// Inverted gain from the start: the whole training set teaches that
	// heating cools the zone, which the physics check rejects.
	exo := genSeries(t, telemetry, from, int(fitWindow/cadence), from, -trueActuation)

	registry := model.NewRegistry(0.5, nil)
	l := New(testLearnerConfig(), telemetry, exo, registry, []types.ZoneID{"living"}, clock.NewMockClock(now))

	_, err := l.FitAndPublish()
	assert.ErrorIs(t, err, ErrModelFitFailed)
}

func TestNearestSample(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	samples := []types.TelemetrySample{
		{Timestamp: base, Temperature: 1},
		{Timestamp: base.Add(5 * time.Minute), Temperature: 2},
		{Timestamp: base.Add(10 * time.Minute), Temperature: 3},
	}

	got, ok := nearestSample(samples, base.Add(6*time.Minute), cadence)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Temperature, "nearest to +6m should be the +5m sample")

	got, ok = nearestSample(samples, base.Add(8*time.Minute), cadence)
	require.True(t, ok)
	assert.Equal(t, 3.0, got.Temperature, "nearest to +8m should be the +10m sample")

	_, ok = nearestSample(samples, base.Add(time.Hour), cadence)
	assert.False(t, ok, "sample outside tolerance reported as aligned")

	_, ok = nearestSample(nil, base, cadence)
	assert.False(t, ok, "empty series reported a sample")
}
