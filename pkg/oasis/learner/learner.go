// Package learner fits new thermal model versions from telemetry history.
// It runs on its own cadence, decoupled from the control loop, and only
// touches shared state through the registry's atomic publish.
package learner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/clock"
	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/store"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

var (
	// ErrInsufficientData means the fitting window was too sparse. The fit
	// cycle is skipped; the incumbent model stays active.
	ErrInsufficientData = errors.New("insufficient telemetry for fitting")

	// ErrModelFitFailed means the fit did not converge or produced
	// physically implausible parameters. The attempt is discarded.
	ErrModelFitFailed = errors.New("model fit failed")

	// ErrDriftGuarded means the candidate validated worse than the incumbent
	// by more than the regression margin and was not published.
	ErrDriftGuarded = errors.New("candidate model rejected by drift guard")
)

// ExogenousSource resolves outdoor conditions at a past instant. The
// forecast store satisfies this: for elapsed targets the latest issued
// forecast is the best available observation.
type ExogenousSource interface {
	At(t time.Time) (types.ForecastSample, bool)
}

// Config tunes the fitting procedure.
type Config struct {
	Window           time.Duration // telemetry span per fit
	HoldoutFraction  float64       // tail fraction held out for validation
	MinDensity       float64       // required fraction of expected samples
	SampleCadence    time.Duration // nominal sensor reporting period
	RegressionMargin float64       // drift guard: max allowed confidence drop
	Interval         time.Duration // fit cadence
	MaxExogenousAge  time.Duration // max |forecast target - sample time| per row
}

// Learner produces new thermal model versions.
type Learner struct {
	cfg       Config
	telemetry store.TelemetryStore
	exogenous ExogenousSource
	registry  *model.Registry
	zones     []types.ZoneID
	clock     clock.Clock
}

// New creates a learner for the given zones.
func New(cfg Config, telemetry store.TelemetryStore, exogenous ExogenousSource, registry *model.Registry, zones []types.ZoneID, clk clock.Clock) *Learner {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.MaxExogenousAge <= 0 {
		cfg.MaxExogenousAge = 90 * time.Minute
	}
	sorted := append([]types.ZoneID(nil), zones...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &Learner{
		cfg:       cfg,
		telemetry: telemetry,
		exogenous: exogenous,
		registry:  registry,
		zones:     sorted,
		clock:     clk,
	}
}

// Run refits on the configured cadence until the context is cancelled.
// Every failure mode here is recoverable: the error is logged and the
// incumbent model stays active.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			klog.V(2).InfoS("Learner exiting")
			return
		case <-ticker.C:
			if _, err := l.FitAndPublish(); err != nil {
				klog.V(2).InfoS("Fit cycle skipped", "error", err)
			}
		}
	}
}

// FitAndPublish fits a candidate from the trailing telemetry window,
// validates it on a holdout tail, applies the drift guard, and publishes it
// atomically. Returns the published model or a sentinel error.
func (l *Learner) FitAndPublish() (*model.Model, error) {
	now := l.clock.Now()
	from := now.Add(-l.cfg.Window)

	series := make(map[types.ZoneID][]types.TelemetrySample, len(l.zones))
	for _, z := range l.zones {
		samples, err := l.telemetry.Window(z, from, now)
		if err != nil {
			return nil, fmt.Errorf("reading telemetry for zone %s: %w", z, err)
		}
		if store.Density(samples, from, now, l.cfg.SampleCadence) < l.cfg.MinDensity {
			return nil, fmt.Errorf("zone %s: %w", z, ErrInsufficientData)
		}
		// A single long outage can pass the density gate while leaving one
		// side of the window unusable.
		if gap := store.LargestGap(samples); gap > l.cfg.Window/4 {
			return nil, fmt.Errorf("zone %s: %v sensor gap: %w", z, gap, ErrInsufficientData)
		}
		series[z] = samples
	}

	holdoutStart := now.Add(-time.Duration(float64(l.cfg.Window) * l.cfg.HoldoutFraction))

	params := make(map[types.ZoneID]model.ZoneParams, len(l.zones))
	for _, z := range l.zones {
		p, err := l.fitZone(z, series, holdoutStart)
		if err != nil {
			return nil, err
		}
		params[z] = p
	}

	candidate, err := model.New(l.zones, params, 0, from, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelFitFailed, err)
	}

	rmse, err := l.validate(candidate, series, holdoutStart)
	if err != nil {
		return nil, err
	}
	confidence := 1 / (1 + rmse)

	candidate, err = model.New(l.zones, params, confidence, from, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelFitFailed, err)
	}

	if incumbent := l.registry.Incumbent(); incumbent != nil {
		if confidence < incumbent.Confidence()-l.cfg.RegressionMargin {
			klog.V(2).InfoS("Drift guard rejected candidate",
				"candidateConfidence", confidence,
				"incumbentConfidence", incumbent.Confidence(),
				"margin", l.cfg.RegressionMargin)
			return nil, ErrDriftGuarded
		}
	}

	if err := l.registry.Publish(candidate); err != nil {
		return nil, fmt.Errorf("publishing model: %w", err)
	}
	klog.V(2).InfoS("Fitted and published thermal model",
		"version", candidate.Version(),
		"confidence", confidence,
		"holdoutRMSE", rmse)
	return candidate, nil
}

// fitZone regresses one zone's derivative on [ambient delta, neighbor
// deltas, actuation, solar, occupancy] over the training portion of the
// window.
func (l *Learner) fitZone(z types.ZoneID, series map[types.ZoneID][]types.TelemetrySample, holdoutStart time.Time) (model.ZoneParams, error) {
	neighbors := l.neighborsOf(z)

	var rows [][]float64
	var targets []float64

	samples := series[z]
	for k := 0; k+1 < len(samples); k++ {
		cur, next := samples[k], samples[k+1]
		if !next.Timestamp.Before(holdoutStart) {
			break
		}
		row, dTdt, ok := l.featureRow(z, neighbors, series, cur, next)
		if !ok {
			continue
		}
		rows = append(rows, row)
		targets = append(targets, dTdt)
	}

	if len(rows) < len(neighbors)+4 {
		return model.ZoneParams{}, fmt.Errorf("zone %s: %w", z, ErrInsufficientData)
	}

	coeffs, err := solveLeastSquares(rows, targets)
	if err != nil {
		return model.ZoneParams{}, fmt.Errorf("zone %s: %w: %v", z, ErrModelFitFailed, err)
	}

	p := model.ZoneParams{
		Ambient:   coeffs[0],
		Actuation: coeffs[len(neighbors)+1],
		Solar:     coeffs[len(neighbors)+2],
		Occupancy: coeffs[len(neighbors)+3],
	}
	for i, n := range neighbors {
		p.Couplings = append(p.Couplings, model.Coupling{Zone: n, Gain: coeffs[1+i]})
	}

	if err := checkPlausibility(z, p); err != nil {
		return model.ZoneParams{}, err
	}
	return p, nil
}

// featureRow builds one regression row at cur's timestamp. Rows spanning a
// sensor gap or missing an aligned neighbor sample are skipped.
func (l *Learner) featureRow(z types.ZoneID, neighbors []types.ZoneID, series map[types.ZoneID][]types.TelemetrySample, cur, next types.TelemetrySample) ([]float64, float64, bool) {
	dt := next.Timestamp.Sub(cur.Timestamp).Seconds()
	if dt <= 0 || dt > 3*l.cfg.SampleCadence.Seconds() {
		return nil, 0, false
	}

	// The source returns its closest sample without bounding the distance.
	// A row whose outdoor conditions are hours stale teaches the wrong
	// ambient coupling, so it is dropped rather than used.
	exo, ok := l.exogenous.At(cur.Timestamp)
	if !ok || exogenousAge(exo, cur.Timestamp) > l.cfg.MaxExogenousAge {
		return nil, 0, false
	}

	row := make([]float64, 0, len(neighbors)+4)
	row = append(row, exo.OutdoorTemp-cur.Temperature)
	for _, n := range neighbors {
		ns, ok := nearestSample(series[n], cur.Timestamp, l.cfg.SampleCadence)
		if !ok {
			return nil, 0, false
		}
		row = append(row, ns.Temperature-cur.Temperature)
	}
	row = append(row, cur.Power/1000) // watts → kW
	row = append(row, exo.SolarIrradiance/1000)
	row = append(row, cur.Occupancy)

	return row, (next.Temperature - cur.Temperature) / dt, true
}

// validate computes one-step prediction RMSE (°C) over the holdout tail.
func (l *Learner) validate(m *model.Model, series map[types.ZoneID][]types.TelemetrySample, holdoutStart time.Time) (float64, error) {
	var sumSq float64
	var n int

	for _, z := range l.zones {
		zi, _ := m.ZoneIndex(z)
		neighbors := l.neighborsOf(z)
		samples := series[z]
		for k := 0; k+1 < len(samples); k++ {
			cur, next := samples[k], samples[k+1]
			if cur.Timestamp.Before(holdoutStart) {
				continue
			}
			dt := next.Timestamp.Sub(cur.Timestamp).Seconds()
			if dt <= 0 || dt > 3*l.cfg.SampleCadence.Seconds() {
				continue
			}
			exo, ok := l.exogenous.At(cur.Timestamp)
			if !ok || exogenousAge(exo, cur.Timestamp) > l.cfg.MaxExogenousAge {
				continue
			}

			state := make([]float64, len(m.Zones()))
			actuation := make([]float64, len(m.Zones()))
			state[zi] = cur.Temperature
			actuation[zi] = cur.Power / 1000
			aligned := true
			for _, nz := range neighbors {
				ns, ok := nearestSample(series[nz], cur.Timestamp, l.cfg.SampleCadence)
				if !ok {
					aligned = false
					break
				}
				ni, _ := m.ZoneIndex(nz)
				state[ni] = ns.Temperature
			}
			if !aligned {
				continue
			}

			deriv := m.Derivative(state, actuation, types.Exogenous{
				OutdoorTemp:     exo.OutdoorTemp,
				SolarIrradiance: exo.SolarIrradiance,
				WindSpeed:       exo.WindSpeed,
				Occupancy:       map[types.ZoneID]float64{z: cur.Occupancy},
			})
			predicted := cur.Temperature + deriv[zi]*dt
			residual := predicted - next.Temperature
			sumSq += residual * residual
			n++
		}
	}

	if n == 0 {
		return 0, fmt.Errorf("holdout window empty: %w", ErrInsufficientData)
	}
	return math.Sqrt(sumSq / float64(n)), nil
}

func (l *Learner) neighborsOf(z types.ZoneID) []types.ZoneID {
	out := make([]types.ZoneID, 0, len(l.zones)-1)
	for _, other := range l.zones {
		if other != z {
			out = append(out, other)
		}
	}
	return out
}

// checkPlausibility rejects parameters that violate physics: heat must flow
// toward warmer inputs (non-negative couplings and ambient conductance,
// equivalent to positive thermal capacitance) and actuation must push
// temperature in its commanded direction.
func checkPlausibility(z types.ZoneID, p model.ZoneParams) error {
	if p.Ambient <= 0 {
		return fmt.Errorf("zone %s: non-positive ambient coupling %.3g: %w", z, p.Ambient, ErrModelFitFailed)
	}
	if p.Actuation <= 0 {
		return fmt.Errorf("zone %s: non-positive actuation gain %.3g: %w", z, p.Actuation, ErrModelFitFailed)
	}
	for _, c := range p.Couplings {
		if c.Gain < 0 {
			return fmt.Errorf("zone %s: negative coupling to %s: %w", z, c.Zone, ErrModelFitFailed)
		}
	}
	return nil
}

func exogenousAge(s types.ForecastSample, t time.Time) time.Duration {
	age := s.Target.Sub(t)
	if age < 0 {
		age = -age
	}
	return age
}

func nearestSample(samples []types.TelemetrySample, t time.Time, tolerance time.Duration) (types.TelemetrySample, bool) {
	idx := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Timestamp.Before(t)
	})
	best := types.TelemetrySample{}
	bestDiff := tolerance + 1
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(samples) {
			continue
		}
		diff := samples[i].Timestamp.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = samples[i]
		}
	}
	return best, bestDiff <= tolerance
}
