// Package sim forward-integrates a thermal model under a candidate schedule
// and weather forecast. Simulation is a pure function of its inputs, which
// the planner relies on for determinism and safe parallel evaluation.
package sim

import (
	"fmt"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/pricing"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// Trajectory is the predicted evolution of zone temperatures over a
// schedule's horizon, plus the energy the schedule consumes.
type Trajectory struct {
	Start  time.Time
	Step   time.Duration
	Zones  []types.ZoneID
	States [][]float64 // one state vector per step, indexed by Zones
	Energy float64     // electrical kWh over the horizon
	Cost   float64     // $ at time-of-use rates (kWh when no rates configured)
}

// At returns the state vector at the given step index.
func (t *Trajectory) At(step int) []float64 {
	return t.States[step]
}

// Final returns the last state vector.
func (t *Trajectory) Final() []float64 {
	return t.States[len(t.States)-1]
}

// Simulator integrates model dynamics with a fixed small step, independent
// of the control cadence. The step is chosen so integration error is
// negligible next to model uncertainty (verified by halving-step comparison
// in tests, not at runtime).
type Simulator struct {
	step      time.Duration
	actuators map[types.ActuatorID]types.Actuator
	rates     *pricing.Scheduler
}

// New creates a simulator. rates may be nil, in which case cost equals kWh.
func New(step time.Duration, actuators map[types.ActuatorID]types.Actuator, rates *pricing.Scheduler) (*Simulator, error) {
	if step <= 0 {
		return nil, fmt.Errorf("integration step must be positive")
	}
	if rates == nil {
		rates = pricing.New(nil)
	}
	return &Simulator{step: step, actuators: actuators, rates: rates}, nil
}

// Step returns the integration step.
func (s *Simulator) Step() time.Duration { return s.step }

// Run integrates the model from initial state under the schedule and
// forecast, producing one state per integration step plus accumulated
// energy. forecastSamples must be ordered by target time and span the
// horizon; exogenous inputs are held constant within each step.
func (s *Simulator) Run(m *model.Model, initial []float64, schedule *types.Schedule, forecastSamples []types.ForecastSample, occupancy map[types.ZoneID]float64) (*Trajectory, error) {
	zones := m.Zones()
	if len(initial) != len(zones) {
		return nil, fmt.Errorf("initial state has %d zones, model has %d", len(initial), len(zones))
	}
	if len(forecastSamples) == 0 {
		return nil, fmt.Errorf("no forecast samples spanning horizon")
	}

	steps := int(schedule.Horizon / s.step)
	if steps < 1 {
		return nil, fmt.Errorf("horizon %v shorter than integration step %v", schedule.Horizon, s.step)
	}

	traj := &Trajectory{
		Start:  schedule.Start,
		Step:   s.step,
		Zones:  zones,
		States: make([][]float64, 0, steps+1),
	}

	state := append([]float64(nil), initial...)
	traj.States = append(traj.States, append([]float64(nil), state...))

	dt := s.step.Seconds()
	stepHours := dt / 3600
	fcIdx := 0

	for i := 0; i < steps; i++ {
		offset := time.Duration(i) * s.step
		now := schedule.Start.Add(offset)

		// Advance to the forecast sample closest to now. The switch boundary
		// is the midpoint between consecutive targets, computed from the
		// targets themselves so where the exogenous input jumps does not
		// depend on the integration step.
		for fcIdx+1 < len(forecastSamples) {
			mid := forecastSamples[fcIdx].Target.Add(
				forecastSamples[fcIdx+1].Target.Sub(forecastSamples[fcIdx].Target) / 2)
			if now.Before(mid) {
				break
			}
			fcIdx++
		}
		fc := forecastSamples[fcIdx]
		exo := types.Exogenous{
			OutdoorTemp:     fc.OutdoorTemp,
			SolarIrradiance: fc.SolarIrradiance,
			WindSpeed:       fc.WindSpeed,
			Occupancy:       occupancy,
		}

		levels := schedule.LevelsAt(offset)
		actuation, electricalW := s.actuationVector(m, levels)

		state = rk4(m, state, actuation, exo, dt)
		traj.States = append(traj.States, append([]float64(nil), state...))

		kwh := electricalW / 1000 * stepHours
		traj.Energy += kwh
		traj.Cost += kwh * s.rates.RateAt(now)
	}

	return traj, nil
}

// actuationVector folds per-actuator power levels into the per-zone signed
// thermal kW vector the model expects, and totals electrical draw in watts.
func (s *Simulator) actuationVector(m *model.Model, levels map[types.ActuatorID]float64) ([]float64, float64) {
	actuation := make([]float64, len(m.Zones()))
	var electricalW float64
	for _, a := range s.sortedActuators() {
		level := levels[a.ID]
		if level == 0 {
			continue
		}
		if idx, ok := m.ZoneIndex(a.Zone); ok {
			actuation[idx] += a.Sign() * level / 1000
		}
		electricalW += level
	}
	return actuation, electricalW
}

// sortedActuators returns actuators in a stable order so floating-point
// accumulation is reproducible across runs.
func (s *Simulator) sortedActuators() []types.Actuator {
	out := make([]types.Actuator, 0, len(s.actuators))
	for _, a := range s.actuators {
		out = append(out, a)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// rk4 advances the state one step with classical Runge-Kutta. Exogenous
// inputs and actuation are held constant over the step.
func rk4(m *model.Model, state, actuation []float64, exo types.Exogenous, dt float64) []float64 {
	k1 := m.Derivative(state, actuation, exo)
	k2 := m.Derivative(axpy(state, k1, dt/2), actuation, exo)
	k3 := m.Derivative(axpy(state, k2, dt/2), actuation, exo)
	k4 := m.Derivative(axpy(state, k3, dt), actuation, exo)

	next := make([]float64, len(state))
	for i := range state {
		next[i] = state[i] + dt/6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
	}
	return next
}

func axpy(x, d []float64, h float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] + h*d[i]
	}
	return out
}
