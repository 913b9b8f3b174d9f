// Package planner searches actuation schedules over a receding horizon,
// minimizing energy cost plus comfort penalty subject to hard actuator
// constraints.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/sim"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// ErrNoFeasibleSchedule means no candidate satisfied the hard constraints
// within the search budget. The control loop falls back to reactive mode.
var ErrNoFeasibleSchedule = errors.New("no feasible schedule found within budget")

// Config tunes the schedule search.
type Config struct {
	Horizon       time.Duration // planning horizon
	Resolution    time.Duration // schedule entry spacing
	Budget        time.Duration // wall-clock search budget
	Workers       int           // concurrent candidate evaluators
	Candidates    int           // sampled candidates per cycle
	ComfortWeight float64       // $ per °C²·hour of band violation
	Seed          int64         // rng seed for candidate sampling
}

// ActuatorState is an actuator's last applied level and the time of its most
// recent on/off transition.
type ActuatorState struct {
	Level    float64
	SwitchAt time.Time
}

// Request is one planning invocation.
type Request struct {
	Model     *model.Model
	Initial   []float64 // state vector indexed by Model.Zones()
	Start     time.Time
	Forecast  []types.ForecastSample
	Occupancy map[types.ZoneID]float64
	Previous  *types.Schedule // last applied schedule, for tie-break and zero-budget reuse

	// Current anchors dwell protection across replans: a device that
	// switched moments before this request must not be flipped back by the
	// new schedule's first entry.
	Current map[types.ActuatorID]ActuatorState
}

// Result is the selected schedule with its predicted trajectory and
// objective breakdown.
type Result struct {
	Schedule       *types.Schedule
	Trajectory     *sim.Trajectory
	Objective      float64
	EnergyCost     float64
	ComfortPenalty float64
	Evaluated      int
}

// Planner finds schedules by seeded sampling plus refinement, evaluating
// candidates in parallel through the simulator. Evaluation shares no
// mutable state, so workers need no locks beyond result collection.
type Planner struct {
	cfg       Config
	sim       *sim.Simulator
	actuators map[types.ActuatorID]types.Actuator
	comfort   map[types.ZoneID]*types.ComfortSchedule
}

// New creates a planner.
func New(cfg Config, simulator *sim.Simulator, actuators map[types.ActuatorID]types.Actuator, comfort map[types.ZoneID]*types.ComfortSchedule) (*Planner, error) {
	if cfg.Horizon <= 0 || cfg.Resolution <= 0 || cfg.Horizon < cfg.Resolution {
		return nil, fmt.Errorf("invalid horizon %v / resolution %v", cfg.Horizon, cfg.Resolution)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Candidates < 1 {
		cfg.Candidates = 32
	}
	return &Planner{cfg: cfg, sim: simulator, actuators: actuators, comfort: comfort}, nil
}

type evaluation struct {
	index    int
	schedule *types.Schedule
	traj     *sim.Trajectory
	obj      float64
	energy   float64
	comfort  float64
}

// Plan searches for the best feasible schedule within the budget. With no
// budget remaining it returns the previous schedule unchanged; if the
// search completes with zero feasible candidates it returns
// ErrNoFeasibleSchedule.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	if p.cfg.Budget <= 0 {
		return p.reusePrevious(req)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	candidates := p.generateCandidates(req)

	feasible := candidates[:0]
	for _, c := range candidates {
		if err := c.Validate(p.actuators); err != nil {
			continue
		}
		if err := c.CheckDwell(p.actuators); err != nil {
			continue
		}
		feasible = append(feasible, c)
	}
	if len(feasible) == 0 {
		return nil, ErrNoFeasibleSchedule
	}

	evals := p.evaluate(ctx, req, feasible)
	if len(evals) == 0 {
		// Budget expired before any evaluation finished.
		if res, err := p.reusePrevious(req); err == nil {
			return res, nil
		}
		return nil, ErrNoFeasibleSchedule
	}

	best := selectBest(evals, req.Previous, p.cfg.Resolution)
	klog.V(3).InfoS("Planning complete",
		"candidates", len(candidates),
		"feasible", len(feasible),
		"evaluated", len(evals),
		"objective", best.obj,
		"energyCost", best.energy,
		"comfortPenalty", best.comfort)

	return &Result{
		Schedule:       best.schedule,
		Trajectory:     best.traj,
		Objective:      best.obj,
		EnergyCost:     best.energy,
		ComfortPenalty: best.comfort,
		Evaluated:      len(evals),
	}, nil
}

// reusePrevious returns the last applied schedule unchanged, the graceful
// degradation path when no search time remains.
func (p *Planner) reusePrevious(req Request) (*Result, error) {
	if req.Previous == nil {
		return nil, ErrNoFeasibleSchedule
	}
	klog.V(2).InfoS("No search budget remaining, reusing previous schedule")
	return &Result{Schedule: req.Previous}, nil
}

// evaluate runs candidates through the simulator on a bounded worker pool.
// Cancellation at the budget deadline keeps whatever completed; partial
// results are retained, never discarded.
func (p *Planner) evaluate(ctx context.Context, req Request, candidates []*types.Schedule) []evaluation {
	jobs := make(chan int)
	results := make(chan evaluation, len(candidates))
	var wg sync.WaitGroup

	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				traj, err := p.sim.Run(req.Model, req.Initial, candidates[idx], req.Forecast, req.Occupancy)
				if err != nil {
					klog.V(4).InfoS("Candidate simulation failed", "candidate", idx, "error", err)
					continue
				}
				penalty := p.comfortPenalty(traj)
				results <- evaluation{
					index:    idx,
					schedule: candidates[idx],
					traj:     traj,
					obj:      traj.Cost + penalty,
					energy:   traj.Cost,
					comfort:  penalty,
				}
			}
		}()
	}

dispatch:
	for i := range candidates {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	evals := make([]evaluation, 0, len(candidates))
	for ev := range results {
		evals = append(evals, ev)
	}
	// Stable order so selection is deterministic regardless of worker
	// completion order.
	sort.Slice(evals, func(i, j int) bool { return evals[i].index < evals[j].index })
	return evals
}

// comfortPenalty integrates squared band violation over the trajectory.
// Zero inside the band, growing with both magnitude and duration outside.
func (p *Planner) comfortPenalty(traj *sim.Trajectory) float64 {
	stepHours := traj.Step.Hours()
	var penalty float64
	for si, state := range traj.States {
		at := traj.Start.Add(time.Duration(si) * traj.Step)
		for zi, z := range traj.Zones {
			cs, ok := p.comfort[z]
			if !ok {
				continue
			}
			band := cs.BandAt(at)
			var violation float64
			if state[zi] < band.Min {
				violation = band.Min - state[zi]
			} else if state[zi] > band.Max {
				violation = state[zi] - band.Max
			}
			penalty += p.cfg.ComfortWeight * violation * violation * stepHours
		}
	}
	return penalty
}

// selectBest picks the lowest objective; near-ties (within 1e-6) prefer the
// schedule closest to the previously applied one to minimize actuator
// churn, then the lowest candidate index for determinism.
func selectBest(evals []evaluation, previous *types.Schedule, resolution time.Duration) evaluation {
	best := evals[0]
	bestDist := distanceTo(best.schedule, previous, resolution)
	for _, ev := range evals[1:] {
		switch {
		case ev.obj < best.obj-1e-6:
			best = ev
			bestDist = distanceTo(ev.schedule, previous, resolution)
		case math.Abs(ev.obj-best.obj) <= 1e-6:
			if d := distanceTo(ev.schedule, previous, resolution); d < bestDist {
				best = ev
				bestDist = d
			}
		}
	}
	return best
}

func distanceTo(s, previous *types.Schedule, resolution time.Duration) float64 {
	if previous == nil {
		return 0
	}
	return s.Distance(previous, resolution)
}
