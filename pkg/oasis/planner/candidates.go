package planner

import (
	"math/rand"
	"sort"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// generateCandidates builds the search population: deterministic seeds
// (all-off, sustained levels, the rebased previous schedule) plus random
// perturbations of those seeds. The rng is seeded from config and the
// request start time, so a given planning instant samples reproducibly.
func (p *Planner) generateCandidates(req Request) []*types.Schedule {
	offsets := p.entryOffsets()
	quanta := p.levelQuanta()

	var seeds []*types.Schedule
	seeds = append(seeds, p.constantSchedule(req.Start, offsets, func(types.ActuatorID) float64 { return 0 }))
	for _, frac := range []float64{0.33, 0.66, 1.0} {
		f := frac
		seeds = append(seeds, p.constantSchedule(req.Start, offsets, func(id types.ActuatorID) float64 {
			a := p.actuators[id]
			return quantize(a.MinPower+f*(a.MaxPower-a.MinPower), quanta[id])
		}))
	}
	if req.Previous != nil {
		seeds = append(seeds, p.rebase(req.Previous, req.Start, offsets))
	}

	rng := rand.New(rand.NewSource(p.cfg.Seed ^ req.Start.UnixNano()))
	candidates := append([]*types.Schedule(nil), seeds...)
	for len(candidates) < p.cfg.Candidates {
		seed := seeds[rng.Intn(len(seeds))]
		candidates = append(candidates, p.mutate(rng, seed, quanta))
	}

	for _, c := range candidates {
		p.repairDwell(c, req.Current)
	}
	return candidates
}

func (p *Planner) entryOffsets() []time.Duration {
	n := int(p.cfg.Horizon / p.cfg.Resolution)
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = time.Duration(i) * p.cfg.Resolution
	}
	return offsets
}

// levelQuanta gives each actuator a discrete level set {0, min, mid, max}.
// Coarse quantization keeps the candidate space searchable within budget.
func (p *Planner) levelQuanta() map[types.ActuatorID][]float64 {
	quanta := make(map[types.ActuatorID][]float64, len(p.actuators))
	for id, a := range p.actuators {
		quanta[id] = []float64{0, a.MinPower, (a.MinPower + a.MaxPower) / 2, a.MaxPower}
	}
	return quanta
}

func (p *Planner) constantSchedule(start time.Time, offsets []time.Duration, level func(types.ActuatorID) float64) *types.Schedule {
	s := &types.Schedule{Start: start, Horizon: p.cfg.Horizon}
	for _, off := range offsets {
		levels := make(map[types.ActuatorID]float64, len(p.actuators))
		for id := range p.actuators {
			levels[id] = level(id)
		}
		s.Entries = append(s.Entries, types.ScheduleEntry{Offset: off, Levels: levels})
	}
	return s
}

// rebase projects the previous schedule onto the new start time, clamping
// levels to current limits. The portion that has already elapsed falls off
// the front; the tail is padded with the last levels.
func (p *Planner) rebase(previous *types.Schedule, start time.Time, offsets []time.Duration) *types.Schedule {
	shift := start.Sub(previous.Start)
	s := &types.Schedule{Start: start, Horizon: p.cfg.Horizon}
	for _, off := range offsets {
		src := previous.LevelsAt(off + shift)
		levels := make(map[types.ActuatorID]float64, len(p.actuators))
		for id, a := range p.actuators {
			levels[id] = clampLevel(src[id], a)
		}
		s.Entries = append(s.Entries, types.ScheduleEntry{Offset: off, Levels: levels})
	}
	return s
}

// mutate flips a few entries of a seed to other quantized levels. Actuators
// are visited in a fixed order so the rng stream maps to the same decisions
// on every run.
func (p *Planner) mutate(rng *rand.Rand, seed *types.Schedule, quanta map[types.ActuatorID][]float64) *types.Schedule {
	c := seed.Clone()
	ids := p.sortedIDs()
	for _, e := range c.Entries {
		for _, id := range ids {
			if rng.Float64() < 0.2 {
				q := quanta[id]
				e.Levels[id] = q[rng.Intn(len(q))]
			}
		}
	}
	return c
}

func (p *Planner) sortedIDs() []types.ActuatorID {
	ids := make([]types.ActuatorID, 0, len(p.actuators))
	for id := range p.actuators {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// repairDwell enforces minimum on/off dwell by construction: a switch that
// would occur before the actuator's dwell elapses is suppressed by holding
// the prior level. Keeps sampled candidates inside the feasible set instead
// of discarding most of them. The last applied state anchors the first
// entry, so dwell also holds across the replan boundary.
func (p *Planner) repairDwell(s *types.Schedule, current map[types.ActuatorID]ActuatorState) {
	for id, a := range p.actuators {
		if a.MinDwell == 0 {
			continue
		}
		if st, ok := current[id]; ok {
			held := s.Start.Sub(st.SwitchAt)
			if held < a.MinDwell && (s.Entries[0].Levels[id] > 0) != (st.Level > 0) {
				s.Entries[0].Levels[id] = clampLevel(st.Level, a)
			}
		}
		lastSwitch := time.Duration(0)
		lastLevel := s.Entries[0].Levels[id]
		for _, e := range s.Entries[1:] {
			on, wasOn := e.Levels[id] > 0, lastLevel > 0
			if on != wasOn && e.Offset-lastSwitch < a.MinDwell {
				e.Levels[id] = lastLevel
				continue
			}
			if on != wasOn {
				lastSwitch = e.Offset
			}
			lastLevel = e.Levels[id]
		}
	}
}

func clampLevel(level float64, a types.Actuator) float64 {
	if level == 0 {
		return 0
	}
	if level < a.MinPower {
		return a.MinPower
	}
	if level > a.MaxPower {
		return a.MaxPower
	}
	return level
}

func quantize(level float64, quanta []float64) float64 {
	best := quanta[0]
	for _, q := range quanta[1:] {
		if diff(level, q) < diff(level, best) {
			best = q
		}
	}
	return best
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
