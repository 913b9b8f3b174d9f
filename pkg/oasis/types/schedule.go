package types

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ScheduleEntry assigns a power level per actuator starting at Offset from
// the schedule start and lasting until the next entry (or the horizon end).
type ScheduleEntry struct {
	Offset time.Duration          `json:"offset"`
	Levels map[ActuatorID]float64 `json:"levels"`
}

// Schedule is an ordered actuation plan over a planning horizon. Produced by
// the planner, consumed by the control loop, discarded once its horizon
// elapses or a replan supersedes it.
type Schedule struct {
	Start   time.Time       `json:"start"`
	Horizon time.Duration   `json:"horizon"`
	Entries []ScheduleEntry `json:"entries"`
}

// Validate checks structural invariants: monotonic non-overlapping offsets
// inside the horizon, and every level within the actuator's physical limits
// (zero is always allowed: the device is off).
func (s *Schedule) Validate(actuators map[ActuatorID]Actuator) error {
	if s.Horizon <= 0 {
		return fmt.Errorf("schedule horizon must be positive")
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("schedule has no entries")
	}
	prev := time.Duration(-1)
	for i, e := range s.Entries {
		if e.Offset < 0 || e.Offset >= s.Horizon {
			return fmt.Errorf("entry %d offset %v outside horizon %v", i, e.Offset, s.Horizon)
		}
		if e.Offset <= prev {
			return fmt.Errorf("entry %d offset %v not after previous %v", i, e.Offset, prev)
		}
		prev = e.Offset
		for id, level := range e.Levels {
			a, ok := actuators[id]
			if !ok {
				return fmt.Errorf("entry %d references unknown actuator %s", i, id)
			}
			if level == 0 {
				continue
			}
			if level < a.MinPower || level > a.MaxPower {
				return fmt.Errorf("entry %d actuator %s level %.1f outside [%.1f, %.1f]",
					i, id, level, a.MinPower, a.MaxPower)
			}
		}
	}
	return nil
}

// CheckDwell verifies the minimum on/off dwell time per actuator: once a
// device switches between off and running it must hold that state for the
// actuator's MinDwell before switching again.
func (s *Schedule) CheckDwell(actuators map[ActuatorID]Actuator) error {
	for id, a := range actuators {
		if a.MinDwell == 0 {
			continue
		}
		lastSwitch := time.Duration(0)
		lastOn := s.levelAt(0, id) > 0
		for _, e := range s.Entries[1:] {
			on := e.Levels[id] > 0
			if on != lastOn {
				if e.Offset-lastSwitch < a.MinDwell {
					return fmt.Errorf("actuator %s switches at %v after only %v (min dwell %v)",
						id, e.Offset, e.Offset-lastSwitch, a.MinDwell)
				}
				lastSwitch = e.Offset
				lastOn = on
			}
		}
	}
	return nil
}

// LevelsAt returns the power levels in effect at the given offset. Offsets
// before the first entry resolve to the first entry; offsets past the
// horizon resolve to the last.
func (s *Schedule) LevelsAt(offset time.Duration) map[ActuatorID]float64 {
	idx := sort.Search(len(s.Entries), func(i int) bool {
		return s.Entries[i].Offset > offset
	})
	if idx > 0 {
		idx--
	}
	return s.Entries[idx].Levels
}

func (s *Schedule) levelAt(offset time.Duration, id ActuatorID) float64 {
	return s.LevelsAt(offset)[id]
}

// Distance is the mean absolute power difference between two schedules,
// sampled at the given resolution over this schedule's horizon. Used as the
// planner tie-break: prefer the candidate closer to the previously applied
// schedule to minimize actuator churn.
func (s *Schedule) Distance(other *Schedule, resolution time.Duration) float64 {
	if other == nil || len(other.Entries) == 0 {
		return math.Inf(1)
	}
	var sum float64
	var n int
	for off := time.Duration(0); off < s.Horizon; off += resolution {
		a := s.LevelsAt(off)
		b := other.LevelsAt(off)
		for id, la := range a {
			sum += math.Abs(la - b[id])
			n++
		}
		for id, lb := range b {
			if _, ok := a[id]; !ok {
				sum += math.Abs(lb)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Clone returns a deep copy. Candidate mutation during planning must never
// alias the seed schedule's level maps.
func (s *Schedule) Clone() *Schedule {
	out := &Schedule{Start: s.Start, Horizon: s.Horizon, Entries: make([]ScheduleEntry, len(s.Entries))}
	for i, e := range s.Entries {
		levels := make(map[ActuatorID]float64, len(e.Levels))
		for id, l := range e.Levels {
			levels[id] = l
		}
		out.Entries[i] = ScheduleEntry{Offset: e.Offset, Levels: levels}
	}
	return out
}
