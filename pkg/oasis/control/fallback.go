package control

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/adapter"
	"github.com/mircotaddei/oasis-core/pkg/oasis/metrics"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

type fallbackMode string

const (
	fbOff  fallbackMode = "OFF"
	fbHeat fallbackMode = "HEAT"
	fbCool fallbackMode = "COOL"
)

// enterFallback switches to reactive bang-bang control around the comfort
// bounds, using only live sensor readings. This is the system's safety net:
// it needs neither a model nor an optimizer and every error path lands
// here. The loop keeps re-checking model and planner each cycle, so a
// restored twin lifts the home back to predictive control automatically.
func (l *Loop) enterFallback(ctx context.Context, now time.Time, latest map[types.ZoneID]types.TelemetrySample, reason string) {
	l.mu.Lock()
	entering := !l.inFallback
	l.inFallback = true
	if l.schedule != nil {
		l.lastSchedule = l.schedule
	}
	l.schedule = nil
	l.traj = nil
	l.mu.Unlock()

	if entering {
		klog.V(1).InfoS("Entering fallback control", "reason", reason)
		metrics.FallbackTransitions.Inc()
	}
	l.setState(StateFallback)

	cmds := l.fallbackCommands(now, latest)
	if len(cmds) == 0 {
		return
	}
	if err := l.bridge.Apply(ctx, cmds); err != nil {
		metrics.CommandsRejected.Inc()
		klog.V(2).InfoS("Fallback command rejected, retrying next cycle", "error", err)
		return
	}
	l.recordApplied(cmds, now)
}

// fallbackCommands computes bang-bang levels per zone: full heat below the
// comfort minimum, full cool above the maximum, and hold the running mode
// until the reading clears the bound by the hysteresis margin. Zones with
// no live reading get no commands at all.
func (l *Loop) fallbackCommands(now time.Time, latest map[types.ZoneID]types.TelemetrySample) []adapter.Command {
	var cmds []adapter.Command
	for _, z := range l.zones {
		sample, ok := latest[z.ID]
		if !ok {
			continue
		}
		band := types.ComfortBand{Min: 18, Max: 26}
		if cs, ok := l.comfort[z.ID]; ok {
			band = cs.BandAt(now)
		}

		l.mu.Lock()
		mode := l.fbModes[z.ID]
		l.mu.Unlock()

		temp := sample.Temperature
		switch {
		case temp < band.Min:
			mode = fbHeat
		case temp > band.Max:
			mode = fbCool
		case mode == fbHeat && temp >= band.Min+l.cfg.Hysteresis:
			mode = fbOff
		case mode == fbCool && temp <= band.Max-l.cfg.Hysteresis:
			mode = fbOff
		}

		l.mu.Lock()
		l.fbModes[z.ID] = mode
		l.mu.Unlock()

		for _, id := range z.Actuators {
			a, ok := l.actuators[id]
			if !ok {
				continue
			}
			level := 0.0
			if (mode == fbHeat && a.Heating) || (mode == fbCool && !a.Heating) {
				level = a.MaxPower
			}
			cmds = append(cmds, adapter.Command{Actuator: id, Level: level})
		}

		klog.V(3).InfoS("Fallback zone decision",
			"zone", z.ID,
			"temperature", temp,
			"bandMin", band.Min,
			"bandMax", band.Max,
			"mode", mode)
	}
	return cmds
}
