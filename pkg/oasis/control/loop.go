// Package control runs the periodic control cycle: monitor, plan, execute,
// with reactive fallback as the safety net.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/adapter"
	"github.com/mircotaddei/oasis-core/pkg/oasis/clock"
	"github.com/mircotaddei/oasis-core/pkg/oasis/forecast"
	"github.com/mircotaddei/oasis-core/pkg/oasis/metrics"
	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/planner"
	"github.com/mircotaddei/oasis-core/pkg/oasis/sim"
	"github.com/mircotaddei/oasis-core/pkg/oasis/store"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// State is the control loop's current phase.
type State string

const (
	StateIdle       State = "Idle"
	StatePlanning   State = "Planning"
	StateExecuting  State = "Executing"
	StateMonitoring State = "Monitoring"
	StateReplanning State = "Replanning"
	StateFallback   State = "Fallback"
)

// Config tunes the control cadence and its replan/fallback triggers.
type Config struct {
	CyclePeriod        time.Duration
	PlanningHorizon    time.Duration
	ErrorThreshold     float64       // mean °C error over the window that forces a replan
	ErrorWindow        int           // cycles in the sliding prediction-error window
	SensorGapThreshold time.Duration // stale-reading age that forces fallback
	Hysteresis         float64       // °C around comfort bounds in fallback bang-bang
}

// Loop is the control state machine. One instance per home.
type Loop struct {
	cfg       Config
	telemetry store.TelemetryStore
	forecasts *forecast.Store
	registry  *model.Registry
	planner   *planner.Planner
	bridge    adapter.Adapter
	clock     clock.Clock
	zones     []types.Zone
	actuators map[types.ActuatorID]types.Actuator
	comfort   map[types.ZoneID]*types.ComfortSchedule

	mu           sync.Mutex
	state        State
	schedule     *types.Schedule
	lastSchedule *types.Schedule // retired schedule kept as churn reference for the next plan
	traj         *sim.Trajectory
	actState     map[types.ActuatorID]planner.ActuatorState
	errWindows   map[types.ZoneID][]float64
	fbModes      map[types.ZoneID]fallbackMode
	inFallback   bool
	forceReplan  string
}

// NewLoop wires a control loop.
func NewLoop(cfg Config, telemetry store.TelemetryStore, forecasts *forecast.Store, registry *model.Registry, p *planner.Planner, bridge adapter.Adapter, clk clock.Clock, zones []types.Zone, actuators map[types.ActuatorID]types.Actuator, comfort map[types.ZoneID]*types.ComfortSchedule) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Loop{
		cfg:        cfg,
		telemetry:  telemetry,
		forecasts:  forecasts,
		registry:   registry,
		planner:    p,
		bridge:     bridge,
		clock:      clk,
		zones:      zones,
		actuators:  actuators,
		comfort:    comfort,
		state:      StateIdle,
		actState:   make(map[types.ActuatorID]planner.ActuatorState),
		errWindows: make(map[types.ZoneID][]float64),
		fbModes:    make(map[types.ZoneID]fallbackMode),
	}
}

// State returns the loop's current phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ActiveSchedule returns the schedule currently being executed, if any.
func (l *Loop) ActiveSchedule() *types.Schedule {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.schedule
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	if l.state != s {
		klog.V(3).InfoS("Control state transition", "from", l.state, "to", s)
	}
	l.state = s
	l.mu.Unlock()
}

// Run drives cycles on the configured period until the context is
// cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CyclePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			klog.V(2).InfoS("Control loop exiting")
			return
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle executes one control cycle. Exposed for tests driving a mock
// clock.
func (l *Loop) RunCycle(ctx context.Context) {
	now := l.clock.Now()
	latest := l.readLatest()

	if stale := l.staleZones(latest, now); len(stale) > 0 {
		l.enterFallback(ctx, now, latest, fmt.Sprintf("sensor gap in zones %v", stale))
		return
	}

	m, ok := l.registry.Active()
	if !ok {
		l.enterFallback(ctx, now, latest, "no valid thermal model")
		return
	}
	metrics.ModelConfidence.Set(m.Confidence())

	l.setState(StateMonitoring)
	l.monitor(now, latest)

	reason := l.replanReason(now)
	if reason != "" {
		if l.schedule == nil {
			l.setState(StatePlanning)
		} else {
			l.setState(StateReplanning)
		}
		l.plan(ctx, m, now, latest, reason)
	}

	l.mu.Lock()
	hasSchedule := l.schedule != nil
	l.mu.Unlock()
	if !hasSchedule {
		l.enterFallback(ctx, now, latest, "no feasible schedule")
		return
	}

	l.mu.Lock()
	l.inFallback = false
	l.mu.Unlock()

	l.setState(StateExecuting)
	l.execute(ctx, now)
	l.setState(StateIdle)
}

// readLatest pulls the freshest sample per zone and publishes temperature
// metrics.
func (l *Loop) readLatest() map[types.ZoneID]types.TelemetrySample {
	latest := make(map[types.ZoneID]types.TelemetrySample, len(l.zones))
	for _, z := range l.zones {
		sample, ok, err := l.telemetry.Latest(z.ID)
		if err != nil {
			klog.V(2).InfoS("Failed to read latest sample", "zone", z.ID, "error", err)
			continue
		}
		if ok {
			latest[z.ID] = sample
			metrics.ZoneTemperature.WithLabelValues(string(z.ID)).Set(sample.Temperature)
		}
	}
	return latest
}

// staleZones returns zones whose latest reading is missing or older than
// the sensor-gap threshold.
func (l *Loop) staleZones(latest map[types.ZoneID]types.TelemetrySample, now time.Time) []types.ZoneID {
	var stale []types.ZoneID
	for _, z := range l.zones {
		sample, ok := latest[z.ID]
		if !ok || now.Sub(sample.Timestamp) > l.cfg.SensorGapThreshold {
			stale = append(stale, z.ID)
		}
	}
	return stale
}

// monitor compares realized telemetry against the trajectory predicted when
// the schedule was planned, feeding the sliding prediction-error window.
func (l *Loop) monitor(now time.Time, latest map[types.ZoneID]types.TelemetrySample) {
	l.mu.Lock()
	traj := l.traj
	l.mu.Unlock()
	if traj == nil {
		return
	}

	elapsed := now.Sub(traj.Start)
	if elapsed < 0 {
		return
	}
	idx := int(elapsed / traj.Step)
	if idx >= len(traj.States) {
		idx = len(traj.States) - 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	predicted := traj.At(idx)
	for zi, z := range traj.Zones {
		sample, ok := latest[z]
		if !ok {
			continue
		}
		err := math.Abs(sample.Temperature - predicted[zi])
		metrics.PredictionError.WithLabelValues(string(z)).Set(err)

		window := append(l.errWindows[z], err)
		if len(window) > l.cfg.ErrorWindow {
			window = window[len(window)-l.cfg.ErrorWindow:]
		}
		l.errWindows[z] = window
	}
}

// replanReason decides whether this cycle should (re)plan. Triggers: no
// schedule, horizon exhausted, sustained prediction error, a newly
// published model, or a material forecast revision.
func (l *Loop) replanReason(now time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.schedule == nil {
		return "no active schedule"
	}
	if !now.Before(l.schedule.Start.Add(l.schedule.Horizon)) {
		return "schedule horizon exhausted"
	}

	if l.forceReplan != "" {
		reason := l.forceReplan
		l.forceReplan = ""
		return reason
	}

	select {
	case <-l.registry.Updates:
		return "new thermal model published"
	default:
	}

	for z, window := range l.errWindows {
		if len(window) < l.cfg.ErrorWindow {
			continue
		}
		var sum float64
		for _, e := range window {
			sum += e
		}
		if mean := sum / float64(len(window)); mean > l.cfg.ErrorThreshold {
			l.errWindows = make(map[types.ZoneID][]float64)
			return fmt.Sprintf("prediction error %.2f°C in zone %s exceeds threshold", mean, z)
		}
	}

	return ""
}

// NotifyForecastRevision forces a replan on the next cycle after a material
// forecast change. Wired to the forecast poller's Revised channel.
func (l *Loop) NotifyForecastRevision() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forceReplan = "material forecast revision"
}

// plan invokes the optimizer and swaps in the resulting schedule. Planning
// failures never stall execution: the previous schedule keeps running if it
// still covers the horizon, otherwise the caller falls back.
func (l *Loop) plan(ctx context.Context, m *model.Model, now time.Time, latest map[types.ZoneID]types.TelemetrySample, reason string) {
	klog.V(2).InfoS("Planning", "reason", reason)

	initial := make([]float64, len(m.Zones()))
	occupancy := make(map[types.ZoneID]float64, len(m.Zones()))
	for i, z := range m.Zones() {
		sample, ok := latest[z]
		if !ok {
			klog.V(2).InfoS("Missing reading for model zone, skipping plan", "zone", z)
			return
		}
		initial[i] = sample.Temperature
		occupancy[z] = sample.Occupancy
	}

	forecastSamples := l.forecasts.Horizon(now, now.Add(l.cfg.PlanningHorizon))
	if len(forecastSamples) == 0 {
		klog.V(2).InfoS("No forecast covering horizon, skipping plan")
		metrics.Plans.WithLabelValues("error").Inc()
		return
	}

	l.mu.Lock()
	previous := l.schedule
	if previous == nil {
		// A fallback excursion retires the active schedule but must not
		// erase the churn reference for the next plan.
		previous = l.lastSchedule
	}
	current := make(map[types.ActuatorID]planner.ActuatorState, len(l.actState))
	for id, st := range l.actState {
		current[id] = st
	}
	l.mu.Unlock()

	start := l.clock.Now()
	res, err := l.planner.Plan(ctx, planner.Request{
		Model:     m,
		Initial:   initial,
		Start:     now,
		Forecast:  forecastSamples,
		Occupancy: occupancy,
		Previous:  previous,
		Current:   current,
	})
	metrics.PlanningDuration.Observe(l.clock.Since(start).Seconds())

	switch {
	case err == nil:
		l.mu.Lock()
		l.schedule = res.Schedule
		if res.Trajectory != nil {
			l.traj = res.Trajectory
			metrics.ScheduleEnergyCost.Set(res.EnergyCost)
			metrics.Plans.WithLabelValues("success").Inc()
		} else {
			metrics.Plans.WithLabelValues("reused").Inc()
		}
		l.mu.Unlock()
	case errors.Is(err, planner.ErrNoFeasibleSchedule):
		klog.V(2).InfoS("No feasible schedule", "reason", reason)
		metrics.Plans.WithLabelValues("infeasible").Inc()
		l.mu.Lock()
		if l.schedule != nil && !now.Before(l.schedule.Start.Add(l.schedule.Horizon)) {
			// Previous schedule is exhausted too; drop it so the cycle
			// falls back.
			l.lastSchedule = l.schedule
			l.schedule = nil
			l.traj = nil
		}
		l.mu.Unlock()
	default:
		klog.V(2).InfoS("Planning failed", "error", err)
		metrics.Plans.WithLabelValues("error").Inc()
	}
}

// execute applies the schedule step for the current instant. A rejected
// command is logged and retried next cycle; actuator delivery is never
// blocked by planning.
func (l *Loop) execute(ctx context.Context, now time.Time) {
	l.mu.Lock()
	schedule := l.schedule
	l.mu.Unlock()

	levels := schedule.LevelsAt(now.Sub(schedule.Start))
	cmds := make([]adapter.Command, 0, len(l.actuators))
	for id := range l.actuators {
		cmds = append(cmds, adapter.Command{Actuator: id, Level: levels[id]})
	}

	if err := l.bridge.Apply(ctx, cmds); err != nil {
		metrics.CommandsRejected.Inc()
		klog.V(2).InfoS("Actuator command rejected, retrying next cycle", "error", err)
		return
	}
	l.recordApplied(cmds, now)
}

// recordApplied tracks each actuator's level and the instant of its latest
// on/off transition. The planner anchors dwell protection on this state, so
// it must cover fallback commands as well as scheduled ones.
func (l *Loop) recordApplied(cmds []adapter.Command, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range cmds {
		prev, ok := l.actState[c.Actuator]
		switch {
		case !ok || (prev.Level > 0) != (c.Level > 0):
			l.actState[c.Actuator] = planner.ActuatorState{Level: c.Level, SwitchAt: now}
		case prev.Level != c.Level:
			l.actState[c.Actuator] = planner.ActuatorState{Level: c.Level, SwitchAt: prev.SwitchAt}
		}
	}
}
