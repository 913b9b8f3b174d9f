package sim

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/pricing"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

var simStart = time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

func simModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(
		[]types.ZoneID{"living", "bedroom"},
		map[types.ZoneID]model.ZoneParams{
			"living": {
				Ambient:   5e-5,
				Actuation: 4e-4,
				Solar:     2e-4,
				Couplings: []model.Coupling{{Zone: "bedroom", Gain: 3e-5}},
			},
			"bedroom": {
				Ambient:   4e-5,
				Actuation: 3e-4,
				Couplings: []model.Coupling{{Zone: "living", Gain: 3e-5}},
			},
		},
		0.9, simStart.Add(-7*24*time.Hour), simStart,
	)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

func simActuators() map[types.ActuatorID]types.Actuator {
	return map[types.ActuatorID]types.Actuator{
		"heater-living":  {ID: "heater-living", Zone: "living", MinPower: 500, MaxPower: 2000, Heating: true},
		"heater-bedroom": {ID: "heater-bedroom", Zone: "bedroom", MinPower: 500, MaxPower: 1500, Heating: true},
	}
}

func constantSchedule(horizon time.Duration, levels map[types.ActuatorID]float64) *types.Schedule {
	return &types.Schedule{
		Start:   simStart,
		Horizon: horizon,
		Entries: []types.ScheduleEntry{{Offset: 0, Levels: levels}},
	}
}

func simForecast(horizon time.Duration) []types.ForecastSample {
	issued := simStart.Add(-time.Hour)
	var out []types.ForecastSample
	for off := time.Duration(0); off <= horizon; off += time.Hour {
		out = append(out, types.ForecastSample{
			IssuedAt:    issued,
			Target:      simStart.Add(off),
			OutdoorTemp: -2 + off.Hours(), // warming morning
		})
	}
	return out
}

func TestRunReproducible(t *testing.T) {
	m := simModel(t)
	s, err := New(time.Minute, simActuators(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	schedule := constantSchedule(2*time.Hour, map[types.ActuatorID]float64{
		"heater-living":  1500,
		"heater-bedroom": 800,
	})
	fc := simForecast(2 * time.Hour)
	initial := []float64{18, 16.5}
	occ := map[types.ZoneID]float64{"living": 0.5}

	first, err := s.Run(m, initial, schedule, fc, occ)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Run(m, initial, schedule, fc, occ)
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first.States, again.States) {
			t.Fatal("trajectories differ between identical runs")
		}
		if first.Energy != again.Energy || first.Cost != again.Cost {
			t.Fatalf("energy/cost differ: %v/%v vs %v/%v",
				first.Energy, first.Cost, again.Energy, again.Cost)
		}
	}
}

func TestRunHeatingMonotonic(t *testing.T) {
	m := simModel(t)
	s, err := New(time.Minute, simActuators(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fc := simForecast(2 * time.Hour)
	initial := []float64{15, 15}

	off, err := s.Run(m, initial, constantSchedule(2*time.Hour, map[types.ActuatorID]float64{}), fc, nil)
	if err != nil {
		t.Fatalf("Run off: %v", err)
	}
	low, err := s.Run(m, initial, constantSchedule(2*time.Hour, map[types.ActuatorID]float64{"heater-living": 800}), fc, nil)
	if err != nil {
		t.Fatalf("Run low: %v", err)
	}
	high, err := s.Run(m, initial, constantSchedule(2*time.Hour, map[types.ActuatorID]float64{"heater-living": 2000}), fc, nil)
	if err != nil {
		t.Fatalf("Run high: %v", err)
	}

	if !(high.Final()[0] > low.Final()[0] && low.Final()[0] > off.Final()[0]) {
		t.Errorf("final living temps not monotone in heat input: off=%v low=%v high=%v",
			off.Final()[0], low.Final()[0], high.Final()[0])
	}
	// Coupling carries some of the heat next door too.
	if high.Final()[1] <= off.Final()[1] {
		t.Errorf("heated neighbor %v not above unheated %v", high.Final()[1], off.Final()[1])
	}
}

func TestRunHalvedStepConverges(t *testing.T) {
	m := simModel(t)
	coarse, err := New(time.Minute, simActuators(), nil)
	if err != nil {
		t.Fatalf("New coarse: %v", err)
	}
	fine, err := New(30*time.Second, simActuators(), nil)
	if err != nil {
		t.Fatalf("New fine: %v", err)
	}

	schedule := constantSchedule(4*time.Hour, map[types.ActuatorID]float64{"heater-living": 1500})
	fc := simForecast(4 * time.Hour)
	initial := []float64{12, 12}

	a, err := coarse.Run(m, initial, schedule, fc, nil)
	if err != nil {
		t.Fatalf("Run coarse: %v", err)
	}
	b, err := fine.Run(m, initial, schedule, fc, nil)
	if err != nil {
		t.Fatalf("Run fine: %v", err)
	}

	for i := range a.Final() {
		if diff := math.Abs(a.Final()[i] - b.Final()[i]); diff > 1e-6 {
			t.Errorf("zone %d: halving the step moved the final temp by %v°C", i, diff)
		}
	}
}

func TestRunEnergyAndCost(t *testing.T) {
	m := simModel(t)

	// 1500 + 500 W for one hour is exactly 2 kWh.
	schedule := constantSchedule(time.Hour, map[types.ActuatorID]float64{
		"heater-living":  1500,
		"heater-bedroom": 500,
	})
	fc := simForecast(time.Hour)
	initial := []float64{18, 18}

	plain, err := New(time.Minute, simActuators(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	traj, err := plain.Run(m, initial, schedule, fc, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(traj.Energy-2.0) > 1e-9 {
		t.Errorf("Energy = %v kWh, want 2.0", traj.Energy)
	}
	if math.Abs(traj.Cost-traj.Energy) > 1e-9 {
		t.Errorf("Cost without rates = %v, want kWh %v", traj.Cost, traj.Energy)
	}
}

func TestRunCostUsesRates(t *testing.T) {
	m := simModel(t)
	rates := pricing.New([]pricing.Window{{
		DayOfWeek: "0123456", StartTime: "00:00", EndTime: "23:59",
		PeakRate: 0.40, OffPeakRate: 0.10,
	}})
	s, err := New(time.Minute, simActuators(), rates)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	schedule := constantSchedule(time.Hour, map[types.ActuatorID]float64{"heater-living": 1000})
	traj, err := s.Run(m, []float64{18, 18}, schedule, simForecast(time.Hour), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(traj.Cost-0.40*traj.Energy) > 1e-9 {
		t.Errorf("Cost = %v, want energy %v at peak rate 0.40", traj.Cost, traj.Energy)
	}
}

func TestRunInputValidation(t *testing.T) {
	m := simModel(t)
	s, err := New(time.Minute, simActuators(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	schedule := constantSchedule(time.Hour, nil)
	fc := simForecast(time.Hour)

	if _, err := s.Run(m, []float64{18}, schedule, fc, nil); err == nil {
		t.Error("expected error for state/zone count mismatch")
	}
	if _, err := s.Run(m, []float64{18, 18}, schedule, nil, nil); err == nil {
		t.Error("expected error for empty forecast")
	}
	short := constantSchedule(time.Second, nil)
	if _, err := s.Run(m, []float64{18, 18}, short, fc, nil); err == nil {
		t.Error("expected error for horizon shorter than integration step")
	}
}
