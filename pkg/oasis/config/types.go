package config

import (
	"fmt"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/pricing"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// HomeConfig describes the controlled home: zones, devices, and comfort
// schedules. Loaded from a YAML file maintained by the platform.
type HomeConfig struct {
	Zones     []types.Zone            `yaml:"zones"`
	Actuators []types.Actuator        `yaml:"actuators"`
	Comfort   []types.ComfortSchedule `yaml:"comfort"`
}

// TelemetryConfig tunes the telemetry store and ingest batcher.
type TelemetryConfig struct {
	DatabasePath  string        `yaml:"databasePath"` // empty: in-memory store
	Retention     time.Duration `yaml:"retention"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	SampleCadence time.Duration `yaml:"sampleCadence"`
}

// ForecastConfig tunes weather acquisition.
type ForecastConfig struct {
	APIKey            string        `yaml:"apiKey"`
	Latitude          float64       `yaml:"latitude"`
	Longitude         float64       `yaml:"longitude"`
	LookAheadHours    int           `yaml:"lookAheadHours"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	RevisionThreshold float64       `yaml:"revisionThreshold"` // °C outdoor change that forces a replan
	MaxAge            time.Duration `yaml:"maxAge"`
}

// LearnerConfig tunes model fitting.
type LearnerConfig struct {
	ModelDatabasePath string        `yaml:"modelDatabasePath"`
	Window            time.Duration `yaml:"window"`
	HoldoutFraction   float64       `yaml:"holdoutFraction"`
	MinDensity        float64       `yaml:"minDensity"`
	Interval          time.Duration `yaml:"interval"`
	ConfidenceFloor   float64       `yaml:"confidenceFloor"`
	RegressionMargin  float64       `yaml:"regressionMargin"`
	MaxExogenousAge   time.Duration `yaml:"maxExogenousAge"`
}

// PlannerConfig tunes the schedule search.
type PlannerConfig struct {
	Horizon         time.Duration `yaml:"horizon"`
	Resolution      time.Duration `yaml:"resolution"`
	Budget          time.Duration `yaml:"budget"`
	Workers         int           `yaml:"workers"`
	Candidates      int           `yaml:"candidates"`
	ComfortWeight   float64       `yaml:"comfortWeight"`
	IntegrationStep time.Duration `yaml:"integrationStep"`
	Seed            int64         `yaml:"seed"`
}

// ControlConfig tunes the control cadence.
type ControlConfig struct {
	CyclePeriod        time.Duration `yaml:"cyclePeriod"`
	ErrorThreshold     float64       `yaml:"errorThreshold"`
	ErrorWindow        int           `yaml:"errorWindow"`
	SensorGapThreshold time.Duration `yaml:"sensorGapThreshold"`
	Hysteresis         float64       `yaml:"hysteresis"`
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	MetricsEnabled bool `yaml:"metricsEnabled"`
	MetricsPort    int  `yaml:"metricsPort"`
}

// Config is the full controller configuration.
type Config struct {
	BridgeURL     string              `yaml:"bridgeUrl"`
	Home          HomeConfig          `yaml:"home"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Forecast      ForecastConfig      `yaml:"forecast"`
	Learner       LearnerConfig       `yaml:"learner"`
	Planner       PlannerConfig       `yaml:"planner"`
	Control       ControlConfig       `yaml:"control"`
	Pricing       []pricing.Window    `yaml:"pricing"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if len(c.Home.Zones) == 0 {
		return fmt.Errorf("at least one zone is required")
	}

	zoneSet := make(map[types.ZoneID]bool, len(c.Home.Zones))
	for _, z := range c.Home.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone missing id")
		}
		if zoneSet[z.ID] {
			return fmt.Errorf("duplicate zone id %s", z.ID)
		}
		zoneSet[z.ID] = true
	}

	// Every actuator belongs to exactly one zone.
	owners := make(map[types.ActuatorID]types.ZoneID)
	for _, z := range c.Home.Zones {
		for _, id := range z.Actuators {
			if prev, taken := owners[id]; taken {
				return fmt.Errorf("actuator %s claimed by zones %s and %s", id, prev, z.ID)
			}
			owners[id] = z.ID
		}
	}
	for _, a := range c.Home.Actuators {
		if err := a.Validate(); err != nil {
			return err
		}
		if !zoneSet[a.Zone] {
			return fmt.Errorf("actuator %s references unknown zone %s", a.ID, a.Zone)
		}
		if owners[a.ID] != a.Zone {
			return fmt.Errorf("actuator %s zone %s does not match owning zone %s", a.ID, a.Zone, owners[a.ID])
		}
	}

	for i := range c.Home.Comfort {
		cs := &c.Home.Comfort[i]
		if err := cs.Validate(); err != nil {
			return err
		}
		if !zoneSet[cs.Zone] {
			return fmt.Errorf("comfort schedule references unknown zone %s", cs.Zone)
		}
	}

	if err := pricing.Validate(c.Pricing); err != nil {
		return fmt.Errorf("invalid pricing config: %v", err)
	}

	if c.Planner.Horizon <= 0 || c.Planner.Resolution <= 0 {
		return fmt.Errorf("planner horizon and resolution must be positive")
	}
	if c.Planner.IntegrationStep <= 0 || c.Planner.IntegrationStep > c.Planner.Resolution {
		return fmt.Errorf("integration step must be positive and no coarser than the schedule resolution")
	}
	if c.Control.CyclePeriod <= 0 {
		return fmt.Errorf("control cycle period must be positive")
	}
	if c.Control.SensorGapThreshold <= 0 {
		return fmt.Errorf("sensor gap threshold must be positive")
	}
	if c.Learner.ConfidenceFloor < 0 || c.Learner.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence floor must be in [0, 1]")
	}
	if c.Learner.RegressionMargin < 0 {
		return fmt.Errorf("regression margin must be non-negative")
	}
	if c.Learner.HoldoutFraction <= 0 || c.Learner.HoldoutFraction >= 1 {
		return fmt.Errorf("holdout fraction must be in (0, 1)")
	}

	return nil
}

// ActuatorMap indexes actuators by id.
func (c *Config) ActuatorMap() map[types.ActuatorID]types.Actuator {
	out := make(map[types.ActuatorID]types.Actuator, len(c.Home.Actuators))
	for _, a := range c.Home.Actuators {
		out[a.ID] = a
	}
	return out
}

// ComfortMap indexes comfort schedules by zone.
func (c *Config) ComfortMap() map[types.ZoneID]*types.ComfortSchedule {
	out := make(map[types.ZoneID]*types.ComfortSchedule, len(c.Home.Comfort))
	for i := range c.Home.Comfort {
		out[c.Home.Comfort[i].Zone] = &c.Home.Comfort[i]
	}
	return out
}

// ZoneIDs returns the configured zone ids.
func (c *Config) ZoneIDs() []types.ZoneID {
	out := make([]types.ZoneID, 0, len(c.Home.Zones))
	for _, z := range c.Home.Zones {
		out = append(out, z.ID)
	}
	return out
}
