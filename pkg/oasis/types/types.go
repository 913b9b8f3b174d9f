package types

import (
	"fmt"
	"time"
)

// ZoneID identifies a thermally distinct space within a home.
type ZoneID string

// ActuatorID identifies a heating or cooling device.
type ActuatorID string

// Zone describes a controllable space and the devices attached to it.
// Every sensor and actuator belongs to exactly one zone.
type Zone struct {
	ID        ZoneID       `yaml:"id"`
	Name      string       `yaml:"name"`
	Sensors   []string     `yaml:"sensors"`
	Actuators []ActuatorID `yaml:"actuators"`
}

// Actuator holds the physical limits and cycling protection for a device.
// Power levels are thermal watts delivered to the zone; cooling devices
// carry Heating=false and their levels are applied with negative sign in
// the thermal model.
type Actuator struct {
	ID       ActuatorID    `yaml:"id"`
	Zone     ZoneID        `yaml:"zone"`
	MinPower float64       `yaml:"minPower"`
	MaxPower float64       `yaml:"maxPower"`
	MinDwell time.Duration `yaml:"minDwell"`
	Heating  bool          `yaml:"heating"`
}

// UnmarshalYAML parses an actuator definition, accepting the usual duration
// syntax ("10m", "1h30m") for minDwell.
func (a *Actuator) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		ID       ActuatorID `yaml:"id"`
		Zone     ZoneID     `yaml:"zone"`
		MinPower float64    `yaml:"minPower"`
		MaxPower float64    `yaml:"maxPower"`
		MinDwell string     `yaml:"minDwell"`
		Heating  bool       `yaml:"heating"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*a = Actuator{
		ID:       raw.ID,
		Zone:     raw.Zone,
		MinPower: raw.MinPower,
		MaxPower: raw.MaxPower,
		Heating:  raw.Heating,
	}
	if raw.MinDwell != "" {
		dwell, err := time.ParseDuration(raw.MinDwell)
		if err != nil {
			return fmt.Errorf("actuator %s invalid minDwell %q: %v", raw.ID, raw.MinDwell, err)
		}
		a.MinDwell = dwell
	}
	return nil
}

// Validate checks actuator limits for internal consistency.
func (a Actuator) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("actuator missing id")
	}
	if a.Zone == "" {
		return fmt.Errorf("actuator %s missing zone", a.ID)
	}
	if a.MinPower < 0 {
		return fmt.Errorf("actuator %s min power must be non-negative", a.ID)
	}
	if a.MaxPower <= a.MinPower {
		return fmt.Errorf("actuator %s max power must exceed min power", a.ID)
	}
	if a.MinDwell < 0 {
		return fmt.Errorf("actuator %s min dwell must be non-negative", a.ID)
	}
	return nil
}

// Sign returns the thermal sign of the actuator's output.
func (a Actuator) Sign() float64 {
	if a.Heating {
		return 1
	}
	return -1
}

// TelemetrySample is one observed reading for a zone. Samples are immutable
// and append-only; the store rejects duplicates at identical timestamps.
type TelemetrySample struct {
	Timestamp   time.Time `json:"timestamp"`
	Zone        ZoneID    `json:"zone"`
	Temperature float64   `json:"temperature"` // Celsius
	Humidity    float64   `json:"humidity"`    // Percentage (0-100)
	Power       float64   `json:"power"`       // Signed thermal watts (heating positive)
	Occupancy   float64   `json:"occupancy"`   // 0.0-1.0
}

// ForecastSample is one exogenous weather prediction for a target instant.
// A later IssuedAt for the same Target supersedes the earlier one.
type ForecastSample struct {
	IssuedAt        time.Time `json:"issuedAt"`
	Target          time.Time `json:"target"`
	OutdoorTemp     float64   `json:"outdoorTemp"`     // Celsius
	SolarIrradiance float64   `json:"solarIrradiance"` // W/m²
	WindSpeed       float64   `json:"windSpeed"`       // m/s
}

// Exogenous bundles the external inputs the thermal model sees at one
// instant.
type Exogenous struct {
	OutdoorTemp     float64
	SolarIrradiance float64
	WindSpeed       float64
	Occupancy       map[ZoneID]float64
}
