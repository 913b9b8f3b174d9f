// Package model holds the versioned thermal digital twin: an RC state-space
// approximation of zone dynamics with a pure derivative function.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// Coupling is a conductive link from one zone toward a neighbor.
type Coupling struct {
	Zone types.ZoneID `json:"zone"`
	Gain float64      `json:"gain"` // 1/s toward the neighbor's temperature
}

// ZoneParams are the fitted coefficients for one zone's dynamics:
//
//	dT/dt = Ambient·(T_out − T) + Σ Coupling·(T_j − T)
//	      + Actuation·u + Solar·irradiance + Occupancy·occ
//
// u is signed thermal kilowatts (heating positive), irradiance kW/m².
type ZoneParams struct {
	Ambient   float64    `json:"ambient"`   // 1/s
	Actuation float64    `json:"actuation"` // °C/s per kW
	Solar     float64    `json:"solar"`     // °C/s per kW/m²
	Occupancy float64    `json:"occupancy"` // °C/s at full occupancy
	Couplings []Coupling `json:"couplings"`
}

// Model is one immutable version of a home's thermal dynamics. A new fit
// produces a new version; prior versions are retired, never overwritten.
// Derivative is pure, so concurrent readers need no synchronization.
type Model struct {
	version     string
	createdAt   time.Time
	trainedFrom time.Time
	trainedTo   time.Time
	confidence  float64
	zones       []types.ZoneID
	index       map[types.ZoneID]int
	params      []ZoneParams
}

// New builds a model version. Zone order fixes the state-vector layout and
// the summation order inside Derivative, which keeps trajectories
// reproducible bit for bit.
func New(zones []types.ZoneID, params map[types.ZoneID]ZoneParams, confidence float64, trainedFrom, trainedTo time.Time) (*Model, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("model needs at least one zone")
	}
	m := &Model{
		version:     uuid.NewString(),
		createdAt:   time.Now(),
		trainedFrom: trainedFrom,
		trainedTo:   trainedTo,
		confidence:  confidence,
		zones:       append([]types.ZoneID(nil), zones...),
		index:       make(map[types.ZoneID]int, len(zones)),
		params:      make([]ZoneParams, len(zones)),
	}
	for i, z := range m.zones {
		m.index[z] = i
		p, ok := params[z]
		if !ok {
			return nil, fmt.Errorf("missing parameters for zone %s", z)
		}
		for _, c := range p.Couplings {
			if _, known := contains(zones, c.Zone); !known {
				return nil, fmt.Errorf("zone %s coupled to unknown zone %s", z, c.Zone)
			}
		}
		m.params[i] = p
	}
	return m, nil
}

func contains(zones []types.ZoneID, z types.ZoneID) (int, bool) {
	for i, id := range zones {
		if id == z {
			return i, true
		}
	}
	return 0, false
}

// Version returns the immutable version id.
func (m *Model) Version() string { return m.version }

// CreatedAt returns the fit time.
func (m *Model) CreatedAt() time.Time { return m.createdAt }

// TrainingWindow returns the telemetry window the model was fitted on.
func (m *Model) TrainingWindow() (time.Time, time.Time) { return m.trainedFrom, m.trainedTo }

// Confidence reflects out-of-sample fit quality in (0, 1]. Models below the
// configured floor are excluded from planning.
func (m *Model) Confidence() float64 { return m.confidence }

// Zones returns the state-vector layout.
func (m *Model) Zones() []types.ZoneID { return m.zones }

// ZoneIndex returns the state-vector position of a zone.
func (m *Model) ZoneIndex(z types.ZoneID) (int, bool) {
	i, ok := m.index[z]
	return i, ok
}

// Params returns the fitted coefficients for a zone.
func (m *Model) Params(z types.ZoneID) (ZoneParams, bool) {
	i, ok := m.index[z]
	if !ok {
		return ZoneParams{}, false
	}
	return m.params[i], true
}

// Derivative evaluates dT/dt for every zone. state and actuation are indexed
// by Zones(); actuation is signed thermal kilowatts per zone. Pure and
// deterministic: identical inputs always yield identical output.
func (m *Model) Derivative(state []float64, actuation []float64, exo types.Exogenous) []float64 {
	deriv := make([]float64, len(m.zones))
	for i, z := range m.zones {
		p := m.params[i]
		d := p.Ambient * (exo.OutdoorTemp - state[i])
		for _, c := range p.Couplings {
			j := m.index[c.Zone]
			d += c.Gain * (state[j] - state[i])
		}
		d += p.Actuation * actuation[i]
		d += p.Solar * exo.SolarIrradiance / 1000 // W/m² → kW/m²
		if occ, ok := exo.Occupancy[z]; ok {
			d += p.Occupancy * occ
		}
		deriv[i] = d
	}
	return deriv
}

// snapshot is the persisted form of a model version.
type snapshot struct {
	Version     string                          `json:"version"`
	CreatedAt   time.Time                       `json:"createdAt"`
	TrainedFrom time.Time                       `json:"trainedFrom"`
	TrainedTo   time.Time                       `json:"trainedTo"`
	Confidence  float64                         `json:"confidence"`
	Zones       []types.ZoneID                  `json:"zones"`
	Params      map[types.ZoneID]ZoneParams     `json:"params"`
}

// MarshalJSON serializes the model for the version history.
func (m *Model) MarshalJSON() ([]byte, error) {
	params := make(map[types.ZoneID]ZoneParams, len(m.zones))
	for i, z := range m.zones {
		params[z] = m.params[i]
	}
	return json.Marshal(snapshot{
		Version:     m.version,
		CreatedAt:   m.createdAt,
		TrainedFrom: m.trainedFrom,
		TrainedTo:   m.trainedTo,
		Confidence:  m.confidence,
		Zones:       m.zones,
		Params:      params,
	})
}

// UnmarshalJSON restores a model version from the history.
func (m *Model) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	restored, err := New(snap.Zones, snap.Params, snap.Confidence, snap.TrainedFrom, snap.TrainedTo)
	if err != nil {
		return err
	}
	restored.version = snap.Version
	restored.createdAt = snap.CreatedAt
	*m = *restored
	return nil
}
