package model

import (
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Registry is the single-writer/multi-reader holder of the active model.
// The learner constructs a full new version off to the side and publishes
// it with one atomic pointer swap; the simulator and planner read without
// blocking and never observe a partial update.
type Registry struct {
	active  atomic.Pointer[Model]
	floor   float64
	history *History

	// Updates receives one signal per published version. Buffered; the
	// control loop treats a pending signal as a replan trigger.
	Updates chan struct{}
}

// NewRegistry creates a registry with the given confidence floor. history
// may be nil when version persistence is disabled.
func NewRegistry(confidenceFloor float64, history *History) *Registry {
	return &Registry{
		floor:   confidenceFloor,
		history: history,
		Updates: make(chan struct{}, 1),
	}
}

// Active returns the current model if one is published and its confidence is
// at or above the floor. A model that has drifted below the floor is
// invalid for planning; the control loop falls back to reactive control.
func (r *Registry) Active() (*Model, bool) {
	m := r.active.Load()
	if m == nil || m.confidence < r.floor {
		return nil, false
	}
	return m, true
}

// Incumbent returns the published model regardless of floor, for drift-guard
// comparison by the learner.
func (r *Registry) Incumbent() *Model {
	return r.active.Load()
}

// Publish persists the version and swaps the active pointer. The swap is the
// only coordination between the learner and the control cadence.
func (r *Registry) Publish(m *Model) error {
	if r.history != nil {
		if err := r.history.Save(m); err != nil {
			return err
		}
	}
	r.active.Store(m)
	klog.V(2).InfoS("Published thermal model version",
		"version", m.Version(),
		"confidence", m.Confidence(),
		"zones", len(m.Zones()))

	select {
	case r.Updates <- struct{}{}:
	default:
	}
	return nil
}

// Restore loads the most recent persisted version into the active slot, if
// any. Called once at startup so a restart resumes with the last good twin.
func (r *Registry) Restore() error {
	if r.history == nil {
		return nil
	}
	m, ok, err := r.history.Latest()
	if err != nil {
		return err
	}
	if ok {
		r.active.Store(m)
		klog.V(2).InfoS("Restored thermal model version",
			"version", m.Version(),
			"confidence", m.Confidence())
	}
	return nil
}
