// Package mock provides a scriptable Adapter for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/adapter"
	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// Adapter records applied commands and lets tests inject telemetry and
// rejections.
type Adapter struct {
	mu        sync.Mutex
	applied   map[types.ActuatorID]adapter.AppliedState
	commands  [][]adapter.Command
	rejectErr error
	telemetry chan types.TelemetrySample
	now       func() time.Time
}

// New creates a mock adapter. now may be nil.
func New(now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		applied:   make(map[types.ActuatorID]adapter.AppliedState),
		telemetry: make(chan types.TelemetrySample, 64),
		now:       now,
	}
}

// Reject makes subsequent Apply calls fail with err (nil to clear).
func (a *Adapter) Reject(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejectErr = err
}

// Apply records the command batch and mirrors it into applied state, as a
// well-behaved platform bridge would.
func (a *Adapter) Apply(_ context.Context, cmds []adapter.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rejectErr != nil {
		return a.rejectErr
	}
	a.commands = append(a.commands, cmds)
	for _, cmd := range cmds {
		a.applied[cmd.Actuator] = adapter.AppliedState{
			Actuator: cmd.Actuator,
			Level:    cmd.Level,
			At:       a.now(),
		}
	}
	return nil
}

// Applied returns the last applied state for an actuator.
func (a *Adapter) Applied(id types.ActuatorID) (adapter.AppliedState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.applied[id]
	return st, ok
}

// Telemetry streams injected samples.
func (a *Adapter) Telemetry() <-chan types.TelemetrySample {
	return a.telemetry
}

// Inject pushes a telemetry sample into the stream.
func (a *Adapter) Inject(sample types.TelemetrySample) {
	a.telemetry <- sample
}

// Commands returns all recorded command batches.
func (a *Adapter) Commands() [][]adapter.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]adapter.Command, len(a.commands))
	copy(out, a.commands)
	return out
}

// LastCommands returns the most recent batch, if any.
func (a *Adapter) LastCommands() ([]adapter.Command, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.commands) == 0 {
		return nil, false
	}
	return a.commands[len(a.commands)-1], true
}

// Close is a no-op.
func (a *Adapter) Close() error { return nil }
