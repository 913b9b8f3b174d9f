// Package adapter is the boundary to the home-automation platform: it
// delivers telemetry events into the core and carries actuator commands
// out.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// ErrCommandRejected is returned when the platform refuses a command. The
// control loop retries on its next cycle; nothing is fatal here.
var ErrCommandRejected = errors.New("actuator command rejected")

// Command sets one actuator's power level in watts (0 = off). Commands are
// idempotent: re-applying the current level is a no-op on the device.
type Command struct {
	Actuator types.ActuatorID `json:"actuator"`
	Level    float64          `json:"level"`
}

// AppliedState is the platform's report of what a device is actually doing,
// consumed by the next monitoring cycle.
type AppliedState struct {
	Actuator types.ActuatorID `json:"actuator"`
	Level    float64          `json:"level"`
	At       time.Time        `json:"at"`
}

// Adapter is implemented by platform integrations.
type Adapter interface {
	// Apply delivers commands. Must not block beyond the context deadline.
	Apply(ctx context.Context, cmds []Command) error
	// Applied returns the last reported state for an actuator.
	Applied(id types.ActuatorID) (AppliedState, bool)
	// Telemetry streams incoming sensor samples.
	Telemetry() <-chan types.TelemetrySample
	Close() error
}
