package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// frame is the wire envelope shared with the platform bridge.
type frame struct {
	Type      string                 `json:"type"` // "telemetry", "applied", "command", "ack"
	Telemetry *types.TelemetrySample `json:"telemetry,omitempty"`
	Applied   *AppliedState          `json:"applied,omitempty"`
	Commands  []Command              `json:"commands,omitempty"`
	OK        bool                   `json:"ok,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
}

// WSAdapter implements Adapter over a websocket connection to the
// home-automation bridge. Telemetry and applied-state frames stream in;
// command frames go out and are acknowledged.
type WSAdapter struct {
	url       string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	telemetry chan types.TelemetrySample

	mu      sync.RWMutex
	applied map[types.ActuatorID]AppliedState
	acks    chan frame

	stopCh chan struct{}
	done   sync.WaitGroup
}

// DialWS connects to the platform bridge and starts the read loop.
func DialWS(url string) (*WSAdapter, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial platform bridge: %v", err)
	}

	a := &WSAdapter{
		url:       url,
		conn:      conn,
		telemetry: make(chan types.TelemetrySample, 256),
		applied:   make(map[types.ActuatorID]AppliedState),
		acks:      make(chan frame, 8),
		stopCh:    make(chan struct{}),
	}
	a.done.Add(1)
	go a.readLoop()
	return a, nil
}

func (a *WSAdapter) readLoop() {
	defer a.done.Done()
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		var f frame
		if err := a.conn.ReadJSON(&f); err != nil {
			select {
			case <-a.stopCh:
				return
			default:
			}
			klog.V(2).InfoS("Bridge read failed, reconnecting", "error", err)
			if !a.reconnect() {
				return
			}
			continue
		}

		switch f.Type {
		case "telemetry":
			if f.Telemetry == nil {
				continue
			}
			select {
			case a.telemetry <- *f.Telemetry:
			default:
				klog.V(2).InfoS("Telemetry channel full, dropping sample", "zone", f.Telemetry.Zone)
			}
		case "applied":
			if f.Applied == nil {
				continue
			}
			a.mu.Lock()
			a.applied[f.Applied.Actuator] = *f.Applied
			a.mu.Unlock()
		case "ack":
			select {
			case a.acks <- f:
			default:
			}
		default:
			klog.V(4).InfoS("Ignoring unknown frame type", "type", f.Type)
		}
	}
}

func (a *WSAdapter) reconnect() bool {
	backoff := time.Second
	for {
		select {
		case <-a.stopCh:
			return false
		case <-time.After(backoff):
		}
		conn, _, err := websocket.DefaultDialer.Dial(a.url, nil)
		if err == nil {
			a.writeMu.Lock()
			a.conn = conn
			a.writeMu.Unlock()
			klog.V(2).InfoS("Reconnected to platform bridge")
			return true
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
		klog.V(2).InfoS("Bridge reconnect failed", "error", err, "retryIn", backoff)
	}
}

// Apply sends commands and waits for the bridge acknowledgement.
func (a *WSAdapter) Apply(ctx context.Context, cmds []Command) error {
	payload, err := json.Marshal(frame{Type: "command", Commands: cmds})
	if err != nil {
		return fmt.Errorf("failed to marshal commands: %v", err)
	}

	a.writeMu.Lock()
	// Drop acks from earlier commands whose callers already gave up, so a
	// late arrival is not read as this command's response.
drain:
	for {
		select {
		case <-a.acks:
		default:
			break drain
		}
	}
	err = a.conn.WriteMessage(websocket.TextMessage, payload)
	a.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send commands: %v", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack := <-a.acks:
		if !ack.OK {
			return fmt.Errorf("%w: %s", ErrCommandRejected, ack.Reason)
		}
		return nil
	}
}

// Applied returns the last reported state for an actuator.
func (a *WSAdapter) Applied(id types.ActuatorID) (AppliedState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.applied[id]
	return st, ok
}

// Telemetry streams incoming sensor samples.
func (a *WSAdapter) Telemetry() <-chan types.TelemetrySample {
	return a.telemetry
}

// Close shuts the connection and stops the read loop.
func (a *WSAdapter) Close() error {
	close(a.stopCh)
	err := a.conn.Close()
	a.done.Wait()
	return err
}
