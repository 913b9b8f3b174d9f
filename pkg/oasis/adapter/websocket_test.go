package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mircotaddei/oasis-core/pkg/oasis/types"
)

// bridgeStub is a minimal in-process platform bridge: it acks every command
// batch per script and can push telemetry and applied-state frames.
type bridgeStub struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	ackOK    bool
	reason   string
}

func newBridgeStub(ackOK bool, reason string) *bridgeStub {
	return &bridgeStub{
		conns:  make(chan *websocket.Conn, 1),
		ackOK:  ackOK,
		reason: reason,
	}
}

func (b *bridgeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.conns <- conn
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == "command" {
				conn.WriteJSON(frame{Type: "ack", OK: b.ackOK, Reason: b.reason})
			}
		}
	}()
}

func dialStub(t *testing.T, stub *bridgeStub) (*WSAdapter, *websocket.Conn) {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	a, err := DialWS("ws" + strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	select {
	case conn := <-stub.conns:
		return a, conn
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never saw the connection")
		return nil, nil
	}
}

func TestWSApplyAcknowledged(t *testing.T) {
	a, _ := dialStub(t, newBridgeStub(true, ""))

	err := a.Apply(context.Background(), []Command{{Actuator: "heater", Level: 1500}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestWSApplyRejected(t *testing.T) {
	a, _ := dialStub(t, newBridgeStub(false, "device offline"))

	err := a.Apply(context.Background(), []Command{{Actuator: "heater", Level: 1500}})
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("Apply error = %v, want ErrCommandRejected", err)
	}
	if !strings.Contains(err.Error(), "device offline") {
		t.Errorf("rejection reason missing from error: %v", err)
	}
}

func TestWSApplyContextDeadline(t *testing.T) {
	// A bridge that never acks must not hang Apply past the deadline.
	stub := newBridgeStub(true, "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := stub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	a, err := DialWS("ws" + strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Apply(ctx, []Command{{Actuator: "heater", Level: 500}}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Apply error = %v, want DeadlineExceeded", err)
	}
}

func TestWSApplyIgnoresLateAck(t *testing.T) {
	// The bridge rejects the first command only after the caller's deadline
	// has passed, then acks the second promptly. The late rejection must not
	// be consumed as the second command's response.
	stub := newBridgeStub(true, "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := stub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		commands := 0
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type != "command" {
				continue
			}
			commands++
			if commands == 1 {
				time.Sleep(300 * time.Millisecond)
				conn.WriteJSON(frame{Type: "ack", OK: false, Reason: "bridge busy"})
				continue
			}
			conn.WriteJSON(frame{Type: "ack", OK: true})
		}
	}))
	defer server.Close()

	a, err := DialWS("ws" + strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Apply(ctx, []Command{{Actuator: "heater", Level: 500}}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first Apply error = %v, want DeadlineExceeded", err)
	}

	// Let the stale rejection arrive and queue before the next command.
	time.Sleep(500 * time.Millisecond)

	if err := a.Apply(context.Background(), []Command{{Actuator: "heater", Level: 1500}}); err != nil {
		t.Errorf("second Apply consumed a stale ack: %v", err)
	}
}

func TestWSTelemetryStreams(t *testing.T) {
	a, conn := dialStub(t, newBridgeStub(true, ""))

	sample := types.TelemetrySample{
		Timestamp:   time.Now().Truncate(time.Second),
		Zone:        "living",
		Temperature: 20.5,
	}
	if err := conn.WriteJSON(frame{Type: "telemetry", Telemetry: &sample}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	select {
	case got := <-a.Telemetry():
		if got.Zone != "living" || got.Temperature != 20.5 {
			t.Errorf("received %+v, want the injected sample", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry never arrived")
	}
}

func TestWSAppliedState(t *testing.T) {
	a, conn := dialStub(t, newBridgeStub(true, ""))

	state := AppliedState{Actuator: "heater", Level: 1200, At: time.Now()}
	if err := conn.WriteJSON(frame{Type: "applied", Applied: &state}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, ok := a.Applied("heater"); ok {
			if got.Level != 1200 {
				t.Errorf("applied level = %v, want 1200", got.Level)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("applied state never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
