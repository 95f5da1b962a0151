package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// scriptedConn replays a fixed message sequence, then fails.
type scriptedConn struct {
	messages [][]byte
	closed   chan struct{}
}

func newScriptedConn(messages ...[]byte) *scriptedConn {
	return &scriptedConn{messages: messages, closed: make(chan struct{})}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	if len(c.messages) == 0 {
		<-c.closed
		return 0, nil, errors.New("connection closed")
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return 1, msg, nil
}

func (c *scriptedConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func wire(t *testing.T, topic string, msgType protocol.MessageType, data interface{}) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, _ := env.Bytes()
	out, err := json.Marshal(wireMessage{Topic: topic, Envelope: raw})
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	return out
}

func newTestBridge(t *testing.T, b bus.Bus) *Bridge {
	t.Helper()
	cfg := config.Default().Bridge
	cfg.URL = "ws://simulator.test/feed"
	cfg.ReconnectBackoff = config.Duration(time.Millisecond)
	cfg.MaxBackoff = config.Duration(4 * time.Millisecond)
	return New(cfg, b, protocol.NewTopics("vehicle"))
}

func TestBridgeRelaysMessages(t *testing.T) {
	b := bus.New()
	defer b.Close()
	topics := protocol.NewTopics("vehicle")

	sub, err := b.Subscribe("test", topics.Distance(), 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	br := newTestBridge(t, b)
	if err := br.relay(wire(t, protocol.TopicDistance, protocol.TypeDistanceReading, protocol.DistanceReading{Distance: 9})); err != nil {
		t.Fatalf("relay: %v", err)
	}

	select {
	case msg := <-sub.C():
		env, err := protocol.ParseEnvelope(msg.Payload)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		var reading protocol.DistanceReading
		if err := env.ParseData(&reading); err != nil {
			t.Fatalf("parse data: %v", err)
		}
		if reading.Distance != 9 {
			t.Errorf("distance = %v, want 9", reading.Distance)
		}
	default:
		t.Fatal("nothing relayed to the bus")
	}
}

func TestBridgeRejectsMalformedWireMessages(t *testing.T) {
	b := bus.New()
	defer b.Close()
	br := newTestBridge(t, b)

	if err := br.relay([]byte("not json")); err == nil {
		t.Error("garbage accepted")
	}
	if err := br.relay([]byte(`{"envelope":{"type":"warning"}}`)); err == nil {
		t.Error("topicless message accepted")
	}
	if err := br.relay([]byte(`{"topic":"sensors/distance","envelope":"nope"}`)); err == nil {
		t.Error("invalid envelope accepted")
	}
}

func TestBridgeReconnectsAfterFailure(t *testing.T) {
	b := bus.New()
	defer b.Close()
	topics := protocol.NewTopics("vehicle")

	sub, err := b.Subscribe("test", topics.Distance(), 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	br := newTestBridge(t, b)

	// First dial fails, second serves one message then dies, third blocks.
	dials := 0
	relayed := wire(t, protocol.TopicDistance, protocol.TypeDistanceReading, protocol.DistanceReading{Distance: 5})
	br.dial = func(ctx context.Context, url string) (conn, error) {
		dials++
		switch dials {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return newScriptedConn(relayed), nil
		default:
			return newScriptedConn(), nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	select {
	case msg := <-sub.C():
		env, err := protocol.ParseEnvelope(msg.Payload)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.Type != protocol.TypeDistanceReading {
			t.Errorf("type = %s", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message after reconnect")
	}
	if dials < 2 {
		t.Errorf("dials = %d, want at least 2", dials)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancel")
	}
}

func TestBridgeRequiresURL(t *testing.T) {
	b := bus.New()
	defer b.Close()
	br := New(config.Default().Bridge, b, protocol.NewTopics("vehicle"))
	if err := br.Run(context.Background()); err == nil {
		t.Fatal("bridge ran without a url")
	}
}
