// Package bridge connects an external simulator's websocket feed to the
// local bus. The simulator publishes wire messages naming a topic suffix
// and carrying a message envelope; the bridge validates and republishes
// them so workers cannot tell bridged sensors from local ones.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/internal/metrics"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// wireMessage is one frame on the simulator websocket.
type wireMessage struct {
	Topic    string          `json:"topic"` // suffix under the configured prefix
	Envelope json.RawMessage `json:"envelope"`
}

// Bridge dials the simulator and pumps its feed onto the bus,
// reconnecting with exponential backoff for as long as ctx lives.
type Bridge struct {
	cfg    config.BridgeConfig
	bus    bus.Bus
	topics *protocol.Topics

	dial func(ctx context.Context, url string) (conn, error)
}

// conn is the slice of *websocket.Conn the pump needs; tests substitute
// scripted connections.
type conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// New creates a bridge for the configured simulator URL.
func New(cfg config.BridgeConfig, b bus.Bus, topics *protocol.Topics) *Bridge {
	return &Bridge{
		cfg:    cfg,
		bus:    b,
		topics: topics,
		dial: func(ctx context.Context, url string) (conn, error) {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return c, err
		},
	}
}

// Run blocks until ctx is cancelled. Dial failures and dropped
// connections retry with doubling backoff up to the configured cap; a
// successful connection resets the backoff.
func (b *Bridge) Run(ctx context.Context) error {
	if b.cfg.URL == "" {
		return fmt.Errorf("bridge: no simulator url configured")
	}

	backoff := b.cfg.ReconnectBackoff.Std()
	for {
		c, err := b.dial(ctx, b.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("simulator dial failed", "url", b.cfg.URL,
				"error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, b.cfg.MaxBackoff.Std())
			continue
		}

		log.Info("simulator connected", "url", b.cfg.URL)
		backoff = b.cfg.ReconnectBackoff.Std()

		if err := b.pump(ctx, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("simulator connection lost", "error", err)
		}
	}
}

// pump relays messages until the connection breaks or ctx is cancelled.
func (b *Bridge) pump(ctx context.Context, c conn) error {
	defer c.Close()

	// Unblock the blocking read when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("bridge: read: %w", err)
		}
		if err := b.relay(payload); err != nil {
			log.Warn("dropped simulator message", "error", err)
		}
	}
}

// relay validates one wire message and publishes it locally.
func (b *Bridge) relay(payload []byte) error {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("bridge: decode wire message: %w", err)
	}
	if msg.Topic == "" {
		return fmt.Errorf("bridge: wire message without topic")
	}
	if _, err := protocol.ParseEnvelope(msg.Envelope); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	b.bus.Publish(fmt.Sprintf("%s/%s", b.topics.Prefix(), msg.Topic), msg.Envelope)
	metrics.BusMessages.Add(1)
	return nil
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
