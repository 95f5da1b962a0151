// Package dashboard exposes the vehicle and supervisor state over HTTP
// and websocket: a copy-on-read snapshot fed solely from bus
// subscriptions, plus injection endpoints for exercising the stack with
// mock sensor data.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/hub"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// LaneWarningState mirrors the lane worker's latched warning.
type LaneWarningState struct {
	Active    bool   `json:"active"`
	Direction string `json:"direction,omitempty"`
}

// EmergencyStopState mirrors the obstacle worker's warning and braking.
type EmergencyStopState struct {
	Active   bool    `json:"active"`
	Distance float64 `json:"distance"`
}

// PedestrianState mirrors the pedestrian worker's latched warning.
type PedestrianState struct {
	Active    bool   `json:"active"`
	Direction string `json:"direction,omitempty"`
}

// VehicleData is the dashboard snapshot returned by /api/vehicle-data
// and pushed over /ws/status.
type VehicleData struct {
	Speed             float64            `json:"speed"`
	RPM               float64            `json:"rpm"`
	LaneWarning       LaneWarningState   `json:"lane_warning"`
	EmergencyStop     EmergencyStopState `json:"emergency_stop"`
	PedestrianWarning PedestrianState    `json:"pedestrian_warning"`
	BrakeIntensity    float64            `json:"brake_intensity"`
	Timestamp         int64              `json:"timestamp"` // Unix milliseconds
}

// State is the snapshot holder. A single goroutine (Run) applies bus
// messages; readers always get a copy.
type State struct {
	bus    bus.Bus
	topics *protocol.Topics
	hub    *hub.Hub

	mu   sync.RWMutex
	data VehicleData
}

// NewState creates a snapshot holder that pushes every change to h.
func NewState(b bus.Bus, topics *protocol.Topics, h *hub.Hub) *State {
	return &State{bus: b, topics: topics, hub: h}
}

// Run subscribes to warnings, brake commands and dynamics and applies
// them until ctx is cancelled.
func (s *State) Run(ctx context.Context) error {
	warnSub, err := s.bus.Subscribe("dashboard-warnings", s.topics.WarningAll(), 32)
	if err != nil {
		return fmt.Errorf("dashboard: subscribe warnings: %w", err)
	}
	defer s.bus.Unsubscribe(warnSub.ID())

	brakeSub, err := s.bus.Subscribe("dashboard-brake", s.topics.Brake(), 32)
	if err != nil {
		return fmt.Errorf("dashboard: subscribe brake: %w", err)
	}
	defer s.bus.Unsubscribe(brakeSub.ID())

	speedSub, err := s.bus.Subscribe("dashboard-speed", s.topics.Speed(), 32)
	if err != nil {
		return fmt.Errorf("dashboard: subscribe speed: %w", err)
	}
	defer s.bus.Unsubscribe(speedSub.ID())

	rpmSub, err := s.bus.Subscribe("dashboard-rpm", s.topics.RPM(), 32)
	if err != nil {
		return fmt.Errorf("dashboard: subscribe rpm: %w", err)
	}
	defer s.bus.Unsubscribe(rpmSub.ID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-warnSub.C():
			if !ok {
				return fmt.Errorf("dashboard: warning subscription closed")
			}
			s.applyPayload(msg.Payload, s.applyWarning)
		case msg, ok := <-brakeSub.C():
			if !ok {
				return fmt.Errorf("dashboard: brake subscription closed")
			}
			s.applyPayload(msg.Payload, s.applyBrake)
		case msg, ok := <-speedSub.C():
			if !ok {
				return fmt.Errorf("dashboard: speed subscription closed")
			}
			s.applyPayload(msg.Payload, s.applySpeed)
		case msg, ok := <-rpmSub.C():
			if !ok {
				return fmt.Errorf("dashboard: rpm subscription closed")
			}
			s.applyPayload(msg.Payload, s.applyRPM)
		}
	}
}

// Snapshot returns a copy of the current vehicle data.
func (s *State) Snapshot() VehicleData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// ClearWarnings drops every latched warning. It is idempotent; clearing
// an already clear dashboard changes nothing. Workers re-raise any
// still-true condition on their next evaluation.
func (s *State) ClearWarnings() {
	s.mu.Lock()
	s.data.LaneWarning = LaneWarningState{}
	s.data.EmergencyStop = EmergencyStopState{}
	s.data.PedestrianWarning = PedestrianState{}
	s.data.Timestamp = time.Now().UnixMilli()
	data := s.data
	s.mu.Unlock()

	s.push(data)
}

func (s *State) applyPayload(payload []byte, apply func(*protocol.Envelope) error) {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		log.Warn("dashboard dropped undecodable message", "error", err)
		return
	}
	if err := apply(env); err != nil {
		log.Warn("dashboard dropped unusable payload", "type", env.Type, "error", err)
	}
}

func (s *State) applyWarning(env *protocol.Envelope) error {
	var warn protocol.Warning
	if err := env.ParseData(&warn); err != nil {
		return err
	}

	s.mu.Lock()
	switch warn.Kind {
	case protocol.WarnLaneDeparture:
		s.data.LaneWarning = LaneWarningState{
			Active:    warn.Active,
			Direction: string(warn.Direction),
		}
	case protocol.WarnObstacle:
		s.data.EmergencyStop = EmergencyStopState{
			Active:   warn.Active,
			Distance: warn.Distance,
		}
	case protocol.WarnPedestrian:
		s.data.PedestrianWarning = PedestrianState{
			Active:    warn.Active,
			Direction: string(warn.Direction),
		}
	}
	s.data.Timestamp = env.Timestamp
	data := s.data
	s.mu.Unlock()

	s.push(data)
	return nil
}

func (s *State) applyBrake(env *protocol.Envelope) error {
	var cmd protocol.BrakeCommand
	if err := env.ParseData(&cmd); err != nil {
		return err
	}

	s.mu.Lock()
	changed := s.data.BrakeIntensity != cmd.Intensity
	s.data.BrakeIntensity = cmd.Intensity
	s.data.Timestamp = env.Timestamp
	data := s.data
	s.mu.Unlock()

	// Brake commands repeat every control tick; only edges are worth a push.
	if changed {
		s.push(data)
	}
	return nil
}

func (s *State) applySpeed(env *protocol.Envelope) error {
	var dyn protocol.VehicleDynamics
	if err := env.ParseData(&dyn); err != nil {
		return err
	}

	s.mu.Lock()
	s.data.Speed = dyn.Speed
	s.data.Timestamp = env.Timestamp
	data := s.data
	s.mu.Unlock()

	s.push(data)
	return nil
}

func (s *State) applyRPM(env *protocol.Envelope) error {
	var dyn protocol.VehicleDynamics
	if err := env.ParseData(&dyn); err != nil {
		return err
	}

	s.mu.Lock()
	s.data.RPM = dyn.RPM
	s.data.Timestamp = env.Timestamp
	data := s.data
	s.mu.Unlock()

	s.push(data)
	return nil
}

func (s *State) push(data VehicleData) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastJSON(data); err != nil {
		log.Warn("dashboard state broadcast failed", "error", err)
	}
}
