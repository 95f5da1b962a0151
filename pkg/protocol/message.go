// Package protocol defines the bus message envelope, payload schemas and
// topic catalog shared by sensors, workers, the supervisor and the dashboard.
// This is a pure data contract: every other component depends on it, it
// depends on nothing.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the payload schema carried by an Envelope.
type MessageType string

const (
	// Sensor → worker messages
	TypeCameraFrame     MessageType = "camera_frame"
	TypeDistanceReading MessageType = "distance_reading"
	TypeCollisionEvent  MessageType = "collision_event"
	TypeDynamics        MessageType = "dynamics"

	// Worker → downstream messages
	TypeWarning      MessageType = "warning"
	TypeBrakeCommand MessageType = "brake_command"
	TypeSteerCommand MessageType = "steer_command"
	TypeHeartbeat    MessageType = "heartbeat"

	// Policy → supervisor messages
	TypeCondition MessageType = "condition"
)

// Envelope is the wire wrapper for all bus messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope creates an envelope with a fresh ID and the current timestamp.
func NewEnvelope(msgType MessageType, data interface{}) (*Envelope, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
		}
	}

	return &Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the envelope payload into v.
func (e *Envelope) ParseData(v interface{}) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Bytes returns the JSON-encoded envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope parses a JSON envelope from raw bytes.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("protocol: parse envelope: %w", err)
	}
	return &e, nil
}

// =============================================================================
// Worker domains
// =============================================================================

// Domain identifies one managed assistance function.
type Domain string

const (
	DomainLane       Domain = "lane"
	DomainObstacle   Domain = "obstacle"
	DomainPedestrian Domain = "pedestrian"
)

// Domains lists every known worker domain. The set is closed: the
// supervisor never manages a domain outside this catalog.
func Domains() []Domain {
	return []Domain{DomainLane, DomainObstacle, DomainPedestrian}
}

// =============================================================================
// Sensor payloads
// =============================================================================

// CameraFrame is one camera sample. Pixels carries row-major 8-bit
// grayscale luminance when Encoding is "gray8"; detection boxes found
// upstream ride along in Boxes so heuristic workers can reuse them.
type CameraFrame struct {
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"ts"` // Unix milliseconds at capture
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Encoding  string `json:"encoding"` // "gray8"
	Pixels    []byte `json:"pixels,omitempty"`
	Boxes     []Box  `json:"boxes,omitempty"`
}

// Box is an axis-aligned detection box in frame coordinates.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() int { return (b.X1 + b.X2) / 2 }

// DistanceReading is one range measurement toward the nearest obstacle.
type DistanceReading struct {
	Distance  float64 `json:"distance"` // meters, >= 0
	Bearing   float64 `json:"bearing,omitempty"`
	Actor     string  `json:"actor,omitempty"` // classification of the sensed actor
	Timestamp int64   `json:"ts"`
}

// CollisionEvent reports physical contact detected by the collision sensor.
type CollisionEvent struct {
	Actor     string  `json:"actor,omitempty"`
	Impulse   float64 `json:"impulse,omitempty"`
	Timestamp int64   `json:"ts"`
}

// VehicleDynamics carries speed and engine state for the dashboard and
// the supervisor's condition evaluation.
type VehicleDynamics struct {
	Speed float64 `json:"speed"` // km/h
	RPM   float64 `json:"rpm"`
}

// =============================================================================
// Worker output payloads
// =============================================================================

// WarningKind names the alert category.
type WarningKind string

const (
	WarnLaneDeparture WarningKind = "lane_departure"
	WarnObstacle      WarningKind = "obstacle"
	WarnPedestrian    WarningKind = "pedestrian"
)

// Direction indicates which side of the vehicle an alert refers to.
type Direction string

const (
	DirectionLeft  Direction = "LEFT"
	DirectionRight Direction = "RIGHT"
	DirectionNone  Direction = ""
)

// Severity grades a warning.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityFault    Severity = "fault" // control-loop ambiguity, needs attention
)

// Warning is an edge-triggered driver alert. Active true is the raise
// edge, false the clear edge; a worker never re-emits an unchanged state.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	Direction Direction   `json:"direction,omitempty"`
	Severity  Severity    `json:"severity"`
	Distance  float64     `json:"distance,omitempty"` // meters, obstacle warnings only
	Active    bool        `json:"active"`
}

// BrakeCommand is the graduated braking output, published every control
// tick including intensity 0.0 (release).
type BrakeCommand struct {
	Intensity float64 `json:"intensity"` // [0.0, 1.0]
	Reason    string  `json:"reason,omitempty"`
}

// SteerCommand is the corrective steering output from lane assist.
type SteerCommand struct {
	Angle float64 `json:"angle"` // degrees, negative steers left
}

// =============================================================================
// Lifecycle payloads
// =============================================================================

// WorkerState is a worker's lifecycle state as managed by the supervisor.
type WorkerState string

const (
	StateStopped    WorkerState = "stopped"
	StateStarting   WorkerState = "starting"
	StateRunning    WorkerState = "running"
	StateDegraded   WorkerState = "degraded"
	StateRestarting WorkerState = "restarting"
	StateDisabled   WorkerState = "disabled"
)

// HealthStatus is what a worker reports about itself in heartbeats.
type HealthStatus string

const (
	HealthOK    HealthStatus = "ok"
	HealthFault HealthStatus = "fault" // unhealthy, wants a supervisor restart
)

// Heartbeat is the periodic liveness signal each worker publishes.
type Heartbeat struct {
	Domain     Domain       `json:"domain"`
	InstanceID string       `json:"instance_id"` // unique per worker start
	Seq        uint64       `json:"seq"`
	Status     HealthStatus `json:"status"`
	Detail     string       `json:"detail,omitempty"`
}

// ConditionKind names a driving-condition signal.
type ConditionKind string

const (
	ConditionRoadType  ConditionKind = "road_type"  // "urban", "highway", "offroad"
	ConditionSpeedBand ConditionKind = "speed_band" // numeric km/h in Value
)

// DrivingCondition is a trigger input consumed by the supervisor to
// decide the desired worker set.
type DrivingCondition struct {
	Kind  ConditionKind `json:"kind"`
	Value string        `json:"value"`
}
