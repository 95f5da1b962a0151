package protocol

import "fmt"

// Topic suffixes for bus communication.
// All topics are prefixed with the configured base (default: "vehicle").

// TopicCameraFrame carries CameraFrame payloads from the camera source.
const TopicCameraFrame = "camera/frame"

// TopicDistance carries DistanceReading payloads from the range sensor.
const TopicDistance = "sensors/distance"

// TopicCollision carries CollisionEvent payloads from the collision sensor.
const TopicCollision = "sensors/collision"

// TopicSpeed carries VehicleDynamics payloads (speed field).
const TopicSpeed = "dynamics/speed"

// TopicRPM carries VehicleDynamics payloads (rpm field).
const TopicRPM = "dynamics/rpm"

// TopicBrake carries BrakeCommand payloads toward vehicle control.
const TopicBrake = "adas/command/brake"

// TopicSteer carries SteerCommand payloads toward vehicle control.
const TopicSteer = "adas/command/angle"

// TopicCondition carries DrivingCondition payloads toward the supervisor.
const TopicCondition = "adas/condition"

// Per-domain suffix roots. A concrete topic appends "/<domain>".
const (
	topicWarningRoot = "adas/warning"
	topicHealthRoot  = "adas/health"
)

// Topics builds fully-qualified topic names under a common prefix.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) join(suffix string) string {
	return fmt.Sprintf("%s/%s", t.prefix, suffix)
}

// Prefix returns the configured topic prefix.
func (t *Topics) Prefix() string { return t.prefix }

// CameraFrame returns the full camera frame topic path.
func (t *Topics) CameraFrame() string { return t.join(TopicCameraFrame) }

// Distance returns the full obstacle distance topic path.
func (t *Topics) Distance() string { return t.join(TopicDistance) }

// Collision returns the full collision event topic path.
func (t *Topics) Collision() string { return t.join(TopicCollision) }

// Speed returns the full vehicle speed topic path.
func (t *Topics) Speed() string { return t.join(TopicSpeed) }

// RPM returns the full vehicle RPM topic path.
func (t *Topics) RPM() string { return t.join(TopicRPM) }

// Brake returns the full brake command topic path.
func (t *Topics) Brake() string { return t.join(TopicBrake) }

// Steer returns the full steering command topic path.
func (t *Topics) Steer() string { return t.join(TopicSteer) }

// Condition returns the full driving condition topic path.
func (t *Topics) Condition() string { return t.join(TopicCondition) }

// Warning returns the warning topic path for a domain.
func (t *Topics) Warning(d Domain) string {
	return t.join(fmt.Sprintf("%s/%s", topicWarningRoot, d))
}

// WarningAll returns the wildcard pattern matching every warning topic.
func (t *Topics) WarningAll() string { return t.join(topicWarningRoot + "/*") }

// Health returns the heartbeat topic path for a domain.
func (t *Topics) Health(d Domain) string {
	return t.join(fmt.Sprintf("%s/%s", topicHealthRoot, d))
}

// HealthAll returns the wildcard pattern matching every health topic.
func (t *Topics) HealthAll() string { return t.join(topicHealthRoot + "/*") }
