package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
	}{
		{
			name:    "distance reading",
			msgType: TypeDistanceReading,
			data:    DistanceReading{Distance: 12.5, Actor: "vehicle"},
		},
		{
			name:    "warning",
			msgType: TypeWarning,
			data:    Warning{Kind: WarnObstacle, Severity: SeverityWarning, Distance: 12.5, Active: true},
		},
		{
			name:    "nil data",
			msgType: TypeCondition,
			data:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.msgType, tt.data)
			if err != nil {
				t.Fatalf("NewEnvelope() error = %v", err)
			}
			if env.Type != tt.msgType {
				t.Errorf("type = %v, want %v", env.Type, tt.msgType)
			}
			if env.Timestamp == 0 {
				t.Error("timestamp should be set")
			}
			if env.ID == "" {
				t.Error("id should be set")
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	original := Heartbeat{
		Domain:     DomainObstacle,
		InstanceID: "abc-123",
		Seq:        7,
		Status:     HealthOK,
	}

	env, err := NewEnvelope(TypeHeartbeat, original)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	raw, err := env.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if parsed.Type != TypeHeartbeat {
		t.Errorf("type = %v, want %v", parsed.Type, TypeHeartbeat)
	}

	var hb Heartbeat
	if err := parsed.ParseData(&hb); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if hb != original {
		t.Errorf("round trip: got %+v, want %+v", hb, original)
	}
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := ParseEnvelope([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestWarningOmitsEmptyDirection(t *testing.T) {
	raw, err := json.Marshal(Warning{Kind: WarnObstacle, Severity: SeverityCritical, Active: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["direction"]; present {
		t.Error("empty direction should be omitted from JSON")
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("vehicle")

	tests := []struct {
		got, want string
	}{
		{topics.CameraFrame(), "vehicle/camera/frame"},
		{topics.Distance(), "vehicle/sensors/distance"},
		{topics.Collision(), "vehicle/sensors/collision"},
		{topics.Speed(), "vehicle/dynamics/speed"},
		{topics.Brake(), "vehicle/adas/command/brake"},
		{topics.Steer(), "vehicle/adas/command/angle"},
		{topics.Condition(), "vehicle/adas/condition"},
		{topics.Warning(DomainLane), "vehicle/adas/warning/lane"},
		{topics.WarningAll(), "vehicle/adas/warning/*"},
		{topics.Health(DomainPedestrian), "vehicle/adas/health/pedestrian"},
		{topics.HealthAll(), "vehicle/adas/health/*"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
