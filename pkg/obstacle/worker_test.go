package obstacle

import (
	"math"
	"testing"
	"time"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/worker"
)

type harness struct {
	t      *testing.T
	worker *Worker
	health *worker.Health
	brakes *bus.Subscription
	warns  *bus.Subscription
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	topics := protocol.NewTopics("vehicle")

	brakes, err := b.Subscribe("test-brakes", topics.Brake(), 64)
	if err != nil {
		t.Fatalf("subscribe brakes: %v", err)
	}
	warns, err := b.Subscribe("test-warnings", topics.Warning(protocol.DomainObstacle), 64)
	if err != nil {
		t.Fatalf("subscribe warnings: %v", err)
	}

	return &harness{
		t:      t,
		worker: NewWorker(config.Default().Obstacle, b, topics),
		health: worker.NewHealth(),
		brakes: brakes,
		warns:  warns,
		now:    time.Now(),
	}
}

func (h *harness) reading(distance float64) {
	h.t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeDistanceReading, protocol.DistanceReading{
		Distance:  distance,
		Timestamp: h.now.UnixMilli(),
	})
	if err != nil {
		h.t.Fatalf("envelope: %v", err)
	}
	raw, _ := env.Bytes()
	if err := h.worker.ingestReading(raw); err != nil {
		h.t.Fatalf("ingest %v: %v", distance, err)
	}
}

func (h *harness) tick(advance time.Duration) {
	h.now = h.now.Add(advance)
	h.worker.tick(h.now, h.health)
}

func (h *harness) lastBrake() protocol.BrakeCommand {
	h.t.Helper()
	var cmd protocol.BrakeCommand
	got := false
	for draining := true; draining; {
		select {
		case msg := <-h.brakes.C():
			env, err := protocol.ParseEnvelope(msg.Payload)
			if err != nil {
				h.t.Fatalf("parse: %v", err)
			}
			if err := env.ParseData(&cmd); err != nil {
				h.t.Fatalf("parse data: %v", err)
			}
			got = true
		default:
			draining = false
		}
	}
	if !got {
		h.t.Fatal("no brake command published")
	}
	return cmd
}

func (h *harness) drainWarnings() []protocol.Warning {
	var out []protocol.Warning
	for draining := true; draining; {
		select {
		case msg := <-h.warns.C():
			env, err := protocol.ParseEnvelope(msg.Payload)
			if err != nil {
				h.t.Fatalf("parse: %v", err)
			}
			var warn protocol.Warning
			if err := env.ParseData(&warn); err != nil {
				h.t.Fatalf("parse data: %v", err)
			}
			out = append(out, warn)
		default:
			draining = false
		}
	}
	return out
}

func TestBrakeFollowsDistance(t *testing.T) {
	h := newHarness(t)

	h.reading(30)
	h.tick(100 * time.Millisecond)
	if cmd := h.lastBrake(); cmd.Intensity != 0.0 {
		t.Errorf("d=30: intensity %v, want 0", cmd.Intensity)
	}
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Errorf("d=30: unexpected warnings %v", warns)
	}

	h.reading(20)
	h.tick(100 * time.Millisecond)
	if cmd := h.lastBrake(); cmd.Intensity != 0.3 {
		t.Errorf("d=20: intensity %v, want 0.3", cmd.Intensity)
	}
	warns := h.drainWarnings()
	if len(warns) != 1 || !warns[0].Active || warns[0].Severity != protocol.SeverityWarning {
		t.Errorf("d=20: warnings %v, want one active warning", warns)
	}

	h.reading(3)
	h.tick(100 * time.Millisecond)
	if cmd := h.lastBrake(); cmd.Intensity != 0.8 {
		t.Errorf("d=3: intensity %v, want 0.8", cmd.Intensity)
	}
	warns = h.drainWarnings()
	if len(warns) != 1 || warns[0].Severity != protocol.SeverityCritical {
		t.Errorf("d=3: warnings %v, want severity escalation", warns)
	}
}

func TestWarningCoversCautionBand(t *testing.T) {
	h := newHarness(t)

	// An obstacle inside safe distance warns even before the brake ramp:
	// the caution band holds the warning intensity and an active warning.
	h.reading(20)
	h.tick(100 * time.Millisecond)
	if cmd := h.lastBrake(); cmd.Intensity != 0.3 || cmd.Reason != "caution" {
		t.Errorf("d=20: %+v, want caution at 0.3", cmd)
	}
	warns := h.drainWarnings()
	if len(warns) != 1 || !warns[0].Active {
		t.Fatalf("d=20: warnings %v, want one raise", warns)
	}

	// At the safe boundary the warning still stands.
	h.reading(25)
	h.tick(100 * time.Millisecond)
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Errorf("d=25: re-emitted active warning: %v", warns)
	}

	// Just beyond it the warning clears.
	h.reading(25.1)
	h.tick(100 * time.Millisecond)
	warns = h.drainWarnings()
	if len(warns) != 1 || warns[0].Active {
		t.Errorf("d=25.1: warnings %v, want one clear", warns)
	}
}

func TestWarningIsEdgeTriggered(t *testing.T) {
	h := newHarness(t)

	// Repeated ticks in the same condition must not re-emit.
	for i := 0; i < 4; i++ {
		h.reading(12)
		h.tick(100 * time.Millisecond)
	}
	if warns := h.drainWarnings(); len(warns) != 1 {
		t.Errorf("got %d warning messages, want 1", len(warns))
	}

	// Leaving the band emits exactly one clear.
	h.reading(28)
	h.tick(100 * time.Millisecond)
	warns := h.drainWarnings()
	if len(warns) != 1 || warns[0].Active {
		t.Errorf("got %v, want one clear edge", warns)
	}

	// Staying clear emits nothing further.
	h.reading(28)
	h.tick(100 * time.Millisecond)
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Errorf("re-emitted clear: %v", warns)
	}
}

func TestNearestOfTickWins(t *testing.T) {
	h := newHarness(t)

	h.reading(22)
	h.reading(9)
	h.reading(18)
	h.tick(100 * time.Millisecond)

	cmd := h.lastBrake()
	want := defaultPolicy().Intensity(9)
	if cmd.Intensity != want {
		t.Errorf("intensity %v, want %v (nearest reading 9m)", cmd.Intensity, want)
	}
}

func TestSensorSilenceHoldsThenFaults(t *testing.T) {
	h := newHarness(t)

	// Active braking at 10m.
	h.reading(10)
	h.tick(100 * time.Millisecond)
	held := h.lastBrake().Intensity
	if math.Abs(held-0.55) > 1e-9 {
		t.Fatalf("setup: intensity %v, want 0.55", held)
	}
	h.drainWarnings()

	// First stale tick past the freshness window: hold.
	h.tick(400 * time.Millisecond)
	cmd := h.lastBrake()
	if cmd.Intensity != held || cmd.Reason != "sensor_silence_hold" {
		t.Errorf("first stale tick: %+v, want held %v", cmd, held)
	}
	if status, _ := h.health.Status(); status != protocol.HealthOK {
		t.Error("fault reported too early")
	}

	// Second stale tick: fault reported, brakes still held.
	h.tick(100 * time.Millisecond)
	cmd = h.lastBrake()
	if cmd.Intensity != held {
		t.Errorf("fault tick: intensity %v, want held %v", cmd.Intensity, held)
	}
	status, detail := h.health.Status()
	if status != protocol.HealthFault {
		t.Error("fault not reported after grace tick")
	}
	if detail == "" {
		t.Error("fault detail missing")
	}
	warns := h.drainWarnings()
	if len(warns) != 1 || warns[0].Severity != protocol.SeverityFault {
		t.Errorf("fault warning: %v", warns)
	}

	// Recovery: fresh data clears the fault.
	h.reading(10)
	h.tick(100 * time.Millisecond)
	if status, _ := h.health.Status(); status != protocol.HealthOK {
		t.Error("fault not cleared after recovery")
	}
}

func TestSilenceWithReleasedBrakesIsNoObstacle(t *testing.T) {
	h := newHarness(t)

	h.reading(30)
	h.tick(100 * time.Millisecond)
	h.tick(500 * time.Millisecond) // well past freshness

	cmd := h.lastBrake()
	if cmd.Intensity != 0.0 || cmd.Reason != "no_obstacle" {
		t.Errorf("got %+v, want release with no_obstacle", cmd)
	}
	if status, _ := h.health.Status(); status != protocol.HealthOK {
		t.Error("silence with released brakes must not fault")
	}
}

func TestMalformedReadingsDroppedThenFatal(t *testing.T) {
	b := bus.New()
	defer b.Close()
	topics := protocol.NewTopics("vehicle")
	w := NewWorker(config.Default().Obstacle, b, topics)

	bad := func(distance float64) []byte {
		env, _ := protocol.NewEnvelope(protocol.TypeDistanceReading, protocol.DistanceReading{Distance: distance})
		raw, _ := env.Bytes()
		return raw
	}

	if err := w.ingestReading(bad(-4)); err == nil {
		t.Fatal("negative distance accepted")
	}
	if w.pendingNearest != nil {
		t.Error("malformed reading reached the control loop")
	}

	// A valid reading resets the streak (tracked by Run); here we verify
	// ingestReading clears it.
	w.malformedStreak = 2
	good, _ := protocol.NewEnvelope(protocol.TypeDistanceReading, protocol.DistanceReading{Distance: 12})
	raw, _ := good.Bytes()
	if err := w.ingestReading(raw); err != nil {
		t.Fatalf("valid reading rejected: %v", err)
	}
	if w.malformedStreak != 0 {
		t.Errorf("streak = %d after valid reading, want 0", w.malformedStreak)
	}
}
