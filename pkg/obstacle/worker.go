package obstacle

import (
	"context"
	"fmt"
	"time"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/internal/metrics"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/worker"
)

func init() {
	worker.Register(protocol.DomainObstacle, func(cfg config.Config, b bus.Bus) (worker.Worker, error) {
		return NewWorker(cfg.Obstacle, b, protocol.NewTopics(cfg.TopicBase)), nil
	})
}

// silence tracks how the worker is handling missing sensor data while
// brakes are applied: fresh data, holding the last command for one grace
// tick, or faulted.
type silenceState int

const (
	silenceNone silenceState = iota
	silenceHeld
	silenceFault
)

// Worker is the obstacle braking control loop. All state is worker-local
// and torn down with the worker; a restart starts from zero.
type Worker struct {
	cfg    config.ObstacleConfig
	bus    bus.Bus
	topics *protocol.Topics
	policy Policy

	// Readings accumulated since the last control tick; the nearest wins.
	pendingNearest *protocol.DistanceReading

	// Most recent applied reading, for the freshness window.
	current    *protocol.DistanceReading
	currentAt  time.Time
	lastBrake  float64
	warnActive bool
	warnSev    protocol.Severity

	malformedStreak int
	silence         silenceState
}

// NewWorker creates the obstacle worker.
func NewWorker(cfg config.ObstacleConfig, b bus.Bus, topics *protocol.Topics) *Worker {
	return &Worker{
		cfg:    cfg,
		bus:    b,
		topics: topics,
		policy: PolicyFromConfig(cfg),
	}
}

// Domain implements worker.Worker.
func (w *Worker) Domain() protocol.Domain { return protocol.DomainObstacle }

// Run implements worker.Worker. It blocks on the distance subscription and
// a fixed-rate control tick until ctx is cancelled or a fatal fault occurs.
func (w *Worker) Run(ctx context.Context, health *worker.Health) error {
	distSub, err := w.bus.Subscribe("obstacle-distance", w.topics.Distance(), 32)
	if err != nil {
		return fmt.Errorf("obstacle: subscribe distance: %w", err)
	}
	defer w.bus.Unsubscribe(distSub.ID())

	collSub, err := w.bus.Subscribe("obstacle-collision", w.topics.Collision(), 8)
	if err != nil {
		return fmt.Errorf("obstacle: subscribe collision: %w", err)
	}
	defer w.bus.Unsubscribe(collSub.ID())

	ticker := time.NewTicker(w.cfg.TickRate.Std())
	defer ticker.Stop()

	logger := log.With("domain", "obstacle")
	logger.Info("control loop started",
		"critical_m", w.cfg.CriticalDistance,
		"warning_m", w.cfg.WarningDistance,
		"safe_m", w.cfg.SafeDistance)

	for {
		select {
		case <-ctx.Done():
			// Clean shutdown releases brakes explicitly.
			w.publishBrake(0.0, "shutdown")
			return nil

		case msg, ok := <-distSub.C():
			if !ok {
				return fmt.Errorf("obstacle: distance subscription closed")
			}
			if err := w.ingestReading(msg.Payload); err != nil {
				metrics.MalformedReadings.Add(1)
				w.malformedStreak++
				logger.Warn("dropped malformed reading", "error", err, "streak", w.malformedStreak)
				if w.malformedStreak >= w.cfg.MaxMalformed {
					return fmt.Errorf("obstacle: %d consecutive malformed readings: %w", w.malformedStreak, err)
				}
			}

		case msg, ok := <-collSub.C():
			if !ok {
				return fmt.Errorf("obstacle: collision subscription closed")
			}
			w.onCollision(msg.Payload)

		case <-ticker.C:
			w.tick(time.Now(), health)
		}
	}
}

// ingestReading validates one distance sample and folds it into the
// current tick window, keeping the nearest.
func (w *Worker) ingestReading(payload []byte) error {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		return err
	}
	var reading protocol.DistanceReading
	if err := env.ParseData(&reading); err != nil {
		return err
	}
	if !ValidDistance(reading.Distance) {
		return fmt.Errorf("invalid distance %v", reading.Distance)
	}

	w.malformedStreak = 0
	if w.pendingNearest == nil || reading.Distance < w.pendingNearest.Distance {
		w.pendingNearest = &reading
	}
	return nil
}

// onCollision reacts to physical contact: emergency braking and a
// critical warning, regardless of what the range sensor says.
func (w *Worker) onCollision(payload []byte) {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		return
	}
	var ev protocol.CollisionEvent
	if err := env.ParseData(&ev); err != nil {
		return
	}

	log.Warn("collision detected", "actor", ev.Actor, "impulse", ev.Impulse)
	w.publishBrake(w.policy.EmergencyIntensity, "collision")
	w.lastBrake = w.policy.EmergencyIntensity
	w.setWarning(true, protocol.SeverityCritical, 0)
}

// tick runs one control cycle.
func (w *Worker) tick(now time.Time, health *worker.Health) {
	// Fold the tick window into the current reading.
	if w.pendingNearest != nil {
		w.current = w.pendingNearest
		w.currentAt = now
		w.pendingNearest = nil
		if w.silence == silenceFault {
			health.Clear()
		}
		w.silence = silenceNone
	}

	fresh := w.current != nil && now.Sub(w.currentAt) <= w.cfg.FreshnessWindow.Std()
	if fresh {
		w.applyDistance(w.current.Distance)
		return
	}

	metrics.StaleTicks.Add(1)

	// No fresh data. With brakes released this is simply "no obstacle";
	// with brakes applied it is ambiguous, so hold for one grace tick and
	// then report a fault instead of guessing.
	if w.lastBrake == 0 {
		w.publishBrake(0.0, "no_obstacle")
		w.setWarning(false, protocol.SeverityInfo, 0)
		return
	}

	switch w.silence {
	case silenceNone:
		w.silence = silenceHeld
		w.publishBrake(w.lastBrake, "sensor_silence_hold")
	case silenceHeld:
		w.silence = silenceFault
		health.ReportFault("sensor silence during active braking")
		w.setWarning(true, protocol.SeverityFault, 0)
		w.publishBrake(w.lastBrake, "sensor_fault_hold")
	case silenceFault:
		// Keep holding; the supervisor decides what happens next.
		w.publishBrake(w.lastBrake, "sensor_fault_hold")
	}
}

// applyDistance computes and publishes the brake command and warning
// edges for a fresh distance value.
func (w *Worker) applyDistance(distance float64) {
	intensity := w.policy.Intensity(distance)
	reason := "clear"
	switch {
	case distance <= w.cfg.CriticalDistance:
		reason = "critical"
	case distance <= w.cfg.WarningDistance:
		reason = "braking"
	case distance <= w.cfg.SafeDistance:
		reason = "caution"
	}
	w.publishBrake(intensity, reason)
	w.lastBrake = intensity

	// The warning stands throughout the caution band, not just once braking
	// ramps up: any obstacle inside safe distance is worth telling the
	// driver about.
	if distance <= w.cfg.SafeDistance {
		sev := protocol.SeverityWarning
		if distance <= w.cfg.CriticalDistance {
			sev = protocol.SeverityCritical
		}
		w.setWarning(true, sev, distance)
	} else {
		w.setWarning(false, protocol.SeverityInfo, 0)
	}
}

// publishBrake publishes one BrakeCommand. Commands go out every tick,
// including releases.
func (w *Worker) publishBrake(intensity float64, reason string) {
	env, err := protocol.NewEnvelope(protocol.TypeBrakeCommand, protocol.BrakeCommand{
		Intensity: intensity,
		Reason:    reason,
	})
	if err != nil {
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		return
	}
	w.bus.Publish(w.topics.Brake(), raw)
	metrics.BrakeCommands.Add(1)
}

// setWarning emits edge-triggered obstacle warnings: a message goes out
// only when active flips or the severity escalates while active.
func (w *Worker) setWarning(active bool, severity protocol.Severity, distance float64) {
	if active == w.warnActive && (!active || severity == w.warnSev) {
		return
	}
	w.warnActive = active
	w.warnSev = severity

	warning := protocol.Warning{
		Kind:     protocol.WarnObstacle,
		Severity: severity,
		Distance: distance,
		Active:   active,
	}
	if !active {
		warning.Severity = protocol.SeverityInfo
		metrics.WarningsCleared.Add(1)
	} else {
		metrics.WarningsRaised.Add(1)
	}

	env, err := protocol.NewEnvelope(protocol.TypeWarning, warning)
	if err != nil {
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		return
	}
	w.bus.Publish(w.topics.Warning(protocol.DomainObstacle), raw)
}

// Ensure Worker implements worker.Worker
var _ worker.Worker = (*Worker)(nil)
