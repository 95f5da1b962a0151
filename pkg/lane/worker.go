package lane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/internal/metrics"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/worker"
)

func init() {
	worker.Register(protocol.DomainLane, func(cfg config.Config, b bus.Bus) (worker.Worker, error) {
		return NewWorker(cfg.Lane, b, protocol.NewTopics(cfg.TopicBase)), nil
	})
}

// correctionAngle is the steering nudge applied while a departure warning
// is active, in degrees. Negative steers left.
const correctionAngle = 5.0

// Worker is the lane departure control loop.
type Worker struct {
	cfg    config.LaneConfig
	bus    bus.Bus
	topics *protocol.Topics
	det    *Detector

	left  *hysteresis
	right *hysteresis

	// Latest unprocessed frame; the tick drains it so a frame flood cannot
	// outrun the pipeline.
	pending *protocol.CameraFrame

	lastSteer  float64
	steerKnown bool
}

// NewWorker creates the lane worker.
func NewWorker(cfg config.LaneConfig, b bus.Bus, topics *protocol.Topics) *Worker {
	return &Worker{
		cfg:    cfg,
		bus:    b,
		topics: topics,
		det:    NewDetector(cfg),
		left:   newHysteresis(cfg.WarningDistance, cfg.HysteresisMargin),
		right:  newHysteresis(cfg.WarningDistance, cfg.HysteresisMargin),
	}
}

// Domain implements worker.Worker.
func (w *Worker) Domain() protocol.Domain { return protocol.DomainLane }

// Run implements worker.Worker. Frames are buffered to the most recent
// and processed at the tick rate.
func (w *Worker) Run(ctx context.Context, health *worker.Health) error {
	sub, err := w.bus.Subscribe("lane-frames", w.topics.CameraFrame(), 8)
	if err != nil {
		return fmt.Errorf("lane: subscribe frames: %w", err)
	}
	defer w.bus.Unsubscribe(sub.ID())

	ticker := time.NewTicker(w.cfg.TickRate.Std())
	defer ticker.Stop()

	logger := log.With("domain", "lane")
	logger.Info("detection loop started",
		"warning_px", w.cfg.WarningDistance,
		"hysteresis_px", w.cfg.HysteresisMargin)

	for {
		select {
		case <-ctx.Done():
			// Release any standing steering correction.
			if w.steerKnown && w.lastSteer != 0 {
				w.publishSteer(0)
			}
			return nil

		case msg, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("lane: frame subscription closed")
			}
			frame, err := parseFrame(msg.Payload)
			if err != nil {
				metrics.FramesDropped.Add(1)
				logger.Warn("dropped undecodable frame", "error", err)
				continue
			}
			if w.pending != nil {
				metrics.FramesDropped.Add(1)
			}
			w.pending = frame

		case <-ticker.C:
			if w.pending == nil {
				continue
			}
			frame := w.pending
			w.pending = nil
			w.processFrame(frame, logger)
		}
	}
}

func parseFrame(payload []byte) (*protocol.CameraFrame, error) {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	var frame protocol.CameraFrame
	if err := env.ParseData(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// processFrame runs one frame through the detector and turns the tracked
// boundary positions into warning edges and steering corrections.
func (w *Worker) processFrame(frame *protocol.CameraFrame, logger *slog.Logger) {
	result, err := w.det.Process(frame)
	if err != nil {
		metrics.FramesDropped.Add(1)
		logger.Warn("dropped frame", "error", err, "seq", frame.Seq)
		return
	}
	metrics.FramesProcessed.Add(1)

	center := float64(w.det.CenterX())
	w.evaluateSide(w.left, result.Left, protocol.DirectionLeft, center-result.Left.X)
	w.evaluateSide(w.right, result.Right, protocol.DirectionRight, result.Right.X-center)
	w.steer()
}

// evaluateSide updates one side's hysteresis latch and publishes a warning
// message only on state changes.
func (w *Worker) evaluateSide(h *hysteresis, b Boundary, dir protocol.Direction, distance float64) {
	if !b.Visible {
		if h.lost() {
			w.publishWarning(dir, false, 0)
		}
		return
	}
	if active, changed := h.observe(distance); changed {
		w.publishWarning(dir, active, distance)
	}
}

// steer publishes a correction while a warning stands, preferring the left
// side when both are active, and zero once the lane is clear. Commands are
// edge-triggered.
func (w *Worker) steer() {
	angle := 0.0
	switch {
	case w.left.active:
		angle = -correctionAngle
	case w.right.active:
		angle = correctionAngle
	}
	if w.steerKnown && angle == w.lastSteer {
		return
	}
	w.publishSteer(angle)
}

func (w *Worker) publishSteer(angle float64) {
	env, err := protocol.NewEnvelope(protocol.TypeSteerCommand, protocol.SteerCommand{Angle: angle})
	if err != nil {
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		return
	}
	w.bus.Publish(w.topics.Steer(), raw)
	w.lastSteer = angle
	w.steerKnown = true
}

func (w *Worker) publishWarning(dir protocol.Direction, active bool, distance float64) {
	warning := protocol.Warning{
		Kind:      protocol.WarnLaneDeparture,
		Direction: dir,
		Severity:  protocol.SeverityWarning,
		Distance:  distance,
		Active:    active,
	}
	if active {
		metrics.WarningsRaised.Add(1)
	} else {
		warning.Severity = protocol.SeverityInfo
		metrics.WarningsCleared.Add(1)
	}

	env, err := protocol.NewEnvelope(protocol.TypeWarning, warning)
	if err != nil {
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		return
	}
	w.bus.Publish(w.topics.Warning(protocol.DomainLane), raw)
}

// Ensure Worker implements worker.Worker
var _ worker.Worker = (*Worker)(nil)
