package pedestrian

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
	worker.Register(protocol.DomainPedestrian, func(cfg config.Config, b bus.Bus) (worker.Worker, error) {
		return NewWorker(cfg.Ped, b, protocol.NewTopics(cfg.TopicBase)), nil
	})
}

// Worker is the pedestrian detection loop.
type Worker struct {
	cfg    config.PedestrianConfig
	bus    bus.Bus
	topics *protocol.Topics

	left  *debounce
	right *debounce

	pending *protocol.CameraFrame
}

// NewWorker creates the pedestrian worker.
func NewWorker(cfg config.PedestrianConfig, b bus.Bus, topics *protocol.Topics) *Worker {
	return &Worker{
		cfg:    cfg,
		bus:    b,
		topics: topics,
		left:   newDebounce(cfg.RaiseFrames, cfg.ClearFrames),
		right:  newDebounce(cfg.RaiseFrames, cfg.ClearFrames),
	}
}

// Domain implements worker.Worker.
func (w *Worker) Domain() protocol.Domain { return protocol.DomainPedestrian }

// Run implements worker.Worker. Frames are buffered to the most recent
// and classified at the tick rate.
func (w *Worker) Run(ctx context.Context, health *worker.Health) error {
	sub, err := w.bus.Subscribe("pedestrian-frames", w.topics.CameraFrame(), 8)
	if err != nil {
		return fmt.Errorf("pedestrian: subscribe frames: %w", err)
	}
	defer w.bus.Unsubscribe(sub.ID())

	ticker := time.NewTicker(w.cfg.TickRate.Std())
	defer ticker.Stop()

	logger := log.With("domain", "pedestrian")
	logger.Info("detection loop started",
		"raise_frames", w.cfg.RaiseFrames,
		"clear_frames", w.cfg.ClearFrames)

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("pedestrian: frame subscription closed")
			}
			env, err := protocol.ParseEnvelope(msg.Payload)
			if err != nil {
				metrics.FramesDropped.Add(1)
				logger.Warn("dropped undecodable frame", "error", err)
				continue
			}
			var frame protocol.CameraFrame
			if err := env.ParseData(&frame); err != nil {
				metrics.FramesDropped.Add(1)
				logger.Warn("dropped undecodable frame", "error", err)
				continue
			}
			if w.pending != nil {
				metrics.FramesDropped.Add(1)
			}
			w.pending = &frame

		case <-ticker.C:
			if w.pending == nil {
				continue
			}
			frame := w.pending
			w.pending = nil
			w.processFrame(frame)
		}
	}
}

// processFrame classifies one frame and publishes per-side warning edges.
func (w *Worker) processFrame(frame *protocol.CameraFrame) {
	metrics.FramesProcessed.Add(1)
	p := classify(frame, w.cfg)

	if active, changed := w.left.observe(p.left); changed {
		w.publishWarning(protocol.DirectionLeft, active)
	}
	if active, changed := w.right.observe(p.right); changed {
		w.publishWarning(protocol.DirectionRight, active)
	}
}

func (w *Worker) publishWarning(dir protocol.Direction, active bool) {
	warning := protocol.Warning{
		Kind:      protocol.WarnPedestrian,
		Direction: dir,
		Severity:  protocol.SeverityWarning,
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
	w.bus.Publish(w.topics.Warning(protocol.DomainPedestrian), raw)
}

// Ensure Worker implements worker.Worker
var _ worker.Worker = (*Worker)(nil)
