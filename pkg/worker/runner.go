package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// Runner executes one worker and publishes its heartbeats. Each start
// gets a fresh instance id; nothing survives across restarts.
type Runner struct {
	worker Worker
	bus    bus.Bus
	topics *protocol.Topics
	period time.Duration
}

// NewRunner wraps a worker with heartbeat publication at the given period.
func NewRunner(w Worker, b bus.Bus, topics *protocol.Topics, period time.Duration) *Runner {
	return &Runner{worker: w, bus: b, topics: topics, period: period}
}

// Run blocks until the worker returns or ctx is cancelled. A worker panic
// is converted into a fatal fault rather than taking the process down.
func (r *Runner) Run(ctx context.Context) error {
	domain := r.worker.Domain()
	instance := uuid.NewString()
	health := NewHealth()

	logger := log.With("domain", domain, "instance", instance)
	logger.Info("worker starting")

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("worker %s panicked: %v", domain, p)
			}
		}()
		done <- r.worker.Run(ctx, health)
	}()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	var seq uint64
	// First heartbeat goes out immediately so the supervisor sees the
	// Starting -> Running transition without waiting a full period.
	r.publishHeartbeat(domain, instance, seq, health)

	for {
		select {
		case <-ticker.C:
			seq++
			r.publishHeartbeat(domain, instance, seq, health)

		case err := <-done:
			if err != nil && ctx.Err() == nil {
				logger.Error("worker failed", "error", err)
				health.ReportFault(err.Error())
				seq++
				r.publishHeartbeat(domain, instance, seq, health)
				return err
			}
			logger.Info("worker stopped")
			return nil
		}
	}
}

func (r *Runner) publishHeartbeat(domain protocol.Domain, instance string, seq uint64, health *Health) {
	status, detail := health.Status()
	env, err := protocol.NewEnvelope(protocol.TypeHeartbeat, protocol.Heartbeat{
		Domain:     domain,
		InstanceID: instance,
		Seq:        seq,
		Status:     status,
		Detail:     detail,
	})
	if err != nil {
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		return
	}
	r.bus.Publish(r.topics.Health(domain), raw)
}
