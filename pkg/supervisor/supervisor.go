package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/internal/metrics"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// ErrNotDisabled is returned by Reset for a domain that does not need one.
var ErrNotDisabled = errors.New("supervisor: domain is not disabled")

// Supervisor converges the desired and actual worker sets. All
// Descriptor mutation happens on the control loop goroutine; the mutex
// only covers snapshot reads.
type Supervisor struct {
	cfg      config.SupervisorConfig
	bus      bus.Bus
	topics   *protocol.Topics
	launcher Launcher

	mu          sync.RWMutex
	descriptors map[protocol.Domain]*Descriptor
	conditions  Conditions

	resets chan protocol.Domain
}

// New creates a supervisor managing the full domain catalog.
func New(cfg config.SupervisorConfig, b bus.Bus, topics *protocol.Topics, launcher Launcher) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		bus:         b,
		topics:      topics,
		launcher:    launcher,
		descriptors: make(map[protocol.Domain]*Descriptor),
		conditions:  make(Conditions),
		resets:      make(chan protocol.Domain, 4),
	}
	for _, d := range protocol.Domains() {
		s.descriptors[d] = newDescriptor(d)
	}
	return s
}

// Run executes the control loop until ctx is cancelled. It blocks on
// heartbeats, conditions, launcher exits and reset requests, with a
// periodic sweep so timeouts fire even when the bus is quiet.
func (s *Supervisor) Run(ctx context.Context) error {
	healthSub, err := s.bus.Subscribe("supervisor-health", s.topics.HealthAll(), 32)
	if err != nil {
		return fmt.Errorf("supervisor: subscribe health: %w", err)
	}
	defer s.bus.Unsubscribe(healthSub.ID())

	condSub, err := s.bus.Subscribe("supervisor-conditions", s.topics.Condition(), 8)
	if err != nil {
		return fmt.Errorf("supervisor: subscribe conditions: %w", err)
	}
	defer s.bus.Unsubscribe(condSub.ID())

	ticker := time.NewTicker(s.cfg.SweepPeriod.Std())
	defer ticker.Stop()

	log.Info("supervisor started",
		"health_timeout", s.cfg.HealthTimeout.Std(),
		"max_restarts", s.cfg.MaxRestarts)

	// Initial convergence brings every desired domain up.
	s.reconcile(time.Now())

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return nil

		case msg, ok := <-healthSub.C():
			if !ok {
				return fmt.Errorf("supervisor: health subscription closed")
			}
			if hb, err := parseHeartbeat(msg.Payload); err == nil {
				s.handleHeartbeat(time.Now(), hb)
			}

		case msg, ok := <-condSub.C():
			if !ok {
				return fmt.Errorf("supervisor: condition subscription closed")
			}
			if cond, err := parseCondition(msg.Payload); err == nil {
				s.handleCondition(time.Now(), cond)
			}

		case exit := <-s.launcher.Exits():
			s.handleExit(time.Now(), exit)

		case domain := <-s.resets:
			s.handleReset(time.Now(), domain)

		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// Status returns a copy of every descriptor in catalog order.
func (s *Supervisor) Status() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.descriptors))
	for _, d := range protocol.Domains() {
		out = append(out, s.descriptors[d].status())
	}
	return out
}

// Reset asks the control loop to re-enable a Disabled domain. This is
// the explicit external intervention required to leave Disabled.
func (s *Supervisor) Reset(domain protocol.Domain) error {
	s.mu.RLock()
	d, ok := s.descriptors[domain]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("supervisor: unknown domain %q", domain)
	}
	disabled := d.State == protocol.StateDisabled
	s.mu.RUnlock()
	if !disabled {
		return fmt.Errorf("%w: %s", ErrNotDisabled, domain)
	}
	s.resets <- domain
	return nil
}

func parseHeartbeat(payload []byte) (protocol.Heartbeat, error) {
	var hb protocol.Heartbeat
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		return hb, err
	}
	return hb, env.ParseData(&hb)
}

func parseCondition(payload []byte) (protocol.DrivingCondition, error) {
	var cond protocol.DrivingCondition
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		return cond, err
	}
	return cond, env.ParseData(&cond)
}

// handleCondition folds a new condition value in and reconverges.
func (s *Supervisor) handleCondition(now time.Time, cond protocol.DrivingCondition) {
	s.mu.Lock()
	s.conditions[cond.Kind] = cond.Value
	s.mu.Unlock()
	log.Info("driving condition changed", "kind", cond.Kind, "value", cond.Value)
	s.reconcile(now)
}

// handleHeartbeat updates liveness for a managed domain. A fault status
// is a worker asking for a restart.
func (s *Supervisor) handleHeartbeat(now time.Time, hb protocol.Heartbeat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[hb.Domain]
	if !ok || !d.managed() {
		return
	}

	d.LastHeartbeat = now
	d.InstanceID = hb.InstanceID

	if hb.Status == protocol.HealthFault {
		s.toRestartingLocked(now, d, "worker fault: "+hb.Detail)
		return
	}

	switch d.State {
	case protocol.StateStarting:
		d.State = protocol.StateRunning
		d.Detail = ""
		log.Info("worker running", "domain", d.Domain, "instance", hb.InstanceID)
	case protocol.StateDegraded:
		d.State = protocol.StateRunning
		d.Detail = ""
		log.Info("worker recovered", "domain", d.Domain)
	}
}

// handleExit reacts to a worker's Run returning. Exits from domains the
// supervisor already stopped, disabled, or is restarting are expected:
// those teardowns were supervisor-initiated and already accounted for.
func (s *Supervisor) handleExit(now time.Time, exit Exit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[exit.Domain]
	if !ok || !d.managed() || d.State == protocol.StateRestarting {
		return
	}

	reason := "worker exited"
	if exit.Err != nil {
		reason = exit.Err.Error()
	}
	s.toRestartingLocked(now, d, reason)
}

// handleReset clears a Disabled domain back to Stopped; the next
// reconcile starts it if it is desired.
func (s *Supervisor) handleReset(now time.Time, domain protocol.Domain) {
	s.mu.Lock()
	d := s.descriptors[domain]
	if d.State != protocol.StateDisabled {
		s.mu.Unlock()
		return
	}
	d.State = protocol.StateStopped
	d.Restarts = 0
	d.backoff = 0
	d.Detail = ""
	s.mu.Unlock()

	log.Info("domain reset", "domain", domain)
	s.reconcile(now)
}

// sweep fires time-based transitions and retries, then reconverges.
func (s *Supervisor) sweep(now time.Time) {
	s.mu.Lock()
	for _, domain := range protocol.Domains() {
		d := s.descriptors[domain]
		switch d.State {
		case protocol.StateStarting:
			if now.Sub(d.startedAt) > s.cfg.StartTimeout.Std() {
				s.toRestartingLocked(now, d, "no heartbeat within start timeout")
			}

		case protocol.StateRunning:
			if now.Sub(d.LastHeartbeat) > s.cfg.HealthTimeout.Std() {
				d.State = protocol.StateDegraded
				d.degradedAt = now
				d.Detail = "heartbeats missed"
				log.Warn("worker degraded", "domain", d.Domain,
					"last_heartbeat", d.LastHeartbeat)
			}

		case protocol.StateDegraded:
			if now.Sub(d.degradedAt) > s.cfg.DegradedGrace.Std() {
				s.toRestartingLocked(now, d, "degraded beyond grace period")
			}

		case protocol.StateRestarting:
			if !now.Before(d.retryAt) {
				s.attemptStartLocked(now, d)
			}
		}
	}
	s.mu.Unlock()

	s.reconcile(now)
}

// reconcile diffs the desired set against descriptor states and issues
// start/stop directives. Domains already in the right combination get no
// directive at all.
func (s *Supervisor) reconcile(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := DesiredSet(s.conditions, s.cfg.PedestrianMaxSpeed)
	for _, domain := range protocol.Domains() {
		d := s.descriptors[domain]
		d.Desired = desired[domain]

		switch {
		case d.Desired && d.State == protocol.StateStopped:
			s.attemptStartLocked(now, d)

		case !d.Desired && d.managed():
			log.Info("stopping worker, no longer desired", "domain", domain)
			if err := s.launcher.Stop(domain); err != nil && !errors.Is(err, ErrNotRunning) {
				log.Warn("stop failed", "domain", domain, "error", err)
			}
			d.State = protocol.StateStopped
			d.backoff = 0
			d.Detail = ""
		}
	}
}

// attemptStartLocked issues a start directive and moves the descriptor to
// Starting; a failed start counts as a restart attempt.
func (s *Supervisor) attemptStartLocked(now time.Time, d *Descriptor) {
	if err := s.launcher.Start(d.Domain); err != nil {
		s.toRestartingLocked(now, d, fmt.Sprintf("start failed: %v", err))
		return
	}
	d.State = protocol.StateStarting
	d.startedAt = now
	d.Detail = ""
	log.Info("worker starting", "domain", d.Domain, "attempt", d.Restarts)
}

// toRestartingLocked tears the worker down and schedules the next restart
// attempt with doubled backoff, or disables the domain once the restart
// budget is exhausted.
func (s *Supervisor) toRestartingLocked(now time.Time, d *Descriptor, reason string) {
	if err := s.launcher.Stop(d.Domain); err != nil && !errors.Is(err, ErrNotRunning) {
		log.Warn("stop failed during restart", "domain", d.Domain, "error", err)
	}

	d.Restarts++
	metrics.WorkerRestarts.Add(1)

	if d.Restarts > s.cfg.MaxRestarts {
		d.State = protocol.StateDisabled
		d.Detail = reason
		metrics.WorkersDisabled.Add(1)
		log.Error("domain disabled: restart budget exhausted",
			"domain", d.Domain, "restarts", d.Restarts-1, "reason", reason)
		s.publishFatalAlert(d.Domain)
		return
	}

	if d.backoff == 0 {
		d.backoff = s.cfg.RestartBackoff.Std()
	} else {
		d.backoff *= 2
		if limit := s.cfg.MaxBackoff.Std(); d.backoff > limit {
			d.backoff = limit
		}
	}
	d.State = protocol.StateRestarting
	d.retryAt = now.Add(d.backoff)
	d.Detail = reason
	log.Warn("worker restarting", "domain", d.Domain, "reason", reason,
		"attempt", d.Restarts, "backoff", d.backoff)
}

// publishFatalAlert surfaces a Disabled domain as a persistent fault
// warning so the condition is externally observable, not just logged.
func (s *Supervisor) publishFatalAlert(domain protocol.Domain) {
	env, err := protocol.NewEnvelope(protocol.TypeWarning, protocol.Warning{
		Kind:     warningKind(domain),
		Severity: protocol.SeverityFault,
		Active:   true,
	})
	if err != nil {
		return
	}
	raw, err := env.Bytes()
	if err != nil {
		return
	}
	s.bus.Publish(s.topics.Warning(domain), raw)
}

func warningKind(domain protocol.Domain) protocol.WarningKind {
	switch domain {
	case protocol.DomainLane:
		return protocol.WarnLaneDeparture
	case protocol.DomainPedestrian:
		return protocol.WarnPedestrian
	default:
		return protocol.WarnObstacle
	}
}

// stopAll shuts every managed worker down on supervisor exit.
func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, domain := range protocol.Domains() {
		d := s.descriptors[domain]
		if !d.managed() {
			continue
		}
		if err := s.launcher.Stop(domain); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Warn("stop failed during shutdown", "domain", domain, "error", err)
		}
		d.State = protocol.StateStopped
	}
}
