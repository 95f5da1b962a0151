package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/worker"
)

// Launcher errors.
var (
	ErrAlreadyRunning = errors.New("supervisor: worker already running")
	ErrNotRunning     = errors.New("supervisor: worker not running")
)

// Exit reports that a launched worker's Run returned. Err is nil for a
// clean stop and non-nil for a fatal worker fault.
type Exit struct {
	Domain protocol.Domain
	Err    error
}

// Launcher executes start/stop intents for worker domains. The
// supervisor decides, the launcher does; swapping the implementation
// swaps the deployment model (in-process goroutines, containers).
type Launcher interface {
	Start(domain protocol.Domain) error
	Stop(domain protocol.Domain) error
	Exits() <-chan Exit
}

// launched is one running worker's handle.
type launched struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// GoroutineLauncher runs workers as in-process goroutines wrapped in the
// heartbeat Runner. Stop cancels the worker's context and waits up to the
// configured grace period before abandoning it.
type GoroutineLauncher struct {
	cfg    config.Config
	bus    bus.Bus
	topics *protocol.Topics
	grace  time.Duration
	exits  chan Exit

	mu      sync.Mutex
	running map[protocol.Domain]*launched
}

// NewGoroutineLauncher creates a launcher bound to a bus.
func NewGoroutineLauncher(cfg config.Config, b bus.Bus) *GoroutineLauncher {
	return &GoroutineLauncher{
		cfg:     cfg,
		bus:     b,
		topics:  protocol.NewTopics(cfg.TopicBase),
		grace:   cfg.Sup.StopGrace.Std(),
		exits:   make(chan Exit, 8),
		running: make(map[protocol.Domain]*launched),
	}
}

// Start implements Launcher.
func (g *GoroutineLauncher) Start(domain protocol.Domain) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.running[domain]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, domain)
	}

	w, err := worker.New(domain, g.cfg, g.bus)
	if err != nil {
		return fmt.Errorf("supervisor: create %s worker: %w", domain, err)
	}
	runner := worker.NewRunner(w, g.bus, g.topics, g.cfg.Sup.HeartbeatPeriod.Std())

	ctx, cancel := context.WithCancel(context.Background())
	l := &launched{cancel: cancel, done: make(chan struct{})}
	g.running[domain] = l

	go func() {
		err := runner.Run(ctx)
		close(l.done)

		g.mu.Lock()
		if g.running[domain] == l {
			delete(g.running, domain)
		}
		g.mu.Unlock()

		g.exits <- Exit{Domain: domain, Err: err}
	}()
	return nil
}

// Stop implements Launcher. A worker that ignores cancellation past the
// grace period is abandoned; its eventual exit is still reported.
func (g *GoroutineLauncher) Stop(domain protocol.Domain) error {
	g.mu.Lock()
	l, exists := g.running[domain]
	g.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRunning, domain)
	}

	l.cancel()
	select {
	case <-l.done:
	case <-time.After(g.grace):
		log.Warn("worker did not stop within grace period, abandoning",
			"domain", domain, "grace", g.grace)
	}
	return nil
}

// Exits implements Launcher.
func (g *GoroutineLauncher) Exits() <-chan Exit { return g.exits }

// Ensure GoroutineLauncher implements Launcher
var _ Launcher = (*GoroutineLauncher)(nil)
