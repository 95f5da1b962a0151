// Package worker provides the lifecycle plumbing shared by all detection
// and control workers: the Worker interface, the domain factory registry,
// and the Runner that wraps a worker with heartbeat publication.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// Common errors returned by the worker plumbing.
var (
	ErrUnknownDomain     = errors.New("worker: unknown domain")
	ErrAlreadyRegistered = errors.New("worker: domain already registered")
)

// Worker is one assistance function's main loop. Run blocks until ctx is
// cancelled or the worker hits a fatal fault; it owns all of its state
// exclusively and talks to the rest of the system only through the bus.
type Worker interface {
	// Domain returns the worker's domain id.
	Domain() protocol.Domain

	// Run executes the worker loop. Transient faults are reported through
	// health; a returned non-nil error is a fatal worker fault.
	Run(ctx context.Context, health *Health) error
}

// Factory creates a Worker bound to a bus.
type Factory func(cfg config.Config, b bus.Bus) (Worker, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[protocol.Domain]Factory)
)

// Register adds a factory for a domain. Domain packages call this from
// init(); registering a domain twice panics because it is a programming
// error, not a runtime condition.
func Register(domain protocol.Domain, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[domain]; exists {
		panic(fmt.Sprintf("worker: duplicate registration for domain %q", domain))
	}
	registry[domain] = f
}

// New creates the worker for a domain using its registered factory.
func New(domain protocol.Domain, cfg config.Config, b bus.Bus) (Worker, error) {
	registryMu.RLock()
	f, ok := registry[domain]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	return f(cfg, b)
}

// Registered reports whether a factory exists for the domain.
func Registered(domain protocol.Domain) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[domain]
	return ok
}

// Health carries a worker's self-reported status into its heartbeats.
// Workers flip it to fault when they want a supervisor-driven restart
// instead of recovering internally.
type Health struct {
	mu     sync.RWMutex
	status protocol.HealthStatus
	detail string
}

// NewHealth returns a Health starting in the ok state.
func NewHealth() *Health {
	return &Health{status: protocol.HealthOK}
}

// ReportFault marks the worker unhealthy with a reason.
func (h *Health) ReportFault(detail string) {
	h.mu.Lock()
	h.status = protocol.HealthFault
	h.detail = detail
	h.mu.Unlock()
}

// Clear returns the worker to the ok state.
func (h *Health) Clear() {
	h.mu.Lock()
	h.status = protocol.HealthOK
	h.detail = ""
	h.mu.Unlock()
}

// Status returns the current status and detail.
func (h *Health) Status() (protocol.HealthStatus, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, h.detail
}
