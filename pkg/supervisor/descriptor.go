// Package supervisor keeps the desired-vs-actual set of assistance
// workers converged: it watches heartbeats and driving conditions,
// restarts faulted workers with exponential backoff, and disables
// domains that exhaust their restart budget.
package supervisor

import (
	"time"

	"github.com/ucarlab/go-adas/pkg/protocol"
)

// Descriptor is the supervisor's record for one managed domain. It is
// owned exclusively by the supervisor's control loop; everything other
// goroutines see is a copied Status.
type Descriptor struct {
	Domain        protocol.Domain
	Desired       bool
	State         protocol.WorkerState
	Restarts      int
	LastHeartbeat time.Time
	InstanceID    string
	Detail        string

	startedAt  time.Time     // Starting entry, for the start timeout
	degradedAt time.Time     // Degraded entry, for the grace period
	retryAt    time.Time     // earliest next restart attempt
	backoff    time.Duration // current restart backoff
}

func newDescriptor(domain protocol.Domain) *Descriptor {
	return &Descriptor{
		Domain: domain,
		State:  protocol.StateStopped,
	}
}

// managed reports whether the supervisor is actively driving this domain
// toward running. Stopped and Disabled descriptors ignore heartbeats and
// exits.
func (d *Descriptor) managed() bool {
	return d.State != protocol.StateStopped && d.State != protocol.StateDisabled
}

// Status is the externally visible copy of a Descriptor.
type Status struct {
	Domain        protocol.Domain      `json:"domain"`
	Desired       bool                 `json:"desired"`
	State         protocol.WorkerState `json:"state"`
	Restarts      int                  `json:"restarts"`
	LastHeartbeat int64                `json:"last_heartbeat,omitempty"` // Unix milliseconds
	Detail        string               `json:"detail,omitempty"`
}

func (d *Descriptor) status() Status {
	s := Status{
		Domain:   d.Domain,
		Desired:  d.Desired,
		State:    d.State,
		Restarts: d.Restarts,
		Detail:   d.Detail,
	}
	if !d.LastHeartbeat.IsZero() {
		s.LastHeartbeat = d.LastHeartbeat.UnixMilli()
	}
	return s
}
