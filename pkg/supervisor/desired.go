package supervisor

import (
	"strconv"

	"github.com/ucarlab/go-adas/pkg/protocol"
)

// Conditions holds the latest value per driving-condition kind.
type Conditions map[protocol.ConditionKind]string

// DesiredSet is the pure mapping from driving conditions to the domains
// that should be running. Every domain is desired by default; conditions
// only subtract:
//
//   - pedestrian detection is not applicable above maxPedSpeed km/h
//   - lane assist has no lane markings to track off-road
//
// Unparseable condition values leave the affected domain enabled; a bad
// policy signal must not silently turn assistance off.
func DesiredSet(c Conditions, maxPedSpeed float64) map[protocol.Domain]bool {
	desired := make(map[protocol.Domain]bool, len(protocol.Domains()))
	for _, d := range protocol.Domains() {
		desired[d] = true
	}

	if v, ok := c[protocol.ConditionSpeedBand]; ok {
		if speed, err := strconv.ParseFloat(v, 64); err == nil && speed > maxPedSpeed {
			desired[protocol.DomainPedestrian] = false
		}
	}
	if c[protocol.ConditionRoadType] == "offroad" {
		desired[protocol.DomainLane] = false
	}
	return desired
}
