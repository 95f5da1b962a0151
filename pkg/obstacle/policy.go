// Package obstacle implements the emergency braking worker: it consumes
// range readings and publishes graduated brake commands plus edge-triggered
// obstacle warnings.
package obstacle

import (
	"math"

	"github.com/ucarlab/go-adas/internal/config"
)

// Policy maps obstacle distance to brake intensity. It is a pure,
// piecewise-monotone function: intensity never decreases as the obstacle
// gets closer.
//
// Bands (defaults critical=5m, warning=15m, safe=25m):
//
//	d > safe               -> 0.0
//	warning < d <= safe    -> WarningIntensity
//	critical < d <= warning -> linear ramp WarningIntensity..EmergencyIntensity
//	d <= critical          -> EmergencyIntensity
type Policy struct {
	Critical           float64
	Warning            float64
	Safe               float64
	WarningIntensity   float64
	EmergencyIntensity float64
}

// PolicyFromConfig builds a Policy from the obstacle configuration.
func PolicyFromConfig(cfg config.ObstacleConfig) Policy {
	return Policy{
		Critical:           cfg.CriticalDistance,
		Warning:            cfg.WarningDistance,
		Safe:               cfg.SafeDistance,
		WarningIntensity:   cfg.WarningIntensity,
		EmergencyIntensity: cfg.EmergencyIntensity,
	}
}

// Intensity returns the brake intensity for a distance in meters.
func (p Policy) Intensity(distance float64) float64 {
	switch {
	case distance <= p.Critical:
		return p.EmergencyIntensity
	case distance <= p.Warning:
		ramp := (p.Warning - distance) / (p.Warning - p.Critical)
		return p.WarningIntensity + (p.EmergencyIntensity-p.WarningIntensity)*ramp
	case distance <= p.Safe:
		return p.WarningIntensity
	default:
		return 0.0
	}
}

// ValidDistance reports whether a reading can be applied to the control
// loop. Negative and NaN distances are sensor faults, not obstacles.
func ValidDistance(distance float64) bool {
	return !math.IsNaN(distance) && !math.IsInf(distance, 0) && distance >= 0
}
