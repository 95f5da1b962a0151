package obstacle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ucarlab/go-adas/internal/config"
)

func defaultPolicy() Policy {
	return PolicyFromConfig(config.Default().Obstacle)
}

func TestIntensityBands(t *testing.T) {
	p := defaultPolicy()

	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{"far beyond safe", 30.0, 0.0},
		{"just beyond safe", 25.01, 0.0},
		{"at safe boundary", 25.0, 0.3},
		{"caution band", 20.0, 0.3},
		{"at warning boundary", 15.0, 0.3},
		{"ramp midpoint", 10.0, 0.55},
		{"at critical boundary", 5.0, 0.8},
		{"inside critical", 3.0, 0.8},
		{"touching", 0.0, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.Intensity(tt.distance), 1e-9)
		})
	}
}

func TestIntensityMonotone(t *testing.T) {
	p := defaultPolicy()

	// Intensity must never decrease as distance decreases.
	prev := -1.0
	for d := 40.0; d >= 0; d -= 0.05 {
		got := p.Intensity(d)
		assert.GreaterOrEqual(t, got, prev, "intensity decreased at d=%.2f", d)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, p.EmergencyIntensity)
		prev = got
	}
}

func TestIntensityRampStrictlyIncreasing(t *testing.T) {
	p := defaultPolicy()

	prev := p.Intensity(15.0)
	for d := 14.9; d > 5.0; d -= 0.1 {
		got := p.Intensity(d)
		assert.Greater(t, got, prev, "ramp not strictly increasing at d=%.1f", d)
		prev = got
	}
}

func TestValidDistance(t *testing.T) {
	assert.True(t, ValidDistance(0))
	assert.True(t, ValidDistance(12.5))
	assert.False(t, ValidDistance(-1))
	assert.False(t, ValidDistance(math.NaN()))
	assert.False(t, ValidDistance(math.Inf(1)))
}
