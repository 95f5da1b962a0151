package lane

// hysteresis is a two-threshold latch over the vehicle's distance to one
// lane boundary. The warning raises when the distance drops below
// raiseBelow and clears only once it climbs back past clearAbove, so an
// offset oscillating around the raw threshold cannot flap the warning.
type hysteresis struct {
	raiseBelow float64
	clearAbove float64
	active     bool
}

func newHysteresis(warningDistance, margin float64) *hysteresis {
	return &hysteresis{
		raiseBelow: warningDistance,
		clearAbove: warningDistance + margin,
	}
}

// observe folds one distance measurement in and reports the warning state
// plus whether this measurement changed it.
func (h *hysteresis) observe(distance float64) (active, changed bool) {
	switch {
	case !h.active && distance < h.raiseBelow:
		h.active = true
		return true, true
	case h.active && distance > h.clearAbove:
		h.active = false
		return false, true
	}
	return h.active, false
}

// lost handles a frame with no usable measurement for this side. An
// unknown boundary position cannot justify keeping a departure warning
// up, so an active warning clears.
func (h *hysteresis) lost() (changed bool) {
	if h.active {
		h.active = false
		return true
	}
	return false
}
