// Package pedestrian implements the pedestrian detection worker: it
// classifies detections into left/right of the vehicle path and raises
// debounced, edge-triggered pedestrian warnings per side.
package pedestrian

// debounce is an asymmetric frame-count latch. Raising requires
// raiseAfter consecutive frames with a detection, clearing requires
// clearAfter consecutive frames without one, so single-frame flickers in
// either direction never reach the warning stream.
type debounce struct {
	raiseAfter int
	clearAfter int
	streak     int
	active     bool
}

func newDebounce(raiseAfter, clearAfter int) *debounce {
	return &debounce{raiseAfter: raiseAfter, clearAfter: clearAfter}
}

// observe folds one frame's detection state in and reports the warning
// state plus whether this frame changed it.
func (d *debounce) observe(present bool) (active, changed bool) {
	if present == d.active {
		d.streak = 0
		return d.active, false
	}

	d.streak++
	switch {
	case !d.active && d.streak >= d.raiseAfter:
		d.active = true
		d.streak = 0
		return true, true
	case d.active && d.streak >= d.clearAfter:
		d.active = false
		d.streak = 0
		return false, true
	}
	return d.active, false
}

// reset drops the latch, as after a worker restart.
func (d *debounce) reset() {
	d.streak = 0
	d.active = false
}
