package lane

import "testing"

func TestHysteresisRaiseAndClear(t *testing.T) {
	h := newHysteresis(160, 20)

	if active, changed := h.observe(200); active || changed {
		t.Fatal("far from the boundary must stay clear")
	}
	if active, changed := h.observe(150); !active || !changed {
		t.Fatal("crossing the raise threshold must raise exactly once")
	}
	if active, changed := h.observe(175); !active || changed {
		t.Fatal("inside the hysteresis band the warning must hold")
	}
	if active, changed := h.observe(185); active || !changed {
		t.Fatal("crossing the clear threshold must clear exactly once")
	}
}

func TestHysteresisDoesNotFlap(t *testing.T) {
	h := newHysteresis(160, 20)

	// Oscillate just above and below the raw threshold without ever
	// reaching the clear threshold.
	changes := 0
	for i := 0; i < 50; i++ {
		d := 155.0
		if i%2 == 1 {
			d = 165.0
		}
		if _, changed := h.observe(d); changed {
			changes++
		}
	}
	if changes != 1 {
		t.Errorf("warning toggled %d times across an oscillating offset, want 1", changes)
	}
	if !h.active {
		t.Error("warning should still be active inside the band")
	}
}

func TestHysteresisLost(t *testing.T) {
	h := newHysteresis(160, 20)

	if h.lost() {
		t.Error("lost with no warning active must not report a change")
	}

	h.observe(100)
	if !h.lost() {
		t.Error("lost with an active warning must clear it")
	}
	if h.active {
		t.Error("warning still active after tracking loss")
	}
}
