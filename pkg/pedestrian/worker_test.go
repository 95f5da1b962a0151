package pedestrian

import (
	"testing"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

type pedHarness struct {
	t      *testing.T
	cfg    config.PedestrianConfig
	worker *Worker
	warns  *bus.Subscription
	seq    uint64
}

func newPedHarness(t *testing.T) *pedHarness {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	topics := protocol.NewTopics("vehicle")

	warns, err := b.Subscribe("test-warnings", topics.Warning(protocol.DomainPedestrian), 64)
	if err != nil {
		t.Fatalf("subscribe warnings: %v", err)
	}

	cfg := config.Default().Ped
	return &pedHarness{
		t:      t,
		cfg:    cfg,
		worker: NewWorker(cfg, b, topics),
		warns:  warns,
	}
}

// frame feeds a frame whose detection boxes sit at the given center
// columns.
func (h *pedHarness) frame(centers ...int) {
	h.t.Helper()
	frame := &protocol.CameraFrame{
		Seq:      h.seq,
		Width:    h.cfg.FrameWidth,
		Height:   360,
		Encoding: "gray8",
	}
	for _, c := range centers {
		frame.Boxes = append(frame.Boxes, protocol.Box{X1: c - 10, Y1: 100, X2: c + 10, Y2: 200})
	}
	h.seq++
	h.worker.processFrame(frame)
}

func (h *pedHarness) drainWarnings() []protocol.Warning {
	var out []protocol.Warning
	for draining := true; draining; {
		select {
		case msg := <-h.warns.C():
			env, err := protocol.ParseEnvelope(msg.Payload)
			if err != nil {
				h.t.Fatalf("parse: %v", err)
			}
			var warn protocol.Warning
			if err := env.ParseData(&warn); err != nil {
				h.t.Fatalf("parse data: %v", err)
			}
			out = append(out, warn)
		default:
			draining = false
		}
	}
	return out
}

func TestRaiseRequiresConsecutiveDetections(t *testing.T) {
	h := newPedHarness(t)

	// Two detection frames, below the raise threshold of three.
	h.frame(100)
	h.frame(100)
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Fatalf("raised after 2 frames: %v", warns)
	}

	h.frame(100)
	warns := h.drainWarnings()
	if len(warns) != 1 || !warns[0].Active || warns[0].Direction != protocol.DirectionLeft {
		t.Fatalf("got %v, want one active LEFT warning after 3 frames", warns)
	}

	// Continued detections stay quiet.
	h.frame(100)
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Errorf("warning re-emitted: %v", warns)
	}
}

func TestSingleFrameBlipNeverToggles(t *testing.T) {
	h := newPedHarness(t)

	// A one-frame detection between empty frames never raises.
	h.frame()
	h.frame(100)
	h.frame()
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Fatalf("blip raised a warning: %v", warns)
	}

	// Raise, then a one-frame dropout: the warning must hold.
	for i := 0; i < 3; i++ {
		h.frame(100)
	}
	h.drainWarnings()

	h.frame()
	h.frame(100)
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Fatalf("dropout cleared an active warning: %v", warns)
	}
}

func TestClearRequiresConsecutiveAbsences(t *testing.T) {
	h := newPedHarness(t)

	for i := 0; i < 3; i++ {
		h.frame(100)
	}
	h.drainWarnings()

	// Four empty frames, below the clear threshold of five.
	for i := 0; i < 4; i++ {
		h.frame()
	}
	if warns := h.drainWarnings(); len(warns) != 0 {
		t.Fatalf("cleared early: %v", warns)
	}

	h.frame()
	warns := h.drainWarnings()
	if len(warns) != 1 || warns[0].Active {
		t.Fatalf("got %v, want one clear edge after 5 empty frames", warns)
	}
}

func TestSidesAreIndependent(t *testing.T) {
	h := newPedHarness(t)

	// Pedestrians on both sides.
	for i := 0; i < 3; i++ {
		h.frame(100, 500)
	}
	warns := h.drainWarnings()
	if len(warns) != 2 {
		t.Fatalf("got %v, want warnings on both sides", warns)
	}

	// The left one leaves; the right warning must survive the left clear.
	for i := 0; i < 5; i++ {
		h.frame(500)
	}
	warns = h.drainWarnings()
	if len(warns) != 1 || warns[0].Active || warns[0].Direction != protocol.DirectionLeft {
		t.Fatalf("got %v, want one LEFT clear", warns)
	}
	if !h.worker.right.active {
		t.Error("right warning dropped while the pedestrian is still there")
	}
}

func TestBlobFallbackClassifiesSides(t *testing.T) {
	cfg := config.Default().Ped

	frame := &protocol.CameraFrame{
		Width:    cfg.FrameWidth,
		Height:   360,
		Encoding: "gray8",
		Pixels:   make([]byte, cfg.FrameWidth*360),
	}
	// A bright blob on the right half only, just over the minimum size.
	for i := 0; i < cfg.MinBlobPixels+5; i++ {
		frame.Pixels[100*cfg.FrameWidth+500+i%40+(i/40)*cfg.FrameWidth] = 255
	}

	p := classify(frame, cfg)
	if p.left || !p.right {
		t.Errorf("got left=%v right=%v, want right only", p.left, p.right)
	}
}
