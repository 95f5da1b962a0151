// Package lane implements the lane departure worker: it consumes camera
// frames, tracks the left and right lane boundaries and raises
// edge-triggered departure warnings with hysteresis.
package lane

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// ErrBadFrame marks frames rejected by preprocessing.
var ErrBadFrame = errors.New("lane: frame rejected")

// minEdgePoints is the least number of edge pixels a side needs in one
// frame to count as a detection.
const minEdgePoints = 10

// point is one edge pixel in frame coordinates.
type point struct {
	x, y float64
}

// Boundary is one side's tracked lane line position.
type Boundary struct {
	X       float64 // boundary x at the measurement row
	Visible bool    // false when tracking has been reset
	Coasted bool    // true when this frame had no detection and we reused history
}

// Result is the per-frame detector output.
type Result struct {
	Left  Boundary
	Right Boundary
}

// sideTracker associates per-frame edge points with prior state for one
// boundary. Detection gaps coast on history for a bounded number of
// frames, then reset rather than extrapolate indefinitely.
type sideTracker struct {
	history    [][]point
	maxHistory int
	missed     int
	maxMissed  int
	lastX      float64
	visible    bool
}

func newSideTracker(maxHistory, maxMissed int) *sideTracker {
	return &sideTracker{maxHistory: maxHistory, maxMissed: maxMissed}
}

func (s *sideTracker) reset() {
	s.history = nil
	s.missed = 0
	s.visible = false
	s.lastX = 0
}

// update folds one frame's edge points in and returns the tracked state.
func (s *sideTracker) update(pts []point, measureRow float64) Boundary {
	if len(pts) >= minEdgePoints {
		s.history = append(s.history, pts)
		if len(s.history) > s.maxHistory {
			s.history = s.history[1:]
		}
		s.missed = 0

		if x, ok := fitAt(s.history, measureRow); ok {
			s.lastX = x
			s.visible = true
		}
		return Boundary{X: s.lastX, Visible: s.visible}
	}

	// No plausible detection this frame.
	s.missed++
	if s.missed > s.maxMissed || !s.visible {
		s.reset()
		return Boundary{}
	}
	return Boundary{X: s.lastX, Visible: true, Coasted: true}
}

// fitAt fits x as a linear function of y over all points in the history
// window and evaluates it at the measurement row. Least squares over the
// whole window smooths single-frame jitter the same way a moving average
// of per-frame fits would, with better behavior on sparse frames.
func fitAt(history [][]point, measureRow float64) (float64, bool) {
	var xs, ys []float64
	for _, frame := range history {
		for _, p := range frame {
			xs = append(xs, p.x)
			ys = append(ys, p.y)
		}
	}
	if len(xs) < 2 {
		return 0, false
	}
	alpha, beta := stat.LinearRegression(ys, xs, nil, false)
	return alpha + beta*measureRow, true
}

// Detector runs the frame pipeline: preprocess, feature extraction,
// tracking, position evaluation. Warning decisions live in the worker so
// the pipeline stays a pure transformation.
type Detector struct {
	cfg        config.LaneConfig
	roiTop     int
	measureRow int
	centerX    int
	left       *sideTracker
	right      *sideTracker
}

// NewDetector creates a detector for the configured frame geometry.
func NewDetector(cfg config.LaneConfig) *Detector {
	return &Detector{
		cfg: cfg,
		// Road region: lower 35% of the frame, measured at 85% height,
		// mirroring the calibrated camera geometry.
		roiTop:     cfg.FrameHeight/2 + cfg.FrameHeight*15/100,
		measureRow: cfg.FrameHeight * 85 / 100,
		centerX:    cfg.FrameWidth / 2,
		left:       newSideTracker(cfg.TrackingHistory, cfg.MaxMissedFrames),
		right:      newSideTracker(cfg.TrackingHistory, cfg.MaxMissedFrames),
	}
}

// CenterX returns the vehicle reference column.
func (d *Detector) CenterX() int { return d.centerX }

// Reset drops all tracking state, as after a worker restart.
func (d *Detector) Reset() {
	d.left.reset()
	d.right.reset()
}

// Process runs one frame through the pipeline.
func (d *Detector) Process(frame *protocol.CameraFrame) (Result, error) {
	if err := d.preprocess(frame); err != nil {
		return Result{}, err
	}

	leftPts, rightPts := d.extractEdges(frame)

	row := float64(d.measureRow)
	return Result{
		Left:  d.left.update(leftPts, row),
		Right: d.right.update(rightPts, row),
	}, nil
}

// preprocess validates the frame against the configured geometry.
// A mismatched frame is dropped, not resized: resolution changes mean
// the calibration no longer applies.
func (d *Detector) preprocess(frame *protocol.CameraFrame) error {
	if frame.Width != d.cfg.FrameWidth || frame.Height != d.cfg.FrameHeight {
		return fmt.Errorf("%w: resolution %dx%d, configured %dx%d",
			ErrBadFrame, frame.Width, frame.Height, d.cfg.FrameWidth, d.cfg.FrameHeight)
	}
	if frame.Encoding != "gray8" {
		return fmt.Errorf("%w: encoding %q", ErrBadFrame, frame.Encoding)
	}
	if len(frame.Pixels) != frame.Width*frame.Height {
		return fmt.Errorf("%w: %d pixels for %dx%d", ErrBadFrame, len(frame.Pixels), frame.Width, frame.Height)
	}
	return nil
}

// extractEdges finds horizontal luminance edges inside the road region
// and splits them into left/right candidates around the frame center.
func (d *Detector) extractEdges(frame *protocol.CameraFrame) (left, right []point) {
	w := frame.Width
	threshold := int(d.cfg.EdgeThreshold)

	for y := d.roiTop; y < frame.Height; y++ {
		row := frame.Pixels[y*w : (y+1)*w]
		for x := 1; x < w-1; x++ {
			grad := int(row[x+1]) - int(row[x-1])
			if grad < 0 {
				grad = -grad
			}
			if grad < threshold {
				continue
			}
			p := point{x: float64(x), y: float64(y)}
			if x < d.centerX {
				left = append(left, p)
			} else {
				right = append(right, p)
			}
		}
	}
	return left, right
}
