package pedestrian

import (
	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/pkg/protocol"
)

// blobLuminance is the gray8 level above which a pixel counts toward a
// bright-blob detection in the fallback path.
const blobLuminance = 200

// presence is one frame's detection state per side of the vehicle path.
type presence struct {
	left  bool
	right bool
}

// classify decides which sides of the path have a pedestrian this frame.
// Frames carrying detector boxes are authoritative; without boxes a crude
// bright-blob count per half-frame stands in, which is enough for
// simulator feeds that render pedestrians as high-contrast sprites.
func classify(frame *protocol.CameraFrame, cfg config.PedestrianConfig) presence {
	midline := float64(cfg.FrameWidth) / 2

	if len(frame.Boxes) > 0 {
		var p presence
		for _, box := range frame.Boxes {
			if float64(box.CenterX()) < midline {
				p.left = true
			} else {
				p.right = true
			}
		}
		return p
	}

	return blobPresence(frame, cfg)
}

// blobPresence counts bright pixels per half-frame and reports sides
// whose count reaches the configured blob size.
func blobPresence(frame *protocol.CameraFrame, cfg config.PedestrianConfig) presence {
	if len(frame.Pixels) != frame.Width*frame.Height {
		return presence{}
	}

	mid := frame.Width / 2
	var leftCount, rightCount int
	for y := 0; y < frame.Height; y++ {
		row := frame.Pixels[y*frame.Width : (y+1)*frame.Width]
		for x, v := range row {
			if v <= blobLuminance {
				continue
			}
			if x < mid {
				leftCount++
			} else {
				rightCount++
			}
		}
	}
	return presence{
		left:  leftCount >= cfg.MinBlobPixels,
		right: rightCount >= cfg.MinBlobPixels,
	}
}
