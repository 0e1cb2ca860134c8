package anno

import (
	"errors"
	"fmt"
)

// Validation failure reasons. Callers use errors.Is to distinguish them.
var (
	ErrBoxDegenerate = errors.New("box is degenerate")
	ErrBoxTooSmall   = errors.New("box is too small")
	ErrBoxOverlap    = errors.New("box overlaps an existing annotation")
)

// ValidateBox checks a candidate rectangle for geometric well-formedness
// before it may join the confirmed annotations of a frame.
// The candidate is canonicalized and clamped to the image bounds first; the
// returned box is the clamped result, and is what should be persisted.
// The function is pure, so it serves both human-drawn boxes and
// inference-confirmed boxes.
func ValidateBox(candidate Box, confirmed []Box, imageWidth, imageHeight, minArea int, maxIOU float32) (Box, error) {
	box := candidate.Canon().Clamp(imageWidth, imageHeight)
	if box.IsDegenerate() {
		return box, fmt.Errorf("%w: %v clamped to %vx%v leaves nothing", ErrBoxDegenerate, candidate, imageWidth, imageHeight)
	}
	if box.Area() < minArea {
		return box, fmt.Errorf("%w: area %v < minimum %v", ErrBoxTooSmall, box.Area(), minArea)
	}
	for _, other := range confirmed {
		if iou := box.IOU(other); iou > maxIOU {
			return box, fmt.Errorf("%w: IoU %.2f with %v exceeds %.2f", ErrBoxOverlap, iou, other, maxIOU)
		}
	}
	return box, nil
}
