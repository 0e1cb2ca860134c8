package anno

import (
	"encoding/json"
	"fmt"
)

// Box is an axis-aligned rectangle in absolute pixel coordinates.
// A well-formed box has X1 < X2 and Y1 < Y2. Use Canon() to order the
// coordinates of a box drawn in any direction.
// On the wire a box is the 4-element array [x1, y1, x2, y2], which is
// what the upstream engine consumes.
type Box struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

func MakeBox(x1, y1, x2, y2 int) Box {
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (b Box) Width() int {
	return b.X2 - b.X1
}

func (b Box) Height() int {
	return b.Y2 - b.Y1
}

func (b Box) Area() int {
	return b.Width() * b.Height()
}

// IsDegenerate is true if the box has no area
func (b Box) IsDegenerate() bool {
	return b.Area() == 0
}

// Canon returns the box with coordinates ordered so that X1 <= X2 and Y1 <= Y2
func (b Box) Canon() Box {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Clamp restricts the box to [0, width] x [0, height]
func (b Box) Clamp(width, height int) Box {
	b.X1 = max(0, min(b.X1, width))
	b.Y1 = max(0, min(b.Y1, height))
	b.X2 = max(0, min(b.X2, width))
	b.Y2 = max(0, min(b.Y2, height))
	return b
}

func (b Box) IntersectionArea(c Box) int {
	x1 := max(b.X1, c.X1)
	y1 := max(b.Y1, c.Y1)
	x2 := min(b.X2, c.X2)
	y2 := min(b.Y2, c.Y2)
	return max(0, x2-x1) * max(0, y2-y1)
}

// Intersection over Union. Zero if the boxes do not overlap.
func (b Box) IOU(c Box) float32 {
	intersection := b.IntersectionArea(c)
	union := b.Area() + c.Area() - intersection
	if union <= 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

func (b Box) String() string {
	return fmt.Sprintf("[%v,%v,%v,%v]", b.X1, b.Y1, b.X2, b.Y2)
}

func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	coords := []int{}
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) != 4 {
		return fmt.Errorf("Invalid bbox: expected 4 coordinates, got %v", len(coords))
	}
	b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
	return nil
}
