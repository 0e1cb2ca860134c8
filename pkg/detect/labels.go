package detect

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/annotator/pkg/anno"
)

// FrameLabels is a precomputed detection file: the output of an offline
// model run, keyed by frame id. It lets the reconciler replay detections
// without loading a model.
type FrameLabels struct {
	Classes []string                 `json:"classes"`
	Frames  map[string][]FrameObject `json:"frames"`
}

// FrameObject is one detection in a labels file
type FrameObject struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        []int   `json:"box"` // [x1, y1, x2, y2]
}

func boxFromSlice(b []int) anno.Box {
	return anno.MakeBox(b[0], b[1], b[2], b[3])
}

// LoadFrameLabels reads a precomputed detection file
func LoadFrameLabels(filename string) (*FrameLabels, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to read labels file '%v': %w", filename, err)
	}
	labels := &FrameLabels{}
	if err := json.Unmarshal(raw, labels); err != nil {
		return nil, fmt.Errorf("Failed to parse labels file '%v': %w", filename, err)
	}
	for frameID, objects := range labels.Frames {
		for i, obj := range objects {
			if len(obj.Box) != 4 {
				return nil, fmt.Errorf("Labels file '%v': frame '%v' object %v has %v box coordinates, expected 4", filename, frameID, i, len(obj.Box))
			}
			if obj.Class < 0 || obj.Class >= len(labels.Classes) {
				return nil, fmt.Errorf("Labels file '%v': frame '%v' object %v has out-of-range class %v", filename, frameID, i, obj.Class)
			}
		}
	}
	return labels, nil
}

// Detections converts the labels of one frame into Detection records
func (l *FrameLabels) Detections(frameID string) []Detection {
	objects := l.Frames[frameID]
	dets := make([]Detection, 0, len(objects))
	for _, obj := range objects {
		dets = append(dets, Detection{
			Class:      obj.Class,
			Confidence: obj.Confidence,
			Box:        boxFromSlice(obj.Box),
		})
	}
	return dets
}
