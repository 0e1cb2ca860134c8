// Package detect is the interface boundary to the object detection model.
// The model itself is a black box; all we see are candidate boxes, class
// indices and scores.
package detect

import (
	"errors"
	"image"

	"github.com/cyclopcam/annotator/pkg/anno"
)

// Default confidence threshold below which detections are discarded
const DefaultConfidenceThreshold = 0.35

// ErrInferenceUnavailable means the model is missing or its forward pass
// failed. This is recoverable: the session carries on without proposals.
var ErrInferenceUnavailable = errors.New("inference unavailable")

// Detection is an object that the model has found in a frame
type Detection struct {
	Class      int
	Confidence float32
	Box        anno.Box
}

// DetectionParams control a single detection run
type DetectionParams struct {
	ConfidenceThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value uses the default.
}

func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// ModelConfig describes the loaded model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Classes      []string `json:"classes"` // class index -> name
}

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close the detector. You MUST call this when finished.
	Close()

	// DetectObjects returns the objects found in the frame, in absolute
	// pixel coordinates of the input image.
	DetectObjects(img image.Image, params *DetectionParams) ([]Detection, error)

	// Config is assumed constant once the detector has been created
	Config() *ModelConfig
}
