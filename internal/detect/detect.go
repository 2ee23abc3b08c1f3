// Package detect owns the model registry and the ONNX inference backend.
package detect

import (
	"errors"
	"fmt"
	"image"

	"github.com/crowdvision/people-counter/pkg/types"
)

// Detector analyzes a single frame and returns the objects found in it.
type Detector interface {
	// Detect runs inference on one frame. Returns an empty slice when
	// nothing is detected.
	Detect(img image.Image) ([]types.Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// ErrUnsupportedFormat indicates a weight file this backend cannot load.
var ErrUnsupportedFormat = errors.New("unsupported model format")

// ErrNoModel indicates that no model has ever been loaded.
var ErrNoModel = errors.New("no model loaded")

// LoadError reports a failure to load a specific weight file. The previously
// loaded model, if any, stays active when one of these is returned.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
