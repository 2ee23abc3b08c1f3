package detect

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crowdvision/people-counter/pkg/types"
)

// Model input/output tensor names used by YOLO-family ONNX exports.
const (
	onnxInputName  = "images"
	onnxOutputName = "output0"
)

// Options configures model loading and inference.
type Options struct {
	InputSize   int
	Confidence  float64
	IoU         float64
	Names       []string
	LibraryPath string
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("initialize ONNX environment: %w", err)
		}
	})
	return ortInitErr
}

// Session wraps a loaded ONNX model behind the Detector interface. An ONNX
// session is not safe for concurrent Run calls, so Detect serializes.
type Session struct {
	mu      sync.Mutex
	name    string
	opts    Options
	names   []string
	anchors int
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

// Load opens a weight file and returns an inference handle. Any failure is
// reported as a *LoadError and leaves no runtime state behind.
func Load(ref ModelRef, opts Options) (*Session, error) {
	ext := strings.ToLower(filepath.Ext(ref.Path))
	if ext != ".onnx" {
		return nil, &LoadError{
			Name: ref.Name,
			Err:  fmt.Errorf("%w: %s (only .onnx weights have an inference backend)", ErrUnsupportedFormat, ext),
		}
	}

	if _, err := os.Stat(ref.Path); err != nil {
		return nil, &LoadError{Name: ref.Name, Err: err}
	}

	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, &LoadError{Name: ref.Name, Err: err}
	}

	names := opts.Names
	if len(names) == 0 {
		names = COCONames
	}

	size := opts.InputSize
	// YOLO heads emit one anchor per cell at strides 8, 16 and 32.
	anchors := (size/8)*(size/8) + (size/16)*(size/16) + (size/32)*(size/32)

	inputShape := ort.NewShape(1, 3, int64(size), int64(size))
	outputShape := ort.NewShape(1, int64(4+len(names)), int64(anchors))

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, &LoadError{Name: ref.Name, Err: fmt.Errorf("create input tensor: %w", err)}
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, &LoadError{Name: ref.Name, Err: fmt.Errorf("create output tensor: %w", err)}
	}

	session, err := ort.NewAdvancedSession(ref.Path,
		[]string{onnxInputName}, []string{onnxOutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, &LoadError{Name: ref.Name, Err: fmt.Errorf("create ONNX session: %w", err)}
	}

	return &Session{
		name:    ref.Name,
		opts:    opts,
		names:   names,
		anchors: anchors,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Name returns the weight file name this session was loaded from.
func (s *Session) Name() string { return s.name }

// Detect runs inference on one frame.
func (s *Session) Detect(img image.Image) ([]types.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("detector %s is closed", s.name)
	}

	lb := letterbox(img, s.opts.InputSize)
	fillInput(lb.image, s.input.GetData())

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return decodeYOLO(s.output.GetData(), s.names, s.anchors, s.opts.Confidence, s.opts.IoU, lb, img.Bounds()), nil
}

// Close releases the session and its tensors. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	return nil
}
