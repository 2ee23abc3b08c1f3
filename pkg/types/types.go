package types

import (
	"image"
	"time"
)

// Frame represents one decoded video frame moving through the pipeline
type Frame struct {
	Image     image.Image // Decoded pixels
	Timestamp time.Time   // Capture (or read) timestamp
	Number    uint64      // Sequential frame number
}

// Bounds returns the pixel bounds of the frame image.
func (f Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// BoundingBox is an axis-aligned box in frame pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the center point of the box.
func (b BoundingBox) Center() (int, int) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Detection is one detected object in a frame.
type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}
