// Package counter implements per-frame people counting in eagle-eye and lane
// modes, plus cumulative entry/exit tracking.
package counter

import (
	"fmt"
	"image"
	"strings"

	"github.com/crowdvision/people-counter/pkg/types"
)

// Mode selects how detections are aggregated.
type Mode string

const (
	// ModeEagleEye counts people across the whole frame.
	ModeEagleEye Mode = "eagle-eye"
	// ModeLane partitions the frame into lanes counted independently.
	ModeLane Mode = "lane"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEagleEye, ModeLane:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown counting mode %q", s)
	}
}

// Orientation selects the lane split axis.
type Orientation string

const (
	// Vertical lanes split the frame along the X axis.
	Vertical Orientation = "vertical"
	// Horizontal lanes split the frame along the Y axis.
	Horizontal Orientation = "horizontal"
)

// Config holds counting parameters.
type Config struct {
	Mode        Mode
	Lanes       int
	Orientation Orientation
	PersonLabel string
}

// Counts is the counting result for one frame.
type Counts struct {
	Total int   `json:"total"`
	Lanes []int `json:"lanes,omitempty"`
	In    int   `json:"in"`
	Out   int   `json:"out"`
	Net   int   `json:"net"`
}

// Counter computes per-frame counts and, in lane mode, cumulative entries and
// exits through a centroid tracker. Not safe for concurrent use; the pipeline
// owns it.
type Counter struct {
	cfg     Config
	tracker *Tracker
}

// New creates a counter for the given configuration.
func New(cfg Config) *Counter {
	if cfg.Lanes < 1 {
		cfg.Lanes = 1
	}
	if cfg.Orientation == "" {
		cfg.Orientation = Vertical
	}
	if cfg.PersonLabel == "" {
		cfg.PersonLabel = "person"
	}
	return &Counter{
		cfg:     cfg,
		tracker: NewTracker(cfg.Lanes, cfg.Orientation),
	}
}

// Config returns the active configuration.
func (c *Counter) Config() Config { return c.cfg }

// Update processes one frame's detections.
func (c *Counter) Update(bounds image.Rectangle, detections []types.Detection) Counts {
	persons := make([]types.Detection, 0, len(detections))
	for _, det := range detections {
		if strings.EqualFold(det.Label, c.cfg.PersonLabel) {
			persons = append(persons, det)
		}
	}

	counts := Counts{Total: len(persons)}

	if c.cfg.Mode == ModeLane {
		counts.Lanes = make([]int, c.cfg.Lanes)
		for _, det := range persons {
			counts.Lanes[c.laneIndex(bounds, det.BBox)]++
		}
		counts.In, counts.Out = c.tracker.Update(bounds, persons)
	}

	counts.Net = counts.In - counts.Out
	return counts
}

// LaneOf returns the lane a detection belongs to, for overlay labeling.
func (c *Counter) LaneOf(bounds image.Rectangle, box types.BoundingBox) int {
	return c.laneIndex(bounds, box)
}

// laneIndex assigns a box to a lane by its center. A center exactly on a lane
// boundary belongs to the lower-indexed lane.
func (c *Counter) laneIndex(bounds image.Rectangle, box types.BoundingBox) int {
	cx, cy := box.Center()

	var pos, extent int
	if c.cfg.Orientation == Horizontal {
		pos, extent = cy-bounds.Min.Y, bounds.Dy()
	} else {
		pos, extent = cx-bounds.Min.X, bounds.Dx()
	}
	return laneIndex(pos, extent, c.cfg.Lanes)
}

func laneIndex(pos, extent, lanes int) int {
	if extent <= 0 || pos <= 0 {
		return 0
	}
	if pos >= extent {
		return lanes - 1
	}
	idx := pos * lanes / extent
	// Boundary tie-break: a center sitting exactly on a lane edge counts
	// toward the lower-indexed lane.
	if idx > 0 && pos*lanes%extent == 0 {
		idx--
	}
	if idx >= lanes {
		idx = lanes - 1
	}
	return idx
}

// ResetCounts zeroes the cumulative entry/exit counts and drops all tracks.
func (c *Counter) ResetCounts() {
	c.tracker.Reset()
}
