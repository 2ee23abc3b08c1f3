package counter

import (
	"image"

	"github.com/crowdvision/people-counter/pkg/types"
)

const (
	// maxMatchDistSq is the maximum squared centroid distance (in pixels)
	// for matching a detection to an existing track.
	maxMatchDistSq = 5000
	// staleAfterFrames is how many frames a track may go unmatched before
	// it is dropped.
	staleAfterFrames = 30
	// Entry/exit lines as fractions of the frame extent perpendicular to
	// the lane axis.
	entryLineFraction = 0.9
	exitLineFraction  = 0.1
)

type track struct {
	box        types.BoundingBox
	cx, cy     int
	lastFrame  uint64
	countedIn  bool
	countedOut bool
}

// Tracker follows person detections across frames by nearest-centroid
// matching and accumulates entry/exit counts. Tracks in the first lane count
// in when their box bottom crosses the entry line; tracks in the last lane
// count out when their box top crosses the exit line.
type Tracker struct {
	lanes       int
	orientation Orientation

	tracks  map[int]*track
	nextID  int
	frameID uint64
	in      int
	out     int
}

// NewTracker creates a tracker for the given lane layout.
func NewTracker(lanes int, orientation Orientation) *Tracker {
	return &Tracker{
		lanes:       lanes,
		orientation: orientation,
		tracks:      make(map[int]*track),
	}
}

// Update advances the tracker by one frame and returns the cumulative
// entry and exit counts.
func (t *Tracker) Update(bounds image.Rectangle, persons []types.Detection) (in, out int) {
	t.frameID++

	for _, det := range persons {
		cx, cy := det.BBox.Center()

		matched := -1
		best := maxMatchDistSq + 1
		for id, tr := range t.tracks {
			if tr.lastFrame == t.frameID {
				continue // already claimed by a closer detection
			}
			dx, dy := cx-tr.cx, cy-tr.cy
			if d := dx*dx + dy*dy; d <= maxMatchDistSq && d < best {
				best = d
				matched = id
			}
		}

		var tr *track
		if matched >= 0 {
			tr = t.tracks[matched]
		} else {
			tr = &track{}
			t.tracks[t.nextID] = tr
			t.nextID++
		}
		tr.box = det.BBox
		tr.cx, tr.cy = cx, cy
		tr.lastFrame = t.frameID

		t.count(bounds, tr)
	}

	for id, tr := range t.tracks {
		if t.frameID-tr.lastFrame > staleAfterFrames {
			delete(t.tracks, id)
		}
	}

	return t.in, t.out
}

func (t *Tracker) count(bounds image.Rectangle, tr *track) {
	var lanePos, laneExtent int
	var crossNear, crossFar, crossExtent int

	if t.orientation == Horizontal {
		lanePos, laneExtent = tr.cy-bounds.Min.Y, bounds.Dy()
		crossNear = tr.box.X - bounds.Min.X
		crossFar = tr.box.X + tr.box.W - bounds.Min.X
		crossExtent = bounds.Dx()
	} else {
		lanePos, laneExtent = tr.cx-bounds.Min.X, bounds.Dx()
		crossNear = tr.box.Y - bounds.Min.Y
		crossFar = tr.box.Y + tr.box.H - bounds.Min.Y
		crossExtent = bounds.Dy()
	}

	lane := laneIndex(lanePos, laneExtent, t.lanes)
	entryLine := int(float64(crossExtent) * entryLineFraction)
	exitLine := int(float64(crossExtent) * exitLineFraction)

	if lane == 0 && !tr.countedIn && crossFar > entryLine {
		t.in++
		tr.countedIn = true
	}
	if lane == t.lanes-1 && !tr.countedOut && crossNear < exitLine {
		t.out++
		tr.countedOut = true
	}
}

// Counts returns the cumulative entry and exit counts.
func (t *Tracker) Counts() (in, out int) {
	return t.in, t.out
}

// ActiveTracks returns the number of live tracks.
func (t *Tracker) ActiveTracks() int {
	return len(t.tracks)
}

// Reset zeroes the counters and drops every track.
func (t *Tracker) Reset() {
	t.tracks = make(map[int]*track)
	t.nextID = 0
	t.frameID = 0
	t.in = 0
	t.out = 0
}
