package counter

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdvision/people-counter/pkg/types"
)

var trackerBounds = image.Rect(0, 0, 400, 400)

func TestTrackerEntryCountedOnce(t *testing.T) {
	tr := NewTracker(2, Vertical)

	// Lane 0, box bottom short of the entry line at y=360.
	walker := person(50, 240, 40, 80)
	in, out := tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 0, in)
	assert.Equal(t, 0, out)

	// Same person moved down past the entry line.
	walker = person(52, 300, 40, 80)
	in, _ = tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 1, in)

	// Lingering past the line does not count again.
	walker = person(54, 310, 40, 80)
	in, _ = tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 1, in)
	assert.Equal(t, 1, tr.ActiveTracks())
}

func TestTrackerExitInLastLane(t *testing.T) {
	tr := NewTracker(2, Vertical)

	// Lane 1, box top below the exit line at y=40.
	walker := person(300, 60, 40, 80)
	_, out := tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 0, out)

	// Moved up so the box top crosses the exit line.
	walker = person(300, 20, 40, 80)
	_, out = tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 1, out)
}

func TestTrackerNewTrackWhenTooFar(t *testing.T) {
	tr := NewTracker(2, Vertical)

	tr.Update(trackerBounds, []types.Detection{person(50, 50, 20, 20)})
	require.Equal(t, 1, tr.ActiveTracks())

	// A centroid jump beyond the match radius starts a second track.
	tr.Update(trackerBounds, []types.Detection{person(300, 300, 20, 20)})
	assert.Equal(t, 2, tr.ActiveTracks())
}

func TestTrackerDetectionsClaimDistinctTracks(t *testing.T) {
	tr := NewTracker(1, Vertical)

	a := person(100, 100, 20, 20)
	b := person(130, 100, 20, 20)
	tr.Update(trackerBounds, []types.Detection{a, b})
	assert.Equal(t, 2, tr.ActiveTracks())

	// Both nearby detections on the next frame keep two tracks alive
	// instead of both matching the same one.
	tr.Update(trackerBounds, []types.Detection{person(102, 101, 20, 20), person(131, 102, 20, 20)})
	assert.Equal(t, 2, tr.ActiveTracks())
}

func TestTrackerPrunesStaleTracks(t *testing.T) {
	tr := NewTracker(2, Vertical)

	tr.Update(trackerBounds, []types.Detection{person(50, 50, 20, 20)})
	require.Equal(t, 1, tr.ActiveTracks())

	for i := 0; i <= staleAfterFrames; i++ {
		tr.Update(trackerBounds, nil)
	}
	assert.Equal(t, 0, tr.ActiveTracks())
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(2, Vertical)

	tr.Update(trackerBounds, []types.Detection{person(50, 300, 40, 80)})
	in, _ := tr.Counts()
	require.Equal(t, 1, in)

	tr.Reset()
	in, out := tr.Counts()
	assert.Equal(t, 0, in)
	assert.Equal(t, 0, out)
	assert.Equal(t, 0, tr.ActiveTracks())
}

func TestTrackerHorizontalOrientation(t *testing.T) {
	tr := NewTracker(2, Horizontal)

	// Lane 0 by center y; entry line is on the X axis at x=360.
	walker := person(200, 50, 80, 40)
	in, _ := tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 0, in)

	walker = person(330, 52, 80, 40)
	in, _ = tr.Update(trackerBounds, []types.Detection{walker})
	assert.Equal(t, 1, in)
}
