package overlay

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/pkg/types"
)

func testFrame() types.Frame {
	return types.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 320, 240)),
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Number:    7,
	}
}

func TestRenderProducesFrameSizedCanvas(t *testing.T) {
	out := Render(Frame{
		Frame:       testFrame(),
		Mode:        counter.ModeEagleEye,
		ModelLoaded: true,
	})
	assert.Equal(t, image.Rect(0, 0, 320, 240), out.Bounds())
}

func TestRenderWithDetectionsAndBanners(t *testing.T) {
	out := Render(Frame{
		Frame: testFrame(),
		Detections: []types.Detection{
			{Label: "person", Confidence: 0.91, BBox: types.BoundingBox{X: 10, Y: 10, W: 40, H: 80}},
			{Label: "knife", Confidence: 0.74, BBox: types.BoundingBox{X: 100, Y: 5, W: 30, H: 20}},
			{Label: "dog", Confidence: 0.60, BBox: types.BoundingBox{X: 200, Y: 150, W: 50, H: 50}},
		},
		Counts:      counter.Counts{Total: 1, Lanes: []int{1, 0}, In: 2, Out: 1, Net: 1},
		Mode:        counter.ModeLane,
		Lanes:       2,
		Orientation: counter.Vertical,
		PersonLabel: "person",
		Restricted:  map[string]struct{}{"knife": {}},
		Banners:     []string{"CAPACITY EXCEEDED!", "RESTRICTED ITEM DETECTED!"},
		ModelLoaded: false,
	})
	require.NotNil(t, out)

	// The lane divider at x=160 is drawn over the black frame.
	r, g, _, _ := out.At(160, 120).RGBA()
	assert.NotZero(t, r)
	assert.NotZero(t, g)
}

func TestRenderClampsLabelAboveFrame(t *testing.T) {
	// A detection at the very top must not panic when the label is pushed
	// below the box instead.
	out := Render(Frame{
		Frame: testFrame(),
		Detections: []types.Detection{
			{Label: "person", Confidence: 0.8, BBox: types.BoundingBox{X: 0, Y: 0, W: 20, H: 30}},
		},
		Mode:        counter.ModeEagleEye,
		PersonLabel: "person",
		ModelLoaded: true,
	})
	require.NotNil(t, out)
}

func TestEncodeJPEGRoundTrips(t *testing.T) {
	data, err := EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 64, 48)))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestBoxColorSelection(t *testing.T) {
	restricted := map[string]struct{}{"knife": {}}

	assert.Equal(t, colorPerson, boxColor(types.Detection{Label: "person"}, "person", restricted))
	assert.Equal(t, colorRestricted, boxColor(types.Detection{Label: "Knife"}, "person", restricted))
	assert.Equal(t, colorOther, boxColor(types.Detection{Label: "dog"}, "person", restricted))
}
