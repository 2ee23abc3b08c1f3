// Package overlay renders detection boxes, lane guides, counters and alert
// banners onto frames before they are streamed.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/pkg/types"
)

var (
	colorPerson     = color.RGBA{G: 255, A: 255}
	colorRestricted = color.RGBA{R: 255, G: 100, A: 255}
	colorOther      = color.RGBA{B: 255, G: 120, A: 255}
	colorLaneLine   = color.RGBA{R: 255, G: 255, A: 255}
	colorBanner     = color.RGBA{R: 255, A: 255}
	colorText       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorTextBG     = color.RGBA{A: 200}
)

// Frame describes everything the renderer needs for one frame.
type Frame struct {
	Frame       types.Frame
	Detections  []types.Detection
	Counts      counter.Counts
	Mode        counter.Mode
	Lanes       int
	Orientation counter.Orientation
	PersonLabel string
	Restricted  map[string]struct{}
	Banners     []string
	ModelLoaded bool
}

// Render draws the overlay and returns the annotated image.
func Render(in Frame) *image.RGBA {
	bounds := in.Frame.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, in.Frame.Image, bounds.Min, draw.Src)

	if in.Mode == counter.ModeLane && in.Lanes > 1 {
		drawLaneLines(canvas, in.Lanes, in.Orientation)
	}

	for _, det := range in.Detections {
		c := boxColor(det, in.PersonLabel, in.Restricted)
		drawRect(canvas, det.BBox, c, 2)
		label := fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
		labelY := det.BBox.Y - 16
		if labelY < bounds.Min.Y+4 {
			labelY = det.BBox.Y + det.BBox.H + 4
		}
		drawTextWithBackground(canvas, det.BBox.X, labelY, label, c)
	}

	header := fmt.Sprintf("Frame %d  %s  Count: %d",
		in.Frame.Number, in.Frame.Timestamp.Format("2006/01/02 15:04:05"), in.Counts.Total)
	if in.Mode == counter.ModeLane {
		header += fmt.Sprintf("  In: %d  Out: %d  Net: %d", in.Counts.In, in.Counts.Out, in.Counts.Net)
	}
	drawTextWithBackground(canvas, bounds.Min.X+10, bounds.Min.Y+10, header, colorText)

	y := bounds.Min.Y + 30
	if !in.ModelLoaded {
		drawTextWithBackground(canvas, bounds.Min.X+10, y, "NO MODEL LOADED", colorBanner)
		y += 20
	}
	for _, banner := range in.Banners {
		drawTextWithBackground(canvas, bounds.Min.X+10, y, strings.ToUpper(banner), colorBanner)
		y += 20
	}

	return canvas
}

// EncodeJPEG encodes an annotated frame for the MJPEG stream.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func boxColor(det types.Detection, personLabel string, restricted map[string]struct{}) color.RGBA {
	lower := strings.ToLower(det.Label)
	if _, ok := restricted[lower]; ok {
		return colorRestricted
	}
	if strings.EqualFold(det.Label, personLabel) {
		return colorPerson
	}
	return colorOther
}

func drawLaneLines(canvas *image.RGBA, lanes int, orientation counter.Orientation) {
	bounds := canvas.Bounds()
	for i := 1; i < lanes; i++ {
		if orientation == counter.Horizontal {
			y := bounds.Min.Y + i*bounds.Dy()/lanes
			drawHLine(canvas, bounds.Min.X, bounds.Max.X, y, colorLaneLine)
		} else {
			x := bounds.Min.X + i*bounds.Dx()/lanes
			drawVLine(canvas, x, bounds.Min.Y, bounds.Max.Y, colorLaneLine)
		}
	}
}

func drawRect(canvas *image.RGBA, box types.BoundingBox, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		drawHLine(canvas, box.X, box.X+box.W, box.Y+t, c)
		drawHLine(canvas, box.X, box.X+box.W, box.Y+box.H-t, c)
		drawVLine(canvas, box.X+t, box.Y, box.Y+box.H, c)
		drawVLine(canvas, box.X+box.W-t, box.Y, box.Y+box.H, c)
	}
}

func drawHLine(canvas *image.RGBA, x1, x2, y int, c color.RGBA) {
	bounds := canvas.Bounds()
	if y < bounds.Min.Y || y >= bounds.Max.Y {
		return
	}
	for x := max(x1, bounds.Min.X); x < min(x2, bounds.Max.X); x++ {
		canvas.SetRGBA(x, y, c)
	}
}

func drawVLine(canvas *image.RGBA, x, y1, y2 int, c color.RGBA) {
	bounds := canvas.Bounds()
	if x < bounds.Min.X || x >= bounds.Max.X {
		return
	}
	for y := max(y1, bounds.Min.Y); y < min(y2, bounds.Max.Y); y++ {
		canvas.SetRGBA(x, y, c)
	}
}

// drawTextWithBackground renders text on a dark backing strip so it stays
// readable on any frame content.
func drawTextWithBackground(canvas *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	bg := image.Rect(x-2, y-2, x+width+2, y+height)
	draw.Draw(canvas, bg.Intersect(canvas.Bounds()), &image.Uniform{C: colorTextBG}, image.Point{}, draw.Over)

	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
