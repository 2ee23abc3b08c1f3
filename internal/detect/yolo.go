package detect

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	"github.com/nfnt/resize"

	"github.com/crowdvision/people-counter/pkg/types"
)

// letterboxed holds the resized frame and the transform back to source pixels.
type letterboxed struct {
	image *image.RGBA
	scale float64
	padX  int
	padY  int
}

// letterbox scales the image to fit a square input while keeping aspect
// ratio, padding the borders with neutral gray.
func letterbox(img image.Image, size int) letterboxed {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	newW := int(math.Round(float64(w) * scale))
	newH := int(math.Round(float64(h) * scale))
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	scaled := resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.RGBA{R: 114, G: 114, B: 114, A: 255}}, image.Point{}, draw.Src)

	padX := (size - newW) / 2
	padY := (size - newH) / 2
	draw.Draw(canvas, image.Rect(padX, padY, padX+newW, padY+newH), scaled, scaled.Bounds().Min, draw.Src)

	return letterboxed{image: canvas, scale: scale, padX: padX, padY: padY}
}

// fillInput writes the RGBA canvas into the model input buffer as normalized
// CHW float32, the layout YOLO ONNX exports expect.
func fillInput(canvas *image.RGBA, buf []float32) {
	bounds := canvas.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h

	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			pix := row[x*4:]
			buf[idx] = float32(pix[0]) / 255.0
			buf[plane+idx] = float32(pix[1]) / 255.0
			buf[2*plane+idx] = float32(pix[2]) / 255.0
		}
	}
}

type candidate struct {
	x1, y1, x2, y2 float64
	score          float64
	class          int
}

// decodeYOLO turns a raw [1, 4+C, A] output tensor into detections in source
// frame coordinates. The tensor is channel-major: value(ch, a) = out[ch*A+a].
func decodeYOLO(out []float32, names []string, anchors int, confidence, iou float64, lb letterboxed, orig image.Rectangle) []types.Detection {
	numClasses := len(names)
	if len(out) < (4+numClasses)*anchors {
		return nil
	}

	var cands []candidate
	for a := 0; a < anchors; a++ {
		bestClass := 0
		bestScore := float64(out[4*anchors+a])
		for c := 1; c < numClasses; c++ {
			if score := float64(out[(4+c)*anchors+a]); score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore < confidence {
			continue
		}

		cx := float64(out[a])
		cy := float64(out[anchors+a])
		w := float64(out[2*anchors+a])
		h := float64(out[3*anchors+a])

		cands = append(cands, candidate{
			x1:    cx - w/2,
			y1:    cy - h/2,
			x2:    cx + w/2,
			y2:    cy + h/2,
			score: bestScore,
			class: bestClass,
		})
	}

	kept := nonMaxSuppress(cands, iou)

	origW := float64(orig.Dx())
	origH := float64(orig.Dy())

	dets := make([]types.Detection, 0, len(kept))
	for _, c := range kept {
		// Undo the letterbox transform.
		x1 := (c.x1 - float64(lb.padX)) / lb.scale
		y1 := (c.y1 - float64(lb.padY)) / lb.scale
		x2 := (c.x2 - float64(lb.padX)) / lb.scale
		y2 := (c.y2 - float64(lb.padY)) / lb.scale

		x1 = clamp(x1, 0, origW)
		y1 = clamp(y1, 0, origH)
		x2 = clamp(x2, 0, origW)
		y2 = clamp(y2, 0, origH)
		if x2-x1 < 1 || y2-y1 < 1 {
			continue
		}

		dets = append(dets, types.Detection{
			Label:      names[c.class],
			Confidence: c.score,
			BBox: types.BoundingBox{
				X: orig.Min.X + int(math.Round(x1)),
				Y: orig.Min.Y + int(math.Round(y1)),
				W: int(math.Round(x2 - x1)),
				H: int(math.Round(y2 - y1)),
			},
		})
	}
	return dets
}

// nonMaxSuppress performs greedy class-aware NMS over the candidates.
func nonMaxSuppress(cands []candidate, iou float64) []candidate {
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	var kept []candidate
	suppressed := make([]bool, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].class != cands[i].class {
				continue
			}
			if boxIoU(cands[i], cands[j]) > iou {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func boxIoU(a, b candidate) float64 {
	ix1 := math.Max(a.x1, b.x1)
	iy1 := math.Max(a.y1, b.y1)
	ix2 := math.Min(a.x2, b.x2)
	iy2 := math.Min(a.y2, b.y2)

	iw := math.Max(0, ix2-ix1)
	ih := math.Max(0, iy2-iy1)
	inter := iw * ih
	if inter <= 0 {
		return 0
	}

	areaA := (a.x2 - a.x1) * (a.y2 - a.y1)
	areaB := (b.x2 - b.x1) * (b.y2 - b.y1)
	return inter / (areaA + areaB - inter)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
