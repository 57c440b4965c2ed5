package faces

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"

	"github.com/roach88/visiontool/internal/hal"
)

// ROISize is the side of the normalized face patch.
const ROISize = 64

// maxDistance is the distance reported when patches cannot be compared.
const maxDistance = 255.0

// Template is a normalized face patch for one person.
type Template struct {
	Person Person
	Image  *image.NRGBA
	luma   []float64
}

// NewTemplate normalizes img into a template for p.
func NewTemplate(p Person, img image.Image) *Template {
	return &Template{Person: p, Image: normalize(img)}
}

func (t *Template) lumaValues() []float64 {
	if t.luma == nil {
		t.luma = luma(t.Image)
	}
	return t.luma
}

// normalize resizes to ROISize square grayscale.
func normalize(img image.Image) *image.NRGBA {
	resized := imaging.Resize(img, ROISize, ROISize, imaging.Linear)
	return imaging.Grayscale(resized)
}

// clampBox clamps a detection to the frame, keeping at least one pixel.
func clampBox(b hal.Box, fw, fh int) image.Rectangle {
	x := clamp(b.X, 0, fw-1)
	y := clamp(b.Y, 0, fh-1)
	w := clamp(b.W, 1, fw-x)
	h := clamp(b.H, 1, fh-y)
	return image.Rect(x, y, x+w, y+h)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// extractROI crops the clamped box and normalizes it. It returns false for
// an empty frame.
func extractROI(frame image.Image, b hal.Box) (*image.NRGBA, image.Rectangle, bool) {
	bounds := frame.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, image.Rectangle{}, false
	}
	r := clampBox(b, bounds.Dx(), bounds.Dy())
	crop := imaging.Crop(frame, r.Add(bounds.Min))
	return normalize(crop), r, true
}

func luma(img *image.NRGBA) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out = append(out, float64(row[x*4]))
		}
	}
	return out
}

// distance is the mean absolute luminance difference between two patches.
func distance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return maxDistance
	}
	diff := make([]float64, len(a))
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		diff[i] = d
	}
	mean, err := stats.Mean(diff)
	if err != nil {
		return maxDistance
	}
	return mean
}

// sharpness is the luminance standard deviation of a patch.
func sharpness(values []float64) float64 {
	sd, err := stats.StandardDeviation(values)
	if err != nil {
		return 0
	}
	return sd
}
