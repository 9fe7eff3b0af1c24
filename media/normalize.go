package media

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"github.com/disintegration/imaging"
)

// Normalize rescales img so its larger side maps to maxDimension, preserving aspect ratio.
// It returns the resized raster, the aspect ratio (w/h) and the scale applied, both
// quantized to two decimals. The new size is floor(w*scale) x floor(h*scale), never below 1.
func Normalize(img image.Image, maxDimension int) (*image.NRGBA, float64, float64, error) {
	if img == nil {
		return nil, 0, 0, ErrNoRaster
	}
	if maxDimension <= 0 {
		return nil, 0, 0, fmt.Errorf("invalid max dimension %d", maxDimension)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: %dx%d", ErrNoRaster, width, height)
	}

	aspectRatio := roundHundredths(float64(width) / float64(height))
	scale := roundHundredths(float64(maxDimension) / float64(max(width, height)))

	newWidth := max(1, int(math.Floor(float64(width)*scale)))
	newHeight := max(1, int(math.Floor(float64(height)*scale)))

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Linear)
	return resized, aspectRatio, scale, nil
}

// roundHundredths rounds to two decimals, half-to-even on the exact binary value.
func roundHundredths(v float64) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return math.Round(v*100) / 100
	}
	return rounded
}
