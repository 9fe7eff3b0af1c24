// media/types.go
package media

import (
	"context"
	"errors"
	"image"
)

// ErrNoRaster is returned when an image has no usable pixels.
var ErrNoRaster = errors.New("image has no raster data")

// BoundingBox is a face rectangle in pixel coordinates of the raster it was detected on.
type BoundingBox struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// Valid reports whether the box is non-degenerate (right >= left, bottom >= top).
func (b BoundingBox) Valid() bool {
	return b.Right >= b.Left && b.Bottom >= b.Top
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

type Point struct {
	X int
	Y int
}

// FaceDetector finds faces in a raster. Results must be deterministic for a given raster.
type FaceDetector interface {
	DetectFaces(ctx context.Context, img image.Image) ([]BoundingBox, error)
}

// LandmarkPredictor returns the ordered landmark points for one face box.
type LandmarkPredictor interface {
	PredictLandmarks(ctx context.Context, img image.Image, box BoundingBox) ([]Point, error)
}

// FaceModel bundles detection and landmark prediction behind one loaded resource.
type FaceModel interface {
	FaceDetector
	LandmarkPredictor
	Close() error
}
