package media

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Codec decodes images from disk and encodes rasters back to disk.
type Codec interface {
	Decode(path string) (image.Image, error)
	Encode(img image.Image, path string) error
}

// ImagingCodec is the Codec backed by disintegration/imaging.
type ImagingCodec struct {
	JPEGQuality int
}

func NewImagingCodec(jpegQuality int) *ImagingCodec {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	return &ImagingCodec{JPEGQuality: jpegQuality}
}

// Decode opens the image and applies its EXIF orientation.
func (c *ImagingCodec) Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRaster, path)
	}
	return img, nil
}

// Encode writes img to path, choosing the format from the extension.
// The file is written to a temporary sibling and renamed into place.
func (c *ImagingCodec) Encode(img image.Image, path string) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("failed to determine output format for %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if _, statErr := os.Stat(tmpPath); statErr == nil {
			if rmErr := os.Remove(tmpPath); rmErr != nil {
				log.Printf("media.codec: WARNING failed to remove temp file %s: %v", tmpPath, rmErr)
			}
		}
	}()

	if err := imaging.Encode(tmp, img, format, imaging.JPEGQuality(c.JPEGQuality)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode image to %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move encoded image into place at %s: %w", path, err)
	}
	return nil
}
