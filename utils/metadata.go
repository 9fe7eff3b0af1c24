package utils

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// redactedExifTags are never persisted: binary blobs, embedded thumbnails and
// the vendor MakerNote.
var redactedExifTags = map[string]bool{
	"MakerNote":                        true,
	"EXIF MakerNote":                   true,
	"ThumbJPEGInterchangeFormat":       true,
	"ThumbJPEGInterchangeFormatLength": true,
	"JPEGThumbnail":                    true,
	"TIFFThumbnail":                    true,
	"Filename":                         true,
}

// IsRedactedExifTag reports whether a tag name belongs to the redaction set.
func IsRedactedExifTag(name string) bool {
	return redactedExifTags[name]
}

// RedactExif returns a copy of tags without any redacted keys.
func RedactExif(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		if IsRedactedExifTag(key) {
			continue
		}
		out[key] = value
	}
	return out
}

type exifCollector map[string]string

func (c exifCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	key := string(name)
	if IsRedactedExifTag(key) || tag == nil {
		return nil
	}
	c[key] = tagString(tag)
	return nil
}

// tagString renders a tag value, trimming the NUL padding of ASCII fields.
func tagString(tag *tiff.Tag) string {
	if tag.Format() == tiff.StringVal {
		if s, err := tag.StringVal(); err == nil {
			return strings.TrimRight(s, "\x00")
		}
	}
	return strings.TrimRight(tag.String(), "\x00")
}

// ExtractExif reads every EXIF field of the file at filePath as a string, minus the
// redaction set. A file without readable EXIF yields an empty map; only failing to
// open the file is an error.
func ExtractExif(filePath string) (map[string]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s for exif: %w", filePath, err)
	}
	defer file.Close()

	exifData, err := exif.Decode(file)
	if err != nil {
		if errors.Is(err, io.EOF) || exif.IsCriticalError(err) {
			log.Printf("exif: No EXIF data found in %s", filePath)
			return map[string]string{}, nil
		}
		// non-critical errors still yield a partially decoded block
		log.Printf("exif: WARNING partial EXIF data in %s: %v", filePath, err)
		if exifData == nil {
			return map[string]string{}, nil
		}
	}

	collected := exifCollector{}
	if err := exifData.Walk(collected); err != nil {
		log.Printf("exif: WARNING failed walking EXIF fields of %s: %v", filePath, err)
	}
	return RedactExif(collected), nil
}
