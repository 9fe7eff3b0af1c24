package models

import "gorm.io/gorm"

// FaceBox is a detected face rectangle in the processed raster's pixel space.
// ID is a stable per-face identifier derived from the photo path and the box.
type FaceBox struct {
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Right  int    `json:"right"`
	Bottom int    `json:"bottom"`
	ID     string `json:"id,omitempty"`
}

// LandmarkPoint is a single facial landmark.
type LandmarkPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FaceTag is a human annotation attached to one face of an image.
type FaceTag struct {
	Tag          string `json:"tag"`
	Type         string `json:"type"`
	LastModified string `json:"last_modified"`
	FaceID       string `json:"face_id,omitempty"`
}

// ImageMetadata is the persisted record for one ingested photo.
// It corresponds to the 'image_metadata' table.
//
// FaceCoordinates[i], Landmarks[i] and Tags[strconv.Itoa(i)] describe the same face.
type ImageMetadata struct {
	ID              uint               `gorm:"primaryKey;autoIncrement" json:"id"`
	OriginalPath    string             `gorm:"size:1024;not null;uniqueIndex" json:"original_path"`
	ProcessedPath   string             `gorm:"size:1024;index" json:"processed_path"`
	FaceCoordinates []FaceBox          `gorm:"type:text;serializer:json" json:"face_coordinates"`
	AspectRatio     float64            `json:"aspect_ratio"`
	ProcessedScale  float64            `json:"processed_scale"`
	Landmarks       [][]LandmarkPoint  `gorm:"type:text;serializer:json" json:"landmarks"`
	ExifData        map[string]string  `gorm:"type:text;serializer:json" json:"exif_data"`
	Tags            map[string]FaceTag `gorm:"type:text;serializer:json" json:"tags"`
}

// TableName explicitly sets the table name for GORM.
func (ImageMetadata) TableName() string {
	return "image_metadata"
}

// EnsureCollections replaces nil collections with empty ones so they persist
// as [] and {} rather than null.
func (m *ImageMetadata) EnsureCollections() {
	if m.FaceCoordinates == nil {
		m.FaceCoordinates = []FaceBox{}
	}
	if m.Landmarks == nil {
		m.Landmarks = [][]LandmarkPoint{}
	}
	if m.ExifData == nil {
		m.ExifData = map[string]string{}
	}
	if m.Tags == nil {
		m.Tags = map[string]FaceTag{}
	}
}

// AfterFind normalizes collections loaded from rows written by other tools.
func (m *ImageMetadata) AfterFind(tx *gorm.DB) error {
	m.EnsureCollections()
	return nil
}
