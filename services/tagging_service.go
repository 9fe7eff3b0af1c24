package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/models"
)

const DefaultTagType = "person"

var (
	ErrFaceIndexOutOfRange = database.ErrFaceIndexOutOfRange
	ErrImageNotFound       = errors.New("no image metadata for processed path")
	ErrEmptyTag            = errors.New("tag must not be empty")
)

// FaceTagStore is the storage the tagging service writes through.
type FaceTagStore interface {
	GetFaceTags(ctx context.Context, processedPath string) (database.FaceTags, error)
	SetFaceTag(ctx context.Context, processedPath string, faceIndex int, tag models.FaceTag) (database.FaceTags, error)
}

// TaggingService attaches human labels to detected faces
type TaggingService struct {
	store FaceTagStore
	now   func() time.Time
}

// NewTaggingService creates a new tagging service
func NewTaggingService(store FaceTagStore) *TaggingService {
	return &TaggingService{store: store, now: time.Now}
}

// Faces returns the face boxes and current tags of the image at processedPath.
func (s *TaggingService) Faces(ctx context.Context, processedPath string) (database.FaceTags, error) {
	view, err := s.store.GetFaceTags(ctx, processedPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.FaceTags{}, fmt.Errorf("%w: %s", ErrImageNotFound, processedPath)
		}
		return database.FaceTags{}, fmt.Errorf("failed to load faces for %s: %w", processedPath, err)
	}
	return view, nil
}

// TagFace labels face faceIndex of the image at processedPath. The label is
// title-cased and stamped with the current UTC time; an empty tagType means "person".
// Other faces' tags and every other field of the record are left untouched.
func (s *TaggingService) TagFace(ctx context.Context, processedPath string, faceIndex int, tag, tagType string) (database.FaceTags, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return database.FaceTags{}, ErrEmptyTag
	}
	if faceIndex < 0 {
		return database.FaceTags{}, fmt.Errorf("%w: index %d", ErrFaceIndexOutOfRange, faceIndex)
	}
	tagType = strings.ToLower(strings.TrimSpace(tagType))
	if tagType == "" {
		tagType = DefaultTagType
	}

	faceTag := models.FaceTag{
		// a Caser holds state, so one is made per call
		Tag:          cases.Title(language.Und).String(tag),
		Type:         tagType,
		LastModified: s.now().UTC().Format(time.RFC3339),
	}

	view, err := s.store.SetFaceTag(ctx, processedPath, faceIndex, faceTag)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return database.FaceTags{}, fmt.Errorf("%w: %s", ErrImageNotFound, processedPath)
		case errors.Is(err, ErrFaceIndexOutOfRange):
			return database.FaceTags{}, err
		}
		return database.FaceTags{}, fmt.Errorf("failed to tag face %d of %s: %w", faceIndex, processedPath, err)
	}

	log.Printf("tagging: face %d of %s tagged as %q (%s)", faceIndex, processedPath, faceTag.Tag, faceTag.Type)
	return view, nil
}
