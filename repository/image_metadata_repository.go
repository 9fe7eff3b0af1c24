package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/camden-git/faceingest/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertColumns are overwritten when a record with the same original_path exists.
var upsertColumns = []string{
	"processed_path",
	"face_coordinates",
	"aspect_ratio",
	"processed_scale",
	"landmarks",
	"exif_data",
	"tags",
}

// ImageMetadataRepository handles database operations for ImageMetadata records
type ImageMetadataRepository struct {
	DB *gorm.DB
}

// NewImageMetadataRepository creates a new instance of ImageMetadataRepository
func NewImageMetadataRepository(db *gorm.DB) *ImageMetadataRepository {
	return &ImageMetadataRepository{DB: db}
}

// Upsert reads any existing record under a row lock, re-homes its tags onto the
// incoming faces and writes everything in a single INSERT ... ON CONFLICT. Any
// failure rolls the whole transaction back.
func (r *ImageMetadataRepository) Upsert(ctx context.Context, record *models.ImageMetadata) error {
	record.OriginalPath = filepath.ToSlash(record.OriginalPath)
	record.ProcessedPath = filepath.ToSlash(record.ProcessedPath)
	record.EnsureCollections()
	record.ID = 0

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ImageMetadata
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("original_path = ?", record.OriginalPath).
			First(&existing).Error
		switch {
		case err == nil:
			record.Tags = mergeTags(carryTags(record.OriginalPath, existing.Tags, record.FaceCoordinates), record.Tags)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to read existing metadata for %s: %w", record.OriginalPath, err)
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_path"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(record)
		if result.Error != nil {
			return fmt.Errorf("failed to upsert metadata for %s: %w", record.OriginalPath, result.Error)
		}
		if existing.ID != 0 {
			record.ID = existing.ID
		}
		return nil
	})
	if err != nil {
		record.ID = 0
		return err
	}
	return nil
}

// carryTags maps tags from a previous ingestion onto the new face list. Tags that
// name a face id follow that face to its new index. Tags without a face id keep
// their index when it still exists. Anything else is dropped.
func carryTags(originalPath string, previous map[string]models.FaceTag, faces []models.FaceBox) map[string]models.FaceTag {
	carried := make(map[string]models.FaceTag, len(previous))
	if len(previous) == 0 {
		return carried
	}

	indexByID := make(map[string]int, len(faces))
	for i, face := range faces {
		if face.ID == "" {
			continue
		}
		if _, dup := indexByID[face.ID]; !dup {
			indexByID[face.ID] = i
		}
	}

	keys := make([]string, 0, len(previous))
	for key := range previous {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var legacy []string
	for _, key := range keys {
		tag := previous[key]
		if tag.FaceID == "" {
			legacy = append(legacy, key)
			continue
		}
		idx, ok := indexByID[tag.FaceID]
		if !ok {
			log.Printf("repository: WARNING dropping tag %q on %s, face %s no longer detected", tag.Tag, originalPath, tag.FaceID)
			continue
		}
		carried[strconv.Itoa(idx)] = tag
	}

	for _, key := range legacy {
		tag := previous[key]
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(faces) {
			log.Printf("repository: WARNING dropping tag %q on %s, face index %s no longer exists", tag.Tag, originalPath, key)
			continue
		}
		if _, taken := carried[key]; taken {
			log.Printf("repository: WARNING dropping tag %q on %s, face index %s is already tagged", tag.Tag, originalPath, key)
			continue
		}
		tag.FaceID = faces[idx].ID
		carried[key] = tag
	}
	return carried
}

// mergeTags overlays incoming draft tags on the carried ones.
func mergeTags(carried, incoming map[string]models.FaceTag) map[string]models.FaceTag {
	for key, tag := range incoming {
		carried[key] = tag
	}
	return carried
}

func (r *ImageMetadataRepository) first(ctx context.Context, desc string, query interface{}, args ...interface{}) (*models.ImageMetadata, error) {
	var record models.ImageMetadata
	err := r.DB.WithContext(ctx).Where(query, args...).Order("id ASC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get image metadata by %s: %w", desc, err)
	}
	return &record, nil
}

// GetByID retrieves a record by its surrogate id
func (r *ImageMetadataRepository) GetByID(ctx context.Context, id uint) (*models.ImageMetadata, error) {
	return r.first(ctx, fmt.Sprintf("id %d", id), "id = ?", id)
}

// GetByOriginalPath retrieves a record by its unique original path
func (r *ImageMetadataRepository) GetByOriginalPath(ctx context.Context, originalPath string) (*models.ImageMetadata, error) {
	cleanPath := filepath.ToSlash(originalPath)
	return r.first(ctx, "original path "+cleanPath, "original_path = ?", cleanPath)
}

// GetByProcessedPath retrieves the oldest record written to processedPath
func (r *ImageMetadataRepository) GetByProcessedPath(ctx context.Context, processedPath string) (*models.ImageMetadata, error) {
	cleanPath := filepath.ToSlash(processedPath)
	return r.first(ctx, "processed path "+cleanPath, "processed_path = ?", cleanPath)
}

// List returns records ordered by id. A limit <= 0 returns all records.
func (r *ImageMetadataRepository) List(ctx context.Context, limit, offset int) ([]models.ImageMetadata, error) {
	var records []models.ImageMetadata
	query := r.DB.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list image metadata: %w", err)
	}
	return records, nil
}
