package repository

import (
	"context"

	"github.com/camden-git/faceingest/models"
	"gorm.io/gorm"
)

// ErrRecordNotFound is returned by lookups that match no record.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// ImageMetadataRepositoryInterface defines the methods for image metadata operations
type ImageMetadataRepositoryInterface interface {
	// Upsert inserts the record or overwrites every derived field of the record
	// with the same original path, atomically. Existing tags are carried over.
	Upsert(ctx context.Context, record *models.ImageMetadata) error
	GetByID(ctx context.Context, id uint) (*models.ImageMetadata, error)
	GetByOriginalPath(ctx context.Context, originalPath string) (*models.ImageMetadata, error)
	GetByProcessedPath(ctx context.Context, processedPath string) (*models.ImageMetadata, error)
	List(ctx context.Context, limit, offset int) ([]models.ImageMetadata, error)
}
