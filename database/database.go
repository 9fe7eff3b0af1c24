package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/faceingest/models"
)

// ErrFaceIndexOutOfRange is returned when a tag targets a face the record does not have.
var ErrFaceIndexOutOfRange = errors.New("face index out of range")

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// FaceTags is the tagging view of one image_metadata row.
type FaceTags struct {
	ID              int64                     `json:"id"`
	ProcessedPath   string                    `json:"processed_path"`
	FaceCoordinates []models.FaceBox          `json:"face_coordinates"`
	Tags            map[string]models.FaceTag `json:"tags"`
}

// TagStore reads face boxes and writes the tags column of image_metadata.
// It never touches any other column.
type TagStore struct {
	db        *sql.DB
	sb        sq.StatementBuilderType
	rowLocks  bool
	tableName string
}

// NewTagStore builds a TagStore for the given driver's placeholder dialect.
func NewTagStore(db *sql.DB, driver string) *TagStore {
	var placeholder sq.PlaceholderFormat = sq.Question
	rowLocks := false
	if driver == DriverPostgres {
		placeholder = sq.Dollar
		rowLocks = true
	}
	return &TagStore{
		db:        db,
		sb:        sq.StatementBuilder.PlaceholderFormat(placeholder),
		rowLocks:  rowLocks,
		tableName: models.ImageMetadata{}.TableName(),
	}
}

func (s *TagStore) selectFaceTags(processedPath string, forUpdate bool) sq.SelectBuilder {
	query := s.sb.Select("id", "processed_path", "face_coordinates", "tags").
		From(s.tableName).
		Where(sq.Eq{"processed_path": processedPath}).
		OrderBy("id").
		Limit(1)
	if forUpdate && s.rowLocks {
		query = query.Suffix("FOR UPDATE")
	}
	return query
}

func scanFaceTags(row *sql.Row) (FaceTags, error) {
	var view FaceTags
	var faces, tags sql.NullString
	if err := row.Scan(&view.ID, &view.ProcessedPath, &faces, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FaceTags{}, sql.ErrNoRows
		}
		return FaceTags{}, fmt.Errorf("failed to scan face tags row: %w", err)
	}

	view.FaceCoordinates = []models.FaceBox{}
	if faces.Valid && faces.String != "" {
		if err := json.Unmarshal([]byte(faces.String), &view.FaceCoordinates); err != nil {
			return FaceTags{}, fmt.Errorf("failed to decode face_coordinates for record %d: %w", view.ID, err)
		}
	}
	view.Tags = map[string]models.FaceTag{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &view.Tags); err != nil {
			return FaceTags{}, fmt.Errorf("failed to decode tags for record %d: %w", view.ID, err)
		}
	}
	if view.FaceCoordinates == nil {
		view.FaceCoordinates = []models.FaceBox{}
	}
	if view.Tags == nil {
		view.Tags = map[string]models.FaceTag{}
	}
	return view, nil
}

// GetFaceTags returns the faces and tags of the record with the given processed path.
// Returns sql.ErrNoRows when no record matches.
func (s *TagStore) GetFaceTags(ctx context.Context, processedPath string) (FaceTags, error) {
	sqlStr, args, err := s.selectFaceTags(processedPath, false).ToSql()
	if err != nil {
		return FaceTags{}, fmt.Errorf("failed to build SQL query for GetFaceTags: %w", err)
	}
	return scanFaceTags(s.db.QueryRowContext(ctx, sqlStr, args...))
}

// SetFaceTag merges tag into the record's tags under the face index, in one
// transaction. The face's stable id is stamped onto the tag. Only the tags
// column is written.
func (s *TagStore) SetFaceTag(ctx context.Context, processedPath string, faceIndex int, tag models.FaceTag) (FaceTags, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FaceTags{}, fmt.Errorf("failed to begin tag transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("database.tags: WARNING rollback failed: %v", rbErr)
		}
	}()

	sqlStr, args, err := s.selectFaceTags(processedPath, true).ToSql()
	if err != nil {
		return FaceTags{}, fmt.Errorf("failed to build SQL query for SetFaceTag: %w", err)
	}
	view, err := scanFaceTags(tx.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		return FaceTags{}, err
	}

	if faceIndex < 0 || faceIndex >= len(view.FaceCoordinates) {
		return FaceTags{}, fmt.Errorf("%w: index %d, record has %d face(s)", ErrFaceIndexOutOfRange, faceIndex, len(view.FaceCoordinates))
	}
	tag.FaceID = view.FaceCoordinates[faceIndex].ID
	view.Tags[fmt.Sprint(faceIndex)] = tag

	if err := s.writeTags(ctx, tx, view.ID, view.Tags); err != nil {
		return FaceTags{}, err
	}
	if err := tx.Commit(); err != nil {
		return FaceTags{}, fmt.Errorf("failed to commit tag update for %s: %w", processedPath, err)
	}
	return view, nil
}

func (s *TagStore) writeTags(ctx context.Context, db Querier, id int64, tags map[string]models.FaceTag) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	sqlStr, args, err := s.sb.Update(s.tableName).
		Set("tags", string(encoded)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL for tag update: %w", err)
	}
	res, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to update tags for record %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("tag update for record %d affected %d rows", id, n)
	}
	return nil
}
