package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/models"
)

func newServiceWithRecord(t *testing.T) (*TaggingService, *database.TagStore) {
	t.Helper()
	db, err := database.InitGormDB(database.DriverSQLite, filepath.Join(t.TempDir(), "svc.db"), false)
	if err != nil {
		t.Fatalf("InitGormDB: %v", err)
	}
	t.Cleanup(func() { database.CloseGormDB(db) })
	if err := database.AutoMigrateModels(db); err != nil {
		t.Fatal(err)
	}
	rec := &models.ImageMetadata{
		OriginalPath:    "/inbox/photo1.jpg",
		ProcessedPath:   "/processed/photo1.jpg",
		FaceCoordinates: []models.FaceBox{{Left: 100, Top: 80, Right: 220, Bottom: 240, ID: "face-0"}},
		Landmarks:       [][]models.LandmarkPoint{{{X: 130, Y: 140}}},
		ExifData:        map[string]string{},
		Tags:            map[string]models.FaceTag{},
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	store := database.NewTagStore(sqlDB, database.DriverSQLite)
	svc := NewTaggingService(store)
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 15, 4, 5, 0, time.FixedZone("EST", -5*3600)) }
	return svc, store
}

func TestTagFaceAlice(t *testing.T) {
	svc, store := newServiceWithRecord(t)
	ctx := context.Background()

	if _, err := svc.TagFace(ctx, "/processed/photo1.jpg", 0, "alice", ""); err != nil {
		t.Fatalf("TagFace: %v", err)
	}

	view, err := store.GetFaceTags(ctx, "/processed/photo1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	want := models.FaceTag{Tag: "Alice", Type: "person", LastModified: "2024-03-09T20:04:05Z", FaceID: "face-0"}
	if got := view.Tags["0"]; got != want {
		t.Errorf("tags[0] = %#v, want %#v", got, want)
	}
	if len(view.Tags) != 1 {
		t.Errorf("expected one tag, got %#v", view.Tags)
	}
}

func TestTagFaceTitleCases(t *testing.T) {
	svc, _ := newServiceWithRecord(t)
	view, err := svc.TagFace(context.Background(), "/processed/photo1.jpg", 0, "  mary ann smith ", "Pet")
	if err != nil {
		t.Fatal(err)
	}
	if got := view.Tags["0"]; got.Tag != "Mary Ann Smith" || got.Type != "pet" {
		t.Errorf("tag = %#v", got)
	}
}

func TestTagFaceErrors(t *testing.T) {
	svc, _ := newServiceWithRecord(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		path  string
		index int
		tag   string
		want  error
	}{
		{"empty tag", "/processed/photo1.jpg", 0, "   ", ErrEmptyTag},
		{"negative index", "/processed/photo1.jpg", -1, "Alice", ErrFaceIndexOutOfRange},
		{"index past faces", "/processed/photo1.jpg", 1, "Alice", ErrFaceIndexOutOfRange},
		{"unknown image", "/processed/other.jpg", 0, "Alice", ErrImageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.TagFace(ctx, tt.path, tt.index, tt.tag, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFaces(t *testing.T) {
	svc, _ := newServiceWithRecord(t)
	view, err := svc.Faces(context.Background(), "/processed/photo1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.FaceCoordinates) != 1 || view.FaceCoordinates[0].Left != 100 {
		t.Errorf("faces = %+v", view.FaceCoordinates)
	}
	if _, err := svc.Faces(context.Background(), "/processed/none.jpg"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("err = %v, want ErrImageNotFound", err)
	}
}

func TestTagFaceTimestampAndCasing(t *testing.T) {
	svc, _ := newServiceWithRecord(t)
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 20, 4, 5, 123456789, time.UTC) }

	tests := []struct {
		in   string
		want string
	}{
		{"alice", "Alice"},
		{"ALICE", "Alice"},
		{"o'neil", "O'neil"},
		{"jean-luc", "Jean-Luc"},
	}
	for _, tt := range tests {
		view, err := svc.TagFace(context.Background(), "/processed/photo1.jpg", 0, tt.in, "")
		if err != nil {
			t.Fatalf("TagFace(%q): %v", tt.in, err)
		}
		got := view.Tags["0"]
		if got.Tag != tt.want {
			t.Errorf("TagFace(%q) tag = %q, want %q", tt.in, got.Tag, tt.want)
		}
		if got.LastModified != "2024-03-09T20:04:05Z" {
			t.Errorf("last_modified = %q, want whole seconds in UTC", got.LastModified)
		}
	}
}
