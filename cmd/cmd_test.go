package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/camden-git/faceingest/config"
	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/models"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_PATH", dbPath)
	t.Setenv("POSTGRES_HOST", "")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LOG_FILE", "")

	if _, err := runCLI(t, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	db, err := database.InitGormDB(database.DriverSQLite, dbPath, false)
	if err != nil {
		t.Fatal(err)
	}
	defer database.CloseGormDB(db)
	rec := &models.ImageMetadata{
		OriginalPath:    "/inbox/photo1.jpg",
		ProcessedPath:   "/processed/photo1.jpg",
		FaceCoordinates: []models.FaceBox{{Left: 1, Top: 2, Right: 30, Bottom: 40, ID: "face-0"}},
		Landmarks:       [][]models.LandmarkPoint{{{X: 5, Y: 6}}},
		ExifData:        map[string]string{"Make": "Canon"},
		Tags:            map[string]models.FaceTag{},
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatal(err)
	}
	return dbPath
}

func TestTagAndShowCommands(t *testing.T) {
	seedStore(t)

	out, err := runCLI(t, "tag", "--processed-path", "/processed/photo1.jpg", "--face", "0", "--tag", "alice", "--type", "person")
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if !strings.Contains(out, `"Alice"`) {
		t.Errorf("tag output = %q", out)
	}

	out, err = runCLI(t, "show", "--processed-path", "/processed/photo1.jpg", "--original-path", "")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var rec models.ImageMetadata
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("show output is not a record: %v\n%s", err, out)
	}
	if rec.Tags["0"].Tag != "Alice" || rec.ExifData["Make"] != "Canon" {
		t.Errorf("record = %+v", rec)
	}
}

func TestTagCommandRejectsMissingFace(t *testing.T) {
	seedStore(t)
	_, err := runCLI(t, "tag", "--processed-path", "/processed/photo1.jpg", "--face", "4", "--tag", "alice")
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("err = %v, want out of range", err)
	}
}

func TestShowCommandNotFound(t *testing.T) {
	seedStore(t)
	_, err := runCLI(t, "show", "--processed-path", "", "--original-path", "/inbox/missing.jpg")
	if err == nil || !strings.Contains(err.Error(), "no metadata found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestApplyIngestFlags(t *testing.T) {
	c := config.Config{InboxPath: "/env/inbox", ProcessedPath: "/env/processed", LibraryPath: "/env/library", MaxDimension: 3000, NumIngestWorkers: 1}
	if err := ingestCmd.Flags().Parse([]string{"--inbox", "/flag/inbox", "--workers", "4"}); err != nil {
		t.Fatal(err)
	}
	applyIngestFlags(ingestCmd, &c)
	if c.InboxPath != "/flag/inbox" || c.NumIngestWorkers != 4 {
		t.Errorf("flags not applied: %+v", c)
	}
	if c.ProcessedPath != "/env/processed" || c.MaxDimension != 3000 {
		t.Errorf("unset flags overrode config: %+v", c)
	}

	if err := ingestCmd.Flags().Parse([]string{"--library", "library"}); err != nil {
		t.Fatal(err)
	}
	applyIngestFlags(ingestCmd, &c)
	want, _ := filepath.Abs("library")
	if c.LibraryPath != want {
		t.Errorf("relative --library = %q, want %q", c.LibraryPath, want)
	}
}

func TestNewFaceModelRejectsUnknownBackend(t *testing.T) {
	if _, err := newFaceModel(config.Config{DetectorBackend: "cloud"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
