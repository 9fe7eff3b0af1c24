//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/models"
)

// TestPostgresIntegration runs the repository and tag store against a real Postgres container.
// It requires Docker to be running.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("faceingest_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := database.InitGormDB(database.DriverPostgres, dsn, false)
	if err != nil {
		t.Fatalf("InitGormDB: %v", err)
	}
	defer database.CloseGormDB(db)
	if err := database.AutoMigrateModels(db); err != nil {
		t.Fatalf("AutoMigrateModels: %v", err)
	}

	repo := NewImageMetadataRepository(db)
	face := models.FaceBox{Left: 10, Top: 10, Right: 60, Bottom: 70, ID: "pg-face"}
	rec := sampleRecord("/inbox/pg.jpg", face)
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	tags := database.NewTagStore(sqlDB, database.DriverPostgres)
	if _, err := tags.SetFaceTag(ctx, "/processed/pg.jpg", 0, models.FaceTag{Tag: "Alice", Type: "person"}); err != nil {
		t.Fatalf("SetFaceTag: %v", err)
	}
	if _, err := tags.SetFaceTag(ctx, "/processed/pg.jpg", 3, models.FaceTag{Tag: "Nobody", Type: "person"}); !errors.Is(err, database.ErrFaceIndexOutOfRange) {
		t.Errorf("out of range tag err = %v", err)
	}

	again := sampleRecord("/inbox/pg.jpg", face)
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if again.ID != rec.ID {
		t.Errorf("id changed on re-upsert: %d -> %d", rec.ID, again.ID)
	}

	got, err := repo.GetByOriginalPath(ctx, "/inbox/pg.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tags["0"].Tag != "Alice" || got.Tags["0"].FaceID != "pg-face" {
		t.Errorf("tags not preserved across re-ingest: %#v", got.Tags)
	}
}
