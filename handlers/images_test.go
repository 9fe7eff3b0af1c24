package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/media"
	"github.com/camden-git/faceingest/models"
	"github.com/camden-git/faceingest/repository"
	"github.com/camden-git/faceingest/services"
)

type testAPI struct {
	server *httptest.Server
	record *models.ImageMetadata
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	db, err := database.InitGormDB(database.DriverSQLite, filepath.Join(dir, "api.db"), false)
	if err != nil {
		t.Fatalf("InitGormDB: %v", err)
	}
	t.Cleanup(func() { database.CloseGormDB(db) })
	if err := database.AutoMigrateModels(db); err != nil {
		t.Fatal(err)
	}

	processed, err := media.NewLocalStorage(filepath.Join(dir, "processed"))
	if err != nil {
		t.Fatal(err)
	}
	processedFile := filepath.Join(processed.BasePath(), "photo1.jpg")
	if err := os.WriteFile(processedFile, []byte("processed jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	repo := repository.NewImageMetadataRepository(db)
	rec := &models.ImageMetadata{
		OriginalPath:    filepath.Join(dir, "inbox", "photo1.jpg"),
		ProcessedPath:   processedFile,
		FaceCoordinates: []models.FaceBox{{Left: 100, Top: 80, Right: 220, Bottom: 240, ID: "face-0"}},
		Landmarks:       [][]models.LandmarkPoint{{{X: 130, Y: 140}}},
		AspectRatio:     1.5,
		ProcessedScale:  2.5,
	}
	if err := repo.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	images := &ImageHandler{
		Repo:      repo,
		Tagging:   services.NewTaggingService(database.NewTagStore(sqlDB, database.DriverSQLite)),
		Processed: processed,
	}
	srv := httptest.NewServer(NewRouter(images, nil, []string{"*"}))
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, record: rec}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body APIErrorResponse
	decodeBody(t, resp, &body)
	if len(body.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", body)
	}
	return body.Errors[0].Code
}

func TestListAndGetImages(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/api/images", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []models.ImageMetadata
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].OriginalPath != api.record.OriginalPath {
		t.Fatalf("list = %+v", list)
	}

	resp = api.do(t, http.MethodGet, "/api/images/"+strconv.FormatUint(uint64(api.record.ID), 10), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got models.ImageMetadata
	decodeBody(t, resp, &got)
	if got.ProcessedScale != 2.5 || len(got.FaceCoordinates) != 1 {
		t.Errorf("record = %+v", got)
	}

	if resp := api.do(t, http.MethodGet, "/api/images/9999", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing image status = %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/api/images/abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/api/images?limit=0", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}

func TestServeProcessed(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/api/images/"+strconv.FormatUint(uint64(api.record.ID), 10)+"/processed", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "processed jpeg" {
		t.Errorf("body = %q", data)
	}
}

func TestTagFaceEndpoint(t *testing.T) {
	api := newTestAPI(t)
	body := `{"processed_path":"` + api.record.ProcessedPath + `","face_index":0,"tag":"alice"}`

	resp := api.do(t, http.MethodPut, "/api/images/tags", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var view database.FaceTags
	decodeBody(t, resp, &view)
	tag := view.Tags["0"]
	if tag.Tag != "Alice" || tag.Type != services.DefaultTagType || tag.FaceID != "face-0" || tag.LastModified == "" {
		t.Errorf("tag = %+v", tag)
	}

	resp = api.do(t, http.MethodGet, "/api/images/faces?processed_path="+url.QueryEscape(api.record.ProcessedPath), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("faces status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &view)
	if view.Tags["0"].Tag != "Alice" {
		t.Errorf("faces view = %+v", view)
	}
}

func TestTagFaceEndpointErrors(t *testing.T) {
	api := newTestAPI(t)
	path := api.record.ProcessedPath

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{`, http.StatusBadRequest, "invalid_request_body"},
		{"missing index", `{"processed_path":"` + path + `","tag":"Alice"}`, http.StatusBadRequest, "invalid_fields"},
		{"negative index", `{"processed_path":"` + path + `","face_index":-1,"tag":"Alice"}`, http.StatusBadRequest, "invalid_fields"},
		{"missing path", `{"face_index":0,"tag":"Alice"}`, http.StatusBadRequest, "invalid_fields"},
		{"empty tag", `{"processed_path":"` + path + `","face_index":0,"tag":" "}`, http.StatusBadRequest, "empty_tag"},
		{"index out of range", `{"processed_path":"` + path + `","face_index":3,"tag":"Alice"}`, http.StatusUnprocessableEntity, "face_index_out_of_range"},
		{"unknown image", `{"processed_path":"/nowhere.jpg","face_index":0,"tag":"Alice"}`, http.StatusNotFound, "image_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodPut, "/api/images/tags", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if code := errorCode(t, resp); code != tt.code {
				t.Errorf("code = %s, want %s", code, tt.code)
			}
		})
	}

	if resp := api.do(t, http.MethodGet, "/api/images/faces", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("faces without path status = %d", resp.StatusCode)
	}
}
