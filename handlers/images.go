package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/camden-git/faceingest/media"
	"github.com/camden-git/faceingest/repository"
	"github.com/camden-git/faceingest/services"
)

const defaultListLimit = 100

type ImageHandler struct {
	Repo      repository.ImageMetadataRepositoryInterface
	Tagging   *services.TaggingService
	Processed *media.LocalStorage
}

type tagFaceRequest struct {
	ProcessedPath string `json:"processed_path" validate:"required"`
	FaceIndex     *int   `json:"face_index" validate:"required,min=0"`
	Tag           string `json:"tag" validate:"max=255"`
	Type          string `json:"type" validate:"omitempty,max=64"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validationDetail flattens validator errors into one message.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func parseImageID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "image_id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ListImages handles GET /api/images?limit=&offset=
func (h *ImageHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	limit, offset := defaultListLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteAPIError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteAPIError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	records, err := h.Repo.List(r.Context(), limit, offset)
	if err != nil {
		log.Printf("Error listing image metadata: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to list images")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetImage handles GET /api/images/{image_id}
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(r)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_image_id", "image id must be a positive integer")
		return
	}
	record, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "image_not_found", "no image with that id")
			return
		}
		log.Printf("Error fetching image %d: %v", id, err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to fetch image")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ServeProcessed handles GET /api/images/{image_id}/processed
func (h *ImageHandler) ServeProcessed(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(r)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_image_id", "image id must be a positive integer")
		return
	}
	record, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "image_not_found", "no image with that id")
			return
		}
		log.Printf("Error fetching image %d: %v", id, err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to fetch image")
		return
	}

	file, info, err := h.Processed.Open(record.ProcessedPath)
	if err != nil {
		log.Printf("Processed image for record %d unavailable: %v", id, err)
		WriteAPIError(w, http.StatusNotFound, "processed_image_missing", "processed image is not available")
		return
	}
	defer file.Close()

	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// ListFaces handles GET /api/images/faces?processed_path=
func (h *ImageHandler) ListFaces(w http.ResponseWriter, r *http.Request) {
	processedPath := r.URL.Query().Get("processed_path")
	if processedPath == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_processed_path", "processed_path query parameter is required")
		return
	}
	view, err := h.Tagging.Faces(r.Context(), processedPath)
	if err != nil {
		if errors.Is(err, services.ErrImageNotFound) {
			WriteAPIError(w, http.StatusNotFound, "image_not_found", err.Error())
			return
		}
		log.Printf("Error loading faces for %s: %v", processedPath, err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to load faces")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// TagFace handles PUT /api/images/tags
func (h *ImageHandler) TagFace(w http.ResponseWriter, r *http.Request) {
	var req tagFaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_request_body", "request body must be valid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_fields", validationDetail(err))
		return
	}

	view, err := h.Tagging.TagFace(r.Context(), req.ProcessedPath, *req.FaceIndex, req.Tag, req.Type)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyTag):
			WriteAPIError(w, http.StatusBadRequest, "empty_tag", err.Error())
		case errors.Is(err, services.ErrFaceIndexOutOfRange):
			WriteAPIError(w, http.StatusUnprocessableEntity, "face_index_out_of_range", err.Error())
		case errors.Is(err, services.ErrImageNotFound):
			WriteAPIError(w, http.StatusNotFound, "image_not_found", err.Error())
		default:
			log.Printf("Error tagging face %d of %s: %v", *req.FaceIndex, req.ProcessedPath, err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to tag face")
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}
