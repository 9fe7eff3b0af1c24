package handlers

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"net/http"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/camden-git/faceingest/media"
	"github.com/camden-git/faceingest/repository"
)

type ImagePreviewHandler struct {
	Repo      repository.ImageMetadataRepositoryInterface
	Processed *media.LocalStorage
}

// ServeImageWithFaces handles GET /debug/image_with_faces?id=N. It draws the stored
// boxes, landmarks and tags onto the processed image.
func (iph *ImagePreviewHandler) ServeImageWithFaces(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "Missing or invalid 'id' query parameter", http.StatusBadRequest)
		return
	}

	record, err := iph.Repo.GetByID(r.Context(), uint(id))
	if errors.Is(err, repository.ErrRecordNotFound) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		log.Printf("Error fetching image %d: %v", id, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	file, _, err := iph.Processed.Open(record.ProcessedPath)
	if err != nil {
		log.Printf("Processed image for record %d unavailable: %v", id, err)
		http.NotFound(w, r)
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		log.Printf("Error reading processed image %s: %v", record.ProcessedPath, err)
		http.Error(w, "Failed to read image", http.StatusInternalServerError)
		return
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || img.Empty() {
		log.Printf("Failed to decode image file with gocv: %s", record.ProcessedPath)
		http.Error(w, "Failed to read image", http.StatusInternalServerError)
		return
	}
	defer img.Close()

	blue := color.RGBA{0, 0, 255, 0}
	green := color.RGBA{0, 255, 0, 0}
	thickness := 2

	for i, face := range record.FaceCoordinates {
		rect := image.Rect(max(0, face.Left), max(0, face.Top), face.Right, face.Bottom)
		gocv.Rectangle(&img, rect, blue, thickness)

		label := "Untagged"
		if tag, ok := record.Tags[strconv.Itoa(i)]; ok {
			label = tag.Tag
		}
		gocv.PutText(&img, fmt.Sprintf("%d: %s", i, label), image.Pt(rect.Min.X, rect.Min.Y-5), gocv.FontHersheySimplex, 0.5, blue, 1)

		if i < len(record.Landmarks) {
			for _, p := range record.Landmarks[i] {
				gocv.Circle(&img, image.Pt(p.X, p.Y), 2, green, -1)
			}
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		log.Printf("Error encoding image %d after drawing: %v", id, err)
		http.Error(w, "Failed to encode image", http.StatusInternalServerError)
		return
	}
	defer buf.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if _, err := w.Write(buf.GetBytes()); err != nil {
		log.Printf("Error writing image response for %d: %v", id, err)
	}
}
