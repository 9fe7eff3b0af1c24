package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// NewRouter wires the read-and-tag API and the debug preview.
// A nil preview handler leaves /debug unregistered.
func NewRouter(images *ImageHandler, preview *ImagePreviewHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Get("/", images.ListImages)
			r.Get("/faces", images.ListFaces)
			r.Put("/tags", images.TagFace)
			r.Route("/{image_id}", func(r chi.Router) {
				r.Get("/", images.GetImage)
				r.Get("/processed", images.ServeProcessed)
			})
		})
	})

	if preview != nil {
		r.Route("/debug", func(r chi.Router) {
			// GET /debug/image_with_faces?id=42
			r.Get("/image_with_faces", preview.ServeImageWithFaces)
		})
	}

	return r
}
