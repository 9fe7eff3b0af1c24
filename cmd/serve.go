package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/handlers"
	"github.com/camden-git/faceingest/media"
	"github.com/camden-git/faceingest/repository"
	"github.com/camden-git/faceingest/services"
)

var (
	servePort  string
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the image metadata and tagging API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug-routes", false, "register /debug/image_with_faces")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if cfg.ProcessedPath == "" {
		return errors.New("processed directory is not set (PROCESSED_PATH)")
	}

	db, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(db)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	processed, err := media.NewLocalStorage(cfg.ProcessedPath)
	if err != nil {
		return err
	}

	repo := repository.NewImageMetadataRepository(db)
	images := &handlers.ImageHandler{
		Repo:      repo,
		Tagging:   services.NewTaggingService(database.NewTagStore(sqlDB, cfg.DatabaseDriver)),
		Processed: processed,
	}
	var preview *handlers.ImagePreviewHandler
	if serveDebug || cfg.Debug {
		preview = &handlers.ImagePreviewHandler{Repo: repo, Processed: processed}
	}

	serverAddr := ":" + cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handlers.NewRouter(images, preview, cfg.CORSAllowedOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", serverAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Printf("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}
