package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/camden-git/faceingest/config"
	"github.com/camden-git/faceingest/media"
	"github.com/camden-git/faceingest/repository"
	"github.com/camden-git/faceingest/workers"
)

type ingestOptions struct {
	Inbox        string
	Processed    string
	Library      string
	MaxDimension int
	Workers      int
	NoProgress   bool
}

var ingestOpts ingestOptions

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Process every photo in the inbox",
	Long: `Decode each photo in the inbox, normalize it, detect faces and landmarks,
record its metadata, then write the normalized JPEG and move the original into the library.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyIngestFlags(cmd, &cfg)
		if err := cfg.ValidateIngest(); err != nil {
			return err
		}
		return runIngest(cmd, cfg)
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestOpts.Inbox, "inbox", "", "directory of unprocessed photos (overrides UNPROCESSED_PATH)")
	f.StringVar(&ingestOpts.Processed, "processed", "", "directory for normalized JPEGs (overrides PROCESSED_PATH)")
	f.StringVar(&ingestOpts.Library, "library", "", "directory originals are moved to (overrides LIBRARY_PHOTOS_PATH)")
	f.IntVar(&ingestOpts.MaxDimension, "max-dimension", 0, "longest side of the normalized image (overrides MAX_DIMENSION)")
	f.IntVarP(&ingestOpts.Workers, "workers", "w", 0, "number of files processed in parallel (overrides NUM_INGEST_WORKERS)")
	f.BoolVar(&ingestOpts.NoProgress, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(ingestCmd)
}

func applyIngestFlags(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("inbox") {
		c.InboxPath = absPath(ingestOpts.Inbox)
	}
	if cmd.Flags().Changed("processed") {
		c.ProcessedPath = absPath(ingestOpts.Processed)
	}
	if cmd.Flags().Changed("library") {
		c.LibraryPath = absPath(ingestOpts.Library)
	}
	if cmd.Flags().Changed("max-dimension") {
		c.MaxDimension = ingestOpts.MaxDimension
	}
	if cmd.Flags().Changed("workers") {
		c.NumIngestWorkers = ingestOpts.Workers
	}
}

// absPath resolves a flag path the same way config resolves env paths.
func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// newFaceModel loads the configured face detection and landmark backend.
func newFaceModel(c config.Config) (media.FaceModel, error) {
	switch c.DetectorBackend {
	case config.BackendDNN:
		return media.NewDNNFaceModel(c.FaceDNNNetConfigPath, c.FaceDNNNetModelPath, c.LandmarkDNNModelPath)
	case config.BackendDlib:
		// go-face only ships a 5-point shape; 68-point landmarks come from the ONNX regressor
		var landmarks media.LandmarkPredictor
		if c.DlibUseDNNLandmarks {
			predictor, err := media.NewDNNLandmarkPredictor(c.LandmarkDNNModelPath)
			if err != nil {
				return nil, err
			}
			landmarks = predictor
		}
		model, err := media.NewDlibFaceModel(c.DlibModelsDir, c.DlibUseCNN, landmarks)
		if err != nil {
			if closer, ok := landmarks.(interface{ Close() error }); ok {
				closer.Close()
			}
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported detector backend %q", c.DetectorBackend)
	}
}

func runIngest(cmd *cobra.Command, c config.Config) error {
	ctx := cmd.Context()

	for _, dir := range []string{c.ProcessedPath, c.LibraryPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	names, err := media.ListImages(c.InboxPath)
	if err != nil {
		return fmt.Errorf("failed to list inbox: %w", err)
	}
	if len(names) == 0 {
		log.Printf("ingest: no images in %s", c.InboxPath)
		return nil
	}

	db, err := openStore(true)
	if err != nil {
		return err
	}
	defer closeStore(db)

	model, err := newFaceModel(c)
	if err != nil {
		return fmt.Errorf("failed to load face model: %w", err)
	}
	defer model.Close()

	ingestor := workers.NewIngestor(c, repository.NewImageMetadataRepository(db), model)
	if !ingestOpts.NoProgress {
		bar := progressbar.NewOptions(len(names),
			progressbar.OptionSetDescription("Ingesting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		ingestor.OnFileDone = func(name string, outcome workers.Outcome) {
			_ = bar.Add(1)
		}
		defer bar.Finish()
	}

	summary, err := ingestor.Run(ctx, c.InboxPath)
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d discovered, %d committed, %d skipped, %d relocation failure(s), %d not started, %d face(s) in %s\n",
		summary.RunID, summary.Discovered, summary.Committed, summary.Skipped,
		summary.RelocationFailures, summary.NotStarted, summary.FacesDetected, summary.Duration)
	if err != nil {
		if errors.Is(err, workers.ErrStoreFailure) || errors.Is(err, workers.ErrContractViolation) {
			return fmt.Errorf("batch aborted at %s: %w", summary.AbortedAt, err)
		}
		return err
	}
	return nil
}
