package workers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camden-git/faceingest/config"
	"github.com/camden-git/faceingest/media"
	"github.com/camden-git/faceingest/models"
	"github.com/camden-git/faceingest/repository"
	"github.com/camden-git/faceingest/utils"
)

var (
	// ErrStoreFailure aborts a batch: the metadata store rejected an upsert.
	ErrStoreFailure = errors.New("metadata store failure")
	// ErrContractViolation aborts a batch: a face capability returned malformed results.
	ErrContractViolation = errors.New("face capability contract violation")
)

// Outcome is the result of ingesting one file.
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeRelocationFailed Outcome = "relocation_failed" // record committed, files not moved
	OutcomeFatal            Outcome = "fatal"
	OutcomeNotStarted       Outcome = "not_started"
)

// ProcessingSummary reports what a Run did.
type ProcessingSummary struct {
	RunID              string        `json:"run_id"`
	Discovered         int           `json:"discovered"`
	Committed          int           `json:"committed"`
	Skipped            int           `json:"skipped"`
	RelocationFailures int           `json:"relocation_failures"`
	NotStarted         int           `json:"not_started"`
	FacesDetected      int           `json:"faces_detected"`
	Aborted            bool          `json:"aborted"`
	AbortedAt          string        `json:"aborted_at,omitempty"`
	Duration           time.Duration `json:"duration"`
}

type IngestJob struct {
	Name  string // file name inside the inbox
	Index int
}

type fileResult struct {
	job     IngestJob
	outcome Outcome
	faces   int
	err     error
}

// Options tunes an Ingestor.
type Options struct {
	ProcessedDir string
	LibraryDir   string
	MaxDimension int
	NumWorkers   int
	StoreTimeout time.Duration
	FileTimeout  time.Duration
}

// Ingestor turns inbox photos into metadata records, normalized JPEGs and
// library originals. A file's outputs are written only after its record commits.
type Ingestor struct {
	Codec     media.Codec
	Detector  media.FaceDetector
	Predictor media.LandmarkPredictor
	Repo      repository.ImageMetadataRepositoryInterface
	Exif      func(path string) (map[string]string, error)
	Relocate  func(src, dst string) error
	Options   Options

	// OnFileDone is called after each file, from the goroutine collecting results.
	OnFileDone func(name string, outcome Outcome)
}

// NewIngestor wires the default codec, EXIF reader and relocator.
func NewIngestor(cfg config.Config, repo repository.ImageMetadataRepositoryInterface, model media.FaceModel) *Ingestor {
	return &Ingestor{
		Codec:     media.NewImagingCodec(cfg.JPEGQuality),
		Detector:  model,
		Predictor: model,
		Repo:      repo,
		Exif:      utils.ExtractExif,
		Relocate:  utils.MoveFile,
		Options: Options{
			ProcessedDir: cfg.ProcessedPath,
			LibraryDir:   cfg.LibraryPath,
			MaxDimension: cfg.MaxDimension,
			NumWorkers:   cfg.NumIngestWorkers,
			StoreTimeout: cfg.StoreTimeout,
			FileTimeout:  cfg.FileTimeout,
		},
	}
}

func (ing *Ingestor) withDefaults() Options {
	opts := ing.Options
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 3000
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	if opts.FileTimeout <= 0 {
		opts.FileTimeout = 5 * time.Minute
	}
	return opts
}

// Run ingests every image in inboxDir. Files that cannot be decoded or analyzed are
// skipped. A store failure or capability contract violation stops dispatch of further
// files and is returned wrapping ErrStoreFailure or ErrContractViolation; files
// already committed keep their records and relocated outputs. Cancelling ctx also
// stops dispatch, letting in-flight files finish.
func (ing *Ingestor) Run(ctx context.Context, inboxDir string) (ProcessingSummary, error) {
	start := time.Now()
	opts := ing.withDefaults()
	summary := ProcessingSummary{RunID: uuid.NewString()}
	runTag := summary.RunID[:8]

	if ing.Codec == nil || ing.Detector == nil || ing.Predictor == nil || ing.Repo == nil || ing.Exif == nil || ing.Relocate == nil {
		return summary, errors.New("ingestor is missing a dependency")
	}
	if opts.ProcessedDir == "" || opts.LibraryDir == "" {
		return summary, errors.New("processed and library directories are required")
	}
	// original_path is the conflict key, so every stored path is absolute
	var err error
	if inboxDir, err = filepath.Abs(inboxDir); err != nil {
		return summary, fmt.Errorf("failed to resolve inbox directory: %w", err)
	}
	if opts.ProcessedDir, err = filepath.Abs(opts.ProcessedDir); err != nil {
		return summary, fmt.Errorf("failed to resolve processed directory: %w", err)
	}
	if opts.LibraryDir, err = filepath.Abs(opts.LibraryDir); err != nil {
		return summary, fmt.Errorf("failed to resolve library directory: %w", err)
	}

	names, err := media.ListImages(inboxDir)
	if err != nil {
		return summary, fmt.Errorf("failed to list inbox: %w", err)
	}
	summary.Discovered = len(names)
	log.Printf("ingest[%s]: found %d image(s) in %s, using %d worker(s)", runTag, len(names), inboxDir, opts.NumWorkers)

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	jobs := make(chan IngestJob)
	results := make(chan fileResult)
	var wg sync.WaitGroup

	wg.Add(opts.NumWorkers)
	for i := 0; i < opts.NumWorkers; i++ {
		go ing.worker(ctx, dispatchCtx, stopDispatch, i, inboxDir, opts, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, name := range names {
			select {
			case jobs <- IngestJob{Name: name, Index: i}:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	seen := 0
	for res := range results {
		seen++
		summary.FacesDetected += res.faces
		switch res.outcome {
		case OutcomeCommitted:
			summary.Committed++
		case OutcomeRelocationFailed:
			summary.Committed++
			summary.RelocationFailures++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeNotStarted:
			summary.NotStarted++
		case OutcomeFatal:
			if fatal == nil {
				fatal = res.err
				summary.Aborted = true
				summary.AbortedAt = res.job.Name
			} else {
				log.Printf("ingest[%s]: ERROR additional fatal failure on %s: %v", runTag, res.job.Name, res.err)
			}
		}
		if ing.OnFileDone != nil {
			ing.OnFileDone(res.job.Name, res.outcome)
		}
	}
	// files never handed to a worker
	summary.NotStarted += len(names) - seen
	summary.Duration = time.Since(start)

	log.Printf("ingest[%s]: done in %s: %d committed, %d skipped, %d relocation failure(s), %d not started, %d face(s)",
		runTag, summary.Duration.Round(time.Millisecond), summary.Committed, summary.Skipped,
		summary.RelocationFailures, summary.NotStarted, summary.FacesDetected)

	if fatal != nil {
		log.Printf("ingest[%s]: ERROR batch aborted at %s: %v", runTag, summary.AbortedAt, fatal)
		return summary, fatal
	}
	if err := ctx.Err(); err != nil && summary.NotStarted > 0 {
		summary.Aborted = true
		return summary, fmt.Errorf("ingestion interrupted: %w", err)
	}
	return summary, nil
}

// worker processes jobs until the queue closes or dispatch stops. A fatal result
// stops dispatch before it is reported, so no later file starts.
func (ing *Ingestor) worker(ctx, dispatchCtx context.Context, stopDispatch context.CancelFunc, id int, inboxDir string, opts Options, jobs <-chan IngestJob, results chan<- fileResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			var res fileResult
			if dispatchCtx.Err() != nil {
				res = fileResult{job: job, outcome: OutcomeNotStarted}
			} else {
				res = ing.processFile(ctx, id, inboxDir, opts, job)
			}
			if res.outcome == OutcomeFatal {
				stopDispatch()
			}
			results <- res
		case <-dispatchCtx.Done():
			return
		}
	}
}

// processFile runs the per-file workflow. Work that has started is not interrupted by
// cancellation of ctx; FileTimeout bounds it instead.
func (ing *Ingestor) processFile(ctx context.Context, workerID int, inboxDir string, opts Options, job IngestJob) fileResult {
	fileCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.FileTimeout)
	defer cancel()

	originalPath := filepath.Join(inboxDir, job.Name)
	processedPath := filepath.Join(opts.ProcessedDir, job.Name)
	libraryPath := filepath.Join(opts.LibraryDir, job.Name)
	res := fileResult{job: job}

	log.Printf("ingest: worker %d processing file: %s", workerID, job.Name)

	img, err := ing.Codec.Decode(originalPath)
	if err != nil {
		log.Printf("ingest: ERROR skipping %s, could not decode: %v", job.Name, err)
		res.outcome = OutcomeSkipped
		return res
	}

	normalized, aspectRatio, scale, err := media.Normalize(img, opts.MaxDimension)
	if err != nil {
		log.Printf("ingest: ERROR skipping %s, could not normalize: %v", job.Name, err)
		res.outcome = OutcomeSkipped
		return res
	}

	boxes, err := ing.Detector.DetectFaces(fileCtx, normalized)
	if err != nil {
		log.Printf("ingest: ERROR skipping %s, face detection failed: %v", job.Name, err)
		res.outcome = OutcomeSkipped
		return res
	}
	for _, box := range boxes {
		if !box.Valid() {
			res.outcome = OutcomeFatal
			res.err = fmt.Errorf("%w: detector returned degenerate box %+v for %s", ErrContractViolation, box, originalPath)
			return res
		}
	}

	landmarks, err := ing.landmarks(fileCtx, normalized, boxes)
	if err != nil {
		log.Printf("ingest: ERROR skipping %s, landmark extraction failed: %v", job.Name, err)
		res.outcome = OutcomeSkipped
		return res
	}

	exifData, err := ing.Exif(originalPath)
	if err != nil {
		log.Printf("ingest: ERROR skipping %s, could not read EXIF: %v", job.Name, err)
		res.outcome = OutcomeSkipped
		return res
	}

	record := &models.ImageMetadata{
		OriginalPath:    originalPath,
		ProcessedPath:   processedPath,
		FaceCoordinates: faceBoxes(originalPath, boxes),
		AspectRatio:     aspectRatio,
		ProcessedScale:  scale,
		Landmarks:       landmarks,
		ExifData:        utils.RedactExif(exifData),
		Tags:            map[string]models.FaceTag{},
	}

	storeCtx, cancelStore := context.WithTimeout(fileCtx, opts.StoreTimeout)
	err = ing.Repo.Upsert(storeCtx, record)
	cancelStore()
	if err != nil {
		res.outcome = OutcomeFatal
		res.err = fmt.Errorf("%w: %s: %w", ErrStoreFailure, originalPath, err)
		return res
	}
	res.faces = len(boxes)
	log.Printf("ingest: committed %s (record %d, %d face(s))", job.Name, record.ID, len(boxes))

	if err := ing.Codec.Encode(normalized, processedPath); err != nil {
		log.Printf("ingest: ERROR %s committed but processed image not written, original left in inbox: %v", job.Name, err)
		res.outcome = OutcomeRelocationFailed
		return res
	}
	if err := ing.Relocate(originalPath, libraryPath); err != nil {
		log.Printf("ingest: ERROR %s committed but original not moved to library: %v", job.Name, err)
		res.outcome = OutcomeRelocationFailed
		return res
	}

	res.outcome = OutcomeCommitted
	return res
}

// landmarks runs the predictor once per box, in box order.
func (ing *Ingestor) landmarks(ctx context.Context, img image.Image, boxes []media.BoundingBox) ([][]models.LandmarkPoint, error) {
	out := make([][]models.LandmarkPoint, 0, len(boxes))
	for _, box := range boxes {
		points, err := ing.Predictor.PredictLandmarks(ctx, img, box)
		if err != nil {
			return nil, err
		}
		shape := make([]models.LandmarkPoint, len(points))
		for i, p := range points {
			shape[i] = models.LandmarkPoint{X: p.X, Y: p.Y}
		}
		out = append(out, shape)
	}
	return out, nil
}

func faceBoxes(originalPath string, boxes []media.BoundingBox) []models.FaceBox {
	out := make([]models.FaceBox, len(boxes))
	for i, b := range boxes {
		out[i] = models.FaceBox{
			Left:   b.Left,
			Top:    b.Top,
			Right:  b.Right,
			Bottom: b.Bottom,
			ID:     media.FaceID(originalPath, b),
		}
	}
	return out
}
