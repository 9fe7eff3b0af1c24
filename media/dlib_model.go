package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/disintegration/imaging"
)

// Model files go-face loads from its models directory.
const (
	DlibShapePredictorFile = "shape_predictor_5_face_landmarks.dat"
	DlibRecognitionFile    = "dlib_face_recognition_resnet_model_v1.dat"
	DlibCNNDetectorFile    = "mmod_human_face_detector.dat"
)

// DlibModelFiles lists the files NewDlibFaceModel requires in its models directory.
// go-face loads the CNN detector even when only HOG detection is used.
func DlibModelFiles() []string {
	return []string{DlibShapePredictorFile, DlibRecognitionFile, DlibCNNDetectorFile}
}

func missingDlibModels(modelsDir string) []string {
	var missing []string
	for _, name := range DlibModelFiles() {
		if _, err := os.Stat(filepath.Join(modelsDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// DlibFaceModel detects faces with dlib (CNN or HOG). Landmarks come from the
// paired predictor when one is set, otherwise from the 5-point shape go-face
// computes alongside each detection. The recognizer is not safe for concurrent
// use, so calls are serialized.
type DlibFaceModel struct {
	rec       *face.Recognizer
	useCNN    bool
	landmarks LandmarkPredictor

	mu          sync.Mutex
	cachedImage *image.NRGBA
	cachedFaces []face.Face
}

// NewDlibFaceModel loads the dlib models listed by DlibModelFiles from modelsDir.
// landmarks may be nil; when set, Close closes it too.
func NewDlibFaceModel(modelsDir string, useCNN bool, landmarks LandmarkPredictor) (*DlibFaceModel, error) {
	if missing := missingDlibModels(modelsDir); len(missing) > 0 {
		return nil, fmt.Errorf("failed to load dlib models from %s: missing %v", modelsDir, missing)
	}
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	mode := "hog"
	if useCNN {
		mode = "cnn"
	}
	shape := "dlib 5-point"
	if landmarks != nil {
		shape = "paired predictor"
	}
	log.Printf("detection(dlib): loaded models from %s (detector=%s, landmarks=%s)", modelsDir, mode, shape)
	return &DlibFaceModel{rec: rec, useCNN: useCNN, landmarks: landmarks}, nil
}

func (m *DlibFaceModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil {
		m.rec.Close()
		m.rec = nil
		log.Println("detection(dlib): closed recognizer")
	}
	m.cachedImage, m.cachedFaces = nil, nil

	var err error
	if closer, ok := m.landmarks.(interface{ Close() error }); ok {
		err = closer.Close()
	}
	m.landmarks = nil
	return err
}

// DetectFaces runs the dlib detector. The shapes found alongside each box are kept
// so PredictLandmarks on the same raster does not repeat detection.
func (m *DlibFaceModel) DetectFaces(ctx context.Context, img image.Image) ([]BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	faces, err := m.recognizeLocked(img)
	if err != nil {
		return nil, err
	}
	boxes := make([]BoundingBox, 0, len(faces))
	for _, f := range faces {
		boxes = append(boxes, rectToBox(f.Rectangle))
	}
	return boxes, nil
}

// PredictLandmarks delegates to the paired predictor, or returns the 5-point
// shape of the face dlib found at box.
func (m *DlibFaceModel) PredictLandmarks(ctx context.Context, img image.Image, box BoundingBox) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.landmarks != nil {
		return m.landmarks.PredictLandmarks(ctx, img, box)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	faces := m.cachedFaces
	if nrgba, ok := img.(*image.NRGBA); !ok || nrgba != m.cachedImage {
		var err error
		if faces, err = m.recognizeLocked(img); err != nil {
			return nil, err
		}
	}

	for _, f := range faces {
		if rectToBox(f.Rectangle) != box {
			continue
		}
		points := make([]Point, len(f.Shapes))
		for i, p := range f.Shapes {
			points[i] = Point{X: p.X, Y: p.Y}
		}
		return points, nil
	}
	return nil, fmt.Errorf("detection(dlib): no face at box %+v", box)
}

func (m *DlibFaceModel) recognizeLocked(img image.Image) ([]face.Face, error) {
	if m.rec == nil {
		return nil, errors.New("detection(dlib): recognizer is closed")
	}

	// go-face only accepts encoded JPEG input
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		return nil, fmt.Errorf("failed to encode raster for dlib: %w", err)
	}

	var faces []face.Face
	var err error
	if m.useCNN {
		faces, err = m.rec.RecognizeCNN(buf.Bytes())
	} else {
		faces, err = m.rec.Recognize(buf.Bytes())
	}
	if err != nil {
		return nil, fmt.Errorf("dlib face detection failed: %w", err)
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		m.cachedImage = nrgba
		m.cachedFaces = faces
	} else {
		m.cachedImage, m.cachedFaces = nil, nil
	}
	return faces, nil
}

func rectToBox(r image.Rectangle) BoundingBox {
	return BoundingBox{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}
