package media

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type stubPredictor struct {
	points []Point
	closed bool
}

func (s *stubPredictor) PredictLandmarks(ctx context.Context, img image.Image, box BoundingBox) ([]Point, error) {
	return s.points, nil
}

func (s *stubPredictor) Close() error {
	s.closed = true
	return nil
}

func TestDlibModelFiles(t *testing.T) {
	want := []string{
		"shape_predictor_5_face_landmarks.dat",
		"dlib_face_recognition_resnet_model_v1.dat",
		"mmod_human_face_detector.dat",
	}
	if got := DlibModelFiles(); !reflect.DeepEqual(got, want) {
		t.Errorf("DlibModelFiles() = %v, want %v", got, want)
	}
}

func TestNewDlibFaceModelReportsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DlibRecognitionFile), nil, 0644); err != nil {
		t.Fatal(err)
	}
	// the 68-point predictor is not what go-face loads
	if err := os.WriteFile(filepath.Join(dir, "shape_predictor_68_face_landmarks.dat"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewDlibFaceModel(dir, true, nil)
	if err == nil {
		t.Fatal("expected an error for an incomplete models directory")
	}
	for _, name := range []string{DlibShapePredictorFile, DlibCNNDetectorFile} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name missing file %s", err, name)
		}
	}
	if strings.Contains(err.Error(), DlibRecognitionFile) {
		t.Errorf("error %q names a file that is present", err)
	}
}

func TestDlibFaceModelDelegatesLandmarks(t *testing.T) {
	pred := &stubPredictor{points: make([]Point, 68)}
	m := &DlibFaceModel{landmarks: pred}

	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	points, err := m.PredictLandmarks(context.Background(), img, BoundingBox{Left: 1, Top: 1, Right: 20, Bottom: 20})
	if err != nil {
		t.Fatalf("PredictLandmarks: %v", err)
	}
	if len(points) != 68 {
		t.Errorf("got %d points, want 68 from the paired predictor", len(points))
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !pred.closed {
		t.Error("Close did not close the paired predictor")
	}
}
