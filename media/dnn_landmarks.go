package media

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// DNNLandmarkPredictor regresses landmark points from a face crop with an ONNX model.
// The model takes a square RGB crop scaled to [0,1] and emits 2*N values, the x/y
// of each point normalized to the crop.
type DNNLandmarkPredictor struct {
	mu        sync.Mutex
	Net       gocv.Net
	InputSize int
}

func NewDNNLandmarkPredictor(modelPath string) (*DNNLandmarkPredictor, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("landmarks(dnn): model path is required")
	}
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("landmarks(dnn): failed to load landmark model %s", modelPath)
	}
	log.Printf("landmarks(dnn): successfully loaded landmark model")
	preferCUDA(&net, "landmarks(dnn)")
	return &DNNLandmarkPredictor{Net: net, InputSize: 112}, nil
}

func (p *DNNLandmarkPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Net.Close(); err != nil {
		return fmt.Errorf("failed to close landmark network: %w", err)
	}
	log.Println("landmarks(dnn): closed network")
	return nil
}

func (p *DNNLandmarkPredictor) PredictLandmarks(ctx context.Context, img image.Image, box BoundingBox) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	crop := box.Rect().Intersect(img.Bounds())
	if crop.Empty() {
		return nil, fmt.Errorf("landmarks(dnn): box %+v lies outside the raster", box)
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert raster for landmarks: %w", err)
	}
	defer mat.Close()

	// Mat coordinates start at 0 regardless of the raster's bounds origin
	origin := img.Bounds().Min
	region := mat.Region(crop.Sub(origin))
	defer region.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	blob := gocv.BlobFromImage(region, 1.0/255.0, image.Pt(p.InputSize, p.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	p.Net.SetInput(blob, "")
	out := p.Net.Forward("")
	defer out.Close()

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read landmark output: %w", err)
	}
	if len(values) == 0 || len(values)%2 != 0 {
		return nil, fmt.Errorf("landmarks(dnn): unexpected output length %d", len(values))
	}

	cropW, cropH := float32(crop.Dx()), float32(crop.Dy())
	points := make([]Point, len(values)/2)
	for i := range points {
		points[i] = Point{
			X: crop.Min.X + int(values[2*i]*cropW),
			Y: crop.Min.Y + int(values[2*i+1]*cropH),
		}
	}
	return points, nil
}

// DNNFaceModel pairs the SSD detector with the landmark regressor.
type DNNFaceModel struct {
	*DNNFaceDetector
	*DNNLandmarkPredictor
}

func NewDNNFaceModel(detectorConfig, detectorModel, landmarkModel string) (*DNNFaceModel, error) {
	detector, err := NewDNNFaceDetector(detectorConfig, detectorModel)
	if err != nil {
		return nil, err
	}
	predictor, err := NewDNNLandmarkPredictor(landmarkModel)
	if err != nil {
		detector.Close()
		return nil, err
	}
	return &DNNFaceModel{DNNFaceDetector: detector, DNNLandmarkPredictor: predictor}, nil
}

func (m *DNNFaceModel) Close() error {
	detErr := m.DNNFaceDetector.Close()
	predErr := m.DNNLandmarkPredictor.Close()
	if detErr != nil {
		return detErr
	}
	return predErr
}
