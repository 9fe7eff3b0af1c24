package media

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// DNNFaceDetector runs an OpenCV SSD face detector (res10 caffe model by default).
type DNNFaceDetector struct {
	mu  sync.Mutex
	Net gocv.Net

	// configuration parameters used during detection
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	MeanVal       gocv.Scalar
	ConfThreshold float32
}

// preferCUDA asks for CUDA and falls back to the default CPU backend.
func preferCUDA(net *gocv.Net, component string) {
	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Printf("%s: Set backend/target to CUDA", component)
		return
	}
	if cudaBackendErr != nil {
		log.Printf("%s: CUDA Backend not available or failed: %v. Using default backend.", component, cudaBackendErr)
	}
	if cudaTargetErr != nil {
		log.Printf("%s: CUDA Target not available or failed: %v. Using default target.", component, cudaTargetErr)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	log.Printf("%s: Set backend/target to CPU (Default)", component)
}

// NewDNNFaceDetector loads the DNN model
func NewDNNFaceDetector(configPath, modelPath string) (*DNNFaceDetector, error) {
	if configPath == "" || modelPath == "" {
		return nil, fmt.Errorf("detection(dnn): config and model paths are required")
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("detection(dnn): failed to load network model: config=%s, model=%s", configPath, modelPath)
	}
	log.Printf("detection(dnn): successfully loaded face detection model")
	preferCUDA(&net, "detection(dnn)")

	return &DNNFaceDetector{
		Net:           net,
		InputSizeW:    300,
		InputSizeH:    300,
		ScaleFactor:   1.0,
		MeanVal:       gocv.NewScalar(104.0, 177.0, 123.0, 0),
		ConfThreshold: 0.5,
	}, nil
}

func (d *DNNFaceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Net.Close(); err != nil {
		return fmt.Errorf("failed to close face detection network: %w", err)
	}
	log.Println("detection(dnn): closed network")
	return nil
}

// DetectFaces returns boxes in the network's output order, clipped to the raster.
func (d *DNNFaceDetector) DetectFaces(ctx context.Context, img image.Image) ([]BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert raster for dnn: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, ErrNoRaster
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	imgHeight := float32(mat.Rows())
	imgWidth := float32(mat.Cols())

	blob := gocv.BlobFromImage(mat, d.ScaleFactor, image.Pt(d.InputSizeW, d.InputSizeH), d.MeanVal, false, false)
	defer blob.Close()

	d.Net.SetInput(blob, "")
	detectionsMat := d.Net.Forward("")
	defer detectionsMat.Close()

	boxes := []BoundingBox{}

	sizes := detectionsMat.Size()
	if len(sizes) != 4 {
		return nil, fmt.Errorf("detection(dnn): unexpected output matrix dimensions %v", sizes)
	}
	numDetections := sizes[2]
	if numDetections == 0 {
		return boxes, nil
	}

	// reshape to [N, 7] for GetFloatAt(row, col)
	detectionsData := detectionsMat.Reshape(1, numDetections)
	defer detectionsData.Close()

	for i := 0; i < numDetections; i++ {
		confidence := detectionsData.GetFloatAt(i, 2)
		if confidence <= d.ConfThreshold {
			continue
		}
		xMin := max(0, detectionsData.GetFloatAt(i, 3)*imgWidth)
		yMin := max(0, detectionsData.GetFloatAt(i, 4)*imgHeight)
		xMax := min(imgWidth, detectionsData.GetFloatAt(i, 5)*imgWidth)
		yMax := min(imgHeight, detectionsData.GetFloatAt(i, 6)*imgHeight)

		if xMax > xMin && yMax > yMin {
			boxes = append(boxes, BoundingBox{
				Left:   int(xMin),
				Top:    int(yMin),
				Right:  int(xMax),
				Bottom: int(yMax),
			})
		}
	}

	log.Printf("detection(dnn): found %d face(s)", len(boxes))
	return boxes, nil
}
