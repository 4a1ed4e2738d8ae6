package inference

import (
	"encoding/base64"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/technosupport/ts-vms/internal/flood"
)

// Stage composes the two loaded models into the single per-tick call the
// pacing loop makes: preprocess, run both models, postprocess into the wire
// TickResult (spec §4.4).
type Stage struct {
	numRiskClasses int
}

// NewStage returns an inference Stage bound to the process-wide registry.
// InitRegistry must have succeeded before Infer is called.
func NewStage(numRiskClasses int) *Stage {
	if numRiskClasses < 1 {
		numRiskClasses = 1
	}
	return &Stage{numRiskClasses: numRiskClasses}
}

// Infer runs the water-segmentation and risk models over frame at the given
// params, producing everything but TickIdx/TSMs/VideoSec, which the caller
// (the pacing loop) fills in. needMask gates whether the mask PNG is
// rendered and attached (spec §4.4.4 / P4).
func (s *Stage) Infer(frame gocv.Mat, params flood.Params, needMask bool) (flood.TickResult, error) {
	if !Ready() {
		return flood.TickResult{}, fmt.Errorf("inference: registry not initialised")
	}

	mask, objects, err := s.runWaterModel(frame, params)
	if err != nil {
		return flood.TickResult{}, fmt.Errorf("inference: water model: %w", err)
	}
	defer mask.Close()

	pct := waterPct(mask)
	polys := maskToPolygons(mask)

	water := flood.WaterResult{
		Objects:  objects,
		ImageW:   frame.Cols(),
		ImageH:   frame.Rows(),
		Polygons: polys,
	}
	if needMask {
		png, err := encodeMaskPNG(mask)
		if err != nil {
			return flood.TickResult{}, fmt.Errorf("inference: encode mask: %w", err)
		}
		water.MaskPNGB64 = base64.StdEncoding.EncodeToString(png)
	}

	risk, riskLevel, err := s.runRiskModel(frame, params)
	if err != nil {
		return flood.TickResult{}, fmt.Errorf("inference: risk model: %w", err)
	}

	return flood.TickResult{
		Pct:   pct,
		Level: frameLevel(riskLevel),
		Water: water,
		Risk:  risk,
	}, nil
}

// runWaterModel preprocesses frame to ImgszWater, runs the water session,
// and thresholds its single-channel foreground-probability output at 0.5
// into a 0/255 mask at the model's native output resolution, then resizes
// that mask back to the frame's resolution with nearest-neighbour
// interpolation so polygon coordinates stay meaningful against the source
// frame.
func (s *Stage) runWaterModel(frame gocv.Mat, params flood.Params) (gocv.Mat, []flood.ObjectDetection, error) {
	size := params.ImgszWater
	input, err := toCHWTensor(frame, size)
	if err != nil {
		return gocv.Mat{}, nil, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(size), int64(size)))
	if err != nil {
		return gocv.Mat{}, nil, err
	}
	defer output.Destroy()

	if err := waterModel.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return gocv.Mat{}, nil, err
	}

	prob := gocv.NewMatWithSize(size, size, gocv.MatTypeCV32F)
	defer prob.Close()
	copyFloat32ToMat(output.GetData(), prob)

	mask8 := gocv.NewMat()
	defer mask8.Close()
	prob.ConvertTo(&mask8, gocv.MatTypeCV8U, 255, 0)

	thresholded := gocv.NewMat()
	gocv.Threshold(mask8, &thresholded, 127, 255, gocv.ThresholdBinary)

	if size == frame.Cols() && size == frame.Rows() {
		return thresholded, nil, nil
	}
	full := gocv.NewMat()
	gocv.Resize(thresholded, &full, image.Pt(frame.Cols(), frame.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)
	thresholded.Close()
	return full, nil, nil
}

// runRiskModel preprocesses frame to ImgszRisk, runs the risk session, and
// decodes whichever head(s) the loaded model exposes: a classification
// logits vector of length numRiskClasses, a flat detection tensor, or both
// concatenated (classification logits first, detection rows after them),
// depending on riskHead.
func (s *Stage) runRiskModel(frame gocv.Mat, params flood.Params) (flood.RiskResult, int, error) {
	size := params.ImgszRisk
	input, err := toCHWTensor(frame, size)
	if err != nil {
		return flood.RiskResult{}, 0, err
	}
	defer input.Destroy()

	const maxDetections = 64
	const detStride = 6 // x1,y1,x2,y2,conf,class_idx

	outLen := int64(s.numRiskClasses)
	detOffset := 0
	switch riskHead {
	case RiskHeadDetection:
		outLen = int64(maxDetections * detStride)
	case RiskHeadBoth:
		outLen = int64(s.numRiskClasses + maxDetections*detStride)
		detOffset = s.numRiskClasses
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, outLen))
	if err != nil {
		return flood.RiskResult{}, 0, err
	}
	defer output.Destroy()

	if err := riskModel.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return flood.RiskResult{}, 0, err
	}
	data := output.GetData()

	var result flood.RiskResult
	maxLevel := 0

	if riskHead == RiskHeadClassification || riskHead == RiskHeadBoth {
		top1, score := argmax(data[:s.numRiskClasses])
		level := classificationLevel(top1, s.numRiskClasses)
		label := ""
		if top1 < len(riskClasses) {
			label = riskClasses[top1]
		}
		result.Cls = &flood.Classification{Label: label, Score: score, Level: level}
		if level > maxLevel {
			maxLevel = level
		}
	}

	if riskHead == RiskHeadDetection || riskHead == RiskHeadBoth {
		dets := decodeDetections(data[detOffset:], params.ConfRisk, maxDetections, detStride)
		set, lv := buildDetectionSet(dets, s.numRiskClasses)
		result.Det = &set
		if lv > maxLevel {
			maxLevel = lv
		}
	}

	return result, maxLevel, nil
}

// toCHWTensor resizes frame to size x size, converts BGR to RGB, scales to
// 0..1, and lays the result out as a 1x3xHxW tensor.
func toCHWTensor(frame gocv.Mat, size int) (*ort.Tensor[float32], error) {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	rgbf := gocv.NewMat()
	defer rgbf.Close()
	rgb.ConvertTo(&rgbf, gocv.MatTypeCV32F, 1.0/255.0, 0)

	hwc, err := rgbf.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("inference: read frame data: %w", err)
	}

	chw := make([]float32, 3*size*size)
	plane := size * size
	for i := 0; i < plane; i++ {
		chw[i] = hwc[i*3+0]
		chw[plane+i] = hwc[i*3+1]
		chw[2*plane+i] = hwc[i*3+2]
	}

	return ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), chw)
}

func copyFloat32ToMat(data []float32, dst gocv.Mat) {
	rows, cols := dst.Rows(), dst.Cols()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst.SetFloatAt(r, c, data[r*cols+c])
		}
	}
}

func argmax(v []float32) (int, float64) {
	best, bestVal := 0, float32(-1e30)
	for i, x := range v {
		if x > bestVal {
			best, bestVal = i, x
		}
	}
	return best, float64(bestVal)
}

// decodeDetections reads stride-wide rows of [x1,y1,x2,y2,conf,class_idx]
// out of a flat detection tensor, keeping only boxes whose confidence
// clears confThresh.
func decodeDetections(data []float32, confThresh float64, maxDetections, stride int) []rawDetection {
	var dets []rawDetection
	for i := 0; i < maxDetections; i++ {
		base := i * stride
		if base+stride > len(data) {
			break
		}
		conf := float64(data[base+4])
		if conf < confThresh {
			continue
		}
		classIdx := int(data[base+5])
		name := ""
		if classIdx >= 0 && classIdx < len(riskClasses) {
			name = riskClasses[classIdx]
		}
		dets = append(dets, rawDetection{
			ClassName:  name,
			ClassIndex: classIdx,
			Box:        [4]float64{float64(data[base+0]), float64(data[base+1]), float64(data[base+2]), float64(data[base+3])},
		})
	}
	return dets
}
