package inference

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// RiskHead selects which output head a loaded risk model exposes, decided
// at model-export time, not per request.
type RiskHead string

const (
	RiskHeadClassification RiskHead = "classification"
	RiskHeadDetection      RiskHead = "detection"
	RiskHeadBoth           RiskHead = "both"
)

// RegistryConfig configures the process-wide model registry (spec §9:
// "Global single-instance model handles").
type RegistryConfig struct {
	SharedLibraryPath string
	WaterWeightsPath  string
	RiskWeightsPath   string
	RiskHead          RiskHead
	RiskClassNames    []string
}

// model wraps a single loaded ONNX Runtime session. It is read-only after
// construction and safe for concurrent Run calls from multiple workers
// (each Run allocates its own input/output tensors).
type model struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

var (
	registryOnce sync.Once
	registryErr  error

	waterModel  *model
	riskModel   *model
	riskHead    RiskHead
	riskClasses []string
)

// InitRegistry lazily loads both models exactly once for the process'
// lifetime. Subsequent calls are no-ops that return the first call's error,
// if any. Callers must invoke this before the first Stage.Infer.
func InitRegistry(cfg RegistryConfig) error {
	registryOnce.Do(func() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			registryErr = fmt.Errorf("inference: onnxruntime init: %w", err)
			return
		}

		wm, err := loadModel(cfg.WaterWeightsPath, "images", "output0")
		if err != nil {
			registryErr = fmt.Errorf("inference: load water model: %w", err)
			return
		}
		rm, err := loadModel(cfg.RiskWeightsPath, "images", "output0")
		if err != nil {
			registryErr = fmt.Errorf("inference: load risk model: %w", err)
			return
		}

		waterModel = wm
		riskModel = rm
		riskHead = cfg.RiskHead
		if riskHead == "" {
			riskHead = RiskHeadDetection
		}
		riskClasses = cfg.RiskClassNames
	})
	return registryErr
}

func loadModel(path, inputName, outputName string) (*model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model weights not found at %s: %w", path, err)
	}
	session, err := ort.NewDynamicAdvancedSession(path, []string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, err
	}
	return &model{session: session, inputName: inputName, outputName: outputName}, nil
}

// Ready reports whether the registry has completed initialisation
// successfully.
func Ready() bool {
	return waterModel != nil && riskModel != nil && registryErr == nil
}

// Close releases both model sessions and the ONNX Runtime environment. It
// is intended for process shutdown / test teardown only.
func Close() {
	if waterModel != nil {
		waterModel.session.Destroy()
	}
	if riskModel != nil {
		riskModel.session.Destroy()
	}
	ort.DestroyEnvironment()
}
