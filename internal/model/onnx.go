package model

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/floats"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/config"
)

// ONNXClassifier runs an ONNX model through ONNX Runtime. The session is
// bound to fixed input and output tensors, so Predict holds a mutex for the
// whole copy-run-read cycle.
type ONNXClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	labelTensor  *ort.Tensor[int64]
	scoreTensor  *ort.Tensor[float32]
	featureCount int
}

// Load reads the metadata sidecar, then creates the runtime session. Every
// failure is an apperr.KindModelLoad error.
func Load(cfg config.ModelConfig) (*ONNXClassifier, error) {
	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindModelLoad, "failed to load model metadata", err)
	}

	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, apperr.Wrap(apperr.KindModelLoad, "model artifact is not readable", err)
	}

	if !ort.IsInitialized() {
		if cfg.RuntimeLibrary != "" {
			ort.SetSharedLibraryPath(cfg.RuntimeLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, apperr.Wrap(apperr.KindModelLoad, "failed to initialize ONNX environment", err)
		}
	}

	c := &ONNXClassifier{Metadata: metadata, featureCount: metadata.FeatureSize()}

	c.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		c.Close()
		return nil, apperr.Wrap(apperr.KindModelLoad, "failed to create input tensor", err)
	}

	var output ort.ArbitraryTensor
	switch metadata.OutputKind {
	case OutputScores:
		c.scoreTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
		output = c.scoreTensor
	default:
		c.labelTensor, err = ort.NewEmptyTensor[int64](ort.NewShape(metadata.OutputShape...))
		output = c.labelTensor
	}
	if err != nil {
		c.Close()
		return nil, apperr.Wrap(apperr.KindModelLoad, "failed to create output tensor", err)
	}

	c.session, err = ort.NewAdvancedSession(cfg.Path,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{c.inputTensor}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		c.Close()
		return nil, apperr.Wrap(apperr.KindModelLoad, "failed to create ONNX session", err)
	}

	return c, nil
}

// Predict copies features into the input tensor, runs the session and
// renders the predicted class.
func (c *ONNXClassifier) Predict(features []float64) (string, error) {
	if err := checkFeatures(features, c.featureCount); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	input := c.inputTensor.GetData()
	for i, v := range features {
		input[i] = float32(v)
	}

	if err := c.session.Run(); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "inference failed", err)
	}

	if c.scoreTensor != nil {
		return c.Metadata.labelForScores(c.scoreTensor.GetData())
	}
	labels := c.labelTensor.GetData()
	if len(labels) == 0 {
		return "", apperr.New(apperr.KindInternal, "model produced no label")
	}
	return c.Metadata.labelFor(labels[0]), nil
}

// Close releases tensors, the session and the runtime environment.
func (c *ONNXClassifier) Close() {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.labelTensor != nil {
		c.labelTensor.Destroy()
	}
	if c.scoreTensor != nil {
		c.scoreTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
}

func checkFeatures(features []float64, want int) error {
	if len(features) != want {
		return apperr.Wrap(apperr.KindInvalidInput,
			fmt.Sprintf("expected %d features, got %d", want, len(features)), ErrDimensionMismatch)
	}
	for _, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.Wrap(apperr.KindInvalidInput, "feature vector must be finite", ErrNonFinite)
		}
	}
	return nil
}

// labelFor renders a class id, using the class name when one is listed.
func (m *Metadata) labelFor(id int64) string {
	if id >= 0 && id < int64(len(m.Classes)) {
		return m.Classes[id]
	}
	return strconv.FormatInt(id, 10)
}

func (m *Metadata) labelForScores(scores []float32) (string, error) {
	if len(scores) == 0 {
		return "", apperr.New(apperr.KindInternal, "model produced no scores")
	}
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = float64(s)
	}
	return m.labelFor(int64(floats.MaxIdx(values))), nil
}
