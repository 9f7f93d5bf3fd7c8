package model

import (
	"errors"
	"fmt"
)

// Classifier is the black-box model: one feature vector in, one label out.
// Implementations must be safe for concurrent use and must not mutate state
// visible to later predictions.
type Classifier interface {
	Predict(features []float64) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(features []float64) (string, error)

func (f ClassifierFunc) Predict(features []float64) (string, error) {
	return f(features)
}

// OutputKind describes how the model's output tensor encodes the label.
type OutputKind string

const (
	// OutputLabel is a single int64 class id.
	OutputLabel OutputKind = "label"
	// OutputScores is one float32 score per class; the highest wins.
	OutputScores OutputKind = "scores"
)

var (
	ErrDimensionMismatch = errors.New("feature vector length does not match model input")
	ErrNonFinite         = errors.New("feature vector contains NaN or Inf")
)

// Metadata is the sidecar file describing the model's tensors.
type Metadata struct {
	InputName   string     `json:"input_name" yaml:"input_name"`
	OutputName  string     `json:"output_name" yaml:"output_name"`
	InputShape  []int64    `json:"input_shape" yaml:"input_shape"`
	OutputShape []int64    `json:"output_shape" yaml:"output_shape"`
	OutputKind  OutputKind `json:"output_kind" yaml:"output_kind"`
	Classes     []string   `json:"classes" yaml:"classes"`
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputKind == "" {
		m.OutputKind = OutputLabel
	}
	if m.OutputName == "" {
		if m.OutputKind == OutputScores {
			m.OutputName = "probabilities"
		} else {
			m.OutputName = "label"
		}
	}
	if len(m.InputShape) == 0 {
		m.InputShape = []int64{1, 3}
	}
	if len(m.OutputShape) == 0 {
		switch {
		case m.OutputKind == OutputScores && len(m.Classes) > 0:
			m.OutputShape = []int64{1, int64(len(m.Classes))}
		case m.OutputKind == OutputLabel:
			m.OutputShape = []int64{1}
		}
	}
}

// Validate checks shapes and output kind for consistency.
func (m *Metadata) Validate() error {
	if err := checkShape("input_shape", m.InputShape); err != nil {
		return err
	}
	if err := checkShape("output_shape", m.OutputShape); err != nil {
		return err
	}
	if m.InputShape[0] != 1 {
		return fmt.Errorf("input_shape batch dimension must be 1, got %d", m.InputShape[0])
	}
	switch m.OutputKind {
	case OutputLabel:
	case OutputScores:
		if n := len(m.Classes); n > 0 && shapeSize(m.OutputShape) != n {
			return fmt.Errorf("output_shape holds %d scores but %d classes are listed", shapeSize(m.OutputShape), n)
		}
	default:
		return fmt.Errorf("unknown output_kind %q", m.OutputKind)
	}
	return nil
}

// FeatureSize is the number of values the model expects per prediction.
func (m *Metadata) FeatureSize() int {
	return shapeSize(m.InputShape)
}

func checkShape(name string, shape []int64) error {
	if len(shape) == 0 {
		return fmt.Errorf("%s is required", name)
	}
	for _, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%s has non-positive dimension %d", name, d)
		}
	}
	return nil
}

func shapeSize(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
