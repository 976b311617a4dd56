// Package input builds the per-subject witness input document consumed by
// the external prover. The document shape is fixed by the prover: a nested
// feature array, an input-shape descriptor and a placeholder output (the
// true output is unknown until proving).
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// FileName is the fixed name of the witness input document inside a
// subject's working directory.
const FileName = "input.json"

// ErrInvalidFeature marks feature vectors that cannot be serialized into a
// witness input (empty, NaN or infinite values).
var ErrInvalidFeature = errors.New("invalid feature vector")

// WitnessInput is the document handed to the external prover for one
// subject.
type WitnessInput struct {
	InputData   [][]float64 `json:"input_data"`
	InputShapes [][]int     `json:"input_shapes"`
	OutputData  [][]float64 `json:"output_data"`
}

// New derives the witness input document from a feature vector. The
// derivation is deterministic: the same features always produce the same
// document.
func New(features []float64) (*WitnessInput, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFeature)
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: feature %d is %v", ErrInvalidFeature, i, f)
		}
	}

	row := make([]float64, len(features))
	copy(row, features)

	return &WitnessInput{
		InputData:   [][]float64{row},
		InputShapes: [][]int{{len(features)}},
		OutputData:  [][]float64{{0.0}},
	}, nil
}

// Build writes the witness input for a feature vector into dir, creating
// the directory if needed and overwriting any prior document. It returns
// the document and the path it was written to.
func Build(features []float64, dir string) (*WitnessInput, string, error) {
	doc, err := New(features)
	if err != nil {
		return nil, "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create input dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encode witness input: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, "", fmt.Errorf("write witness input: %w", err)
	}
	return doc, path, nil
}
