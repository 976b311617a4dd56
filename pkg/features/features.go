// Package features is the boundary to the feature-data collaborator: a
// lookup from normalized subject identifier to a fixed-length feature
// vector, plus a parallel lookup to the original floating score used only
// for the diagnostic scaling cross-check.
package features

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Loan-ZKML/Ezkl-ML/pkg/subject"
)

// Source supplies per-subject feature vectors and original scores.
type Source interface {
	// Subjects lists every known subject identifier in stable order.
	Subjects() []string
	// Features returns the feature vector for a subject.
	Features(id string) ([]float64, error)
	// OriginalScore returns the pre-proof floating score for a subject.
	OriginalScore(id string) (float64, error)
}

// creditData mirrors the document the synthetic data generator emits:
// feature rows, score rows and an address-to-row mapping.
type creditData struct {
	Features       [][]float64    `json:"features"`
	Scores         []float64      `json:"scores"`
	AddressMapping map[string]int `json:"address_mapping"`
}

// FileSource is a Source backed by the generator's JSON document. Lookups
// are prefix- and case-insensitive over the subject identifier.
type FileSource struct {
	byKey    map[string]int
	display  map[string]string
	features [][]float64
	scores   []float64
}

// LoadFile reads a feature document from disk.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature data: %w", err)
	}
	return Parse(data)
}

// Parse builds a FileSource from a feature document.
func Parse(data []byte) (*FileSource, error) {
	var doc creditData
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse feature data: %w", err)
	}
	if len(doc.AddressMapping) == 0 {
		return nil, fmt.Errorf("feature data has no address mapping")
	}

	src := &FileSource{
		byKey:    make(map[string]int, len(doc.AddressMapping)),
		display:  make(map[string]string, len(doc.AddressMapping)),
		features: doc.Features,
		scores:   doc.Scores,
	}
	for addr, idx := range doc.AddressMapping {
		if idx < 0 || idx >= len(doc.Features) {
			return nil, fmt.Errorf("feature data: %s maps to row %d of %d", addr, idx, len(doc.Features))
		}
		key := subject.Normalize(addr)
		if prev, dup := src.display[key]; dup && prev != addr {
			return nil, fmt.Errorf("feature data: %s and %s collide after normalization", prev, addr)
		}
		src.byKey[key] = idx
		src.display[key] = addr
	}
	return src, nil
}

// Subjects lists the known identifiers sorted by normalized key.
func (s *FileSource) Subjects() []string {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = s.display[k]
	}
	return out
}

// Features returns the feature vector for a subject.
func (s *FileSource) Features(id string) ([]float64, error) {
	idx, ok := s.byKey[subject.Normalize(id)]
	if !ok {
		return nil, fmt.Errorf("subject %s not found in feature data", id)
	}
	row := make([]float64, len(s.features[idx]))
	copy(row, s.features[idx])
	return row, nil
}

// OriginalScore returns the pre-proof floating score for a subject.
func (s *FileSource) OriginalScore(id string) (float64, error) {
	idx, ok := s.byKey[subject.Normalize(id)]
	if !ok {
		return 0, fmt.Errorf("subject %s not found in feature data", id)
	}
	if idx >= len(s.scores) {
		return 0, fmt.Errorf("subject %s has no recorded score", id)
	}
	return s.scores[idx], nil
}
