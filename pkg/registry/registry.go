// Package registry persists one content-addressed entry per subject proof.
// Entries are keyed by normalized subject so repeated runs overwrite
// rather than accumulate, and every entry records the extraction
// provenance so a degraded-mode score is never mistaken for a genuine one.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Loan-ZKML/Ezkl-ML/pkg/score"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/subject"
)

// File names of the per-subject diagnostic documents written alongside the
// proof artifact.
const (
	LookupFile  = "lookup.json"
	ScalingFile = "scaling_analysis.json"
)

// Entry is the persisted registry record for one subject's proof.
type Entry struct {
	ProofHash    string `json:"proof_hash"`
	CreditScore  uint32 `json:"credit_score"`
	Timestamp    uint64 `json:"timestamp"`
	ModelVersion string `json:"model_version"`
	Subject      string `json:"subject"`
	ScoreSource  string `json:"score_source"`
	Degraded     bool   `json:"degraded,omitempty"`
}

// ScalingDebug relates the original floating score to the extracted public
// input. Advisory only; nothing downstream consults it.
type ScalingDebug struct {
	Subject          string  `json:"subject"`
	OriginalScore    float64 `json:"original_score"`
	ScaledScore      uint32  `json:"scaled_score"`
	ProofPublicInput uint32  `json:"proof_public_input"`
	ScalingFactor    float64 `json:"scaling_factor"`
}

type lookup struct {
	Subject     string       `json:"subject"`
	ProofHash   string       `json:"proof_hash"`
	CreditScore uint32       `json:"credit_score"`
	PublicInput string       `json:"public_input"`
	Original    float64      `json:"original_score"`
	Scaling     ScalingDebug `json:"scaling_debug"`
}

// ProofHash computes the content hash of a proof artifact. The hash is
// reproducible from the stored artifact bytes alone.
func ProofHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Writer persists registry entries under a single directory.
type Writer struct {
	dir string
	log zerolog.Logger
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string, log zerolog.Logger) *Writer {
	return &Writer{dir: dir, log: log}
}

// EntryPath is the deterministic location of a subject's registry entry.
func (w *Writer) EntryPath(id string) string {
	return filepath.Join(w.dir, subject.Normalize(id)+".json")
}

// Write hashes the proof artifact and persists the registry entry, the
// lookup document and the scaling debug record. Repeated writes for the
// same subject are idempotent overwrites.
func (w *Writer) Write(id, proofPath string, ex score.Extraction, originalScore float64, modelVersion string) (*Entry, error) {
	proofData, err := os.ReadFile(proofPath)
	if err != nil {
		return nil, fmt.Errorf("read proof artifact: %w", err)
	}

	entry := &Entry{
		ProofHash:    ProofHash(proofData),
		CreditScore:  ex.Score,
		Timestamp:    uint64(time.Now().Unix()),
		ModelVersion: modelVersion,
		Subject:      subject.Checksum(id),
		ScoreSource:  string(ex.Source),
		Degraded:     ex.Fallback,
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if err := writeJSON(w.EntryPath(id), entry); err != nil {
		return nil, err
	}

	scaled := score.ScaleOriginal(originalScore)
	debug := ScalingDebug{
		Subject:          entry.Subject,
		OriginalScore:    originalScore,
		ScaledScore:      scaled,
		ProofPublicInput: ex.Score,
		ScalingFactor:    score.ScalingFactor(ex.Score, scaled),
	}

	artifactDir := filepath.Dir(proofPath)
	if err := writeJSON(filepath.Join(artifactDir, ScalingFile), debug); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(artifactDir, LookupFile), lookup{
		Subject:     entry.Subject,
		ProofHash:   entry.ProofHash,
		CreditScore: entry.CreditScore,
		PublicInput: fmt.Sprintf("0x%x", entry.CreditScore),
		Original:    originalScore,
		Scaling:     debug,
	}); err != nil {
		return nil, err
	}

	w.log.Info().
		Str("subject", entry.Subject).
		Str("proof_hash", entry.ProofHash).
		Uint32("credit_score", entry.CreditScore).
		Str("score_source", entry.ScoreSource).
		Bool("degraded", entry.Degraded).
		Msg("registry entry written")
	return entry, nil
}

// Read loads the stored entry for a subject.
func (w *Writer) Read(id string) (*Entry, error) {
	data, err := os.ReadFile(w.EntryPath(id))
	if err != nil {
		return nil, fmt.Errorf("read registry entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse registry entry: %w", err)
	}
	return &entry, nil
}

// List loads every stored entry, sorted by normalized subject key.
func (w *Writer) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}
	sort.Strings(matches)

	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read registry entry: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
