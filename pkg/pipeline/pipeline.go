// Package pipeline orchestrates a full proving run: build the shared
// circuit resources once, then generate, verify and register a proof per
// subject. Shared-resource failure aborts the run before any subject is
// attempted; per-subject failures are recorded and the run continues.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Loan-ZKML/Ezkl-ML/config"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/circuit"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/features"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/input"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/prover"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/registry"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/score"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/subject"
)

// MetadataFile records the subject's original and scaled score next to its
// proof artifacts.
const MetadataFile = "metadata.json"

// SharedBuilder provides the shared circuit resources.
type SharedBuilder interface {
	Ensure(ctx context.Context, sampleFeatures []float64, sampleSubject string) (*circuit.Resources, error)
}

// ProofRunner runs the per-subject proving steps.
type ProofRunner interface {
	Run(ctx context.Context, subjectDir string, shared *circuit.Resources, wantContract bool) (*prover.Artifacts, error)
}

// Failure records one subject whose run did not produce a registry entry.
type Failure struct {
	Subject string
	Err     error
}

// Summary reports the outcome of one pipeline run.
type Summary struct {
	Shared   *circuit.Resources
	Entries  []registry.Entry
	Failures []Failure
	Degraded int
}

// Pipeline wires the shared builder, per-subject runner and registry
// writer behind one Run entry point.
type Pipeline struct {
	cfg     config.Config
	src     features.Source
	builder SharedBuilder
	runner  ProofRunner
	writer  *registry.Writer
	log     zerolog.Logger
}

// New assembles a Pipeline from explicit collaborators.
func New(cfg config.Config, src features.Source, builder SharedBuilder, runner ProofRunner, writer *registry.Writer, log zerolog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, src: src, builder: builder, runner: runner, writer: writer, log: log}
}

// Run proves every requested subject. An empty subjects slice means every
// subject the feature source knows. generateContract additionally produces
// the on-chain verifier artifacts for the configured contract subject.
func (p *Pipeline) Run(ctx context.Context, subjects []string, generateContract bool) (*Summary, error) {
	if len(subjects) == 0 {
		subjects = p.src.Subjects()
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects to prove")
	}
	for _, id := range subjects {
		if err := subject.Validate(id); err != nil {
			return nil, fmt.Errorf("subject %q: %w", id, err)
		}
	}

	sampleFeatures, err := p.src.Features(subjects[0])
	if err != nil {
		return nil, fmt.Errorf("sample features: %w", err)
	}
	shared, err := p.builder.Ensure(ctx, sampleFeatures, subjects[0])
	if err != nil {
		return nil, fmt.Errorf("shared circuit resources: %w", err)
	}

	summary := &Summary{Shared: shared}
	for _, id := range subjects {
		entry, err := p.proveSubject(ctx, id, shared, generateContract)
		if err != nil {
			p.log.Error().Err(err).Str("subject", id).Msg("subject skipped")
			summary.Failures = append(summary.Failures, Failure{Subject: id, Err: err})
			continue
		}
		summary.Entries = append(summary.Entries, *entry)
		if entry.Degraded {
			summary.Degraded++
		}
	}

	p.log.Info().
		Int("proved", len(summary.Entries)).
		Int("failed", len(summary.Failures)).
		Int("degraded", summary.Degraded).
		Msg("pipeline run complete")
	return summary, nil
}

func (p *Pipeline) proveSubject(ctx context.Context, id string, shared *circuit.Resources, generateContract bool) (*registry.Entry, error) {
	feats, err := p.src.Features(id)
	if err != nil {
		return nil, err
	}
	original, err := p.src.OriginalScore(id)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(p.cfg.WorkDir, subject.Normalize(id))
	if _, _, err := input.Build(feats, dir); err != nil {
		return nil, err
	}

	wantContract := generateContract && subject.Equal(id, p.cfg.ContractSubject)
	art, err := p.runner.Run(ctx, dir, shared, wantContract)
	if err != nil {
		return nil, err
	}

	proofJSON, err := os.ReadFile(art.ProofPath)
	if err != nil {
		return nil, fmt.Errorf("read proof: %w", err)
	}
	witnessJSON, err := os.ReadFile(art.WitnessPath)
	if err != nil {
		return nil, fmt.Errorf("read witness: %w", err)
	}
	ex := score.Extract(proofJSON, witnessJSON)
	if ex.Fallback {
		p.log.Warn().Str("subject", id).Msg("score extraction degraded to default")
	}

	if err := writeMetadata(filepath.Join(art.Dir, MetadataFile), original); err != nil {
		return nil, err
	}

	entry, err := p.writer.Write(id, art.ProofPath, ex, original, p.cfg.ModelVersion)
	if err != nil {
		return nil, err
	}

	if wantContract {
		if err := p.deployArtifacts(art); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// deployArtifacts copies the verifier contract and calldata into the
// contracts tree for the deployment scripts to pick up.
func (p *Pipeline) deployArtifacts(art *prover.Artifacts) error {
	if err := copyFile(art.VerifierPath, filepath.Join(p.cfg.ContractsSrcDir, prover.VerifierFile)); err != nil {
		return fmt.Errorf("install verifier contract: %w", err)
	}
	if err := copyFile(art.CalldataPath, filepath.Join(p.cfg.ContractsScriptDir, prover.CalldataFile)); err != nil {
		return fmt.Errorf("install calldata: %w", err)
	}
	return nil
}

type metadata struct {
	Score       float64 `json:"score"`
	ScaledScore uint32  `json:"scaled_score"`
}

func writeMetadata(path string, original float64) error {
	data, err := json.MarshalIndent(metadata{Score: original, ScaledScore: score.ScaleOriginal(original)}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
