// Package prover runs the external proving pipeline for one subject using
// the shared circuit resources. Shared artifacts are referenced by absolute
// path and per-subject artifacts live in the subject's own directory, so
// multiple subjects can run without cross-contamination.
package prover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Loan-ZKML/Ezkl-ML/pkg/circuit"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/input"
)

// Per-subject artifact file names.
const (
	WitnessFile  = "witness.json"
	ProofFile    = "proof.json"
	VerifierFile = "Halo2Verifier.sol"
	CalldataFile = "calldata.json"
)

// ProveTool is the subset of the ezkl tool the runner needs.
type ProveTool interface {
	GenWitness(ctx context.Context, inputPath, compiledPath, witnessPath string) error
	Prove(ctx context.Context, witnessPath, proofPath, pkPath, compiledPath, srsPath string) error
	Verify(ctx context.Context, proofPath, vkPath, srsPath string) error
	CreateEVMVerifier(ctx context.Context, vkPath, solPath, srsPath string) error
	EncodeCalldata(ctx context.Context, proofPath, calldataPath string) error
}

// Artifacts locates everything one subject's run produced.
type Artifacts struct {
	Dir          string
	InputPath    string
	WitnessPath  string
	ProofPath    string
	VerifierPath string // empty unless the verifier contract was requested
	CalldataPath string // empty unless the verifier contract was requested
}

// Runner executes the strictly ordered per-subject proof steps.
type Runner struct {
	tool ProveTool
	log  zerolog.Logger
}

// NewRunner returns a Runner invoking the given tool.
func NewRunner(tool ProveTool, log zerolog.Logger) *Runner {
	return &Runner{tool: tool, log: log}
}

// Run generates, proves and locally verifies one subject's witness against
// the shared resources. The witness input must already exist in subjectDir.
// When wantContract is set, the run additionally produces the on-chain
// verifier contract and its calldata encoding. Steps are never retried; any
// failure abandons this subject's run.
func (r *Runner) Run(ctx context.Context, subjectDir string, shared *circuit.Resources, wantContract bool) (*Artifacts, error) {
	dir, err := filepath.Abs(subjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve subject dir: %w", err)
	}

	art := &Artifacts{
		Dir:         dir,
		InputPath:   filepath.Join(dir, input.FileName),
		WitnessPath: filepath.Join(dir, WitnessFile),
		ProofPath:   filepath.Join(dir, ProofFile),
	}

	if _, err := os.Stat(art.InputPath); err != nil {
		return nil, fmt.Errorf("witness input missing: %w", err)
	}

	if err := r.tool.GenWitness(ctx, art.InputPath, shared.CompiledPath, art.WitnessPath); err != nil {
		return nil, err
	}
	if err := r.tool.Prove(ctx, art.WitnessPath, art.ProofPath, shared.PKPath, shared.CompiledPath, shared.SRSPath); err != nil {
		return nil, err
	}
	if err := r.tool.Verify(ctx, art.ProofPath, shared.VKPath, shared.SRSPath); err != nil {
		return nil, err
	}
	r.log.Debug().Str("dir", dir).Msg("proof generated and verified")

	if wantContract {
		art.VerifierPath = filepath.Join(dir, VerifierFile)
		art.CalldataPath = filepath.Join(dir, CalldataFile)
		if err := r.tool.CreateEVMVerifier(ctx, shared.VKPath, art.VerifierPath, shared.SRSPath); err != nil {
			return nil, err
		}
		if err := r.tool.EncodeCalldata(ctx, art.ProofPath, art.CalldataPath); err != nil {
			return nil, err
		}
		r.log.Debug().Str("dir", dir).Msg("verifier contract and calldata generated")
	}

	return art, nil
}
