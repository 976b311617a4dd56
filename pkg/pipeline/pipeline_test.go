package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loan-ZKML/Ezkl-ML/config"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/circuit"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/prover"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/registry"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/subject"
)

const (
	subjA = "0x1111111111111111111111111111111111111111"
	subjB = "0x2222222222222222222222222222222222222222"
)

// leHex renders v as a 32-byte little-endian field element hex string.
func leHex(v uint64) string {
	buf := make([]byte, 32)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return "0x" + hex.EncodeToString(buf)
}

type stubSource struct {
	ids    []string
	feats  map[string][]float64
	scores map[string]float64
}

func (s *stubSource) Subjects() []string { return s.ids }

func (s *stubSource) Features(id string) ([]float64, error) {
	f, ok := s.feats[subject.Normalize(id)]
	if !ok {
		return nil, fmt.Errorf("unknown subject %s", id)
	}
	return f, nil
}

func (s *stubSource) OriginalScore(id string) (float64, error) {
	v, ok := s.scores[subject.Normalize(id)]
	if !ok {
		return 0, fmt.Errorf("unknown subject %s", id)
	}
	return v, nil
}

func newStubSource() *stubSource {
	return &stubSource{
		ids: []string{subjA, subjB},
		feats: map[string][]float64{
			subject.Normalize(subjA): {0.8, 0.6, 0.9, 0.4, 0.7},
			subject.Normalize(subjB): {0.2, 0.3, 0.1, 0.9, 0.5},
		},
		scores: map[string]float64{
			subject.Normalize(subjA): 0.4,
			subject.Normalize(subjB): 0.4,
		},
	}
}

type fakeBuilder struct {
	calls  int
	failOn error
	res    *circuit.Resources
}

func (f *fakeBuilder) Ensure(_ context.Context, _ []float64, _ string) (*circuit.Resources, error) {
	f.calls++
	if f.failOn != nil {
		return nil, f.failOn
	}
	return f.res, nil
}

type fakeRunner struct {
	proofJSON   string
	witnessJSON string
	failSubject string
	contracts   []string
}

func (f *fakeRunner) Run(_ context.Context, subjectDir string, _ *circuit.Resources, wantContract bool) (*prover.Artifacts, error) {
	if f.failSubject != "" && filepath.Base(subjectDir) == f.failSubject {
		return nil, errors.New("proving failed")
	}
	art := &prover.Artifacts{
		Dir:         subjectDir,
		WitnessPath: filepath.Join(subjectDir, prover.WitnessFile),
		ProofPath:   filepath.Join(subjectDir, prover.ProofFile),
	}
	if err := os.WriteFile(art.ProofPath, []byte(f.proofJSON), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(art.WitnessPath, []byte(f.witnessJSON), 0o644); err != nil {
		return nil, err
	}
	if wantContract {
		f.contracts = append(f.contracts, filepath.Base(subjectDir))
		art.VerifierPath = filepath.Join(subjectDir, prover.VerifierFile)
		art.CalldataPath = filepath.Join(subjectDir, prover.CalldataFile)
		if err := os.WriteFile(art.VerifierPath, []byte("contract Halo2Verifier {}"), 0o644); err != nil {
			return nil, err
		}
		if err := os.WriteFile(art.CalldataPath, []byte(`{"calldata":"0x00"}`), 0o644); err != nil {
			return nil, err
		}
	}
	return art, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = filepath.Join(root, "proof_generation")
	cfg.SharedDir = filepath.Join(cfg.WorkDir, "shared_circuit")
	cfg.RegistryDir = filepath.Join(root, "proof_registry")
	cfg.ContractsSrcDir = filepath.Join(root, "contracts", "src")
	cfg.ContractsScriptDir = filepath.Join(root, "contracts", "script")
	return cfg
}

func newTestPipeline(t *testing.T, cfg config.Config, builder SharedBuilder, runner ProofRunner) *Pipeline {
	t.Helper()
	writer := registry.NewWriter(cfg.RegistryDir, zerolog.Nop())
	return New(cfg, newStubSource(), builder, runner, writer, zerolog.Nop())
}

func TestRunProvesAllSubjects(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{res: &circuit.Resources{Dir: cfg.SharedDir}}
	runner := &fakeRunner{
		proofJSON:   fmt.Sprintf(`{"instances":[["%s"]]}`, leHex(400)),
		witnessJSON: `{"outputs":[["0x9001"]]}`,
	}
	p := newTestPipeline(t, cfg, builder, runner)

	sum, err := p.Run(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, sum.Entries, 2)
	assert.Empty(t, sum.Failures)
	assert.Zero(t, sum.Degraded)

	// Both subjects proved against the same shared descriptor, and identical
	// proof artifacts hash identically.
	assert.Equal(t, 1, builder.calls)
	assert.Equal(t, sum.Entries[0].ProofHash, sum.Entries[1].ProofHash)
	assert.Equal(t, uint32(400), sum.Entries[0].CreditScore)

	_, err = os.Stat(filepath.Join(cfg.WorkDir, subject.Normalize(subjA), MetadataFile))
	assert.NoError(t, err)

	writer := registry.NewWriter(cfg.RegistryDir, zerolog.Nop())
	entries, err := writer.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSharedFailureAbortsRun(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{failOn: errors.New("srs download failed")}
	p := newTestPipeline(t, cfg, builder, &fakeRunner{})

	_, err := p.Run(context.Background(), nil, false)
	require.Error(t, err)

	// No subject may be attempted, so the registry stays empty.
	matches, globErr := filepath.Glob(filepath.Join(cfg.RegistryDir, "*.json"))
	require.NoError(t, globErr)
	assert.Empty(t, matches)
}

func TestSubjectFailureIsIsolated(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{res: &circuit.Resources{Dir: cfg.SharedDir}}
	runner := &fakeRunner{
		proofJSON:   fmt.Sprintf(`{"instances":[["%s"]]}`, leHex(721)),
		witnessJSON: `{}`,
		failSubject: subject.Normalize(subjA),
	}
	p := newTestPipeline(t, cfg, builder, runner)

	sum, err := p.Run(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, sum.Entries, 1)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, subjA, sum.Failures[0].Subject)
	assert.Equal(t, uint32(721), sum.Entries[0].CreditScore)
}

func TestContractArtifactsInstalled(t *testing.T) {
	cfg := testConfig(t)
	cfg.ContractSubject = subjB
	builder := &fakeBuilder{res: &circuit.Resources{Dir: cfg.SharedDir}}
	runner := &fakeRunner{
		proofJSON:   fmt.Sprintf(`{"instances":[["%s"]]}`, leHex(500)),
		witnessJSON: `{}`,
	}
	p := newTestPipeline(t, cfg, builder, runner)

	sum, err := p.Run(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Len(t, sum.Entries, 2)

	// Only the configured contract subject triggers the contract steps.
	require.Equal(t, []string{subject.Normalize(subjB)}, runner.contracts)
	_, err = os.Stat(filepath.Join(cfg.ContractsSrcDir, prover.VerifierFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.ContractsScriptDir, prover.CalldataFile))
	assert.NoError(t, err)
}

func TestDegradedExtractionIsCountedAndFlagged(t *testing.T) {
	cfg := testConfig(t)
	builder := &fakeBuilder{res: &circuit.Resources{Dir: cfg.SharedDir}}
	runner := &fakeRunner{proofJSON: `{}`, witnessJSON: `{}`}
	p := newTestPipeline(t, cfg, builder, runner)

	sum, err := p.Run(context.Background(), []string{subjA}, false)
	require.NoError(t, err)
	require.Len(t, sum.Entries, 1)
	assert.Equal(t, 1, sum.Degraded)
	assert.True(t, sum.Entries[0].Degraded)
	assert.Equal(t, uint32(500), sum.Entries[0].CreditScore)
}

func TestRunRejectsInvalidSubject(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, &fakeBuilder{res: &circuit.Resources{}}, &fakeRunner{})

	_, err := p.Run(context.Background(), []string{"not-hex!"}, false)
	require.Error(t, err)
}
