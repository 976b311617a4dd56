// Package ezkl wraps the external ezkl proving binary. Every pipeline stage
// is a discrete subprocess invocation taking file paths as arguments and
// producing a declared output file; success is exit status zero. Arguments
// are passed as vectors, never interpolated into shell text.
package ezkl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Stage names, matching the ezkl subcommand each invocation runs.
const (
	StageGenSettings       = "gen-settings"
	StageCalibrateSettings = "calibrate-settings"
	StageCompileCircuit    = "compile-circuit"
	StageGetSRS            = "get-srs"
	StageSetup             = "setup"
	StageGenWitness        = "gen-witness"
	StageProve             = "prove"
	StageVerify            = "verify"
	StageCreateEVMVerifier = "create-evm-verifier"
	StageEncodeCalldata    = "encode-evm-calldata"
)

// ToolError reports a failed external invocation: the stage that failed and
// whatever the tool wrote to stderr. The tool is assumed deterministic or
// fatal, so callers never retry.
type ToolError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("ezkl %s: %v", e.Stage, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Commander runs one external command to completion and returns its
// captured output streams.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecCommander is the production Commander backed by os/exec.
type ExecCommander struct{}

func (ExecCommander) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Tool invokes ezkl stages with bounded timeouts. The SRS download gets its
// own, longer bound because it is a network fetch and the most likely hang
// point in the pipeline.
type Tool struct {
	bin        string
	cmd        Commander
	timeout    time.Duration
	srsTimeout time.Duration
	log        zerolog.Logger
}

// New returns a Tool invoking the given binary through os/exec.
func New(bin string, stageTimeout, srsTimeout time.Duration, log zerolog.Logger) *Tool {
	return NewWithCommander(bin, ExecCommander{}, stageTimeout, srsTimeout, log)
}

// NewWithCommander is New with an explicit Commander, for tests.
func NewWithCommander(bin string, cmd Commander, stageTimeout, srsTimeout time.Duration, log zerolog.Logger) *Tool {
	return &Tool{bin: bin, cmd: cmd, timeout: stageTimeout, srsTimeout: srsTimeout, log: log}
}

func (t *Tool) run(ctx context.Context, stage string, timeout time.Duration, args ...string) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	t.log.Debug().Str("stage", stage).Strs("args", args).Msg("running ezkl stage")

	stdout, stderr, err := t.cmd.Run(ctx, t.bin, append([]string{stage}, args...)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return &ToolError{Stage: stage, Stderr: string(stderr), Err: err}
	}

	t.log.Debug().
		Str("stage", stage).
		Dur("elapsed", time.Since(start)).
		Int("stdout_bytes", len(stdout)).
		Msg("ezkl stage done")
	return nil
}

// GenSettings generates circuit settings for a model.
func (t *Tool) GenSettings(ctx context.Context, modelPath, settingsPath string) error {
	return t.run(ctx, StageGenSettings, t.timeout, "-M", modelPath, "-O", settingsPath)
}

// CalibrateSettings calibrates settings against a representative input.
func (t *Tool) CalibrateSettings(ctx context.Context, modelPath, inputPath, settingsPath string) error {
	return t.run(ctx, StageCalibrateSettings, t.timeout, "-M", modelPath, "-D", inputPath, "-O", settingsPath)
}

// CompileCircuit compiles the model into a circuit.
func (t *Tool) CompileCircuit(ctx context.Context, modelPath, compiledPath, settingsPath string) error {
	return t.run(ctx, StageCompileCircuit, t.timeout, "-M", modelPath, "--compiled-circuit", compiledPath, "-S", settingsPath)
}

// GetSRS downloads the structured reference string.
func (t *Tool) GetSRS(ctx context.Context, settingsPath, srsPath string) error {
	return t.run(ctx, StageGetSRS, t.srsTimeout, "--settings-path", settingsPath, "--srs-path", srsPath)
}

// Setup generates the proving and verification keys.
func (t *Tool) Setup(ctx context.Context, compiledPath, pkPath, vkPath, srsPath string) error {
	return t.run(ctx, StageSetup, t.timeout, "-M", compiledPath, "--pk-path", pkPath, "--vk-path", vkPath, "--srs-path", srsPath)
}

// GenWitness generates the witness for an input against the compiled circuit.
func (t *Tool) GenWitness(ctx context.Context, inputPath, compiledPath, witnessPath string) error {
	return t.run(ctx, StageGenWitness, t.timeout, "-D", inputPath, "-M", compiledPath, "-O", witnessPath)
}

// Prove generates the proof from the witness and proving key.
func (t *Tool) Prove(ctx context.Context, witnessPath, proofPath, pkPath, compiledPath, srsPath string) error {
	return t.run(ctx, StageProve, t.timeout,
		"--witness", witnessPath, "--proof-path", proofPath,
		"--pk-path", pkPath, "--compiled-circuit", compiledPath, "--srs-path", srsPath)
}

// Verify checks the proof locally against the verification key.
func (t *Tool) Verify(ctx context.Context, proofPath, vkPath, srsPath string) error {
	return t.run(ctx, StageVerify, t.timeout, "--proof-path", proofPath, "--vk-path", vkPath, "--srs-path", srsPath)
}

// CreateEVMVerifier generates the Solidity verifier contract.
func (t *Tool) CreateEVMVerifier(ctx context.Context, vkPath, solPath, srsPath string) error {
	return t.run(ctx, StageCreateEVMVerifier, t.timeout, "--vk-path", vkPath, "--sol-code-path", solPath, "--srs-path", srsPath)
}

// EncodeCalldata encodes the proof for on-chain verification.
func (t *Tool) EncodeCalldata(ctx context.Context, proofPath, calldataPath string) error {
	return t.run(ctx, StageEncodeCalldata, t.timeout, "--proof-path", proofPath, "--calldata-path", calldataPath)
}
