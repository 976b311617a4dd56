package ezkl

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

// fakeCommander records invocations and returns a scripted result.
type fakeCommander struct {
	calls  []call
	stderr string
	err    error
	block  bool // ignore the scripted result and wait for ctx cancellation
}

func (f *fakeCommander) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	return nil, []byte(f.stderr), f.err
}

func newTestTool(cmd Commander) *Tool {
	log := zerolog.New(io.Discard)
	return NewWithCommander("ezkl", cmd, time.Minute, time.Minute, log)
}

func TestStageArgumentVectors(t *testing.T) {
	fake := &fakeCommander{}
	tool := newTestTool(fake)
	ctx := context.Background()

	require.NoError(t, tool.GenSettings(ctx, "model.onnx", "settings.json"))
	require.NoError(t, tool.CalibrateSettings(ctx, "model.onnx", "input.json", "settings.json"))
	require.NoError(t, tool.CompileCircuit(ctx, "model.onnx", "model.compiled", "settings.json"))
	require.NoError(t, tool.GetSRS(ctx, "settings.json", "kzg.srs"))
	require.NoError(t, tool.Setup(ctx, "model.compiled", "pk.key", "vk.key", "kzg.srs"))
	require.NoError(t, tool.GenWitness(ctx, "input.json", "model.compiled", "witness.json"))
	require.NoError(t, tool.Prove(ctx, "witness.json", "proof.json", "pk.key", "model.compiled", "kzg.srs"))
	require.NoError(t, tool.Verify(ctx, "proof.json", "vk.key", "kzg.srs"))
	require.NoError(t, tool.CreateEVMVerifier(ctx, "vk.key", "Halo2Verifier.sol", "kzg.srs"))
	require.NoError(t, tool.EncodeCalldata(ctx, "proof.json", "calldata.json"))

	want := []call{
		{"ezkl", []string{"gen-settings", "-M", "model.onnx", "-O", "settings.json"}},
		{"ezkl", []string{"calibrate-settings", "-M", "model.onnx", "-D", "input.json", "-O", "settings.json"}},
		{"ezkl", []string{"compile-circuit", "-M", "model.onnx", "--compiled-circuit", "model.compiled", "-S", "settings.json"}},
		{"ezkl", []string{"get-srs", "--settings-path", "settings.json", "--srs-path", "kzg.srs"}},
		{"ezkl", []string{"setup", "-M", "model.compiled", "--pk-path", "pk.key", "--vk-path", "vk.key", "--srs-path", "kzg.srs"}},
		{"ezkl", []string{"gen-witness", "-D", "input.json", "-M", "model.compiled", "-O", "witness.json"}},
		{"ezkl", []string{"prove", "--witness", "witness.json", "--proof-path", "proof.json", "--pk-path", "pk.key", "--compiled-circuit", "model.compiled", "--srs-path", "kzg.srs"}},
		{"ezkl", []string{"verify", "--proof-path", "proof.json", "--vk-path", "vk.key", "--srs-path", "kzg.srs"}},
		{"ezkl", []string{"create-evm-verifier", "--vk-path", "vk.key", "--sol-code-path", "Halo2Verifier.sol", "--srs-path", "kzg.srs"}},
		{"ezkl", []string{"encode-evm-calldata", "--proof-path", "proof.json", "--calldata-path", "calldata.json"}},
	}
	require.Equal(t, want, fake.calls)
}

func TestToolErrorCarriesStageAndStderr(t *testing.T) {
	fake := &fakeCommander{stderr: "circuit too large\n", err: errors.New("exit status 1")}
	tool := newTestTool(fake)

	err := tool.Prove(context.Background(), "w", "p", "pk", "c", "srs")
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, StageProve, toolErr.Stage)
	require.Contains(t, toolErr.Stderr, "circuit too large")
	require.Contains(t, err.Error(), "prove")
	require.Contains(t, err.Error(), "circuit too large")
}

func TestStageTimeoutSurfacesAsToolError(t *testing.T) {
	fake := &fakeCommander{block: true}
	log := zerolog.New(io.Discard)
	tool := NewWithCommander("ezkl", fake, 10*time.Millisecond, 10*time.Millisecond, log)

	err := tool.GetSRS(context.Background(), "settings.json", "kzg.srs")
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, StageGetSRS, toolErr.Stage)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
