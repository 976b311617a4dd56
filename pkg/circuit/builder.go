package circuit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Loan-ZKML/Ezkl-ML/pkg/ezkl"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/input"
)

// BuildError reports a failed shared-resource build stage. A shared build
// failure is fatal for the whole pipeline run: every subsequent proof would
// be unsound or inconsistent.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("shared resource build, stage %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// SetupTool is the subset of the ezkl tool the builder needs.
type SetupTool interface {
	GenSettings(ctx context.Context, modelPath, settingsPath string) error
	CalibrateSettings(ctx context.Context, modelPath, inputPath, settingsPath string) error
	CompileCircuit(ctx context.Context, modelPath, compiledPath, settingsPath string) error
	GetSRS(ctx context.Context, settingsPath, srsPath string) error
	Setup(ctx context.Context, compiledPath, pkPath, vkPath, srsPath string) error
}

// ModelBuilder materializes the model artifact. The production
// implementation shells out to the conversion script; tests substitute a
// fake.
type ModelBuilder interface {
	BuildModel(ctx context.Context, modelPath string, features []float64, subject string) error
}

// PythonModelBuilder runs the Python conversion script that turns the
// trained model into the prover's ONNX format.
type PythonModelBuilder struct {
	Python  string
	Script  string
	Cmd     ezkl.Commander
	Timeout time.Duration
}

// BuildModel invokes the conversion script with the output model path,
// subject and feature vector. The script owns the ONNX serialization.
func (b *PythonModelBuilder) BuildModel(ctx context.Context, modelPath string, features []float64, subject string) error {
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := b.Cmd
	if cmd == nil {
		cmd = ezkl.ExecCommander{}
	}
	_, stderr, err := cmd.Run(ctx, b.Python, b.Script, modelPath, subject, string(featuresJSON), "1")
	if err != nil {
		return fmt.Errorf("model conversion script: %v: %s", err, stderr)
	}
	return nil
}

// Builder drives the Absent -> Building -> Ready transition for the shared
// resources. A mutex guards the transition so only one caller triggers the
// build; all others block on it and observe Ready.
type Builder struct {
	tool  SetupTool
	model ModelBuilder
	dir   string
	log   zerolog.Logger

	mu    sync.Mutex
	ready *Resources
}

// NewBuilder returns a Builder producing resources under dir.
func NewBuilder(tool SetupTool, model ModelBuilder, dir string, log zerolog.Logger) *Builder {
	return &Builder{tool: tool, model: model, dir: dir, log: log}
}

// Ensure returns the shared resource descriptor, building any missing
// artifacts first. The sample features and subject are only used to
// materialize the model and a representative calibration input; they do not
// bias the shared circuit. Once Ready, Ensure performs zero external calls
// and returns the same descriptor.
func (b *Builder) Ensure(ctx context.Context, sampleFeatures []float64, sampleSubject string) (*Resources, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready != nil {
		return b.ready, nil
	}

	res, err := Paths(b.dir)
	if err != nil {
		return nil, &BuildError{Stage: "layout", Err: err}
	}

	if res.Ready() {
		b.log.Info().Str("dir", res.Dir).Msg("shared circuit resources already present")
		b.ready = res
		return res, nil
	}

	b.log.Info().Str("dir", res.Dir).Msg("building shared circuit resources")
	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return nil, &BuildError{Stage: "layout", Err: err}
	}

	if err := b.build(ctx, res, sampleFeatures, sampleSubject); err != nil {
		return nil, err
	}

	b.ready = res
	b.log.Info().Str("dir", res.Dir).Msg("shared circuit resources ready")
	return res, nil
}

func (b *Builder) build(ctx context.Context, res *Resources, sampleFeatures []float64, sampleSubject string) error {
	// Model materialization is skipped when the artifact already exists;
	// rebuilding an existing resource is never forced once present.
	if !exists(res.ModelPath) {
		if err := b.atomic(res.ModelPath, func(tmp string) error {
			return b.model.BuildModel(ctx, tmp, sampleFeatures, sampleSubject)
		}); err != nil {
			return &BuildError{Stage: "model", Err: err}
		}
	}

	if err := b.atomic(res.SettingsPath, func(tmp string) error {
		return b.tool.GenSettings(ctx, res.ModelPath, tmp)
	}); err != nil {
		return &BuildError{Stage: ezkl.StageGenSettings, Err: err}
	}

	// Calibration needs a representative witness input, built the same way
	// as any per-subject input.
	_, inputPath, err := input.Build(sampleFeatures, res.Dir)
	if err != nil {
		return &BuildError{Stage: "calibration-input", Err: err}
	}
	if err := b.tool.CalibrateSettings(ctx, res.ModelPath, inputPath, res.SettingsPath); err != nil {
		return &BuildError{Stage: ezkl.StageCalibrateSettings, Err: err}
	}

	if err := b.atomic(res.CompiledPath, func(tmp string) error {
		return b.tool.CompileCircuit(ctx, res.ModelPath, tmp, res.SettingsPath)
	}); err != nil {
		return &BuildError{Stage: ezkl.StageCompileCircuit, Err: err}
	}

	// The SRS is a large network fetch; reuse an existing download.
	if !exists(res.SRSPath) {
		if err := b.atomic(res.SRSPath, func(tmp string) error {
			return b.tool.GetSRS(ctx, res.SettingsPath, tmp)
		}); err != nil {
			return &BuildError{Stage: ezkl.StageGetSRS, Err: err}
		}
	}

	pkTmp := res.PKPath + ".tmp"
	vkTmp := res.VKPath + ".tmp"
	if err := b.tool.Setup(ctx, res.CompiledPath, pkTmp, vkTmp, res.SRSPath); err != nil {
		os.Remove(pkTmp)
		os.Remove(vkTmp)
		return &BuildError{Stage: ezkl.StageSetup, Err: err}
	}
	if err := os.Rename(pkTmp, res.PKPath); err != nil {
		return &BuildError{Stage: ezkl.StageSetup, Err: err}
	}
	if err := os.Rename(vkTmp, res.VKPath); err != nil {
		return &BuildError{Stage: ezkl.StageSetup, Err: err}
	}

	return nil
}

// atomic runs produce against a temporary path and renames the result into
// place only on success, so a present artifact is always a complete one.
func (b *Builder) atomic(path string, produce func(tmp string) error) error {
	tmp := path + ".tmp"
	if err := produce(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}
