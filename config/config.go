// Package config holds the pipeline configuration. All paths, binaries and
// addresses are carried explicitly in a Config value passed to the
// orchestrator; there are no package-level mutable defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from the "10m" string form
// in config files.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config describes one pipeline run: which external binaries to invoke,
// where shared and per-subject artifacts live, and which subject receives
// the on-chain verifier artifacts.
type Config struct {
	// EzklBinary is the ezkl executable, resolved via PATH when relative.
	EzklBinary string `yaml:"ezkl_binary"`

	// PythonBinary runs the model conversion script.
	PythonBinary string `yaml:"python_binary"`

	// ModelScript converts the trained model into ezkl's ONNX format.
	ModelScript string `yaml:"model_script"`

	// WorkDir holds one sub-directory per subject plus the shared circuit
	// resources under SharedDir.
	WorkDir   string `yaml:"work_dir"`
	SharedDir string `yaml:"shared_dir"`

	// RegistryDir holds one registry entry file per normalized subject.
	RegistryDir string `yaml:"registry_dir"`

	// Deployment locations for the designated subject's verifier contract
	// and calldata.
	ContractsSrcDir    string `yaml:"contracts_src_dir"`
	ContractsScriptDir string `yaml:"contracts_script_dir"`

	// ModelVersion tags every registry entry written by this run.
	ModelVersion string `yaml:"model_version"`

	// ContractSubject is the one subject whose run also produces the EVM
	// verifier and calldata artifacts.
	ContractSubject string `yaml:"contract_subject"`

	// StageTimeout bounds each ezkl invocation. SRSTimeout bounds the SRS
	// download separately since it is a network fetch.
	StageTimeout Duration `yaml:"stage_timeout"`
	SRSTimeout   Duration `yaml:"srs_timeout"`
}

// Default returns the configuration the CLI starts from before applying a
// config file or flags.
func Default() Config {
	return Config{
		EzklBinary:         "ezkl",
		PythonBinary:       "python3",
		ModelScript:        "script/create_model.py",
		WorkDir:            "proof_generation",
		SharedDir:          "proof_generation/shared_circuit",
		RegistryDir:        "proof_registry",
		ContractsSrcDir:    "contracts/src",
		ContractsScriptDir: "contracts/script",
		ModelVersion:       "1.0.0",
		StageTimeout:       Duration(10 * time.Minute),
		SRSTimeout:         Duration(30 * time.Minute),
	}
}

// Load reads a YAML config file and merges it over Default. Fields absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
