// Package circuit owns the circuit-setup artifacts shared by every proof
// request for one model version: the model, its settings, the compiled
// circuit, the proving and verification keys and the structured reference
// string. Building them is expensive, so they are built at most once per
// run and reused by every subject.
package circuit

import (
	"fmt"
	"os"
	"path/filepath"
)

// Canonical file names inside the shared resources directory.
const (
	ModelFile    = "credit_model.onnx"
	SettingsFile = "settings.json"
	CompiledFile = "model.compiled"
	ProvingKey   = "pk.key"
	VerifyingKey = "vk.key"
	SRSFile      = "kzg.srs"
)

// Resources describes the shared artifact set by canonical absolute path.
// All per-subject proof runs within one pipeline execution must reference
// the same Resources value.
type Resources struct {
	Dir          string
	ModelPath    string
	SettingsPath string
	CompiledPath string
	PKPath       string
	VKPath       string
	SRSPath      string
}

// Paths resolves the canonical resource layout under dir.
func Paths(dir string) (*Resources, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve shared dir: %w", err)
	}
	return &Resources{
		Dir:          abs,
		ModelPath:    filepath.Join(abs, ModelFile),
		SettingsPath: filepath.Join(abs, SettingsFile),
		CompiledPath: filepath.Join(abs, CompiledFile),
		PKPath:       filepath.Join(abs, ProvingKey),
		VKPath:       filepath.Join(abs, VerifyingKey),
		SRSPath:      filepath.Join(abs, SRSFile),
	}, nil
}

// Ready reports whether every shared resource file is present. Artifacts
// are renamed into place only after their producing stage succeeds, so
// presence implies completeness.
func (r *Resources) Ready() bool {
	for _, p := range r.files() {
		if !exists(p) {
			return false
		}
	}
	return true
}

func (r *Resources) files() []string {
	return []string{r.ModelPath, r.SettingsPath, r.CompiledPath, r.PKPath, r.VKPath, r.SRSPath}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
