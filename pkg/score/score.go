// Package score extracts the single committed public output value from the
// external prover's result documents. The tool's output schema is not
// stable across versions: the committed value may appear as a raw
// little-endian field element in the proof's instance array, as a raw hex
// string in the witness outputs, or as a pre-rescaled decimal in the
// witness "pretty" section. The decoder tries a fixed priority order and
// uses exactly one path's result; a malformed field falls through to the
// next path instead of decoding to a silent zero.
package score

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Scale converts a rescaled floating score into its on-chain integer
// representation.
const Scale = 1000

// DefaultScore is the degraded-mode result used when no extraction path
// locates a usable field. It is always carried with Fallback set so the
// persisted record can distinguish it from a genuine extraction.
const DefaultScore = 500

// Source identifies which extraction path produced a score.
type Source string

const (
	SourceInstance    Source = "proof-instance"
	SourceRawOutput   Source = "witness-output-hex"
	SourceRescaledStr Source = "rescaled-string"
	SourceRescaledNum Source = "rescaled-float"
	SourceDefault     Source = "default"
)

// Extraction is a decoded public output value plus its provenance.
type Extraction struct {
	Score    uint32
	Source   Source
	Fallback bool
}

type proofDoc struct {
	Instances [][]json.RawMessage `json:"instances"`
}

type witnessDoc struct {
	Outputs        [][]json.RawMessage `json:"outputs"`
	PrettyElements struct {
		RescaledOutputs [][]json.RawMessage `json:"rescaled_outputs"`
	} `json:"pretty_elements"`
}

// Extract decodes the committed score from the proof and witness documents.
// Paths are tried in fixed priority order; the first that yields a value
// wins and later fields are never consulted, even when present.
func Extract(proofJSON, witnessJSON []byte) Extraction {
	var proof proofDoc
	_ = json.Unmarshal(proofJSON, &proof)
	var witness witnessDoc
	_ = json.Unmarshal(witnessJSON, &witness)

	if s, ok := firstString(proof.Instances); ok {
		if v, err := DecodeInstance(s); err == nil {
			return Extraction{Score: v, Source: SourceInstance}
		}
	}

	if s, ok := firstString(witness.Outputs); ok {
		if v, err := decodeRawOutput(s); err == nil {
			return Extraction{Score: v, Source: SourceRawOutput}
		}
	}

	if raw, ok := first(witness.PrettyElements.RescaledOutputs); ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if v, err := rescale(s); err == nil {
				return Extraction{Score: v, Source: SourceRescaledStr}
			}
		} else {
			var f float64
			if err := json.Unmarshal(raw, &f); err == nil {
				if v, err := rescaleFloat(f); err == nil {
					return Extraction{Score: v, Source: SourceRescaledNum}
				}
			}
		}
	}

	return Extraction{Score: DefaultScore, Source: SourceDefault, Fallback: true}
}

// DecodeInstance parses a public-instance field element: optional 0x
// prefix, hex digits encoding the value least-significant-byte first. The
// bytes are reversed and parsed as an unsigned integer. Full-width values
// are additionally checked to be canonical BN254 scalar field elements.
func DecodeInstance(s string) (uint32, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if h == "" {
		return 0, fmt.Errorf("empty instance value")
	}
	if len(h)%2 != 0 {
		h = "0" + h
	}
	le, err := hex.DecodeString(h)
	if err != nil {
		return 0, fmt.Errorf("instance hex: %w", err)
	}

	// Little-endian on the wire; reverse into big-endian for parsing.
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}

	v := new(big.Int).SetBytes(be)
	if len(be) == fr.Bytes && v.Cmp(fr.Modulus()) >= 0 {
		return 0, fmt.Errorf("instance %s is not a canonical field element", s)
	}
	if !v.IsUint64() || v.Uint64() > math.MaxUint32 {
		return 0, fmt.Errorf("instance value %s out of score range", v)
	}
	return uint32(v.Uint64()), nil
}

// decodeRawOutput parses a raw witness output hex string. Only the first
// two bytes carry the score and, unlike the instance path, no byte
// reversal is applied. The asymmetry matches the external tool's observed
// output encoding; see the cross-validation test pinning both conventions.
func decodeRawOutput(s string) (uint32, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(h) < 4 {
		return 0, fmt.Errorf("output hex %q too short", s)
	}
	v, err := strconv.ParseUint(h[:4], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("output hex: %w", err)
	}
	return uint32(v), nil
}

func rescale(s string) (uint32, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("rescaled output: %w", err)
	}
	return rescaleFloat(f)
}

func rescaleFloat(f float64) (uint32, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("rescaled output is %v", f)
	}
	scaled := math.Round(f * Scale)
	if scaled < 0 || scaled > math.MaxUint32 {
		return 0, fmt.Errorf("rescaled output %v out of score range", f)
	}
	return uint32(scaled), nil
}

// ScalingFactor is the diagnostic ratio between the extracted public input
// and the metadata's scaled score, guarded against division by zero. It is
// advisory only: it exists to detect encoding drift between tool versions.
func ScalingFactor(extracted, metadataScaled uint32) float64 {
	if metadataScaled == 0 {
		return 0
	}
	return float64(extracted) / float64(metadataScaled)
}

// ScaleOriginal converts an original floating score to the integer scaling
// recorded in metadata sidecars.
func ScaleOriginal(original float64) uint32 {
	scaled := math.Round(original * Scale)
	if scaled < 0 {
		return 0
	}
	if scaled > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(scaled)
}

func first(rows [][]json.RawMessage) (json.RawMessage, bool) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, false
	}
	return rows[0][0], true
}

func firstString(rows [][]json.RawMessage) (string, bool) {
	raw, ok := first(rows)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
