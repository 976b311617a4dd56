// Package subject canonicalizes the identifiers proofs are generated about.
// A subject string is used as a feature-table key, a filesystem namespace
// and a registry key, so two spellings of the same identifier must collapse
// to one canonical form.
package subject

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Normalize returns the canonical registry key for an identifier: the 0x
// prefix stripped and all hex digits lowercased. "0x2222..." and "2222..."
// normalize to the same key.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
}

// Equal reports whether two identifiers refer to the same subject after
// normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Validate checks that an identifier is non-empty and purely hexadecimal
// after normalization.
func Validate(id string) error {
	norm := Normalize(id)
	if norm == "" {
		return fmt.Errorf("empty subject identifier")
	}
	for _, c := range norm {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("subject %q: not a hex identifier", id)
		}
	}
	return nil
}

// Checksum renders an identifier in EIP-55 mixed-case form when it is a
// 40-digit address; anything else is returned in 0x-prefixed normalized
// form. Used for display and registry entry contents, never as a key.
func Checksum(id string) string {
	norm := Normalize(id)
	if len(norm) != 40 {
		return "0x" + norm
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(norm))
	digest := h.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := norm[i]
		// Uppercase a letter when the corresponding hash nibble is >= 8.
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}
