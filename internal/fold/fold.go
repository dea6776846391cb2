// Package fold implements the canonical name comparison used by
// case-insensitive, normalisation-insensitive volumes: Unicode
// canonical decomposition followed by simple case folding, matching
// the case-folding behaviour the volume's feature flags describe as
// "the file system's own normalisation."
package fold

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Name reduces a file or directory name to its canonical comparison
// form. Two names fold to the same value exactly when a
// case-insensitive, normalisation-insensitive volume would treat them
// as identical.
func Name(name string) string {
	return strings.ToLower(norm.NFD.String(name))
}

// Equal reports whether a and b fold to the same canonical name.
func Equal(a, b string) bool {
	return Name(a) == Name(b)
}

// Hash computes the 22-bit djb2-style name hash directory-entry hashed
// keys carry alongside the name length. caseFold selects whether the
// volume additionally folds case before hashing, on top of the
// mandatory Unicode normalisation every hashed-key tree applies.
//
// No pack library implements this hash; it is APFS's own scheme, not a
// general-purpose one, so there is nothing in the ecosystem to reach
// for here.
func Hash(name string, caseFold bool) uint32 {
	normalized := norm.NFD.String(name)
	if caseFold {
		normalized = strings.ToLower(normalized)
	}

	var hash uint32 = 5381
	for _, b := range []byte(normalized) {
		hash = ((hash << 5) + hash) + uint32(b)
	}
	return hash & 0x003fffff
}
