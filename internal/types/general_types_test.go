package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDStringIsCanonicalHyphenatedForm(t *testing.T) {
	var id UUID
	copy(id[:], []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef})
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", id.String())
}

func TestZeroUUIDStringIsAllZeros(t *testing.T) {
	var id UUID
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", id.String())
}
