package fold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameFoldsCase(t *testing.T) {
	assert.Equal(t, Name("Resume"), Name("resume"))
	assert.True(t, Equal("HELLO.txt", "hello.txt"))
	assert.False(t, Equal("hello.txt", "goodbye.txt"))
}

func TestNameDecomposesUnicode(t *testing.T) {
	composed := "caf\u00e9"        // precomposed e-acute
	decomposed := "cafe\u0301"     // plain e followed by a combining acute accent
	assert.NotEqual(t, composed, decomposed)
	assert.True(t, Equal(composed, decomposed))
}

func TestHashIsDeterministicAnd22Bit(t *testing.T) {
	h1 := Hash("hello", false)
	h2 := Hash("hello", false)
	assert.Equal(t, h1, h2)
	assert.LessOrEqual(t, h1, uint32(0x003fffff))
}

func TestHashCaseFoldMatchesOnlyWhenRequested(t *testing.T) {
	assert.Equal(t, Hash("HELLO", true), Hash("hello", true))
	assert.NotEqual(t, Hash("HELLO", false), Hash("hello", false))
}
