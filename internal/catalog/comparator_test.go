package catalog

import (
	"testing"

	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCompareOrdersByCnidThenKind(t *testing.T) {
	c := Comparator{}
	a := catalogKey(1, types.ApfsTypeInode)
	b := catalogKey(2, types.ApfsTypeInode)
	assert.Equal(t, -1, c.Compare(a, b))
	assert.Equal(t, 1, c.Compare(b, a))
	assert.Equal(t, 0, c.Compare(a, a))

	same := catalogKey(1, types.ApfsTypeDirRec)
	assert.Equal(t, -1, c.Compare(a, same))
}

func TestCompareSecondaryOrdersDentryNames(t *testing.T) {
	c := Comparator{}
	a := buildDrecHashedKey(1, "a\x00", 1)
	b := buildDrecHashedKey(1, "b\x00", 2)
	assert.Equal(t, -1, c.Compare(a, b))
}

func TestPrimaryMatchesOnCnidAndKindOnly(t *testing.T) {
	c := Comparator{}
	a := buildDrecHashedKey(1, "a\x00", 1)
	b := buildDrecHashedKey(1, "b\x00", 2)
	assert.True(t, c.Primary(a, b))

	d := catalogKey(1, types.ApfsTypeInode)
	assert.False(t, c.Primary(a, d))
}

func TestCaseFoldComparatorIgnoresCase(t *testing.T) {
	c := Comparator{CaseFold: true}
	a := buildDrecHashedKey(1, "A\x00", 1)
	b := buildDrecHashedKey(1, "a\x00", 1)
	assert.Equal(t, 0, c.Compare(a, b))
}
