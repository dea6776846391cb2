package reconcile

import (
	"testing"

	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkCnidSeenAllowsInodeDstreamSharing(t *testing.T) {
	tb := New()
	require.NoError(t, tb.MarkCnidSeen(10, types.ApfsTypeInode))
	require.NoError(t, tb.MarkCnidSeen(10, types.ApfsTypeDstreamId))
	require.NoError(t, tb.MarkCnidSeen(10, types.ApfsTypeInode))
}

func TestMarkCnidSeenRejectsOtherCollisions(t *testing.T) {
	tb := New()
	require.NoError(t, tb.MarkCnidSeen(10, types.ApfsTypeInode))
	assert.Error(t, tb.MarkCnidSeen(10, types.ApfsTypeDirRec))
}

func TestGetOrCreateInodeIsStable(t *testing.T) {
	tb := New()
	a := tb.GetOrCreateInode(1)
	a.PrimaryName = "foo"
	b := tb.GetOrCreateInode(1)
	assert.Equal(t, "foo", b.PrimaryName)
}

func TestInodeEntryIsDir(t *testing.T) {
	e := &InodeEntry{Mode: types.SIfdir}
	assert.True(t, e.IsDir())
	e.Mode = types.SIfreg
	assert.False(t, e.IsDir())
}

func TestDstreamRecordOwnerDeduplicates(t *testing.T) {
	d := &DstreamEntry{observedOwners: make(map[uint64]bool)}
	d.RecordOwner(5)
	d.RecordOwner(5)
	d.RecordOwner(6)
	assert.Len(t, d.observedOwners, 2)
}

func TestExtentRecordReferenceCounts(t *testing.T) {
	e := &ExtentEntry{}
	e.RecordReference()
	e.RecordReference()
	assert.Equal(t, 2, e.observedOwners)
}

func TestSortedUint64KeysAscending(t *testing.T) {
	m := map[uint64]bool{5: true, 1: true, 3: true}
	assert.Equal(t, []uint64{1, 3, 5}, sortedUint64Keys(m))
}
