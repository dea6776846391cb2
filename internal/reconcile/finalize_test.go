package reconcile

import (
	"testing"

	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeInodeRequiresInodeRecord(t *testing.T) {
	tb := New()
	tb.GetOrCreateInode(7) // referenced but never visited as ApfsTypeInode
	assert.Error(t, tb.Finalize())
}

func TestFinalizeInodeDirectoryLinkAndChildCounts(t *testing.T) {
	tb := New()
	e := tb.GetOrCreateInode(2)
	e.Seen = true
	e.Mode = types.SIfdir
	e.DeclaredNchildrenNlink = 2
	e.ObservedLinkCount = 1
	e.ObservedChildCount = 2
	e.PrimaryName = "dir"
	require.NoError(t, tb.Finalize())
}

func TestFinalizeInodeRejectsWrongChildCount(t *testing.T) {
	tb := New()
	e := tb.GetOrCreateInode(2)
	e.Seen = true
	e.Mode = types.SIfdir
	e.DeclaredNchildrenNlink = 3
	e.ObservedLinkCount = 1
	e.ObservedChildCount = 2
	e.PrimaryName = "dir"
	assert.Error(t, tb.Finalize())
}

func TestFinalizeInodeRequiresPrimaryName(t *testing.T) {
	tb := New()
	e := tb.GetOrCreateInode(3)
	e.Seen = true
	e.Mode = types.SIfreg
	e.DeclaredNchildrenNlink = 1
	e.ObservedLinkCount = 1
	assert.Error(t, tb.Finalize())
}

func TestFinalizeDstreamRefcntMismatch(t *testing.T) {
	tb := New()
	d := tb.GetOrCreateDstream(9)
	d.Seen = true
	d.Refcnt = 2
	d.RecordOwner(1)
	assert.Error(t, tb.Finalize())
}

func TestFinalizeDstreamAttachedExtentMustExist(t *testing.T) {
	tb := New()
	d := tb.GetOrCreateDstream(9)
	d.Seen = true
	d.Refcnt = 1
	d.RecordOwner(1)
	d.AttachExtent(100, 4)
	assert.Error(t, tb.Finalize())
}

func TestFinalizeExtentReferenceCountMatches(t *testing.T) {
	tb := New()
	d := tb.GetOrCreateDstream(9)
	d.Seen = true
	d.Refcnt = 1
	d.RecordOwner(1)
	d.AttachExtent(100, 4)

	ext := tb.GetOrCreateExtent(100)
	ext.Length = 4
	ext.Refcnt = 1

	require.NoError(t, tb.Finalize())
}

func TestFirstSiblingId(t *testing.T) {
	siblings := map[uint64]*SiblingEntry{5: {Id: 5}, 2: {Id: 2}}
	id, ok := firstSiblingId(siblings)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)

	_, ok = firstSiblingId(nil)
	assert.False(t, ok)
}
