package catalog

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/apfsck/internal/fold"
	"github.com/deploymenttheory/apfsck/internal/reconcile"
	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestWalker() *Walker {
	return New(reconcile.New(), Options{NextDocId: 100, BlockSize: 4096}, discardLogger())
}

func TestDtToModeRoundtrips(t *testing.T) {
	pairs := map[uint16]types.ModeT{
		types.DtFifo: types.SIfifo,
		types.DtChr:  types.SIfchr,
		types.DtDir:  types.SIfdir,
		types.DtBlk:  types.SIfblk,
		types.DtReg:  types.SIfreg,
		types.DtLnk:  types.SIflnk,
		types.DtSock: types.SIfsock,
		types.DtWht:  types.SIfwht,
	}
	for dt, mode := range pairs {
		assert.Equal(t, mode, dtToMode(dt))
	}
	assert.Equal(t, types.ModeT(0), dtToMode(types.DtUnknown))
}

func TestVisitInodeRejectsUnrecognisedFileType(t *testing.T) {
	w := newTestWalker()
	v := buildInodeValue(1, types.ModeT(0), 0, nil)
	assert.Error(t, w.visitInode(1, v))
}

func TestVisitInodeAccumulatesCounters(t *testing.T) {
	w := newTestWalker()
	v := buildInodeValue(1, types.SIfreg, 1, nil)
	require.NoError(t, w.visitInode(5, v))
	assert.EqualValues(t, 1, w.tables.Counters.Files)
	assert.True(t, w.tables.Inodes[5].Seen)
}

func TestVisitInodeRejectsDuplicateRecord(t *testing.T) {
	w := newTestWalker()
	v := buildInodeValue(1, types.SIfreg, 1, nil)
	require.NoError(t, w.visitInode(5, v))
	assert.Error(t, w.visitInode(5, v))
}

func TestVisitInodeDocumentIdOutOfRange(t *testing.T) {
	w := newTestWalker()
	xfields := buildXfieldBlob([]xfieldEntry{{Type: types.InoExtTypeDocumentId, Data: []byte{1, 0, 0, 0}}})
	v := buildInodeValue(1, types.SIfreg, 1, xfields)
	assert.Error(t, w.visitInode(5, v))
}

func TestVisitInodeSparseBytesRequiresFlag(t *testing.T) {
	w := newTestWalker()
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, 10)
	xfields := buildXfieldBlob([]xfieldEntry{{Type: types.InoExtTypeSparseBytes, Data: data}})
	v := buildInodeValue(1, types.SIfreg, 1, xfields)
	assert.Error(t, w.visitInode(5, v))
}

func buildDrecValue(fileId uint64, flags uint16) []byte {
	v := make([]byte, 18)
	binary.LittleEndian.PutUint64(v[0:8], fileId)
	binary.LittleEndian.PutUint16(v[16:18], flags)
	return v
}

func TestVisitDentryBumpsLinkAndChildCounts(t *testing.T) {
	w := newTestWalker()
	inodeVal := buildInodeValue(1, types.SIfreg, 1, nil)
	require.NoError(t, w.visitInode(20, inodeVal))

	key := buildDrecHashedKey(10, "a.txt\x00", fold.Hash("a.txt", false))
	val := buildDrecValue(20, uint16(types.DtReg))
	require.NoError(t, w.visitDentry(10, key, val))

	assert.EqualValues(t, 1, w.tables.Inodes[20].ObservedLinkCount)
	assert.EqualValues(t, 1, w.tables.Inodes[10].ObservedChildCount)
	assert.Equal(t, "a.txt", w.tables.Inodes[20].PrimaryName)
}

func TestVisitDentryRejectsBadHash(t *testing.T) {
	w := newTestWalker()
	key := buildDrecHashedKey(10, "a.txt\x00", 0xdead)
	val := buildDrecValue(20, uint16(types.DtReg))
	assert.Error(t, w.visitDentry(10, key, val))
}

func TestVisitDentryRejectsModeMismatch(t *testing.T) {
	w := newTestWalker()
	inodeVal := buildInodeValue(1, types.SIfdir, 1, nil)
	require.NoError(t, w.visitInode(20, inodeVal))

	key := buildDrecHashedKey(10, "a.txt\x00", fold.Hash("a.txt", false))
	val := buildDrecValue(20, uint16(types.DtReg))
	assert.Error(t, w.visitDentry(10, key, val))
}

func buildFileExtentKeyValue(cnid, logicalAddr, length, physBlock uint64) ([]byte, []byte) {
	k := make([]byte, 16)
	binary.LittleEndian.PutUint64(k[0:8], cnid|uint64(types.ApfsTypeFileExtent)<<types.ObjTypeShift)
	binary.LittleEndian.PutUint64(k[8:16], logicalAddr)

	v := make([]byte, 24)
	binary.LittleEndian.PutUint64(v[0:8], length&types.JFileExtentLenMask)
	binary.LittleEndian.PutUint64(v[8:16], physBlock)
	return k, v
}

func TestVisitFileExtentRequiresConsecutiveOffsets(t *testing.T) {
	w := newTestWalker()
	k, v := buildFileExtentKeyValue(1, 4096, 4096, 10)
	assert.Error(t, w.visitFileExtent(1, k, v))
}

func TestVisitFileExtentTracksLogicalBytesAndExtents(t *testing.T) {
	w := newTestWalker()
	k, v := buildFileExtentKeyValue(1, 0, 4096, 10)
	require.NoError(t, w.visitFileExtent(1, k, v))

	d := w.tables.Dstreams[1]
	assert.EqualValues(t, 4096, d.LogicalBytes)
	assert.EqualValues(t, 4096, d.NextLogicalOffset)
	require.Len(t, d.AttachedExtents(), 1)
}

func TestVisitFileExtentRejectsNonBlockMultiple(t *testing.T) {
	w := newTestWalker()
	k, v := buildFileExtentKeyValue(1, 0, 100, 10)
	assert.Error(t, w.visitFileExtent(1, k, v))
}

func buildPhysExtValue(length uint64, kind types.JObjKinds, owner uint64, refcnt int32) []byte {
	v := make([]byte, 20)
	binary.LittleEndian.PutUint64(v[0:8], length|uint64(kind)<<types.PextKindShift)
	binary.LittleEndian.PutUint64(v[8:16], owner)
	binary.LittleEndian.PutUint32(v[16:20], uint32(refcnt))
	return v
}

func TestVisitPhysExtentRejectsZeroLength(t *testing.T) {
	w := newTestWalker()
	v := buildPhysExtValue(0, types.ApfsKindNew, 99, 1)
	assert.Error(t, w.visitPhysExtent(10, v))
}

func TestVisitPhysExtentStoresEntry(t *testing.T) {
	w := newTestWalker()
	v := buildPhysExtValue(4, types.ApfsKindNew, 99, 3)
	require.NoError(t, w.visitPhysExtent(10, v))
	e := w.tables.Extents[10]
	assert.EqualValues(t, 4, e.Length)
	assert.EqualValues(t, 3, e.Refcnt)
}

func TestVisitPhysExtentRejectsInvalidOwnerKindCombination(t *testing.T) {
	w := newTestWalker()
	v := buildPhysExtValue(4, types.ApfsKindNew, types.OwningObjIdInvalid, 1)
	assert.Error(t, w.visitPhysExtent(10, v))
}

func TestSnapshotPairingRequiresBothHalves(t *testing.T) {
	w := newTestWalker()
	w.snapMetaSeen[1] = true
	assert.Error(t, w.checkSnapshotPairing())

	w2 := newTestWalker()
	w2.snapNameXid["snap1"] = 1
	assert.Error(t, w2.checkSnapshotPairing())

	w3 := newTestWalker()
	w3.snapMetaSeen[1] = true
	w3.snapNameXid["snap1"] = 1
	assert.NoError(t, w3.checkSnapshotPairing())
}

