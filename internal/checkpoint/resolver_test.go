package checkpoint

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/apfsck/internal/checksum"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func putSuperblock(block []byte, oid, xid uint64, objType uint32, subtype uint32,
	descBase, descBlocks, dataBase, dataBlocks, descNext, dataNext, descIndex, descLen, dataIndex, dataLen uint32,
	incompat uint64) {
	binary.LittleEndian.PutUint64(block[8:16], oid)
	binary.LittleEndian.PutUint64(block[16:24], xid)
	binary.LittleEndian.PutUint32(block[24:28], objType)
	binary.LittleEndian.PutUint32(block[28:32], subtype)
	binary.LittleEndian.PutUint32(block[offMagic:], types.NxMagic)
	binary.LittleEndian.PutUint32(block[offBlockSize:], testBlockSize)
	binary.LittleEndian.PutUint64(block[offIncompat:], incompat)
	binary.LittleEndian.PutUint32(block[offXpDescBlocks:], descBlocks)
	binary.LittleEndian.PutUint32(block[offXpDataBlocks:], dataBlocks)
	binary.LittleEndian.PutUint64(block[offXpDescBase:], uint64(descBase))
	binary.LittleEndian.PutUint64(block[offXpDataBase:], uint64(dataBase))
	binary.LittleEndian.PutUint32(block[offXpDescNext:], descNext)
	binary.LittleEndian.PutUint32(block[offXpDataNext:], dataNext)
	binary.LittleEndian.PutUint32(block[offXpDescIndex:], descIndex)
	binary.LittleEndian.PutUint32(block[offXpDescLen:], descLen)
	binary.LittleEndian.PutUint32(block[offXpDataIndex:], dataIndex)
	binary.LittleEndian.PutUint32(block[offXpDataLen:], dataLen)
}

func finalizeChecksum(block []byte) {
	for i := range block[:8] {
		block[i] = 0
	}
	sum := checksum.Compute(block)
	copy(block[0:8], sum[:])
}

// buildSimpleImage builds a 7-block, non-fusion container image whose
// block zero mirrors the single committed checkpoint at blocks 1 (an
// empty checkpoint-map) and 2 (the checkpoint superblock, xid 5), as a
// clean unmount would leave it, matching the descriptor-ring layout the
// resolver is expected to replay.
func buildSimpleImage(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 7*testBlockSize)

	block0 := buf[0*testBlockSize : 1*testBlockSize]
	putSuperblock(block0, uint64(types.OidNxSuperblock), 5, types.ObjectTypeNxSuperblock, 0,
		1, 4, 5, 2, 2, 0, 0, 2, 0, 0, 0)
	finalizeChecksum(block0)

	mapBlock := buf[1*testBlockSize : 2*testBlockSize]
	binary.LittleEndian.PutUint64(mapBlock[8:16], 2) // oid, arbitrary for a map block
	binary.LittleEndian.PutUint32(mapBlock[24:28], types.ObjectTypeCheckpointMap)
	binary.LittleEndian.PutUint32(mapBlock[32:36], types.CheckpointMapLast)
	binary.LittleEndian.PutUint32(mapBlock[36:40], 0) // cpm_count = 0

	sbBlock := buf[2*testBlockSize : 3*testBlockSize]
	putSuperblock(sbBlock, 2, 5, types.ObjectTypeNxSuperblock|0x80000000, types.ObjectTypeInvalid,
		1, 4, 5, 2, 2, 0, 0, 2, 0, 0, 0)
	finalizeChecksum(sbBlock)

	dir := t.TempDir()
	path := filepath.Join(dir, "container.img")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestResolveSelectsLatestCheckpointAndRebuildsEphemeralMap(t *testing.T) {
	path := buildSimpleImage(t)

	r, result, err := Resolve(path, "", discardLogger())
	require.NoError(t, err)
	defer r.Close()

	require.EqualValues(t, 5, result.Superblock.NxO.OXid)
	require.EqualValues(t, 2, result.SuperblockAddr)
	require.Empty(t, result.Ephemeral)
}

func TestResolveRejectsBlockZeroWithBadMagic(t *testing.T) {
	path := buildSimpleImage(t)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[offMagic:], 0)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, _, err = Resolve(path, "", discardLogger())
	require.Error(t, err)
}

// buildRingSelectionImage builds an 11-block image with two independent
// committed checkpoints in the descriptor ring: one at slots 0-1 (oid 2,
// xid 10) and one at slots 2-3 (oid 4, xid 11). Block zero mirrors the
// higher-xid checkpoint, as a clean unmount would leave it.
func buildRingSelectionImage(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 11*testBlockSize)

	block0 := buf[0*testBlockSize : 1*testBlockSize]
	putSuperblock(block0, uint64(types.OidNxSuperblock), 11, types.ObjectTypeNxSuperblock, 0,
		1, 8, 9, 2, 4, 0, 2, 2, 0, 0, 0)
	finalizeChecksum(block0)

	mapA := buf[1*testBlockSize : 2*testBlockSize]
	binary.LittleEndian.PutUint64(mapA[8:16], 100)
	binary.LittleEndian.PutUint32(mapA[24:28], types.ObjectTypeCheckpointMap)
	binary.LittleEndian.PutUint32(mapA[32:36], types.CheckpointMapLast)
	binary.LittleEndian.PutUint32(mapA[36:40], 0)

	sbA := buf[2*testBlockSize : 3*testBlockSize]
	putSuperblock(sbA, 2, 10, types.ObjectTypeNxSuperblock|0x80000000, types.ObjectTypeInvalid,
		1, 8, 9, 2, 2, 0, 0, 2, 0, 0, 0)
	finalizeChecksum(sbA)

	mapB := buf[3*testBlockSize : 4*testBlockSize]
	binary.LittleEndian.PutUint64(mapB[8:16], 101)
	binary.LittleEndian.PutUint32(mapB[24:28], types.ObjectTypeCheckpointMap)
	binary.LittleEndian.PutUint32(mapB[32:36], types.CheckpointMapLast)
	binary.LittleEndian.PutUint32(mapB[36:40], 0)

	sbB := buf[4*testBlockSize : 5*testBlockSize]
	putSuperblock(sbB, 4, 11, types.ObjectTypeNxSuperblock|0x80000000, types.ObjectTypeInvalid,
		1, 8, 9, 2, 4, 0, 2, 2, 0, 0, 0)
	finalizeChecksum(sbB)

	return buf
}

// TestResolveSelectsStrictlyGreaterRingXidOverBlockZero covers the tie
// the resolver used to lose: block zero's xid equals the ring's best
// candidate's xid, and only a ring entry may win the race.
func TestResolveSelectsStrictlyGreaterRingXidOverBlockZero(t *testing.T) {
	buf := buildRingSelectionImage(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "container.img")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	r, result, err := Resolve(path, "", discardLogger())
	require.NoError(t, err)
	defer r.Close()

	require.EqualValues(t, 11, result.Superblock.NxO.OXid)
	require.EqualValues(t, 4, result.SuperblockAddr)
}

// TestResolveReportsCrashSignatureWhenBlockZeroOutlivesTheRing covers the
// second half of the same scenario: once the higher-xid checkpoint's
// descriptor is corrupted, the ring falls back to the older checkpoint,
// but block zero (still mirroring the newer one) no longer matches it —
// the signature of an unclean shutdown.
func TestResolveReportsCrashSignatureWhenBlockZeroOutlivesTheRing(t *testing.T) {
	buf := buildRingSelectionImage(t)
	sbB := buf[4*testBlockSize : 5*testBlockSize]
	sbB[0] ^= 0xff // corrupt the checksum so the ring rejects it

	dir := t.TempDir()
	path := filepath.Join(dir, "container.img")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, _, err := Resolve(path, "", discardLogger())
	require.Error(t, err)
	var crash *report.CrashSignature
	require.ErrorAs(t, err, &crash)
	require.Equal(t, "the filesystem was not unmounted cleanly", crash.What)
}
