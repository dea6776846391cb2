package btree

import (
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/apfsck/internal/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixedKVLeaf builds a minimal 4096-byte leaf node with fixed-kv
// entries (key size 16, value size 16, matching the omap's shape), one
// record per (key,value) pair given.
func buildFixedKVLeaf(oid, xid uint64, pairs [][2][16]byte, flags uint16) []byte {
	block := make([]byte, 4096)
	binary.LittleEndian.PutUint64(block[8:16], oid)
	binary.LittleEndian.PutUint64(block[16:24], xid)
	binary.LittleEndian.PutUint16(block[32:34], flags)
	binary.LittleEndian.PutUint16(block[34:36], 0) // level
	binary.LittleEndian.PutUint32(block[36:40], uint32(len(pairs)))

	tocOff := 0
	tocLen := len(pairs) * 4
	binary.LittleEndian.PutUint16(block[40:42], uint16(tocOff))
	binary.LittleEndian.PutUint16(block[42:44], uint16(tocLen))

	keyAreaStart := dataStart + tocLen
	keyCursor := 0

	for i, p := range pairs {
		keyOff := keyCursor
		copy(block[keyAreaStart+keyOff:keyAreaStart+keyOff+16], p[0][:])
		keyCursor += 16

		entryOff := dataStart + tocOff + i*4
		binary.LittleEndian.PutUint16(block[entryOff:entryOff+2], uint16(keyOff))
	}

	// Values grow down from block end; place them in reverse record
	// order so value i sits right before value i-1.
	valCursor := 0
	for i := len(pairs) - 1; i >= 0; i-- {
		valCursor += 16
		start := len(block) - valCursor
		copy(block[start:start+16], pairs[i][1][:])
		entryOff := dataStart + tocOff + i*4
		binary.LittleEndian.PutUint16(block[entryOff+2:entryOff+4], uint16(valCursor))
	}

	for i := range block[:8] {
		block[i] = 0
	}
	sum := checksum.Compute(block)
	copy(block[0:8], sum[:])

	return block
}

func TestDecodeNodeRejectsZeroRecords(t *testing.T) {
	block := make([]byte, 4096)
	_, err := DecodeNode(block, 0, 0, 4096, 0)
	assert.Error(t, err)
}

func TestDecodeAndLocateFixedKVLeaf(t *testing.T) {
	var k1, v1, k2, v2 [16]byte
	binary.LittleEndian.PutUint64(k1[:8], 10)
	binary.LittleEndian.PutUint64(v1[:8], 111)
	binary.LittleEndian.PutUint64(k2[:8], 20)
	binary.LittleEndian.PutUint64(v2[:8], 222)

	flags := uint16(0x0004 | 0x0002 | 0x0001) // fixed-kv | leaf | root
	block := buildFixedKVLeaf(5, 1, [][2][16]byte{{k1, v1}, {k2, v2}}, flags)

	n, err := DecodeNode(block, 5, 1, 4096, 0)
	require.NoError(t, err)
	assert.True(t, n.IsLeaf())
	assert.True(t, n.HasFixedKV())
	assert.EqualValues(t, 2, n.Nkeys)

	loc := Locator{Fixed: true, KeySize: 16, LeafValSize: 16, NonleafValSize: 8}

	rec0, err := Locate(n, loc, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), binary.LittleEndian.Uint64(rec0.Key[:8]))
	assert.Equal(t, uint64(111), binary.LittleEndian.Uint64(rec0.Value[:8]))

	rec1, err := Locate(n, loc, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), binary.LittleEndian.Uint64(rec1.Key[:8]))
	assert.Equal(t, uint64(222), binary.LittleEndian.Uint64(rec1.Value[:8]))
}

func TestLocateRejectsOutOfRangeIndex(t *testing.T) {
	var k1, v1 [16]byte
	binary.LittleEndian.PutUint64(k1[:8], 10)
	binary.LittleEndian.PutUint64(v1[:8], 111)
	block := buildFixedKVLeaf(1, 1, [][2][16]byte{{k1, v1}}, 0x0004|0x0002)

	n, err := DecodeNode(block, 1, 1, 4096, 0)
	require.NoError(t, err)

	loc := Locator{Fixed: true, KeySize: 16, LeafValSize: 16, NonleafValSize: 8}
	_, err = Locate(n, loc, 5)
	assert.Error(t, err)
}
