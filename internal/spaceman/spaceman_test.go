package spaceman

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func putDevice(b []byte, blockCount, chunkCount uint64, cibCount, cabCount uint32, freeCount uint64) {
	binary.LittleEndian.PutUint64(b[0:8], blockCount)
	binary.LittleEndian.PutUint64(b[8:16], chunkCount)
	binary.LittleEndian.PutUint32(b[16:20], cibCount)
	binary.LittleEndian.PutUint32(b[20:24], cabCount)
	binary.LittleEndian.PutUint64(b[24:32], freeCount)
}

func buildBlock() []byte {
	block := make([]byte, testBlockSize)
	binary.LittleEndian.PutUint32(block[offBlockSize:], testBlockSize)
	binary.LittleEndian.PutUint32(block[offBlocksPerChunk:], 8192)
	binary.LittleEndian.PutUint32(block[offChunksPerCib:], 1)
	binary.LittleEndian.PutUint32(block[offCibsPerCab:], 1)
	putDevice(block[offDev:], 1000, 10, 1, 0, 400)
	putDevice(block[offDev+devEntrySize:], 0, 0, 0, 0, 0)
	return block
}

func TestCheckAccepts(t *testing.T) {
	block := buildBlock()
	s, err := Check(block, testBlockSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(testBlockSize), s.BlockSize)
	assert.Equal(t, uint32(8192), s.BlocksPerChunk)
	assert.Equal(t, uint64(1000), s.Main.BlockCount)
	assert.Equal(t, uint64(400), s.Main.FreeCount)
}

func TestCheckRejectsBlockSizeMismatch(t *testing.T) {
	block := buildBlock()
	_, err := Check(block, 512)
	require.Error(t, err)
}

func TestCheckRejectsZeroRatio(t *testing.T) {
	block := buildBlock()
	binary.LittleEndian.PutUint32(block[offChunksPerCib:], 0)
	_, err := Check(block, testBlockSize)
	require.Error(t, err)
}

func TestCheckRejectsShortBlock(t *testing.T) {
	_, err := Check(make([]byte, 16), testBlockSize)
	require.Error(t, err)
}
