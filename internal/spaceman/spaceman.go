// Package spaceman reads just enough of the space manager's ephemeral
// object to type-check it; full bitmap/free-queue verification is out
// of scope (§4.10's closing sentence).
package spaceman

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

const (
	offBlockSize      = 32
	offBlocksPerChunk = 36
	offChunksPerCib   = 40
	offCibsPerCab     = 44
	offDev            = 48
	devEntrySize      = 56
	prefixSize        = offDev + int(types.SdCount)*devEntrySize
)

// Device is the shallow-decoded subset of one spaceman_device_t entry.
type Device struct {
	BlockCount uint64
	ChunkCount uint64
	CibCount   uint32
	CabCount   uint32
	FreeCount  uint64
}

// Summary is the shallow-decoded prefix of spaceman_phys_t.
type Summary struct {
	BlockSize      uint32
	BlocksPerChunk uint32
	ChunksPerCib   uint32
	CibsPerCab     uint32
	Main           Device
	Tier2          Device
}

// Check decodes the fixed prefix of the space manager object at block
// and sanity-checks it against the container's own block size: the
// manager's block size must agree with the container's, and its
// chunk/cib/cab ratios must be nonzero. It never reads a chunk-info
// block, a cib, or a cab.
func Check(block []byte, containerBlockSize uint32) (Summary, error) {
	if len(block) < prefixSize {
		return Summary{}, &report.Corruption{What: "block too small to hold a space manager header"}
	}

	s := Summary{
		BlockSize:      binary.LittleEndian.Uint32(block[offBlockSize:]),
		BlocksPerChunk: binary.LittleEndian.Uint32(block[offBlocksPerChunk:]),
		ChunksPerCib:   binary.LittleEndian.Uint32(block[offChunksPerCib:]),
		CibsPerCab:     binary.LittleEndian.Uint32(block[offCibsPerCab:]),
	}
	s.Main = decodeDevice(block[offDev+int(types.SdMain)*devEntrySize:])
	s.Tier2 = decodeDevice(block[offDev+int(types.SdTier2)*devEntrySize:])

	if s.BlockSize != containerBlockSize {
		return Summary{}, &report.Corruption{What: fmt.Sprintf("space manager block size %d does not match container block size %d", s.BlockSize, containerBlockSize)}
	}
	if s.BlocksPerChunk == 0 || s.ChunksPerCib == 0 || s.CibsPerCab == 0 {
		return Summary{}, &report.Corruption{What: "space manager has a zero chunk/cib/cab ratio"}
	}

	return s, nil
}

func decodeDevice(b []byte) Device {
	return Device{
		BlockCount: binary.LittleEndian.Uint64(b[0:8]),
		ChunkCount: binary.LittleEndian.Uint64(b[8:16]),
		CibCount:   binary.LittleEndian.Uint32(b[16:20]),
		CabCount:   binary.LittleEndian.Uint32(b[20:24]),
		FreeCount:  binary.LittleEndian.Uint64(b[24:32]),
	}
}
