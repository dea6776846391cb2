// Package checksum verifies the Fletcher-64 checksum that guards every
// physical and ephemeral APFS object.
package checksum

import "encoding/binary"

const maxUint32 = uint64(0xFFFFFFFF)

// chunkWords is the number of 32-bit words processed between modulo
// reductions, matching the reference algorithm's chunking.
const chunkWords = 1024

// Verify reports whether block holds a valid Fletcher-64 checksum in its
// first 8 bytes. block must be a whole, block-size-aligned buffer
// including the object header; its length must be a multiple of 4.
func Verify(block []byte) bool {
	if len(block) < 8 || len(block)%4 != 0 {
		return false
	}
	var stored [8]byte
	copy(stored[:], block[:8])

	scratch := make([]byte, len(block))
	copy(scratch, block)
	for i := range scratch[:8] {
		scratch[i] = 0
	}

	computed := fletcher64(scratch)
	return computed == stored
}

// Compute returns the Fletcher-64 checksum of block, which must have its
// own checksum field already zeroed by the caller.
func Compute(block []byte) [8]byte {
	return fletcher64(block)
}

func fletcher64(data []byte) [8]byte {
	var sum1, sum2 uint64

	for offset := 0; offset < len(data); offset += chunkWords * 4 {
		end := offset + chunkWords*4
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i+4 <= end; i += 4 {
			word := binary.LittleEndian.Uint32(data[i : i+4])
			sum1 += uint64(word)
			sum2 += sum1
		}
		sum1 %= maxUint32
		sum2 %= maxUint32
	}

	c1 := maxUint32 - ((sum1 + sum2) % maxUint32)
	c2 := maxUint32 - ((sum1 + c1) % maxUint32)

	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], (c2<<32)|c1)
	return out
}
