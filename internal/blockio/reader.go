// Package blockio maps physical block addresses to fixed-size block
// buffers, splitting requests across a main device and an optional
// Fusion tier-2 device.
package blockio

import (
	"fmt"
	"io"
	"os"

	"github.com/deploymenttheory/apfsck/internal/types"
)

// IoError reports a read failure against a device: past end-of-device,
// a short read, or an underlying OS error.
type IoError struct {
	Paddr types.Paddr
	Err   error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("I/O error reading block %d: %v", e.Paddr, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// MissingTier2 is returned when an address falls in tier-2 territory but
// no tier-2 device was opened.
type MissingTier2 struct {
	Paddr types.Paddr
}

func (e *MissingTier2) Error() string {
	return "Address in missing tier 2 device."
}

// Block is an immutable block-sized buffer read from a device.
type Block []byte

// Reader reads fixed-size blocks from a main device and, for Fusion
// containers, a tier-2 device. It holds no cache: every ReadBlock call
// is a fresh positional read, since a cached stale block could hide a
// corruption that a second, independent read would have caught.
type Reader struct {
	main      *os.File
	tier2     *os.File
	blockSize uint32
	mainSize  uint64
	tier2Size uint64
}

// Open opens the main device (and, if tier2Path is non-empty, the
// tier-2 device) for positional reads at the given block size.
func Open(mainPath string, tier2Path string, blockSize uint32) (*Reader, error) {
	main, err := os.Open(mainPath)
	if err != nil {
		return nil, fmt.Errorf("open main device: %w", err)
	}
	mainInfo, err := main.Stat()
	if err != nil {
		main.Close()
		return nil, fmt.Errorf("stat main device: %w", err)
	}

	r := &Reader{
		main:      main,
		blockSize: blockSize,
		mainSize:  uint64(mainInfo.Size()),
	}

	if tier2Path != "" {
		tier2, err := os.Open(tier2Path)
		if err != nil {
			main.Close()
			return nil, fmt.Errorf("open tier-2 device: %w", err)
		}
		tier2Info, err := tier2.Stat()
		if err != nil {
			main.Close()
			tier2.Close()
			return nil, fmt.Errorf("stat tier-2 device: %w", err)
		}
		r.tier2 = tier2
		r.tier2Size = uint64(tier2Info.Size())
	}

	return r, nil
}

// HasTier2 reports whether a tier-2 device was opened.
func (r *Reader) HasTier2() bool { return r.tier2 != nil }

// BlockSize returns the fixed block size this reader was opened with.
func (r *Reader) BlockSize() uint32 { return r.blockSize }

// ReadBlock returns the block at physical address paddr. Addresses at
// or past types.Tier2ByteAddr, once converted to a byte offset, are
// served from the tier-2 device.
func (r *Reader) ReadBlock(paddr types.Paddr) (Block, error) {
	if !paddr.Validate() {
		return nil, &IoError{Paddr: paddr, Err: fmt.Errorf("negative physical address")}
	}

	byteOff := uint64(paddr) * uint64(r.blockSize)

	if byteOff >= types.Tier2ByteAddr {
		if r.tier2 == nil {
			return nil, &MissingTier2{Paddr: paddr}
		}
		tier2Off := byteOff - types.Tier2ByteAddr
		return r.readAt(r.tier2, r.tier2Size, tier2Off, paddr)
	}

	return r.readAt(r.main, r.mainSize, byteOff, paddr)
}

func (r *Reader) readAt(f *os.File, deviceSize uint64, offset uint64, paddr types.Paddr) (Block, error) {
	if offset+uint64(r.blockSize) > deviceSize {
		return nil, &IoError{Paddr: paddr, Err: fmt.Errorf("offset %d past end-of-device (size %d)", offset, deviceSize)}
	}

	buf := make([]byte, r.blockSize)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, &IoError{Paddr: paddr, Err: err}
	}
	if n < int(r.blockSize) {
		return nil, &IoError{Paddr: paddr, Err: fmt.Errorf("short read: got %d bytes, want %d", n, r.blockSize)}
	}
	return Block(buf), nil
}

// Close releases both device handles.
func (r *Reader) Close() error {
	var firstErr error
	if r.tier2 != nil {
		if err := r.tier2.Close(); err != nil {
			firstErr = err
		}
	}
	if err := r.main.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
