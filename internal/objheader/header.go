// Package objheader decodes and validates the 32-byte object header that
// prefixes every physical and ephemeral APFS object.
package objheader

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/blockio"
	"github.com/deploymenttheory/apfsck/internal/checksum"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// Hdr is a decoded object header, the 32-byte prefix of every object.
type Hdr struct {
	Checksum [8]byte
	Oid      types.OidT
	Xid      types.XidT
	Type     uint32 // low 16 bits
	Flags    uint32 // storage class + no-header/encrypted/nonpersistent bits
	Subtype  uint32
}

// StorageClass is the 4-bit storage class carried in the high bits of
// the type word.
type StorageClass int

const (
	StoragePhysical StorageClass = iota
	StorageVirtual
	StorageEphemeral
)

func (s StorageClass) String() string {
	switch s {
	case StoragePhysical:
		return "physical"
	case StorageVirtual:
		return "virtual"
	case StorageEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// decode parses the 32-byte object header prefix out of a raw block.
func decode(block blockio.Block) Hdr {
	var h Hdr
	copy(h.Checksum[:], block[0:8])
	h.Oid = types.OidT(binary.LittleEndian.Uint64(block[8:16]))
	h.Xid = types.XidT(binary.LittleEndian.Uint64(block[16:24]))
	full := binary.LittleEndian.Uint32(block[24:28])
	h.Type = full & types.ObjectTypeMask
	h.Flags = full & types.ObjectTypeFlagsMask
	h.Subtype = binary.LittleEndian.Uint32(block[28:32])
	return h
}

// ReadNocheck reads the block at paddr, verifies its checksum, and
// decodes its header. It performs no omap or transaction-id validation.
func ReadNocheck(r *blockio.Reader, paddr types.Paddr) (blockio.Block, Hdr, error) {
	block, err := r.ReadBlock(paddr)
	if err != nil {
		return nil, Hdr{}, &report.SystemError{Op: fmt.Sprintf("read block %d", paddr), Err: err}
	}
	if !checksum.Verify(block) {
		return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("bad checksum at block %d", paddr)}
	}
	return block, decode(block), nil
}

// ParseFlags validates the flags word of a header, rejecting undefined
// bits and unsupported encrypted objects, and returns its storage class.
func ParseFlags(flags uint32) (StorageClass, error) {
	const definedBits = types.ObjStorageTypeMask | types.ObjNoheader | types.ObjEncrypted | types.ObjNonpersistent
	if flags&^definedBits != 0 {
		return 0, &report.Corruption{What: fmt.Sprintf("undefined object flag bits set: 0x%08x", flags&^definedBits)}
	}
	if flags&types.ObjEncrypted != 0 {
		return 0, &report.Unsupported{Feature: "encrypted object"}
	}

	switch flags & types.ObjStorageTypeMask {
	case types.ObjEphemeral:
		return StorageEphemeral, nil
	case types.ObjPhysical:
		return StoragePhysical, nil
	case 0:
		return StorageVirtual, nil
	default:
		return 0, &report.Corruption{What: fmt.Sprintf("invalid storage class bits: 0x%08x", flags&types.ObjStorageTypeMask)}
	}
}

// OmapLookup resolves an oid at a transaction id to a physical block
// address, matching the shape ReadObject needs from an object map
// without importing the omap package directly (the omap package in turn
// depends on this one for header decoding, so the dependency must run
// this direction).
type OmapLookup func(oid types.OidT, xid types.XidT) (paddr types.Paddr, recordXid types.XidT, found bool)

// Read reads and validates the object identified by oid. When lookup is
// non-nil, oid is resolved through it as a virtual object and the
// header's storage class must be virtual; the resolved record's xid
// must equal the header's xid. containerXid bounds every object's xid
// from above; volumeFirstXid, when non-zero, bounds it from below.
func Read(r *blockio.Reader, oid types.OidT, lookup OmapLookup, xid types.XidT, containerXid types.XidT, volumeFirstXid types.XidT) (blockio.Block, Hdr, error) {
	var paddr types.Paddr
	var recordXid types.XidT

	if lookup != nil {
		p, rx, found := lookup(oid, xid)
		if !found {
			return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("omap has no record for oid %d at or before xid %d", oid, xid)}
		}
		paddr, recordXid = p, rx
	} else {
		paddr = types.Paddr(oid)
	}

	block, hdr, err := ReadNocheck(r, paddr)
	if err != nil {
		return nil, Hdr{}, err
	}

	class, err := ParseFlags(hdr.Flags)
	if err != nil {
		return nil, Hdr{}, err
	}

	if lookup != nil {
		if class != StorageVirtual {
			return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("oid %d resolved via omap but header storage class is %s, not virtual", oid, class)}
		}
		if hdr.Xid != recordXid {
			return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("block xid %d for oid %d does not match omap record xid %d", hdr.Xid, oid, recordXid)}
		}
		if uint64(oid) < types.OidReservedCount {
			return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("virtual oid %d is below the reserved-oid count %d", oid, types.OidReservedCount)}
		}
	} else if class == StorageVirtual {
		return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("oid %d has virtual storage class but no omap was supplied", oid)}
	}

	if hdr.Oid != oid && lookup == nil {
		return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("block at %d has oid %d, expected %d", paddr, hdr.Oid, oid)}
	}

	if hdr.Xid > containerXid {
		return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("object xid %d exceeds container xid %d", hdr.Xid, containerXid)}
	}
	if volumeFirstXid != 0 && hdr.Xid < volumeFirstXid {
		return nil, Hdr{}, &report.Corruption{What: fmt.Sprintf("object xid %d precedes volume's first-seen xid %d", hdr.Xid, volumeFirstXid)}
	}

	return block, hdr, nil
}
