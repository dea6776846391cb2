// Package checkpoint resolves the latest committed container superblock
// and its ephemeral-object mapping table, starting from block zero
// alone, per the six-step mounting procedure.
package checkpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/blockio"
	"github.com/deploymenttheory/apfsck/internal/checksum"
	"github.com/deploymenttheory/apfsck/internal/logging"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

const provisionalBlockSize = 4096

const (
	checkpointMapHeaderSize = 40
	checkpointMappingSize   = 40
)

// excluded byte ranges for the block-zero / latest-checkpoint-sb
// comparison: the object id legitimately differs because block zero's
// object header always carries the fixed container-superblock id while
// a descriptor-ring entry's carries its own block address, and the
// counters array and flags field are allowed to drift between the
// backup at block zero and the live checkpoint, per the quirk
// documented in the reference material.
var excludedRanges = [][2]int{
	{0, 8},  // checksum
	{8, 16}, // object id
	{offCountersStart, offCountersEnd},
	{offFlagsStart, offFlagsEnd},
}

// EphemeralEntry is one resolved entry of the checkpoint-mapping table.
type EphemeralEntry struct {
	Paddr   types.Paddr
	Type    uint32
	Subtype uint32
	Size    uint32
	FsOid   types.OidT
}

// Result is the outcome of resolving the latest committed checkpoint.
type Result struct {
	BlockZero      types.NxSuperblockT
	Superblock     types.NxSuperblockT
	SuperblockAddr types.Paddr
	Ephemeral      map[types.OidT]EphemeralEntry
}

// Resolve opens the container at mainPath (and, if non-empty, tier2Path)
// and runs the six-step checkpoint resolution algorithm. It returns the
// block reader sized to the container's real block size, ready for
// further use by the rest of the pipeline. log receives one
// operator-visibility line reporting which checkpoint was resolved.
func Resolve(mainPath, tier2Path string, log logging.Logger) (*blockio.Reader, *Result, error) {
	r, err := blockio.Open(mainPath, tier2Path, provisionalBlockSize)
	if err != nil {
		return nil, nil, err
	}

	block0, err := r.ReadBlock(0)
	if err != nil {
		return nil, nil, err
	}
	if len(block0) < offBlockSize+4 {
		return nil, nil, &report.Corruption{What: "block zero too small to hold a container superblock"}
	}
	if binary.LittleEndian.Uint32(block0[offMagic:]) != types.NxMagic {
		return nil, nil, &report.Corruption{What: "block zero does not carry the container superblock magic"}
	}
	realBlockSize := binary.LittleEndian.Uint32(block0[offBlockSize:])

	if realBlockSize != provisionalBlockSize {
		if err := r.Close(); err != nil {
			return nil, nil, err
		}
		r, err = blockio.Open(mainPath, tier2Path, realBlockSize)
		if err != nil {
			return nil, nil, err
		}
		block0, err = r.ReadBlock(0)
		if err != nil {
			return nil, nil, err
		}
	}

	if !checksum.Verify(block0) {
		return nil, nil, &report.Corruption{What: "block zero checksum does not verify"}
	}
	blockZeroSb, err := decodeSuperblock(block0)
	if err != nil {
		return nil, nil, err
	}
	if blockZeroSb.NxO.OOid != types.OidNxSuperblock {
		return nil, nil, &report.Corruption{What: fmt.Sprintf("block zero object id %d is not OID_NX_SUPERBLOCK", blockZeroSb.NxO.OOid)}
	}

	latestAddr, latestRaw, latestSb, err := scanDescriptorRing(r, blockZeroSb, block0)
	if err != nil {
		return nil, nil, err
	}

	ephemeral, err := walkDescriptorRing(r, latestSb)
	if err != nil {
		return nil, nil, err
	}

	if latestAddr == 0 {
		log.Debugf("resolved checkpoint at block zero (xid %d), the descriptor ring yielded no candidate", latestSb.NxO.OXid)
	} else {
		descIndex := uint64(latestAddr) - uint64(blockZeroSb.NxXpDescBase)
		log.Debugf("resolved checkpoint at descriptor index %d (xid %d)", descIndex, latestSb.NxO.OXid)
	}

	if err := checkBlockZeroFreshness(block0, latestRaw); err != nil {
		return nil, nil, err
	}

	if latestSb.NxIncompatibleFeatures&types.NxIncompatFusion != 0 {
		if err := checkFusion(r, block0, latestRaw, realBlockSize); err != nil {
			return nil, nil, err
		}
	}

	return r, &Result{
		BlockZero:      blockZeroSb,
		Superblock:     latestSb,
		SuperblockAddr: latestAddr,
		Ephemeral:      ephemeral,
	}, nil
}

// scanDescriptorRing scans the full descriptor ring for the superblock
// with the strictly-greatest xid among those whose magic and checksum
// verify. Block zero is not itself a ring candidate — it only stands in
// as the resolved superblock when the ring yields no candidate at all.
// Rejections (wrong magic, bad checksum, stale xid) don't fail the run —
// only "no candidate anywhere" does.
func scanDescriptorRing(r *blockio.Reader, blockZeroSb types.NxSuperblockT, mainBlockZero []byte) (types.Paddr, []byte, types.NxSuperblockT, error) {
	descBaseRaw := uint64(blockZeroSb.NxXpDescBase)
	const msbMask uint64 = 0x8000000000000000
	if descBaseRaw&msbMask != 0 {
		return 0, nil, types.NxSuperblockT{}, &report.Unsupported{Feature: "non-contiguous checkpoint descriptor area"}
	}
	descBase := descBaseRaw
	descBlocks := uint64(blockZeroSb.NxXpDescBlocks & 0x7fffffff)

	var (
		bestAddr types.Paddr
		bestRaw  []byte
		bestSb   types.NxSuperblockT
		bestXid  types.XidT
		found    bool
	)

	for i := uint64(0); i < descBlocks; i++ {
		addr := types.Paddr(descBase + i)
		block, err := r.ReadBlock(addr)
		if err != nil {
			return 0, nil, types.NxSuperblockT{}, err
		}
		if len(block) < offBlockSize+4 {
			continue
		}
		fullType := binary.LittleEndian.Uint32(block[24:28])
		if fullType&types.ObjectTypeMask != types.ObjectTypeNxSuperblock {
			continue
		}
		if binary.LittleEndian.Uint32(block[offMagic:]) != types.NxMagic {
			continue
		}
		if !checksum.Verify(block) {
			continue
		}
		xid := types.XidT(binary.LittleEndian.Uint64(block[16:24]))
		if found && xid <= bestXid {
			continue
		}
		sb, err := decodeSuperblock(block)
		if err != nil {
			continue
		}
		bestAddr, bestRaw, bestSb, bestXid, found = addr, block, sb, xid, true
	}

	if !found {
		if blockZeroSb.NxO.OXid == 0 {
			return 0, nil, types.NxSuperblockT{}, &report.Corruption{What: "no valid container superblock found in the checkpoint descriptor area"}
		}
		return 0, mainBlockZero, blockZeroSb, nil
	}
	return bestAddr, bestRaw, bestSb, nil
}

// checkBlockZeroFreshness implements the non-fusion half of step 6: on a
// cleanly unmounted container, block zero is a byte-for-byte backup of
// the latest committed checkpoint superblock outside the documented
// exclusion ranges. A block zero that diverges from the resolved latest
// checkpoint is the signature of a crash, not a benign stale backup —
// unlike the fusion tier-2 case, there is no second device copy it could
// legitimately match instead.
func checkBlockZeroFreshness(mainBlockZero, latestRaw []byte) error {
	if err := compareOutsideExclusions(mainBlockZero, latestRaw); err != nil {
		return &report.CrashSignature{What: "the filesystem was not unmounted cleanly"}
	}
	return nil
}

// walkDescriptorRing replays the checkpoint descriptor ring starting at
// the latest superblock's desc_index, rebuilding the ephemeral mapping
// table and verifying the data-ring's bookkeeping is internally
// consistent.
func walkDescriptorRing(r *blockio.Reader, latestSb types.NxSuperblockT) (map[types.OidT]EphemeralEntry, error) {
	descBase := uint64(latestSb.NxXpDescBase)
	descBlocks := uint64(latestSb.NxXpDescBlocks & 0x7fffffff)
	dataBase := uint64(latestSb.NxXpDataBase)
	dataBlocks := uint64(latestSb.NxXpDataBlocks & 0x7fffffff)
	blockSize := uint64(r.BlockSize())

	descPos := uint64(latestSb.NxXpDescIndex)
	descNext := uint64(latestSb.NxXpDescNext)
	dataIndex := uint64(latestSb.NxXpDataIndex)
	dataNext := uint64(latestSb.NxXpDataNext)

	ephemeral := make(map[types.OidT]EphemeralEntry)

	for descPos%descBlocks != descNext {
		mapCount := 0
		for {
			addr := types.Paddr(descBase + descPos%descBlocks)
			block, err := r.ReadBlock(addr)
			if err != nil {
				return nil, err
			}
			fullType := binary.LittleEndian.Uint32(block[24:28])
			if fullType&types.ObjectTypeMask != types.ObjectTypeCheckpointMap {
				return nil, &report.Corruption{What: fmt.Sprintf("expected a checkpoint-map block at %d, found object type 0x%x", addr, fullType&types.ObjectTypeMask)}
			}
			flags := binary.LittleEndian.Uint32(block[32:36])
			count := binary.LittleEndian.Uint32(block[36:40])

			for i := uint32(0); i < count; i++ {
				off := checkpointMapHeaderSize + int(i)*checkpointMappingSize
				if off+checkpointMappingSize > len(block) {
					return nil, &report.Corruption{What: "checkpoint-map entry runs past block end"}
				}
				entryType := binary.LittleEndian.Uint32(block[off : off+4])
				entrySubtype := binary.LittleEndian.Uint32(block[off+4 : off+8])
				entrySize := binary.LittleEndian.Uint32(block[off+8 : off+12])
				fsOid := types.OidT(binary.LittleEndian.Uint64(block[off+16 : off+24]))
				oid := types.OidT(binary.LittleEndian.Uint64(block[off+24 : off+32]))
				paddr := types.Paddr(binary.LittleEndian.Uint64(block[off+32 : off+40]))

				if _, dup := ephemeral[oid]; dup {
					return nil, &report.Corruption{What: fmt.Sprintf("duplicate ephemeral object id %d in checkpoint-mapping table", oid)}
				}
				expectedPaddr := types.Paddr(dataBase + dataIndex)
				if paddr != expectedPaddr {
					return nil, &report.Corruption{What: fmt.Sprintf("checkpoint-mapping entry for oid %d has paddr %d, expected %d", oid, paddr, expectedPaddr)}
				}
				ephemeral[oid] = EphemeralEntry{Paddr: paddr, Type: entryType, Subtype: entrySubtype, Size: entrySize, FsOid: fsOid}

				if blockSize == 0 || entrySize%uint32(blockSize) != 0 {
					return nil, &report.Corruption{What: fmt.Sprintf("checkpoint-mapping entry for oid %d has size %d not a multiple of the block size", oid, entrySize)}
				}
				dataIndex = (dataIndex + uint64(entrySize)/blockSize) % dataBlocks
			}

			mapCount++
			descPos++
			if flags&types.CheckpointMapLast != 0 {
				break
			}
		}

		addr := types.Paddr(descBase + descPos%descBlocks)
		block, err := r.ReadBlock(addr)
		if err != nil {
			return nil, err
		}
		fullType := binary.LittleEndian.Uint32(block[24:28])
		objType := fullType & types.ObjectTypeMask
		storageClass := fullType & types.ObjStorageTypeMask
		oid := types.OidT(binary.LittleEndian.Uint64(block[8:16]))
		subtype := binary.LittleEndian.Uint32(block[28:32])
		magic := binary.LittleEndian.Uint32(block[offMagic:])
		xpDescLen := binary.LittleEndian.Uint32(block[offXpDescLen:])

		switch {
		case objType != types.ObjectTypeNxSuperblock:
			return nil, &report.Corruption{What: fmt.Sprintf("expected a checkpoint superblock at %d, found object type 0x%x", addr, objType)}
		case storageClass != types.ObjEphemeral:
			return nil, &report.Corruption{What: fmt.Sprintf("checkpoint superblock at %d is not an ephemeral object", addr)}
		case oid != types.OidT(addr):
			return nil, &report.Corruption{What: fmt.Sprintf("checkpoint superblock at %d has oid %d, expected the block number itself", addr, oid)}
		case subtype != types.ObjectTypeInvalid:
			return nil, &report.Corruption{What: fmt.Sprintf("checkpoint superblock at %d has non-invalid subtype 0x%x", addr, subtype)}
		case magic != types.NxMagic:
			return nil, &report.Corruption{What: fmt.Sprintf("checkpoint superblock at %d has bad magic", addr)}
		case xpDescLen != uint32(mapCount)+1:
			return nil, &report.Corruption{What: fmt.Sprintf("checkpoint superblock at %d declares xp_desc_len %d, expected %d", addr, xpDescLen, mapCount+1)}
		}

		descPos++
	}

	if dataIndex != dataNext {
		return nil, &report.Corruption{What: fmt.Sprintf("CheckpointInconsistent: accumulated data-ring index %d does not match xp_data_next %d", dataIndex, dataNext)}
	}

	return ephemeral, nil
}

// checkFusion implements step 6: the tier-2 copy of block zero must
// agree with the main device's block zero outside the documented
// exclusion ranges and the fusion-uuid top bit, unless it instead
// matches the latest checkpoint superblock (a merely stale backup,
// not a crash signature).
func checkFusion(r *blockio.Reader, mainBlockZero []byte, latestRaw []byte, blockSize uint32) error {
	if !r.HasTier2() {
		return &report.Corruption{What: "fusion container has no tier-2 device configured"}
	}
	tier2Addr := types.Paddr(types.Tier2ByteAddr / uint64(blockSize))
	tier2Block, err := r.ReadBlock(tier2Addr)
	if err != nil {
		return err
	}

	if err := compareOutsideExclusions(mainBlockZero, tier2Block); err == nil {
		return nil
	}
	if err := compareOutsideExclusions(latestRaw, tier2Block); err == nil {
		return nil
	}
	return &report.CrashSignature{What: "tier-2 block zero matches neither the main block zero nor the latest checkpoint superblock"}
}

// offObjTypeStorageByte is the high-order byte of the little-endian
// o_type field, the one carrying the storage-class bits (physical,
// ephemeral, virtual). Block zero's copy of a superblock is always
// plain and physical; the same superblock living in the descriptor
// ring is ephemeral. That distinction is a storage-location artifact,
// not a content difference, so it's masked off rather than excluded
// outright — the rest of the type field must still agree.
const offObjTypeStorageByte = 27

// compareOutsideExclusions compares two blocks byte-for-byte outside the
// excluded ranges, with the fusion-uuid's leading byte and the object
// type's storage-class byte compared only after masking off the bits
// that legitimately vary with where the object is stored.
func compareOutsideExclusions(a, b []byte) error {
	if len(a) != len(b) {
		return &report.CrashSignature{What: "block length mismatch"}
	}
	for i := range a {
		if i == offFusionUUID {
			if a[i]&0x7f != b[i]&0x7f {
				return &report.CrashSignature{What: "fusion uuid mismatch outside its top bit"}
			}
			continue
		}
		if i == offObjTypeStorageByte {
			if a[i]&0x3f != b[i]&0x3f {
				return &report.CrashSignature{What: "object type mismatch outside its storage-class bits"}
			}
			continue
		}
		if excluded(i) {
			continue
		}
		if a[i] != b[i] {
			return &report.CrashSignature{What: fmt.Sprintf("byte %d differs outside the documented exclusion ranges", i)}
		}
	}
	return nil
}

func excluded(i int) bool {
	for _, rng := range excludedRanges {
		if i >= rng[0] && i < rng[1] {
			return true
		}
	}
	return false
}
