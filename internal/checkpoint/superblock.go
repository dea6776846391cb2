package checkpoint

import (
	"encoding/binary"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// superblockSize is large enough to hold every field of nx_superblock_t,
// including the 100-entry volume-oid array and the 32-entry counters
// array; every supported block size is at least this large.
const superblockSize = 1408

// byte offsets of nx_superblock_t fields, following the field order in
// types.NxSuperblockT (object header first, then the superblock body).
const (
	offMagic           = 32
	offBlockSize       = 36
	offBlockCount      = 40
	offFeatures        = 48
	offRocompat        = 56
	offIncompat        = 64
	offUUID            = 72
	offNextOid         = 88
	offNextXid         = 96
	offXpDescBlocks    = 104
	offXpDataBlocks    = 108
	offXpDescBase      = 112
	offXpDataBase      = 120
	offXpDescNext      = 128
	offXpDataNext      = 132
	offXpDescIndex     = 136
	offXpDescLen       = 140
	offXpDataIndex     = 144
	offXpDataLen       = 148
	offSpacemanOid     = 152
	offOmapOid         = 160
	offReaperOid       = 168
	offTestType        = 176
	offMaxFileSystems  = 180
	offFsOid           = 184
	offCountersStart   = 984
	offCountersEnd     = 1240
	offBlockedOutRange = 1240
	offEvictMtOid      = 1256
	offFlagsStart      = 1264
	offFlagsEnd        = 1272
	offEfiJumpstart    = 1272
	offFusionUUID      = 1280
	offKeylocker       = 1296
	offEphemeralInfo   = 1312
	offTestOid         = 1344
	offFusionMtOid     = 1352
	offFusionWbcOid    = 1360
	offFusionWbc       = 1368
	offNewestMounted   = 1384
	offMkbLocker       = 1392
)

// decodeSuperblock parses a full nx_superblock_t out of a raw block,
// following the manual field-by-field decode style used throughout the
// object parsers.
func decodeSuperblock(block []byte) (types.NxSuperblockT, error) {
	if len(block) < superblockSize {
		return types.NxSuperblockT{}, &report.Corruption{What: "block too small to hold a container superblock"}
	}

	var sb types.NxSuperblockT
	copy(sb.NxO.OChecksum[:], block[0:8])
	sb.NxO.OOid = types.OidT(binary.LittleEndian.Uint64(block[8:16]))
	sb.NxO.OXid = types.XidT(binary.LittleEndian.Uint64(block[16:24]))
	full := binary.LittleEndian.Uint32(block[24:28])
	sb.NxO.OType = full
	sb.NxO.OSubtype = binary.LittleEndian.Uint32(block[28:32])

	sb.NxMagic = binary.LittleEndian.Uint32(block[offMagic:])
	sb.NxBlockSize = binary.LittleEndian.Uint32(block[offBlockSize:])
	sb.NxBlockCount = binary.LittleEndian.Uint64(block[offBlockCount:])
	sb.NxFeatures = binary.LittleEndian.Uint64(block[offFeatures:])
	sb.NxReadonlyCompatibleFeatures = binary.LittleEndian.Uint64(block[offRocompat:])
	sb.NxIncompatibleFeatures = binary.LittleEndian.Uint64(block[offIncompat:])
	copy(sb.NxUuid[:], block[offUUID:offUUID+16])
	sb.NxNextOid = types.OidT(binary.LittleEndian.Uint64(block[offNextOid:]))
	sb.NxNextXid = types.XidT(binary.LittleEndian.Uint64(block[offNextXid:]))
	sb.NxXpDescBlocks = binary.LittleEndian.Uint32(block[offXpDescBlocks:])
	sb.NxXpDataBlocks = binary.LittleEndian.Uint32(block[offXpDataBlocks:])
	sb.NxXpDescBase = types.Paddr(binary.LittleEndian.Uint64(block[offXpDescBase:]))
	sb.NxXpDataBase = types.Paddr(binary.LittleEndian.Uint64(block[offXpDataBase:]))
	sb.NxXpDescNext = binary.LittleEndian.Uint32(block[offXpDescNext:])
	sb.NxXpDataNext = binary.LittleEndian.Uint32(block[offXpDataNext:])
	sb.NxXpDescIndex = binary.LittleEndian.Uint32(block[offXpDescIndex:])
	sb.NxXpDescLen = binary.LittleEndian.Uint32(block[offXpDescLen:])
	sb.NxXpDataIndex = binary.LittleEndian.Uint32(block[offXpDataIndex:])
	sb.NxXpDataLen = binary.LittleEndian.Uint32(block[offXpDataLen:])
	sb.NxSpacemanOid = types.OidT(binary.LittleEndian.Uint64(block[offSpacemanOid:]))
	sb.NxOmapOid = types.OidT(binary.LittleEndian.Uint64(block[offOmapOid:]))
	sb.NxReaperOid = types.OidT(binary.LittleEndian.Uint64(block[offReaperOid:]))
	sb.NxTestType = binary.LittleEndian.Uint32(block[offTestType:])
	sb.NxMaxFileSystems = binary.LittleEndian.Uint32(block[offMaxFileSystems:])

	for i := 0; i < types.NxMaxFileSystems; i++ {
		off := offFsOid + i*8
		sb.NxFsOid[i] = types.OidT(binary.LittleEndian.Uint64(block[off:]))
	}
	for i := 0; i < types.NxNumCounters; i++ {
		off := offCountersStart + i*8
		sb.NxCounters[i] = binary.LittleEndian.Uint64(block[off:])
	}

	sb.NxBlockedOutPrange = decodePrange(block[offBlockedOutRange:])
	sb.NxEvictMappingTreeOid = types.OidT(binary.LittleEndian.Uint64(block[offEvictMtOid:]))
	sb.NxFlags = binary.LittleEndian.Uint64(block[offFlagsStart:])
	sb.NxEfiJumpstart = types.Paddr(binary.LittleEndian.Uint64(block[offEfiJumpstart:]))
	copy(sb.NxFusionUuid[:], block[offFusionUUID:offFusionUUID+16])
	sb.NxKeylocker = decodePrange(block[offKeylocker:])

	for i := 0; i < types.NxEphInfoCount; i++ {
		off := offEphemeralInfo + i*8
		sb.NxEphemeralInfo[i] = binary.LittleEndian.Uint64(block[off:])
	}

	sb.NxTestOid = types.OidT(binary.LittleEndian.Uint64(block[offTestOid:]))
	sb.NxFusionMtOid = types.OidT(binary.LittleEndian.Uint64(block[offFusionMtOid:]))
	sb.NxFusionWbcOid = types.OidT(binary.LittleEndian.Uint64(block[offFusionWbcOid:]))
	sb.NxFusionWbc = decodePrange(block[offFusionWbc:])
	sb.NxNewestMountedVersion = binary.LittleEndian.Uint64(block[offNewestMounted:])
	sb.NxMkbLocker = decodePrange(block[offMkbLocker:])

	return sb, nil
}

func decodePrange(b []byte) types.Prange {
	return types.Prange{
		PrStartPaddr: types.Paddr(binary.LittleEndian.Uint64(b[0:8])),
		PrBlockCount: binary.LittleEndian.Uint64(b[8:16]),
	}
}
