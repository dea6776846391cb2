package volume

import (
	"encoding/binary"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// superblockSize is large enough to hold every fixed field of
// apfs_superblock_t, including the modified-by history array and the
// volume name.
const superblockSize = 1056

// byte offsets of apfs_superblock_t fields, following the field order
// in types.ApfsSuperblockT.
const (
	offMagic              = 32
	offFsIndex            = 36
	offFeatures           = 40
	offRocompat           = 48
	offIncompat           = 56
	offUnmountTime        = 64
	offFsReserveBlockCnt  = 72
	offFsQuotaBlockCnt    = 80
	offFsAllocCount       = 88
	offMetaCrypto         = 96
	offRootTreeType       = 116
	offExtentreftreeType  = 120
	offSnapMetatreeType   = 124
	offOmapOid            = 128
	offRootTreeOid        = 136
	offExtentrefTreeOid   = 144
	offSnapMetaTreeOid    = 152
	offRevertToXid        = 160
	offRevertToSblockOid  = 168
	offNextObjId          = 176
	offNumFiles           = 184
	offNumDirectories     = 192
	offNumSymlinks        = 200
	offNumOtherFsobjects  = 208
	offNumSnapshots       = 216
	offTotalBlocksAlloced = 224
	offTotalBlocksFreed   = 232
	offVolUuid            = 240
	offLastModTime        = 256
	offFsFlags            = 264
	offFormattedBy        = 272
	offModifiedBy         = 320
	modifiedByEntrySize   = 48
	offVolname            = 704
	offNextDocId          = 960
	offRole               = 964
	offRootToXid          = 968
	offErStateOid         = 976
	offCloneinfoIdEpoch   = 984
	offCloneinfoXid       = 992
	offSnapMetaExtOid     = 1000
	offVolumeGroupId      = 1008
	offIntegrityMetaOid   = 1024
	offFextTreeOid        = 1032
	offFextTreeType       = 1040
	offReservedType       = 1044
	offReservedOid        = 1048
)

// decodeSuperblock parses a full apfs_superblock_t out of a raw block,
// following the manual field-by-field decode style the container
// superblock uses.
func decodeSuperblock(block []byte) (types.ApfsSuperblockT, error) {
	if len(block) < superblockSize {
		return types.ApfsSuperblockT{}, &report.Corruption{What: "block too small to hold a volume superblock"}
	}

	var sb types.ApfsSuperblockT
	copy(sb.ApfsO.OChecksum[:], block[0:8])
	sb.ApfsO.OOid = types.OidT(binary.LittleEndian.Uint64(block[8:16]))
	sb.ApfsO.OXid = types.XidT(binary.LittleEndian.Uint64(block[16:24]))
	full := binary.LittleEndian.Uint32(block[24:28])
	sb.ApfsO.OType = full
	sb.ApfsO.OSubtype = binary.LittleEndian.Uint32(block[28:32])

	sb.ApfsMagic = binary.LittleEndian.Uint32(block[offMagic:])
	sb.ApfsFsIndex = binary.LittleEndian.Uint32(block[offFsIndex:])
	sb.ApfsFeatures = binary.LittleEndian.Uint64(block[offFeatures:])
	sb.ApfsReadonlyCompatibleFeatures = binary.LittleEndian.Uint64(block[offRocompat:])
	sb.ApfsIncompatibleFeatures = binary.LittleEndian.Uint64(block[offIncompat:])
	sb.ApfsUnmountTime = binary.LittleEndian.Uint64(block[offUnmountTime:])
	sb.ApfsFsReserveBlockCount = binary.LittleEndian.Uint64(block[offFsReserveBlockCnt:])
	sb.ApfsFsQuotaBlockCount = binary.LittleEndian.Uint64(block[offFsQuotaBlockCnt:])
	sb.ApfsFsAllocCount = binary.LittleEndian.Uint64(block[offFsAllocCount:])

	mc := block[offMetaCrypto:]
	sb.ApfsMetaCrypto.MajorVersion = binary.LittleEndian.Uint16(mc[0:2])
	sb.ApfsMetaCrypto.MinorVersion = binary.LittleEndian.Uint16(mc[2:4])
	sb.ApfsMetaCrypto.Cpflags = types.CryptoFlagsT(binary.LittleEndian.Uint32(mc[4:8]))
	sb.ApfsMetaCrypto.PersistentClass = types.CpKeyClassT(binary.LittleEndian.Uint32(mc[8:12]))
	sb.ApfsMetaCrypto.KeyOsVersion = types.CpKeyOsVersionT(binary.LittleEndian.Uint32(mc[12:16]))
	sb.ApfsMetaCrypto.KeyRevision = types.CpKeyRevisionT(binary.LittleEndian.Uint16(mc[16:18]))
	sb.ApfsMetaCrypto.Unused = binary.LittleEndian.Uint16(mc[18:20])

	sb.ApfsRootTreeType = binary.LittleEndian.Uint32(block[offRootTreeType:])
	sb.ApfsExtentreftreeType = binary.LittleEndian.Uint32(block[offExtentreftreeType:])
	sb.ApfsSnapMetatreeType = binary.LittleEndian.Uint32(block[offSnapMetatreeType:])
	sb.ApfsOmapOid = types.OidT(binary.LittleEndian.Uint64(block[offOmapOid:]))
	sb.ApfsRootTreeOid = types.OidT(binary.LittleEndian.Uint64(block[offRootTreeOid:]))
	sb.ApfsExtentrefTreeOid = types.OidT(binary.LittleEndian.Uint64(block[offExtentrefTreeOid:]))
	sb.ApfsSnapMetaTreeOid = types.OidT(binary.LittleEndian.Uint64(block[offSnapMetaTreeOid:]))
	sb.ApfsRevertToXid = types.XidT(binary.LittleEndian.Uint64(block[offRevertToXid:]))
	sb.ApfsRevertToSblockOid = types.OidT(binary.LittleEndian.Uint64(block[offRevertToSblockOid:]))
	sb.ApfsNextObjId = binary.LittleEndian.Uint64(block[offNextObjId:])
	sb.ApfsNumFiles = binary.LittleEndian.Uint64(block[offNumFiles:])
	sb.ApfsNumDirectories = binary.LittleEndian.Uint64(block[offNumDirectories:])
	sb.ApfsNumSymlinks = binary.LittleEndian.Uint64(block[offNumSymlinks:])
	sb.ApfsNumOtherFsobjects = binary.LittleEndian.Uint64(block[offNumOtherFsobjects:])
	sb.ApfsNumSnapshots = binary.LittleEndian.Uint64(block[offNumSnapshots:])
	sb.ApfsTotalBlocksAlloced = binary.LittleEndian.Uint64(block[offTotalBlocksAlloced:])
	sb.ApfsTotalBlocksFreed = binary.LittleEndian.Uint64(block[offTotalBlocksFreed:])
	copy(sb.ApfsVolUuid[:], block[offVolUuid:offVolUuid+16])
	sb.ApfsLastModTime = binary.LittleEndian.Uint64(block[offLastModTime:])
	sb.ApfsFsFlags = binary.LittleEndian.Uint64(block[offFsFlags:])

	sb.ApfsFormattedBy = decodeModifiedBy(block[offFormattedBy:])
	for i := 0; i < types.ApfsMaxHist; i++ {
		off := offModifiedBy + i*modifiedByEntrySize
		sb.ApfsModifiedBy[i] = decodeModifiedBy(block[off:])
	}

	copy(sb.ApfsVolname[:], block[offVolname:offVolname+types.ApfsVolnameLen])
	sb.ApfsNextDocId = binary.LittleEndian.Uint32(block[offNextDocId:])
	sb.ApfsRole = binary.LittleEndian.Uint16(block[offRole:])
	sb.ApfsRootToXid = types.XidT(binary.LittleEndian.Uint64(block[offRootToXid:]))
	sb.ApfsErStateOid = types.OidT(binary.LittleEndian.Uint64(block[offErStateOid:]))
	sb.ApfsCloneinfoIdEpoch = binary.LittleEndian.Uint64(block[offCloneinfoIdEpoch:])
	sb.ApfsCloneinfoXid = binary.LittleEndian.Uint64(block[offCloneinfoXid:])
	sb.ApfsSnapMetaExtOid = types.OidT(binary.LittleEndian.Uint64(block[offSnapMetaExtOid:]))
	copy(sb.ApfsVolumeGroupId[:], block[offVolumeGroupId:offVolumeGroupId+16])
	sb.ApfsIntegrityMetaOid = types.OidT(binary.LittleEndian.Uint64(block[offIntegrityMetaOid:]))
	sb.ApfsFextTreeOid = types.OidT(binary.LittleEndian.Uint64(block[offFextTreeOid:]))
	sb.ApfsFextTreeType = binary.LittleEndian.Uint32(block[offFextTreeType:])
	sb.ReservedType = binary.LittleEndian.Uint32(block[offReservedType:])
	sb.ReservedOid = types.OidT(binary.LittleEndian.Uint64(block[offReservedOid:]))

	return sb, nil
}

func decodeModifiedBy(b []byte) types.ApfsModifiedByT {
	var m types.ApfsModifiedByT
	copy(m.Id[:], b[0:types.ApfsModifiedNamelen])
	m.Timestamp = binary.LittleEndian.Uint64(b[types.ApfsModifiedNamelen : types.ApfsModifiedNamelen+8])
	m.LastXid = types.XidT(binary.LittleEndian.Uint64(b[types.ApfsModifiedNamelen+8 : types.ApfsModifiedNamelen+16]))
	return m
}
