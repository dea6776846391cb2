package volume

import (
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// checkSuperblock validates a decoded volume superblock's self-contained
// fields: magic, slot index, feature masks, label, role, crypto state
// version, id counters, and modified-by history. It does not touch
// anything the superblock merely points at (omap, trees, counters) —
// those are checked once the trees they name have been opened and
// walked.
func checkSuperblock(sb types.ApfsSuperblockT, slot int) error {
	if sb.ApfsMagic != types.ApfsMagic {
		return &report.Corruption{What: fmt.Sprintf("volume superblock has bad magic 0x%08x", sb.ApfsMagic)}
	}
	if int(sb.ApfsFsIndex) != slot {
		return &report.Corruption{What: fmt.Sprintf("volume superblock fs_index %d does not match its container slot %d", sb.ApfsFsIndex, slot)}
	}

	if unknown := sb.ApfsFeatures &^ types.ApfsSupportedFeaturesMask; unknown != 0 {
		return &report.Unsupported{Feature: fmt.Sprintf("optional volume feature bits 0x%016x", unknown)}
	}
	if unknown := sb.ApfsReadonlyCompatibleFeatures &^ types.ApfsSupportedRocompatMask; unknown != 0 {
		return &report.Unsupported{Feature: fmt.Sprintf("read-only-compatible volume feature bits 0x%016x", unknown)}
	}
	if unknown := sb.ApfsIncompatibleFeatures &^ types.ApfsSupportedIncompatMask; unknown != 0 {
		return &report.Unsupported{Feature: fmt.Sprintf("incompatible volume feature bits 0x%016x", unknown)}
	}

	if err := checkVolname(sb.ApfsVolname); err != nil {
		return err
	}
	if err := checkRole(sb.ApfsRole); err != nil {
		return err
	}
	if err := checkMetaCrypto(sb.ApfsMetaCrypto); err != nil {
		return err
	}

	if sb.ApfsNextObjId < types.MinUserInoNum {
		return &report.Corruption{What: fmt.Sprintf("next_obj_id %d is below the reserved inode-number range", sb.ApfsNextObjId)}
	}
	if sb.ApfsNextDocId < types.MinDocId {
		return &report.Corruption{What: fmt.Sprintf("next_doc_id %d is below the reserved document-id range", sb.ApfsNextDocId)}
	}

	if err := checkModifiedByHistory(sb); err != nil {
		return err
	}

	sealed := sb.ApfsIncompatibleFeatures&types.ApfsIncompatSealedVolume != 0
	if sealed {
		if sb.ApfsIntegrityMetaOid == 0 {
			return &report.Corruption{What: "sealed volume has no integrity metadata object"}
		}
	} else if sb.ApfsFextTreeOid != 0 {
		return &report.Weird{What: "non-sealed volume carries a file-extent tree"}
	}

	hasGroup := sb.ApfsVolumeGroupId != (types.UUID{})
	wantsGroup := sb.ApfsFeatures&types.ApfsFeatureVolgrpSystemInoSpace != 0
	if wantsGroup && !hasGroup {
		return &report.Corruption{What: "volume advertises shared system-inode space but has no volume group id"}
	}

	return nil
}

// checkVolname verifies the volume label is a null-terminated C string
// within its fixed-size field, per apfs_volname's documented shape.
func checkVolname(name [types.ApfsVolnameLen]byte) error {
	for _, b := range name {
		if b == 0 {
			return nil
		}
	}
	return &report.Corruption{What: "volume name is not null-terminated"}
}

// checkRole accepts both the legacy single-bit roles (each its own flag)
// and the newer shifted single-value roles introduced at
// ApfsVolumeEnumShift; every other bit pattern is an unrecognised role.
func checkRole(role uint16) error {
	const legacyMask = types.ApfsVolRoleSystem | types.ApfsVolRoleUser | types.ApfsVolRoleRecovery |
		types.ApfsVolRoleVm | types.ApfsVolRolePreboot | types.ApfsVolRoleInstaller
	if role == types.ApfsVolRoleNone {
		return nil
	}
	if role&^legacyMask == 0 {
		return nil
	}
	shifted := role >> types.ApfsVolumeEnumShift
	if role&((1<<types.ApfsVolumeEnumShift)-1) != 0 {
		return &report.Corruption{What: fmt.Sprintf("volume role 0x%04x mixes legacy and enumerated role bits", role)}
	}
	if shifted >= 1 && shifted <= 11 {
		return nil
	}
	return &report.Unsupported{Feature: fmt.Sprintf("volume role 0x%04x", role)}
}

func checkMetaCrypto(mc types.WrappedMetaCryptoStateT) error {
	if mc.MajorVersion == 0 {
		return &report.Corruption{What: "volume metadata crypto state has zero major version"}
	}
	return nil
}

// checkModifiedByHistory validates apfs_modified_by: active entries
// (nonzero id) must occupy a prefix of the fixed-size array, in
// descending recency order by last_xid, and the most recent modifier's
// last_xid may not postdate the volume superblock's own xid.
func checkModifiedByHistory(sb types.ApfsSuperblockT) error {
	seenEmpty := false
	var prevXid types.XidT
	for i, m := range sb.ApfsModifiedBy {
		empty := m.Id[0] == 0
		if empty {
			seenEmpty = true
			continue
		}
		if seenEmpty {
			return &report.Corruption{What: fmt.Sprintf("modified-by history has an active entry at index %d after an empty one", i)}
		}
		if i > 0 && m.LastXid > prevXid {
			return &report.Corruption{What: "modified-by history is not in descending transaction-id order"}
		}
		prevXid = m.LastXid
	}
	if len(sb.ApfsModifiedBy) > 0 && sb.ApfsModifiedBy[0].LastXid > sb.ApfsO.OXid {
		return &report.Corruption{What: "most recent modifier transaction id postdates the volume superblock's own transaction id"}
	}
	return nil
}
