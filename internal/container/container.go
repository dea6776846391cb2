// Package container implements the top-level driver (§4.10): resolve
// the checkpoint, validate the container superblock's feature masks,
// instantiate every volume, and cross-check the ancillary ephemeral
// objects (reaper, space manager, Fusion middle tree/write-back cache).
package container

import (
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/blockio"
	"github.com/deploymenttheory/apfsck/internal/checkpoint"
	"github.com/deploymenttheory/apfsck/internal/logging"
	"github.com/deploymenttheory/apfsck/internal/objheader"
	"github.com/deploymenttheory/apfsck/internal/omap"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/spaceman"
	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/deploymenttheory/apfsck/internal/volume"
)

// Result is the outcome of successfully checking one container image.
type Result struct {
	Superblock types.NxSuperblockT
	Volumes    []*volume.Result
	Spaceman   spaceman.Summary
}

// supportedFlagsMask is the set of recognised bits in nx_flags: the two
// reserved-but-preserved bits and the software-cryptography bit.
const supportedFlagsMask = types.NxReserved1 | types.NxReserved2 | types.NxCryptoSw

// Check resolves the latest committed checkpoint at mainPath (and, for
// Fusion containers, tier2Path), validates the container superblock,
// instantiates every non-empty volume slot, and cross-checks the
// ancillary objects the superblock points at. t gates the three
// conditionally-fatal error classes the same way it does everywhere
// else in the pipeline; log carries operator-visibility lines down into
// checkpoint resolution and every volume walked.
func Check(mainPath, tier2Path string, t report.Thresholds, log logging.Logger) (*Result, error) {
	r, res, err := checkpoint.Resolve(mainPath, tier2Path, log)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sb := res.Superblock
	containerXid := sb.NxO.OXid

	if err := checkFeatureMasks(sb, r.HasTier2(), t); err != nil {
		return nil, err
	}
	if sb.NxMaxFileSystems == 0 || sb.NxMaxFileSystems > types.NxMaxFileSystems {
		return nil, &report.Corruption{What: fmt.Sprintf("container declares max_file_systems %d, outside [1,%d]", sb.NxMaxFileSystems, types.NxMaxFileSystems)}
	}

	containerOmap, err := omap.Open(r, types.Paddr(sb.NxOmapOid), containerXid)
	if err != nil {
		return nil, err
	}

	if err := checkReaper(sb, res.Ephemeral); err != nil {
		return nil, err
	}

	fusion := sb.NxIncompatibleFeatures&types.NxIncompatFusion != 0
	if err := checkFusionObjects(r, sb, res.Ephemeral, fusion); err != nil {
		return nil, err
	}

	var volumes []*volume.Result
	for slot, fsOid := range sb.NxFsOid {
		if fsOid == 0 {
			continue
		}
		v, err := volume.Check(r, fsOid, slot, containerOmap.Lookup, containerXid, log)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}

	if err := checkVolumeGroups(volumes); err != nil {
		return nil, err
	}

	smSummary, err := checkSpaceman(r, sb, res.Ephemeral)
	if err != nil {
		return nil, err
	}

	return &Result{Superblock: sb, Volumes: volumes, Spaceman: smSummary}, nil
}

// checkFeatureMasks validates the container feature-flag table (§6):
// every recognised bit is checked, and of the violations found, the
// first one that is fatal under t is returned — so a suppressed
// conditionally-fatal violation (e.g. VERSION1 without -u) doesn't hide
// an unconditionally-fatal one found afterwards (e.g. VERSION2 absent).
func checkFeatureMasks(sb types.NxSuperblockT, hasTier2 bool, t report.Thresholds) error {
	fusion := sb.NxIncompatibleFeatures&types.NxIncompatFusion != 0

	var candidates []error

	if sb.NxIncompatibleFeatures&types.NxIncompatVersion1 != 0 {
		candidates = append(candidates, &report.Unsupported{Feature: "APFS version 1"})
	}
	if sb.NxIncompatibleFeatures&types.NxIncompatVersion2 == 0 {
		candidates = append(candidates, &report.Corruption{What: "container does not carry the required APFS version 2 incompatible-feature bit"})
	}
	if unknown := sb.NxIncompatibleFeatures &^ types.NxSupportedIncompatMask; unknown != 0 {
		candidates = append(candidates, &report.Unsupported{Feature: fmt.Sprintf("incompatible container feature bits 0x%016x", unknown)})
	}
	if fusion != hasTier2 {
		candidates = append(candidates, &report.Corruption{What: "fusion incompatible-feature bit does not agree with tier-2 device presence"})
	}
	if unknown := sb.NxFeatures &^ types.NxSupportedFeaturesMask; unknown != 0 {
		candidates = append(candidates, &report.Unsupported{Feature: fmt.Sprintf("optional container feature bits 0x%016x", unknown)})
	}
	if sb.NxFeatures&types.NxFeatureLcfd != 0 && !fusion {
		candidates = append(candidates, &report.Unsupported{Feature: "low-capacity fusion drive mode on a non-fusion container"})
	}
	if unknown := sb.NxReadonlyCompatibleFeatures &^ types.NxSupportedRocompatMask; unknown != 0 {
		candidates = append(candidates, &report.Unsupported{Feature: fmt.Sprintf("read-only-compatible container feature bits 0x%016x", unknown)})
	}
	if unknown := sb.NxFlags &^ uint64(supportedFlagsMask); unknown != 0 {
		candidates = append(candidates, &report.Corruption{What: fmt.Sprintf("undefined container flag bits 0x%016x", unknown)})
	}
	if sb.NxFlags&types.NxCryptoSw != 0 {
		candidates = append(candidates, &report.Unsupported{Feature: "software cryptography"})
	}

	for _, err := range candidates {
		if _, fatal := t.Check("", err); fatal {
			return err
		}
	}
	return nil
}

// checkReaper type-checks the reaper object only; an active reap list
// is outside this checker's supported state.
func checkReaper(sb types.NxSuperblockT, ephemeral map[types.OidT]checkpoint.EphemeralEntry) error {
	if sb.NxReaperOid == 0 {
		return nil
	}
	entry, ok := ephemeral[sb.NxReaperOid]
	if !ok {
		return &report.Corruption{What: fmt.Sprintf("reaper oid %d has no checkpoint-mapping entry", sb.NxReaperOid)}
	}
	if entry.Type != types.ObjectTypeNxReaper {
		return &report.Corruption{What: fmt.Sprintf("reaper oid %d has unexpected object type 0x%x", sb.NxReaperOid, entry.Type)}
	}
	return nil
}

// checkFusionObjects type-checks the Fusion middle tree (a direct
// physical object) and the write-back cache state (ephemeral) when the
// container is a Fusion drive, and requires both to be absent otherwise.
func checkFusionObjects(r *blockio.Reader, sb types.NxSuperblockT, ephemeral map[types.OidT]checkpoint.EphemeralEntry, fusion bool) error {
	if !fusion {
		if sb.NxFusionMtOid != 0 || sb.NxFusionWbcOid != 0 {
			return &report.Corruption{What: "non-fusion container has a fusion middle-tree or write-back-cache object set"}
		}
		return nil
	}

	if sb.NxFusionMtOid != 0 {
		_, hdr, err := objheader.ReadNocheck(r, types.Paddr(sb.NxFusionMtOid))
		if err != nil {
			return err
		}
		if _, err := objheader.ParseFlags(hdr.Flags); err != nil {
			return err
		}
		if hdr.Type != types.ObjectTypeBtree || hdr.Subtype != types.ObjectTypeFusionMiddleTree {
			return &report.Corruption{What: fmt.Sprintf("fusion middle tree has unexpected type 0x%x/subtype 0x%x", hdr.Type, hdr.Subtype)}
		}
	}
	if sb.NxFusionWbcOid != 0 {
		entry, ok := ephemeral[sb.NxFusionWbcOid]
		if !ok {
			return &report.Corruption{What: fmt.Sprintf("fusion write-back-cache oid %d has no checkpoint-mapping entry", sb.NxFusionWbcOid)}
		}
		if entry.Type != types.ObjectTypeNxFusionWbc {
			return &report.Corruption{What: fmt.Sprintf("fusion write-back-cache oid %d has unexpected object type 0x%x", sb.NxFusionWbcOid, entry.Type)}
		}
	}
	return nil
}

// checkSpaceman resolves the space manager's ephemeral object and
// shallow-checks it (C14).
func checkSpaceman(r *blockio.Reader, sb types.NxSuperblockT, ephemeral map[types.OidT]checkpoint.EphemeralEntry) (spaceman.Summary, error) {
	entry, ok := ephemeral[sb.NxSpacemanOid]
	if !ok {
		return spaceman.Summary{}, &report.Corruption{What: fmt.Sprintf("space manager oid %d has no checkpoint-mapping entry", sb.NxSpacemanOid)}
	}
	if entry.Type != types.ObjectTypeSpaceman {
		return spaceman.Summary{}, &report.Corruption{What: fmt.Sprintf("space manager oid %d has unexpected object type 0x%x", sb.NxSpacemanOid, entry.Type)}
	}
	block, hdr, err := objheader.ReadNocheck(r, entry.Paddr)
	if err != nil {
		return spaceman.Summary{}, err
	}
	if hdr.Type != types.ObjectTypeSpaceman {
		return spaceman.Summary{}, &report.Corruption{What: fmt.Sprintf("space manager object at block %d has unexpected header type 0x%x", entry.Paddr, hdr.Type)}
	}
	return spaceman.Check(block, r.BlockSize())
}

// checkVolumeGroups verifies every non-zero volume-group id, even one
// carried by a single volume, has both a system and a data member (§4.10).
func checkVolumeGroups(volumes []*volume.Result) error {
	type membership struct {
		system bool
		data   bool
	}
	groups := make(map[types.UUID]*membership)

	for _, v := range volumes {
		id := v.Superblock.ApfsVolumeGroupId
		if id == (types.UUID{}) {
			continue
		}
		m, ok := groups[id]
		if !ok {
			m = &membership{}
			groups[id] = m
		}
		role := v.Superblock.ApfsRole
		if role&types.ApfsVolRoleSystem != 0 {
			m.system = true
		}
		if role == types.ApfsVolRoleData {
			m.data = true
		}
	}

	for id, m := range groups {
		if !m.system || !m.data {
			return &report.Corruption{What: fmt.Sprintf("volume group %s is missing a system or data member", id)}
		}
	}
	return nil
}
