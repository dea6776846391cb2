package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/apfsck/internal/checkpoint"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/deploymenttheory/apfsck/internal/volume"
)

func baseSuperblock() types.NxSuperblockT {
	var sb types.NxSuperblockT
	sb.NxIncompatibleFeatures = types.NxIncompatVersion2
	return sb
}

func TestCheckFeatureMasksAccepts(t *testing.T) {
	sb := baseSuperblock()
	err := checkFeatureMasks(sb, false, report.Thresholds{})
	require.NoError(t, err)
}

func TestCheckFeatureMasksVersion2Required(t *testing.T) {
	sb := baseSuperblock()
	sb.NxIncompatibleFeatures = 0
	err := checkFeatureMasks(sb, false, report.Thresholds{})
	require.Error(t, err)
	var corruption *report.Corruption
	assert.ErrorAs(t, err, &corruption)
}

func TestCheckFeatureMasksVersion1SuppressedFallsThroughToVersion2(t *testing.T) {
	sb := baseSuperblock()
	sb.NxIncompatibleFeatures = types.NxIncompatVersion1

	err := checkFeatureMasks(sb, false, report.Thresholds{Unknown: false})
	require.Error(t, err)
	var corruption *report.Corruption
	assert.ErrorAs(t, err, &corruption, "version 2 required violation should surface once version 1 is suppressed")

	err = checkFeatureMasks(sb, false, report.Thresholds{Unknown: true})
	require.Error(t, err)
	var unsupported *report.Unsupported
	assert.ErrorAs(t, err, &unsupported, "version 1 should be reported first once -u is set")
}

func TestCheckFeatureMasksFusionMismatch(t *testing.T) {
	sb := baseSuperblock()
	sb.NxIncompatibleFeatures |= types.NxIncompatFusion
	err := checkFeatureMasks(sb, false, report.Thresholds{})
	require.Error(t, err)
}

func TestCheckReaperAbsentOidIsFine(t *testing.T) {
	sb := baseSuperblock()
	require.NoError(t, checkReaper(sb, map[types.OidT]checkpoint.EphemeralEntry{}))
}

func TestCheckReaperMissingEntry(t *testing.T) {
	sb := baseSuperblock()
	sb.NxReaperOid = 42
	err := checkReaper(sb, map[types.OidT]checkpoint.EphemeralEntry{})
	require.Error(t, err)
}

func TestCheckReaperWrongType(t *testing.T) {
	sb := baseSuperblock()
	sb.NxReaperOid = 42
	ephemeral := map[types.OidT]checkpoint.EphemeralEntry{
		42: {Type: types.ObjectTypeSpaceman},
	}
	err := checkReaper(sb, ephemeral)
	require.Error(t, err)
}

func TestCheckReaperAccepts(t *testing.T) {
	sb := baseSuperblock()
	sb.NxReaperOid = 42
	ephemeral := map[types.OidT]checkpoint.EphemeralEntry{
		42: {Type: types.ObjectTypeNxReaper},
	}
	require.NoError(t, checkReaper(sb, ephemeral))
}

func TestCheckFusionObjectsNonFusionMustBeEmpty(t *testing.T) {
	sb := baseSuperblock()
	sb.NxFusionWbcOid = 7
	err := checkFusionObjects(nil, sb, map[types.OidT]checkpoint.EphemeralEntry{}, false)
	require.Error(t, err)
}

func TestCheckFusionObjectsFusionWbcMissingEntry(t *testing.T) {
	sb := baseSuperblock()
	sb.NxFusionWbcOid = 7
	err := checkFusionObjects(nil, sb, map[types.OidT]checkpoint.EphemeralEntry{}, true)
	require.Error(t, err)
}

func TestCheckFusionObjectsFusionWbcAccepts(t *testing.T) {
	sb := baseSuperblock()
	sb.NxFusionWbcOid = 7
	ephemeral := map[types.OidT]checkpoint.EphemeralEntry{
		7: {Type: types.ObjectTypeNxFusionWbc},
	}
	require.NoError(t, checkFusionObjects(nil, sb, ephemeral, true))
}

func TestCheckVolumeGroupsRequiresBothMembers(t *testing.T) {
	group := types.UUID{1, 2, 3}
	volumes := []*volume.Result{
		{Superblock: types.ApfsSuperblockT{ApfsVolumeGroupId: group, ApfsRole: types.ApfsVolRoleSystem}},
	}
	err := checkVolumeGroups(volumes)
	require.Error(t, err)
}

func TestCheckVolumeGroupsAcceptsCompletePair(t *testing.T) {
	group := types.UUID{1, 2, 3}
	volumes := []*volume.Result{
		{Superblock: types.ApfsSuperblockT{ApfsVolumeGroupId: group, ApfsRole: types.ApfsVolRoleSystem}},
		{Superblock: types.ApfsSuperblockT{ApfsVolumeGroupId: group, ApfsRole: types.ApfsVolRoleData}},
	}
	require.NoError(t, checkVolumeGroups(volumes))
}

func TestCheckVolumeGroupsIgnoresUngroupedVolumes(t *testing.T) {
	volumes := []*volume.Result{
		{Superblock: types.ApfsSuperblockT{}},
	}
	require.NoError(t, checkVolumeGroups(volumes))
}
