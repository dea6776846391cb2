// Package volume drives the per-volume half of the checker (§4.9):
// validating one volume superblock, parsing its four trees, walking its
// catalog, and reconciling the measured counts against the superblock's
// own bookkeeping.
package volume

import (
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/blockio"
	"github.com/deploymenttheory/apfsck/internal/btree"
	"github.com/deploymenttheory/apfsck/internal/catalog"
	"github.com/deploymenttheory/apfsck/internal/logging"
	"github.com/deploymenttheory/apfsck/internal/objheader"
	"github.com/deploymenttheory/apfsck/internal/omap"
	"github.com/deploymenttheory/apfsck/internal/reconcile"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// Result is the outcome of successfully checking one volume.
type Result struct {
	Superblock types.ApfsSuperblockT
	Tables     *reconcile.Tables
}

// Check validates the volume superblock resolved by fsOid at container
// slot, then walks its trees and reconciles their content against the
// superblock's own counters. fsOid is resolved through the container's
// object map; containerXid bounds every object this volume can see; log
// receives one operator-visibility line per tree walked plus a final
// per-volume summary.
func Check(r *blockio.Reader, fsOid types.OidT, slot int, containerOmap objheader.OmapLookup, containerXid types.XidT, log logging.Logger) (*Result, error) {
	block, hdr, err := objheader.Read(r, fsOid, containerOmap, containerXid, containerXid, 0)
	if err != nil {
		return nil, err
	}
	if hdr.Type != types.ObjectTypeFs {
		return nil, &report.Corruption{What: fmt.Sprintf("volume oid %d has unexpected object type 0x%x", fsOid, hdr.Type)}
	}

	sb, err := decodeSuperblock(block)
	if err != nil {
		return nil, err
	}

	if err := checkSuperblock(sb, slot); err != nil {
		return nil, err
	}

	caseFold := sb.ApfsIncompatibleFeatures&types.ApfsIncompatCaseInsensitive != 0
	cmp := catalog.Comparator{CaseFold: caseFold}

	vol := &checker{r: r, containerXid: containerXid, comparator: cmp}

	volOmap, err := omap.Open(r, types.Paddr(sb.ApfsOmapOid), containerXid)
	if err != nil {
		return nil, err
	}
	vol.omap = volOmap

	tables := reconcile.New()
	w := catalog.New(tables, catalog.Options{
		CaseFold:  caseFold,
		NextDocId: sb.ApfsNextDocId,
		BlockSize: r.BlockSize(),
	}, log)

	rootTree, rootFooter, err := vol.openTree(treeSpec{
		name: "root tree", oid: sb.ApfsRootTreeOid, wantSubtype: types.ObjectTypeFstree, virtual: true,
	})
	if err != nil {
		return nil, err
	}
	leaves, err := walkAndCheckFooter(w, "root tree", rootTree, rootFooter, r.BlockSize())
	if err != nil {
		return nil, err
	}

	extentrefTree, extentrefFooter, err := vol.openTree(treeSpec{
		name: "extent-reference tree", oid: sb.ApfsExtentrefTreeOid, wantSubtype: types.ObjectTypeBlockreftree, virtual: false,
	})
	if err != nil {
		return nil, err
	}
	n, err := walkAndCheckFooter(w, "extent-reference tree", extentrefTree, extentrefFooter, r.BlockSize())
	if err != nil {
		return nil, err
	}
	leaves += n

	if sb.ApfsSnapMetaTreeOid != 0 {
		snapTree, snapFooter, err := vol.openTree(treeSpec{
			name: "snapshot metadata tree", oid: sb.ApfsSnapMetaTreeOid, wantSubtype: types.ObjectTypeBlockreftree, virtual: true,
		})
		if err != nil {
			return nil, err
		}
		n, err := walkAndCheckFooter(w, "snapshot metadata tree", snapTree, snapFooter, r.BlockSize())
		if err != nil {
			return nil, err
		}
		leaves += n
	}

	sealed := sb.ApfsIncompatibleFeatures&types.ApfsIncompatSealedVolume != 0
	if sealed && sb.ApfsFextTreeOid != 0 {
		fextTree, fextFooter, err := vol.openTree(treeSpec{
			name: "file-extent tree", oid: sb.ApfsFextTreeOid, wantSubtype: types.ObjectTypeFextTree, virtual: true,
		})
		if err != nil {
			return nil, err
		}
		n, err := walkAndCheckFooter(w, "file-extent tree", fextTree, fextFooter, r.BlockSize())
		if err != nil {
			return nil, err
		}
		leaves += n
	}

	if err := w.FinishSnapshotPairing(); err != nil {
		return nil, err
	}
	if err := tables.Finalize(); err != nil {
		return nil, err
	}
	if err := checkRootAndPrivateDir(tables); err != nil {
		return nil, err
	}
	if err := reconcileCounters(sb, tables.Counters); err != nil {
		return nil, err
	}

	log.Debugf("volume %d: walked %d catalog leaves total, uuid %s", slot, leaves, sb.ApfsVolUuid)

	return &Result{Superblock: sb, Tables: tables}, nil
}

func walkAndCheckFooter(w *catalog.Walker, name string, tree *btree.Tree, footer btree.Footer, blockSize uint32) (uint64, error) {
	stats, err := w.Walk(name, tree)
	if err != nil {
		return 0, err
	}
	if err := btree.CheckFooter(footer, stats, blockSize, tree.Locator); err != nil {
		return 0, err
	}
	return stats.KeyCount, nil
}

func checkRootAndPrivateDir(tables *reconcile.Tables) error {
	if e, ok := tables.Inodes[types.RootDirInoNum]; !ok || !e.Seen {
		return &report.Corruption{What: "volume has no root directory inode"}
	}
	if e, ok := tables.Inodes[types.PrivDirInoNum]; !ok || !e.Seen {
		return &report.Corruption{What: "volume has no private directory inode"}
	}
	return nil
}

// reconcileCounters compares the measured end-of-volume tallies against
// the superblock's own counters, per §4.9. num_files alone tolerates an
// off-by-one difference, a known artefact of the reference
// implementation (§9).
func reconcileCounters(sb types.ApfsSuperblockT, c reconcile.Counters) error {
	diff := int64(sb.ApfsNumFiles) - int64(c.Files)
	if diff < -1 || diff > 1 {
		return &report.Corruption{What: fmt.Sprintf("volume superblock reports %d files, measured %d", sb.ApfsNumFiles, c.Files)}
	}
	if diff != 0 {
		return &report.Weird{What: fmt.Sprintf("volume superblock reports %d files, measured %d", sb.ApfsNumFiles, c.Files)}
	}
	if sb.ApfsNumDirectories != c.Directories {
		return &report.Corruption{What: fmt.Sprintf("volume superblock reports %d directories, measured %d", sb.ApfsNumDirectories, c.Directories)}
	}
	if sb.ApfsNumSymlinks != c.Symlinks {
		return &report.Corruption{What: fmt.Sprintf("volume superblock reports %d symlinks, measured %d", sb.ApfsNumSymlinks, c.Symlinks)}
	}
	if sb.ApfsNumOtherFsobjects != c.OtherFsObjects {
		return &report.Corruption{What: fmt.Sprintf("volume superblock reports %d other fs-objects, measured %d", sb.ApfsNumOtherFsobjects, c.OtherFsObjects)}
	}
	if sb.ApfsNumSnapshots != c.Snapshots {
		return &report.Corruption{What: fmt.Sprintf("volume superblock reports %d snapshots, measured %d", sb.ApfsNumSnapshots, c.Snapshots)}
	}
	return nil
}
