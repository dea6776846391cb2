// Package catalog drives the depth-first walk of a volume's catalog
// (and, by the same dispatch, its snapshot-metadata and extent-ref
// trees, which share the catalog record shape) described in §4.7,
// populating the reconciliation side tables as it goes.
package catalog

import (
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/btree"
	"github.com/deploymenttheory/apfsck/internal/fold"
	"github.com/deploymenttheory/apfsck/internal/logging"
	"github.com/deploymenttheory/apfsck/internal/reconcile"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// Options configures per-volume behaviour the catalog walk needs from
// its owning volume superblock.
type Options struct {
	CaseFold  bool
	NextDocId uint32
	BlockSize uint32
}

// Walker drives one catalog walk, accumulating into Tables.
type Walker struct {
	opts   Options
	tables *reconcile.Tables
	log    logging.Logger

	snapMetaSeen map[uint64]bool
	snapNameXid  map[string]uint64
}

// New prepares a walker over tables, which the caller owns and
// finalizes afterward. log receives one debug line per tree walked;
// a nil log is never passed in practice, but any logging.Logger
// including a discard one works.
func New(tables *reconcile.Tables, opts Options, log logging.Logger) *Walker {
	return &Walker{
		opts:         opts,
		tables:       tables,
		log:          log,
		snapMetaSeen: make(map[uint64]bool),
		snapNameXid:  make(map[string]uint64),
	}
}

// Walk performs the depth-first leaf walk over tree, dispatching every
// record by kind, and returns the accumulated root-footer statistics
// for the caller to check with btree.CheckFooter. A volume's root tree,
// extent-ref tree, and snapshot-metadata tree are each walked by a
// separate call sharing the same Walker, since a record kind only ever
// appears in the tree that owns it. name identifies the tree in the
// operator log only; it plays no part in the walk itself.
func (w *Walker) Walk(name string, tree *btree.Tree) (btree.Stats, error) {
	stats, err := tree.Walk(func(rec btree.Record) error {
		return w.visit(rec)
	})
	if err != nil {
		return stats, err
	}
	w.log.Debugf("%s: walked %d catalog leaf record(s) across %d node(s)", name, stats.KeyCount, stats.NodeCount)
	return stats, nil
}

// FinishSnapshotPairing cross-checks every snapshot-metadata record
// against its name record, once every tree that can hold either has
// been walked.
func (w *Walker) FinishSnapshotPairing() error {
	return w.checkSnapshotPairing()
}

func (w *Walker) visit(rec btree.Record) error {
	cnid, kind, err := header(rec.Key)
	if err != nil {
		return err
	}

	// the cnid-seen rule does not apply to snapshot-name records (their
	// header id is the sentinel ~0ULL shared by every name record) or to
	// physical-extent records (their header id is a physical block
	// number, a distinct id space from file-system object ids).
	if kind != types.ApfsTypeSnapName && kind != types.ApfsTypeExtent {
		if err := w.tables.MarkCnidSeen(cnid, kind); err != nil {
			return err
		}
	}

	switch kind {
	case types.ApfsTypeInode:
		return w.visitInode(cnid, rec.Value)
	case types.ApfsTypeDirRec:
		return w.visitDentry(cnid, rec.Key, rec.Value)
	case types.ApfsTypeFileExtent:
		return w.visitFileExtent(cnid, rec.Key, rec.Value)
	case types.ApfsTypeDstreamId:
		return w.visitDstreamId(cnid, rec.Value)
	case types.ApfsTypeExtent:
		return w.visitPhysExtent(cnid, rec.Value)
	case types.ApfsTypeSiblingLink:
		return w.visitSiblingLink(cnid, rec.Key, rec.Value)
	case types.ApfsTypeSiblingMap:
		return w.visitSiblingMap(cnid, rec.Value)
	case types.ApfsTypeXattr:
		return w.visitXattr(cnid, rec.Key, rec.Value)
	case types.ApfsTypeSnapMetadata:
		return w.visitSnapMetadata(cnid, rec.Value)
	case types.ApfsTypeSnapName:
		return w.visitSnapName(rec.Key, rec.Value)
	case types.ApfsTypeDirStats:
		return w.visitDirStats(cnid)
	default:
		return nil
	}
}

func (w *Walker) visitInode(cnid uint64, value []byte) error {
	iv, err := decodeInodeValue(value)
	if err != nil {
		return err
	}

	switch iv.Mode & types.SIfmt {
	case types.SIfreg, types.SIfdir, types.SIflnk, types.SIfifo, types.SIfchr, types.SIfblk, types.SIfsock, types.SIfwht:
	default:
		return &report.Corruption{What: fmt.Sprintf("inode %d has unrecognised file type in mode 0%o", cnid, iv.Mode)}
	}

	e := w.tables.GetOrCreateInode(cnid)
	if e.Seen {
		return &report.Corruption{What: fmt.Sprintf("inode %d has more than one inode record", cnid)}
	}
	e.Seen = true
	e.Mode = iv.Mode
	e.Flags = types.JInodeFlags(iv.InternalFlags)
	e.DeclaredNchildrenNlink = iv.NchildrenOrNlink
	e.PrivateId = iv.PrivateId

	switch iv.Mode & types.SIfmt {
	case types.SIfdir:
		w.tables.Counters.Directories++
	case types.SIflnk:
		w.tables.Counters.Symlinks++
	case types.SIfreg:
		w.tables.Counters.Files++
	default:
		w.tables.Counters.OtherFsObjects++
	}

	return w.visitInodeXfields(cnid, e, iv)
}

func (w *Walker) visitInodeXfields(cnid uint64, e *reconcile.InodeEntry, iv inodeValue) error {
	entries, err := iterateXfields(iv.XFields)
	if err != nil {
		return err
	}

	for _, x := range entries {
		switch x.Type {
		case types.InoExtTypeSnapXid:
			return &report.Unsupported{Feature: "inode extended field SNAP_XID"}
		case types.InoExtTypeDeltaTreeOid:
			return &report.Unsupported{Feature: "inode extended field DELTA_TREE_OID"}
		case types.InoExtTypeFsUuid:
			return &report.Unsupported{Feature: "inode extended field FS_UUID"}
		case types.InoExtTypeReserved6, types.InoExtTypeReserved9, types.InoExtTypeReserved12:
			return &report.Corruption{What: fmt.Sprintf("inode %d has a reserved extended field type %d set", cnid, x.Type)}

		case types.InoExtTypeDocumentId:
			if len(x.Data) != 4 {
				return &report.Corruption{What: fmt.Sprintf("inode %d DOCUMENT_ID extended field has wrong size", cnid)}
			}
			docId := leUint32(x.Data)
			if docId < types.MinDocId || docId >= w.opts.NextDocId {
				return &report.Corruption{What: fmt.Sprintf("inode %d document id %d out of range [%d,%d)", cnid, docId, types.MinDocId, w.opts.NextDocId)}
			}
			e.DocumentId = &docId

		case types.InoExtTypeName:
			e.NameXfield = cString(x.Data)

		case types.InoExtTypePrevFsize:
			if len(x.Data) != 8 {
				return &report.Corruption{What: fmt.Sprintf("inode %d PREV_FSIZE extended field has wrong size", cnid)}
			}
			return &report.CrashSignature{What: fmt.Sprintf("inode %d has a PREV_FSIZE extended field from an interrupted truncate", cnid)}

		case types.InoExtTypeFinderInfo:
			if e.Flags&types.InodeHasFinderInfo == 0 {
				return &report.Corruption{What: fmt.Sprintf("inode %d has a Finder info extended field without HAS_FINDER_INFO", cnid)}
			}
			e.FinderInfo = true

		case types.InoExtTypeDstream:
			ds, err := decodeDstreamXfield(x.Data)
			if err != nil {
				return err
			}
			d := w.tables.GetOrCreateDstream(iv.PrivateId)
			size := ds.Size
			alloced := ds.AllocedSize
			d.ExpectedSize = &size
			d.ExpectedAllocedSize = &alloced
			d.RecordOwner(cnid)

		case types.InoExtTypeDirStatsKey:
			if e.Flags&types.InodeMaintainDirStats == 0 {
				return &report.Corruption{What: fmt.Sprintf("inode %d has a directory-statistics extended field without MAINTAIN_DIR_STATS", cnid)}
			}
			e.DirStatsSeen = true

		case types.InoExtTypeSparseBytes:
			if len(x.Data) != 8 {
				return &report.Corruption{What: fmt.Sprintf("inode %d SPARSE_BYTES extended field has wrong size", cnid)}
			}
			if e.Flags&types.InodeIsSparse == 0 {
				return &report.Corruption{What: fmt.Sprintf("inode %d has a sparse-byte-count extended field without IS_SPARSE", cnid)}
			}
			sb := leUint64(x.Data)
			e.SparseBytes = &sb
			d := w.tables.GetOrCreateDstream(iv.PrivateId)
			d.ExpectedSparseBytes = &sb

		case types.InoExtTypeRdev:
			if len(x.Data) != 4 {
				return &report.Corruption{What: fmt.Sprintf("inode %d RDEV extended field has wrong size", cnid)}
			}
			if iv.Mode&types.SIfmt != types.SIfchr && iv.Mode&types.SIfmt != types.SIfblk {
				return &report.Corruption{What: fmt.Sprintf("inode %d has an RDEV extended field but is not a device file", cnid)}
			}
		}
	}

	if e.Flags&types.InodeIsSparse != 0 && e.SparseBytes == nil {
		return &report.Corruption{What: fmt.Sprintf("inode %d has IS_SPARSE set but no sparse-byte-count extended field", cnid)}
	}
	if e.Flags&types.InodeMaintainDirStats != 0 && !e.DirStatsSeen && e.IsDir() {
		return &report.Corruption{What: fmt.Sprintf("inode %d has MAINTAIN_DIR_STATS set but no directory-statistics extended field", cnid)}
	}
	if e.Flags&types.InodeHasFinderInfo != 0 && !e.FinderInfo {
		return &report.Corruption{What: fmt.Sprintf("inode %d has HAS_FINDER_INFO set but no Finder info extended field", cnid)}
	}

	return nil
}

func (w *Walker) visitDentry(parentCnid uint64, key, value []byte) error {
	hk, err := decodeDrecHashedKey(key)
	if err != nil {
		return err
	}
	nameLen := hk.NameLenAndHash & types.JDrecLenMask
	name := cString(hk.Name)
	if int(nameLen) != len(name)+1 {
		return &report.Corruption{What: "directory entry name length does not match its null terminator"}
	}
	wantHash := fold.Hash(name, w.opts.CaseFold) << types.JDrecHashShift
	gotHash := hk.NameLenAndHash & types.JDrecHashMask
	if wantHash != gotHash {
		return &report.Corruption{What: fmt.Sprintf("directory entry %q has a name hash that doesn't match its recomputed value", name)}
	}

	dv, err := decodeDrecValue(value)
	if err != nil {
		return err
	}

	target := w.tables.GetOrCreateInode(dv.FileId)
	target.ObservedLinkCount++
	if target.PrimaryName == "" {
		target.PrimaryName = name
	}

	parent := w.tables.GetOrCreateInode(parentCnid)
	parent.ObservedChildCount++

	dt := uint16(types.DirRecFlags(dv.Flags) & types.DrecTypeMask)
	wantMode := dtToMode(dt)
	if target.Mode != 0 {
		if target.Mode&types.SIfmt != wantMode {
			return &report.Corruption{What: fmt.Sprintf("directory entry for inode %d disagrees with its inode's file type", dv.FileId)}
		}
	} else {
		target.Mode = wantMode
	}

	if dv.SiblingId != nil {
		s, ok := target.Siblings[*dv.SiblingId]
		if !ok {
			s = &reconcile.SiblingEntry{Id: *dv.SiblingId, ParentId: parentCnid, Name: name}
			target.Siblings[*dv.SiblingId] = s
		}
	}

	return nil
}

func (w *Walker) visitFileExtent(dstreamId uint64, key, value []byte) error {
	fk, err := decodeFileExtentKey(key)
	if err != nil {
		return err
	}
	fv, err := decodeFileExtentValue(value)
	if err != nil {
		return err
	}
	if fv.Length == 0 || fv.Length%uint64(w.opts.BlockSize) != 0 {
		return &report.Corruption{What: fmt.Sprintf("file extent of dstream %d has length %d, not a nonzero multiple of the container block size", dstreamId, fv.Length)}
	}

	d := w.tables.GetOrCreateDstream(dstreamId)
	if fk.LogicalAddr != d.NextLogicalOffset {
		return &report.Corruption{What: fmt.Sprintf("file extent of dstream %d is not consecutive: expected logical offset %d, got %d", dstreamId, d.NextLogicalOffset, fk.LogicalAddr)}
	}
	d.NextLogicalOffset += fv.Length
	d.LogicalBytes += fv.Length

	if fv.PhysBlockNum == 0 {
		d.ObservedSparse += fv.Length
		return nil
	}
	d.AttachExtent(fv.PhysBlockNum, fv.Length/uint64(w.opts.BlockSize))
	return nil
}

func (w *Walker) visitDstreamId(id uint64, value []byte) error {
	dv, err := decodeDstreamIdValue(value)
	if err != nil {
		return err
	}
	d := w.tables.GetOrCreateDstream(id)
	if d.Seen {
		return &report.Corruption{What: fmt.Sprintf("dstream %d has more than one dstream-id record", id)}
	}
	d.Seen = true
	d.Refcnt = dv.Refcnt
	return nil
}

func (w *Walker) visitPhysExtent(startBlock uint64, value []byte) error {
	pv, err := decodePhysExtValue(value)
	if err != nil {
		return err
	}
	if pv.Kind != types.ApfsKindNew && pv.Kind != types.ApfsKindUpdate {
		return &report.Corruption{What: fmt.Sprintf("physical extent at block %d has unexpected kind %d", startBlock, pv.Kind)}
	}
	if (pv.OwningObjId == invalidObjId) != (pv.Kind == types.ApfsKindUpdate) {
		return &report.Corruption{What: fmt.Sprintf("physical extent at block %d owner/kind combination is inconsistent", startBlock)}
	}
	if pv.Length == 0 {
		return &report.Corruption{What: fmt.Sprintf("physical extent at block %d has zero length", startBlock)}
	}
	if pv.Refcnt <= 0 {
		return &report.Corruption{What: fmt.Sprintf("physical extent at block %d has non-positive refcnt", startBlock)}
	}

	e := w.tables.GetOrCreateExtent(startBlock)
	e.Length = pv.Length
	e.Kind = pv.Kind
	e.Refcnt = pv.Refcnt
	return nil
}

func (w *Walker) visitSiblingLink(inodeId uint64, key, value []byte) error {
	sk, err := decodeSiblingKey(key)
	if err != nil {
		return err
	}
	sv, err := decodeSiblingValue(value)
	if err != nil {
		return err
	}

	inode := w.tables.GetOrCreateInode(inodeId)
	s, ok := inode.Siblings[sk.SiblingId]
	if !ok {
		inode.Siblings[sk.SiblingId] = &reconcile.SiblingEntry{Id: sk.SiblingId, ParentId: sv.ParentId, Name: sv.Name}
		return nil
	}
	if s.ParentId != sv.ParentId || s.Name != sv.Name {
		return &report.Corruption{What: fmt.Sprintf("sibling %d of inode %d disagrees between its dentry and its sibling-link record", sk.SiblingId, inodeId)}
	}
	s.Checked = true
	return nil
}

func (w *Walker) visitSiblingMap(siblingId uint64, value []byte) error {
	mv, err := decodeSiblingMapValue(value)
	if err != nil {
		return err
	}
	inode, ok := w.tables.Inodes[mv.FileId]
	if !ok {
		return &report.Corruption{What: fmt.Sprintf("sibling map %d references unknown inode %d", siblingId, mv.FileId)}
	}
	if s, ok := inode.Siblings[siblingId]; ok {
		s.Checked = true
	}
	return nil
}

func (w *Walker) visitXattr(ownerId uint64, key, value []byte) error {
	xk, err := decodeXattrKey(key)
	if err != nil {
		return err
	}
	xv, err := decodeXattrValue(value)
	if err != nil {
		return err
	}

	embedded := xv.Flags&types.XattrDataEmbedded != 0
	dstream := xv.Flags&types.XattrDataStream != 0
	if embedded == dstream {
		return &report.Corruption{What: fmt.Sprintf("xattr %d has both or neither of XATTR_DATA_EMBEDDED/XATTR_DATA_STREAM set", ownerId)}
	}
	if embedded && int(xv.XdataLen) != len(xv.Xdata) {
		return &report.Corruption{What: fmt.Sprintf("xattr %d embedded data length does not match xdata_len", ownerId)}
	}
	if dstream {
		if len(xv.Xdata) != 8 {
			return &report.Corruption{What: fmt.Sprintf("xattr %d stream reference has wrong size", ownerId)}
		}
		dsId := leUint64(xv.Xdata)
		d := w.tables.GetOrCreateDstream(dsId)
		d.IsXattr = true
		d.RecordOwner(ownerId)
	}

	if inode, ok := w.tables.Inodes[ownerId]; ok {
		switch xk.Name {
		case types.SymlinkEaName:
			inode.HasSymlink = true
		case resourceForkEaName:
			inode.HasRsrcFork = true
		}
	}

	return nil
}

// resourceForkEaName is the extended-attribute name that stores a
// file's resource fork, cross-checked against the inode's
// HAS_RSRC_FORK flag.
const resourceForkEaName = "com.apple.ResourceFork"

func (w *Walker) visitSnapMetadata(xid uint64, value []byte) error {
	if _, err := decodeSnapMetadataValue(value); err != nil {
		return err
	}
	w.tables.Counters.Snapshots++
	if w.snapMetaSeen[xid] {
		return &report.Corruption{What: fmt.Sprintf("snapshot metadata transaction %d has more than one record", xid)}
	}
	w.snapMetaSeen[xid] = true
	return nil
}

func (w *Walker) visitSnapName(key, value []byte) error {
	nk, err := decodeSnapNameKey(key)
	if err != nil {
		return err
	}
	if len(value) < 8 {
		return &report.Corruption{What: "snapshot name value shorter than its fixed fields"}
	}
	xid := leUint64(value)
	w.snapNameXid[nk.Name] = xid
	return nil
}

func (w *Walker) visitDirStats(cnid uint64) error {
	if inode, ok := w.tables.Inodes[cnid]; ok {
		inode.DirStatsSeen = true
	}
	return nil
}

func (w *Walker) checkSnapshotPairing() error {
	matched := make(map[uint64]bool)
	for name, xid := range w.snapNameXid {
		if !w.snapMetaSeen[xid] {
			return &report.Corruption{What: fmt.Sprintf("snapshot name %q references transaction %d with no metadata record", name, xid)}
		}
		matched[xid] = true
	}
	for xid := range w.snapMetaSeen {
		if !matched[xid] {
			return &report.Corruption{What: fmt.Sprintf("snapshot metadata for transaction %d has no matching name record", xid)}
		}
	}
	return nil
}

func dtToMode(dt uint16) types.ModeT {
	switch dt {
	case types.DtFifo:
		return types.SIfifo
	case types.DtChr:
		return types.SIfchr
	case types.DtDir:
		return types.SIfdir
	case types.DtBlk:
		return types.SIfblk
	case types.DtReg:
		return types.SIfreg
	case types.DtLnk:
		return types.SIflnk
	case types.DtSock:
		return types.SIfsock
	case types.DtWht:
		return types.SIfwht
	default:
		return 0
	}
}
