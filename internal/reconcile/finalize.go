package reconcile

import (
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// PhysRange is one physical range a dstream's file-extent records
// pushed onto its attached-extent list.
type PhysRange struct {
	Start  uint64
	Length uint64
}

// AttachExtent pushes a physical range onto the dstream's attached
// extent list, to be reconciled against the physical extent table at
// finalize time.
func (e *DstreamEntry) AttachExtent(start, length uint64) {
	e.extents = append(e.extents, PhysRange{Start: start, Length: length})
}

// AttachedExtents returns the physical ranges pushed onto e by
// AttachExtent, in the order file-extent records were visited.
func (e *DstreamEntry) AttachedExtents() []PhysRange {
	return e.extents
}

// Finalize runs the per-entry destructor checks in the mandatory order
// — inodes, then dstreams, then the physical extent table the dstream
// destructor cross-references — stopping at the first violation, per
// the checker's fail-fast design.
func (t *Tables) Finalize() error {
	for _, id := range sortedUint64Keys(t.Inodes) {
		if err := t.finalizeInode(t.Inodes[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedUint64Keys(t.Dstreams) {
		if err := t.finalizeDstream(t.Dstreams[id]); err != nil {
			return err
		}
	}
	for _, block := range sortedUint64Keys(t.Extents) {
		if err := t.finalizeExtent(t.Extents[block]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tables) finalizeInode(e *InodeEntry) error {
	if !e.Seen {
		return &report.Corruption{What: fmt.Sprintf("inode %d is referenced but has no inode record", e.Id)}
	}

	if e.IsDir() {
		if e.ObservedLinkCount != 1 {
			return &report.Corruption{What: fmt.Sprintf("directory inode %d has %d parent links, want 1", e.Id, e.ObservedLinkCount)}
		}
		if int(e.DeclaredNchildrenNlink) != e.ObservedChildCount {
			return &report.Corruption{What: fmt.Sprintf("directory inode %d declares %d children, observed %d", e.Id, e.DeclaredNchildrenNlink, e.ObservedChildCount)}
		}
	} else {
		if int(e.DeclaredNchildrenNlink) != e.ObservedLinkCount {
			return &report.Corruption{What: fmt.Sprintf("inode %d declares nlink %d, observed %d", e.Id, e.DeclaredNchildrenNlink, e.ObservedLinkCount)}
		}
	}

	if e.PrimaryName == "" {
		return &report.Corruption{What: fmt.Sprintf("inode %d has no primary-link name", e.Id)}
	}

	if firstId, ok := firstSiblingId(e.Siblings); ok && e.NameXfield != "" {
		if e.Siblings[firstId].Name != e.NameXfield {
			return &report.Corruption{What: fmt.Sprintf("inode %d's first sibling name does not match its name extended field", e.Id)}
		}
	}
	for id, s := range e.Siblings {
		if !s.Checked {
			return &report.Corruption{What: fmt.Sprintf("inode %d sibling %d was never matched against a sibling-map record", e.Id, id)}
		}
	}

	if e.Mode&types.SIfmt == types.SIflnk && !e.HasSymlink {
		return &report.Corruption{What: fmt.Sprintf("symlink inode %d has no target extended attribute", e.Id)}
	}
	if (e.Flags&types.InodeHasRsrcFork != 0) != e.HasRsrcFork {
		return &report.Corruption{What: fmt.Sprintf("inode %d HAS_RSRC_FORK flag does not match observed resource-fork attribute", e.Id)}
	}

	return nil
}

func (t *Tables) finalizeDstream(e *DstreamEntry) error {
	if !e.IsXattr && !e.Seen {
		return &report.Corruption{What: fmt.Sprintf("dstream %d has file-extent records but no dstream-id record", e.Id)}
	}
	if uint32(len(e.observedOwners)) != e.Refcnt {
		return &report.Corruption{What: fmt.Sprintf("dstream %d refcnt %d does not match %d observed owners", e.Id, e.Refcnt, len(e.observedOwners))}
	}
	if e.ExpectedSize != nil && e.LogicalBytes < *e.ExpectedSize {
		return &report.Corruption{What: fmt.Sprintf("dstream %d logical bytes %d smaller than declared size %d", e.Id, e.LogicalBytes, *e.ExpectedSize)}
	}
	if e.ExpectedAllocedSize != nil && e.LogicalBytes != *e.ExpectedAllocedSize {
		return &report.Corruption{What: fmt.Sprintf("dstream %d logical bytes %d does not match alloced size %d", e.Id, e.LogicalBytes, *e.ExpectedAllocedSize)}
	}
	if e.ExpectedSparseBytes != nil && e.ObservedSparse != *e.ExpectedSparseBytes {
		return &report.Corruption{What: fmt.Sprintf("dstream %d observed sparse bytes %d does not match extended field %d", e.Id, e.ObservedSparse, *e.ExpectedSparseBytes)}
	}

	for _, r := range e.extents {
		extent, ok := t.Extents[r.Start]
		if !ok {
			return &report.Corruption{What: fmt.Sprintf("dstream %d extent at block %d has no physical-extent record", e.Id, r.Start)}
		}
		extent.RecordReference()
	}

	return nil
}

func (t *Tables) finalizeExtent(e *ExtentEntry) error {
	if int32(e.observedOwners) != e.Refcnt {
		return &report.Corruption{What: fmt.Sprintf("physical extent at block %d has refcnt %d but %d observed references", e.StartBlock, e.Refcnt, e.observedOwners)}
	}
	return nil
}

func firstSiblingId(siblings map[uint64]*SiblingEntry) (uint64, bool) {
	ids := sortedUint64Keys(siblings)
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}
