// Package reconcile holds the per-volume side tables the catalog walker
// (§4.7) populates as it visits records, and the per-entry destructor
// checks that reconcile each table once the walk is done (§4.8).
//
// The spec describes these as closed hash tables chained on id%512,
// each chain sorted ascending. This module keeps them as native Go maps
// instead: a map already is a hash table, and nothing here needs the
// bucket layout itself, only id-keyed lookup and (at report time)
// ascending iteration, which is handled by sorting collected keys
// rather than by the storage structure.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// SiblingEntry tracks one hard-link name attached to an inode.
type SiblingEntry struct {
	Id       uint64
	ParentId uint64
	Name     string
	Checked  bool
}

// InodeEntry is the side-table row for one inode record.
type InodeEntry struct {
	Id   uint64
	Seen bool

	Mode                   types.ModeT
	Flags                  types.JInodeFlags
	DeclaredNchildrenNlink int32
	PrivateId              uint64

	ObservedLinkCount  int
	ObservedChildCount int

	PrimaryName  string
	NameXfield   string
	DocumentId   *uint32
	HasSymlink   bool
	HasRsrcFork  bool
	SparseBytes  *uint64
	FinderInfo   bool
	DirStatsSeen bool

	Siblings map[uint64]*SiblingEntry
}

func (e *InodeEntry) IsDir() bool { return e.Mode&types.SIfmt == types.SIfdir }

// DstreamEntry is the side-table row for one data-stream record.
type DstreamEntry struct {
	Id   uint64
	Seen bool // set by the dstream-id record

	Refcnt uint32

	LogicalBytes      uint64
	NextLogicalOffset uint64
	ObservedSparse    uint64

	ExpectedSize        *uint64
	ExpectedAllocedSize *uint64
	ExpectedSparseBytes *uint64

	IsXattr bool

	observedOwners map[uint64]bool
	extents        []PhysRange
}

// ExtentEntry is the side-table row for one physical-extent record,
// keyed by its starting physical block.
type ExtentEntry struct {
	StartBlock uint64
	Length     uint64
	Kind       types.JObjKinds
	Refcnt     int32

	observedOwners int
}

// Counters accumulates the end-of-volume tallies checked against the
// volume superblock's reported counts (§4.9).
type Counters struct {
	Files           uint64
	Directories     uint64
	Symlinks        uint64
	OtherFsObjects  uint64
	Snapshots       uint64
}

// Tables bundles every side table the catalog walker needs while
// visiting one volume's leaf records.
type Tables struct {
	Inodes   map[uint64]*InodeEntry
	Dstreams map[uint64]*DstreamEntry
	Extents  map[uint64]*ExtentEntry
	cnidKind map[uint64]types.JObjTypes

	Counters Counters
}

// New returns an empty set of side tables.
func New() *Tables {
	return &Tables{
		Inodes:   make(map[uint64]*InodeEntry),
		Dstreams: make(map[uint64]*DstreamEntry),
		Extents:  make(map[uint64]*ExtentEntry),
		cnidKind: make(map[uint64]types.JObjTypes),
	}
}

// GetOrCreateInode walks the inode table for id, splicing in a new
// entry if none exists yet.
func (t *Tables) GetOrCreateInode(id uint64) *InodeEntry {
	if e, ok := t.Inodes[id]; ok {
		return e
	}
	e := &InodeEntry{Id: id, Siblings: make(map[uint64]*SiblingEntry)}
	t.Inodes[id] = e
	return e
}

// GetOrCreateDstream walks the dstream table for id, splicing in a new
// entry if none exists yet.
func (t *Tables) GetOrCreateDstream(id uint64) *DstreamEntry {
	if e, ok := t.Dstreams[id]; ok {
		return e
	}
	e := &DstreamEntry{Id: id, observedOwners: make(map[uint64]bool)}
	t.Dstreams[id] = e
	return e
}

// GetOrCreateExtent walks the physical extent table for startBlock,
// splicing in a new entry if none exists yet.
func (t *Tables) GetOrCreateExtent(startBlock uint64) *ExtentEntry {
	if e, ok := t.Extents[startBlock]; ok {
		return e
	}
	e := &ExtentEntry{StartBlock: startBlock}
	t.Extents[startBlock] = e
	return e
}

// MarkCnidSeen inserts id into the cnid-seen set under kind. Further
// records of the same kind under id are accepted; a collision between
// two different kinds is fatal ("catalog id reused") unless it is the
// one documented exception: a dstream record sharing the cnid of its
// owning inode.
func (t *Tables) MarkCnidSeen(id uint64, kind types.JObjTypes) error {
	prev, ok := t.cnidKind[id]
	if !ok {
		t.cnidKind[id] = kind
		return nil
	}
	if prev == kind {
		return nil
	}

	sharedInodeDstream := (prev == types.ApfsTypeInode && kind == types.ApfsTypeDstreamId) ||
		(prev == types.ApfsTypeDstreamId && kind == types.ApfsTypeInode)
	if sharedInodeDstream {
		return nil
	}
	return &report.Corruption{What: fmt.Sprintf("catalog id %d reused between record kinds %d and %d", id, prev, kind)}
}

// RecordOwner marks one distinct owner (the inode or xattr-owning
// record that points at this dstream) as referencing the dstream; a
// repeated owner id is counted once. Finalize compares the number of
// distinct owners with the dstream-id record's refcnt.
func (e *DstreamEntry) RecordOwner(ownerId uint64) {
	if e.observedOwners[ownerId] {
		return
	}
	e.observedOwners[ownerId] = true
}

// RecordReference increments the extent's observed reference count.
func (e *ExtentEntry) RecordReference() { e.observedOwners++ }

// sortedUint64Keys returns ks sorted ascending, matching the "chain
// sorted ascending by id" ordering the spec requires for deterministic
// reconciliation output.
func sortedUint64Keys[V any](m map[uint64]V) []uint64 {
	ks := make([]uint64, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}
