// Package omap specializes the generic B-tree engine over the object
// map's fixed-size (oid, xid) keys and (flags, size, paddr) values.
package omap

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/blockio"
	"github.com/deploymenttheory/apfsck/internal/btree"
	"github.com/deploymenttheory/apfsck/internal/objheader"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// keySize/valSize match OmapKeyT (oid+xid) and OmapValT (flags+size+paddr).
const keySize = 16
const valSize = 16
const nonleafValSize = 8

// locator is the fixed-kv record locator shared by every omap tree.
var locator = btree.Locator{Fixed: true, KeySize: keySize, LeafValSize: valSize, NonleafValSize: nonleafValSize}

// Map wraps a loaded, queryable object map B-tree.
type Map struct {
	r        *blockio.Reader
	tree     *btree.Tree
	xidBound types.XidT
}

// comparator orders omap keys by oid ascending, then xid ascending; a
// "primary" match for a multi-record scan means the oid matches,
// regardless of xid.
type comparator struct{}

func decodeKey(b []byte) (types.OidT, types.XidT) {
	return types.OidT(binary.LittleEndian.Uint64(b[0:8])), types.XidT(binary.LittleEndian.Uint64(b[8:16]))
}

func (comparator) Compare(a, b []byte) int {
	aOid, aXid := decodeKey(a)
	bOid, bXid := decodeKey(b)
	if aOid != bOid {
		if aOid < bOid {
			return -1
		}
		return 1
	}
	if aXid != bXid {
		if aXid < bXid {
			return -1
		}
		return 1
	}
	return 0
}

func (comparator) Primary(a, b []byte) bool {
	aOid, _ := decodeKey(a)
	bOid, _ := decodeKey(b)
	return aOid == bOid
}

// Open loads the root node of the object map rooted at physical
// address root (an omap itself is always a physical object) and
// prepares it for point queries bounded by xidBound.
func Open(r *blockio.Reader, root types.Paddr, xidBound types.XidT) (*Map, error) {
	m := &Map{r: r, xidBound: xidBound}

	rootNode, err := m.loadPhysical(root, types.OidT(root), true)
	if err != nil {
		return nil, err
	}

	m.tree = &btree.Tree{
		Root:    rootNode,
		Locator: locator,
		Cmp:     comparator{},
		Load: func(childPtr uint64, expectOid types.OidT) (*btree.Node, error) {
			return m.loadPhysical(types.Paddr(childPtr), types.OidT(childPtr), false)
		},
	}
	return m, nil
}

func (m *Map) loadPhysical(paddr types.Paddr, expectOid types.OidT, isRoot bool) (*btree.Node, error) {
	block, hdr, err := objheader.ReadNocheck(m.r, paddr)
	if err != nil {
		return nil, err
	}
	if _, err := objheader.ParseFlags(hdr.Flags); err != nil {
		return nil, err
	}
	if hdr.Type != types.ObjectTypeBtree && hdr.Type != types.ObjectTypeBtreeNode {
		return nil, &report.Corruption{What: fmt.Sprintf("omap node at %d has unexpected object type 0x%x", paddr, hdr.Type)}
	}

	footerLen := 0
	if isRoot {
		footerLen = btree.FooterSize
	}
	return btree.DecodeNode(block, hdr.Oid, hdr.Xid, len(block), footerLen)
}

// Lookup resolves (oid, xid) to a physical address and its record xid,
// returning the record with the greatest xid <= target among those
// sharing oid, per §4.5. Returns found=false, and no error, if no such
// record exists or the query fails; objheader.Read turns that into a
// Corruption.
func (m *Map) Lookup(oid types.OidT, xid types.XidT) (types.Paddr, types.XidT, bool) {
	records, err := m.tree.MultiQuery(encodeKey(oid, m.xidBound))
	if err != nil || len(records) == 0 {
		return 0, 0, false
	}

	var best *btree.Record
	var bestXid types.XidT
	for i := range records {
		_, recXid := decodeKey(records[i].Key)
		if recXid > xid {
			continue
		}
		if best == nil || recXid > bestXid {
			best = &records[i]
			bestXid = recXid
		}
	}
	if best == nil {
		return 0, 0, false
	}

	val := best.Value
	paddr := types.Paddr(binary.LittleEndian.Uint64(val[8:16]))
	return paddr, bestXid, true
}

func encodeKey(oid types.OidT, xid types.XidT) []byte {
	b := make([]byte, keySize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(oid))
	binary.LittleEndian.PutUint64(b[8:16], uint64(xid))
	return b
}
