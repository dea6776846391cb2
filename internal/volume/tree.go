package volume

import (
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/blockio"
	"github.com/deploymenttheory/apfsck/internal/btree"
	"github.com/deploymenttheory/apfsck/internal/catalog"
	"github.com/deploymenttheory/apfsck/internal/objheader"
	"github.com/deploymenttheory/apfsck/internal/omap"
	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// checker holds the state shared by every tree a volume owns: the block
// reader, the volume's own object map, the bounding transaction id, and
// the key comparator derived from the volume's case-folding feature.
type checker struct {
	r            *blockio.Reader
	omap         *omap.Map
	containerXid types.XidT
	comparator   catalog.Comparator
}

// treeSpec names one of a volume's B-trees: its root object id, the
// object subtype its root node must carry, and whether that root id is
// resolved through the volume omap (virtual) or used as a direct
// physical address.
type treeSpec struct {
	name        string
	oid         types.OidT
	wantSubtype uint32
	virtual     bool
}

// openTree resolves a tree's root object, validates its type/subtype,
// decodes its footer, and builds a queryable btree.Tree whose Load
// closure resolves every other node the same way the root was resolved.
func (c *checker) openTree(spec treeSpec) (*btree.Tree, btree.Footer, error) {
	if spec.oid == 0 {
		return nil, btree.Footer{}, &report.Corruption{What: fmt.Sprintf("%s has no root object", spec.name)}
	}

	block, hdr, err := c.loadObject(spec.oid, spec.virtual)
	if err != nil {
		return nil, btree.Footer{}, err
	}
	if hdr.Type != types.ObjectTypeBtree {
		return nil, btree.Footer{}, &report.Corruption{What: fmt.Sprintf("%s root has unexpected object type 0x%x", spec.name, hdr.Type)}
	}
	if hdr.Subtype != spec.wantSubtype {
		return nil, btree.Footer{}, &report.Corruption{What: fmt.Sprintf("%s root has unexpected subtype 0x%x, want 0x%x", spec.name, hdr.Subtype, spec.wantSubtype)}
	}

	footer, err := btree.DecodeFooter(block)
	if err != nil {
		return nil, btree.Footer{}, err
	}
	root, err := btree.DecodeNode(block, hdr.Oid, hdr.Xid, len(block), btree.FooterSize)
	if err != nil {
		return nil, btree.Footer{}, err
	}

	loc := btree.Locator{
		Fixed:          root.HasFixedKV(),
		KeySize:        int(footer.KeySize),
		LeafValSize:    int(footer.ValSize),
		NonleafValSize: 8,
	}

	tree := &btree.Tree{
		Root:    root,
		Locator: loc,
		Cmp:     c.comparator,
		Load: func(childPtr uint64, _ types.OidT) (*btree.Node, error) {
			block, hdr, err := c.loadObject(types.OidT(childPtr), spec.virtual)
			if err != nil {
				return nil, err
			}
			return btree.DecodeNode(block, hdr.Oid, hdr.Xid, len(block), 0)
		},
	}

	return tree, footer, nil
}

// loadObject reads and checksum-verifies the object at oid, resolving it
// through the volume omap when virtual, or treating oid as a direct
// physical address otherwise, and bounds its xid by the container's.
func (c *checker) loadObject(oid types.OidT, virtual bool) (blockio.Block, objheader.Hdr, error) {
	if virtual {
		return objheader.Read(c.r, oid, c.omap.Lookup, c.containerXid, c.containerXid, 0)
	}

	block, hdr, err := objheader.ReadNocheck(c.r, types.Paddr(oid))
	if err != nil {
		return nil, objheader.Hdr{}, err
	}
	if _, err := objheader.ParseFlags(hdr.Flags); err != nil {
		return nil, objheader.Hdr{}, err
	}
	if hdr.Xid > c.containerXid {
		return nil, objheader.Hdr{}, &report.Corruption{What: fmt.Sprintf("object xid %d exceeds container xid %d", hdr.Xid, c.containerXid)}
	}
	return block, hdr, nil
}
