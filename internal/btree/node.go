// Package btree implements the generic on-disk B-tree engine shared by
// the object map and every volume catalog/extent-ref/snapshot-meta/fext
// tree: node decoding, bounds-checked record location, point and
// multi-record queries, and root-footer reconciliation.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// dataStart is the byte offset where the node's btn_data storage area
// begins: object header (32) + node header (24).
const dataStart = 56

// Node is a decoded, bounds-validated B-tree node.
type Node struct {
	Oid        types.OidT
	Xid        types.XidT
	Flags      uint16
	Level      uint16
	Nkeys      uint32
	TableSpace types.NlocT
	FreeSpace  types.NlocT

	Raw      []byte // full block, including the 56-byte prefix
	Data     []byte // btn_data area (Raw[dataStart:])
	KeyArea  int    // offset into Data where keys begin
	BlockEnd int    // usable end of Data (before footer, if root)
}

func (n *Node) IsRoot() bool     { return n.Flags&types.BtnodeRoot != 0 }
func (n *Node) IsLeaf() bool     { return n.Flags&types.BtnodeLeaf != 0 }
func (n *Node) HasFixedKV() bool { return n.Flags&types.BtnodeFixedKvSize != 0 }

// Locator knows how to locate the i'th key and value within a node,
// given the node's kind (fixed-kv vs variable) and the tree's fixed key
// and value sizes (only meaningful for fixed-kv trees).
type Locator struct {
	Fixed          bool
	KeySize        int // fixed-kv trees only
	LeafValSize    int // fixed-kv trees only: value size on leaf nodes
	NonleafValSize int // fixed-kv trees only: value size on nonleaf nodes (child oid)
}

// DecodeNode parses and bounds-validates a raw block into a Node. B is
// the block size. footerLen is non-zero only when decoding a root node,
// and gives the footer length to exclude from the value area.
func DecodeNode(block []byte, oid types.OidT, xid types.XidT, B int, footerLen int) (*Node, error) {
	if len(block) < dataStart {
		return nil, &report.Corruption{What: "B-tree node shorter than its header"}
	}

	n := &Node{
		Oid:   types.OidT(binary.LittleEndian.Uint64(block[8:16])),
		Xid:   types.XidT(binary.LittleEndian.Uint64(block[16:24])),
		Flags: binary.LittleEndian.Uint16(block[32:34]),
		Level: binary.LittleEndian.Uint16(block[34:36]),
		Nkeys: binary.LittleEndian.Uint32(block[36:40]),
		TableSpace: types.NlocT{
			Off: binary.LittleEndian.Uint16(block[40:42]),
			Len: binary.LittleEndian.Uint16(block[42:44]),
		},
		FreeSpace: types.NlocT{
			Off: binary.LittleEndian.Uint16(block[44:46]),
			Len: binary.LittleEndian.Uint16(block[46:48]),
		},
		Raw: block,
	}

	if n.Oid != oid {
		return nil, &report.Corruption{What: fmt.Sprintf("B-tree node header oid %d does not match expected %d", n.Oid, oid)}
	}

	n.Data = block[dataStart:]

	keyArea := int(n.TableSpace.Off) + int(n.TableSpace.Len)
	if keyArea > B-dataStart {
		return nil, &report.Corruption{What: "B-tree node key area runs past block end"}
	}
	if n.Nkeys == 0 {
		return nil, &report.Corruption{What: "B-tree node has zero records"}
	}

	entrySize := 8
	if n.HasFixedKV() {
		entrySize = 4
	}
	if uint64(n.Nkeys)*uint64(entrySize) > uint64(n.TableSpace.Len) {
		return nil, &report.Corruption{What: "B-tree node record count exceeds table-of-contents space"}
	}

	blockEnd := len(n.Data)
	if n.IsRoot() {
		blockEnd -= footerLen
		if blockEnd < 0 {
			return nil, &report.Corruption{What: "B-tree root node smaller than its footer"}
		}
	}

	n.KeyArea = keyArea
	n.BlockEnd = blockEnd

	return n, nil
}

// checkInterval verifies that [off, off+l) lies within [0, bound).
func checkInterval(off, l, bound int, what string) error {
	if off < 0 || l < 0 || off+l > bound {
		return &report.Corruption{What: fmt.Sprintf("%s interval [%d,%d) out of bounds [0,%d)", what, off, off+l, bound)}
	}
	return nil
}

// Record is a located, bounds-checked key/value pair within a node.
type Record struct {
	Key   []byte
	Value []byte
}

// locateFixed returns the i'th key/value pair of a fixed-kv node, using
// kvoff_t table-of-contents entries.
func locateFixed(n *Node, loc Locator, i uint32) (Record, error) {
	tocOff := int(n.TableSpace.Off) + int(i)*4
	if err := checkInterval(tocOff, 4, len(n.Data), "table-of-contents entry"); err != nil {
		return Record{}, err
	}
	keyOff := int(binary.LittleEndian.Uint16(n.Data[tocOff : tocOff+2]))
	valOff := int(binary.LittleEndian.Uint16(n.Data[tocOff+2 : tocOff+4]))

	keyStart := n.KeyArea + keyOff
	if err := checkInterval(keyStart, loc.KeySize, len(n.Data), "key"); err != nil {
		return Record{}, err
	}

	valSize := loc.LeafValSize
	if n.Level != 0 {
		valSize = loc.NonleafValSize
	}
	// Fixed-kv value offsets are measured back from block end (or, on a
	// root node, back from just before the trailing footer).
	valStart := n.BlockEnd - valOff
	if err := checkInterval(valStart, valSize, len(n.Data), "value"); err != nil {
		return Record{}, err
	}

	return Record{
		Key:   n.Data[keyStart : keyStart+loc.KeySize],
		Value: n.Data[valStart : valStart+valSize],
	}, nil
}

// locateVariable returns the i'th key/value pair of a variable-kv node,
// using kvloc_t table-of-contents entries.
func locateVariable(n *Node, i uint32) (Record, error) {
	tocOff := int(n.TableSpace.Off) + int(i)*8
	if err := checkInterval(tocOff, 8, len(n.Data), "table-of-contents entry"); err != nil {
		return Record{}, err
	}
	keyOff := int(binary.LittleEndian.Uint16(n.Data[tocOff : tocOff+2]))
	keyLen := int(binary.LittleEndian.Uint16(n.Data[tocOff+2 : tocOff+4]))
	valOff := int(binary.LittleEndian.Uint16(n.Data[tocOff+4 : tocOff+6]))
	valLen := int(binary.LittleEndian.Uint16(n.Data[tocOff+6 : tocOff+8]))

	keyStart := n.KeyArea + keyOff
	if err := checkInterval(keyStart, keyLen, len(n.Data), "key"); err != nil {
		return Record{}, err
	}

	valStart := n.BlockEnd - valOff
	if err := checkInterval(valStart, valLen, len(n.Data), "value"); err != nil {
		return Record{}, err
	}
	if valLen == 0 {
		return Record{}, &report.Corruption{What: "B-tree record has zero-length value"}
	}

	return Record{
		Key:   n.Data[keyStart : keyStart+keyLen],
		Value: n.Data[valStart : valStart+valLen],
	}, nil
}

// Locate returns the i'th record of n under the given locator.
func Locate(n *Node, loc Locator, i uint32) (Record, error) {
	if i >= n.Nkeys {
		return Record{}, &report.Corruption{What: "B-tree record index out of range"}
	}
	if loc.Fixed {
		return locateFixed(n, loc, i)
	}
	return locateVariable(n, i)
}
