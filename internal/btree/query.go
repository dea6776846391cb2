package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// Comparator orders two keys. It returns <0 if a sorts before b, 0 if
// equal, >0 if a sorts after b. For a multi-record scan the comparator
// is expected to ignore everything but a key's primary portion when
// asked to (see Primary).
type Comparator interface {
	// Compare orders two full keys (used during descent/bisection).
	Compare(a, b []byte) int
	// Primary reports whether a and b share the same primary-key
	// portion (used to decide when a multi-record scan is done).
	Primary(a, b []byte) bool
}

// NodeLoader loads the node addressed by a child pointer read from a
// nonleaf record's value. For omap trees the child pointer is a
// physical block address; for virtual (catalog-like) trees it is an
// oid resolved through the owning omap.
type NodeLoader func(childPtr uint64, expectOid types.OidT) (*Node, error)

// Tree bundles everything a query needs: the root node, the record
// locator, the comparator, and a way to load child nodes by pointer.
type Tree struct {
	Root    *Node
	Locator Locator
	Cmp     Comparator
	Load    NodeLoader
}

// frame is one level of the explicit descent stack used in place of
// recursion, per the backtracking-queries design note: Pop resumes at
// the parent, Push descends.
type frame struct {
	node  *Node
	index int // next index to examine, counting down from Nkeys-1
}

// childPointer extracts the 8-byte child oid out of a nonleaf record's
// value.
func childPointer(v []byte) (uint64, error) {
	if len(v) != 8 {
		return 0, &report.Corruption{What: fmt.Sprintf("nonleaf B-tree value has length %d, want 8", len(v))}
	}
	return binary.LittleEndian.Uint64(v), nil
}

func (t *Tree) loadNode(ptr uint64, expectOid types.OidT) (*Node, error) {
	node, err := t.Load(ptr, expectOid)
	if err != nil {
		return nil, err
	}
	if node.HasFixedKV() != t.Locator.Fixed {
		return nil, &report.Corruption{What: "B-tree node kv-size shape does not match the tree's configured locator"}
	}
	return node, nil
}

// bisect finds the index of the first record whose key compares >= 0
// against target under cmp, scanning node in ascending order. It
// returns the index and the comparison result at that index (0 meaning
// exact match), or an error if a record can't be located.
func (t *Tree) bisect(node *Node, target []byte) (index int, cmp int, err error) {
	left, right := 0, int(node.Nkeys)
	lastCmp := 1
	idx := right
	for left < right {
		mid := (left + right) / 2
		rec, err := Locate(node, t.Locator, uint32(mid))
		if err != nil {
			return 0, 0, err
		}
		c := t.Cmp.Compare(target, rec.Key)
		if c > 0 {
			left = mid + 1
		} else {
			right = mid
			idx = mid
			lastCmp = c
		}
	}
	if idx == int(node.Nkeys) {
		return idx, 1, nil
	}
	return idx, lastCmp, nil
}

// PointQuery descends the tree looking for the exact key target,
// returning its record. Fails with a Corruption-class "not found" if no
// matching leaf record exists.
func (t *Tree) PointQuery(target []byte) (Record, error) {
	node := t.Root
	for depth := 0; ; depth++ {
		if depth > types.BtreeMaxDepth {
			return Record{}, &report.Corruption{What: "B-tree depth exceeds maximum"}
		}

		idx, cmp, err := t.bisect(node, target)
		if err != nil {
			return Record{}, err
		}
		// idx is the smallest index with key[idx] >= target (cmp holds
		// that comparison); idx == Nkeys means target exceeds every key
		// in this node.
		if idx == int(node.Nkeys) {
			if node.IsLeaf() {
				return Record{}, &report.Corruption{What: "B-tree point query: key not found"}
			}
			idx--
		} else if cmp != 0 {
			if node.IsLeaf() {
				return Record{}, &report.Corruption{What: "B-tree point query: key not found"}
			}
			idx--
			if idx < 0 {
				return Record{}, &report.Corruption{What: "B-tree point query: key not found"}
			}
		}

		rec, err := Locate(node, t.Locator, uint32(idx))
		if err != nil {
			return Record{}, err
		}

		if node.IsLeaf() {
			return rec, nil
		}

		childPtr, err := childPointer(rec.Value)
		if err != nil {
			return Record{}, err
		}
		child, err := t.loadNode(childPtr, types.OidT(childPtr))
		if err != nil {
			return Record{}, err
		}
		node = child
	}
}

// startIndex clamps a bisect result down to the last index whose key is
// <= target, which is where a descending multi-record scan begins.
func startIndex(node *Node, idx, cmp int) int {
	if idx == int(node.Nkeys) || cmp != 0 {
		idx--
	}
	return idx
}

// MultiQuery performs a restartable multi-record scan for every record
// sharing target's primary-key portion. It visits nodes depth-first
// using an explicit stack of (node, next-index) frames in place of
// recursion: descending pushes a frame for the child while decrementing
// the parent's stored index so that popping back resumes exactly where
// the parent left off, matching the backtracking-queries design note.
func (t *Tree) MultiQuery(target []byte) ([]Record, error) {
	var out []Record

	idx, cmp, err := t.bisect(t.Root, target)
	if err != nil {
		return nil, err
	}
	stack := []frame{{node: t.Root, index: startIndex(t.Root, idx, cmp)}}

	for len(stack) > 0 {
		if len(stack) > types.BtreeMaxDepth {
			return nil, &report.Corruption{What: "B-tree depth exceeds maximum"}
		}

		top := &stack[len(stack)-1]
		if top.index < 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		node := top.node

		if node.IsLeaf() {
			records, err := scanLeaf(t, node, target, top.index)
			if err != nil {
				return nil, err
			}
			out = append(out, records...)
			stack = stack[:len(stack)-1]
			continue
		}

		rec, err := Locate(node, t.Locator, uint32(top.index))
		if err != nil {
			return nil, err
		}
		top.index--

		childPtr, err := childPointer(rec.Value)
		if err != nil {
			return nil, err
		}
		child, err := t.loadNode(childPtr, types.OidT(childPtr))
		if err != nil {
			return nil, err
		}

		childIdx, childCmp, err := t.bisect(child, target)
		if err != nil {
			return nil, err
		}
		stack = append(stack, frame{node: child, index: startIndex(child, childIdx, childCmp)})
	}

	reverse(out)
	return out, nil
}

// scanLeaf walks a leaf node backwards from startIdx, collecting every
// record whose primary key matches target, and stops at the first
// record whose primary key does not match; that record is not
// returned.
func scanLeaf(t *Tree, node *Node, target []byte, startIdx int) ([]Record, error) {
	var out []Record
	var prevKey []byte

	for i := startIdx; i >= 0; i-- {
		rec, err := Locate(node, t.Locator, uint32(i))
		if err != nil {
			return nil, err
		}
		if prevKey != nil {
			if t.Cmp.Compare(rec.Key, prevKey) == 0 {
				return nil, &report.Corruption{What: "B-tree leaf keys are repeated"}
			}
			if t.Cmp.Compare(rec.Key, prevKey) > 0 {
				return nil, &report.Corruption{What: "B-tree leaf keys are out of order"}
			}
		}
		prevKey = rec.Key

		if !t.Cmp.Primary(rec.Key, target) {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func reverse(r []Record) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}
