package btree

import "github.com/deploymenttheory/apfsck/internal/types"

// Walk visits every leaf record of the tree in ascending key order,
// depth-first, accumulating the same statistics CheckFooter expects.
// Unlike MultiQuery it does not bisect toward a target: every record of
// every leaf is visited, which is what a catalog walk (§4.7) needs.
func (t *Tree) Walk(visit func(Record) error) (Stats, error) {
	var stats Stats
	err := t.walkNode(t.Root, &stats, visit)
	return stats, err
}

func (t *Tree) walkNode(n *Node, stats *Stats, visit func(Record) error) error {
	if err := stats.Observe(n, t.Locator); err != nil {
		return err
	}

	for i := uint32(0); i < n.Nkeys; i++ {
		rec, err := Locate(n, t.Locator, i)
		if err != nil {
			return err
		}
		if n.IsLeaf() {
			if err := visit(rec); err != nil {
				return err
			}
			continue
		}
		childPtr, err := childPointer(rec.Value)
		if err != nil {
			return err
		}
		child, err := t.loadNode(childPtr, types.OidT(childPtr))
		if err != nil {
			return err
		}
		if err := t.walkNode(child, stats, visit); err != nil {
			return err
		}
	}
	return nil
}
