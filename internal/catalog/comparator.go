package catalog

import (
	"bytes"

	"github.com/deploymenttheory/apfsck/internal/btree"
	"github.com/deploymenttheory/apfsck/internal/fold"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// Comparator orders catalog-shaped keys: cnid, then record kind, then
// a kind-specific secondary (name, sibling id, or logical address),
// per §4.6. A multi-record scan treats cnid+kind as the primary
// portion, per "nulls out the name/number fields so only the primary
// id matches."
type Comparator struct {
	CaseFold bool
}

var _ btree.Comparator = Comparator{}

func (c Comparator) Compare(a, b []byte) int {
	cnidA, kindA, errA := header(a)
	cnidB, kindB, errB := header(b)
	if errA != nil || errB != nil {
		// Malformed keys sort equal; the caller's own decode pass is
		// where a malformed key is reported as corruption.
		return 0
	}
	if cnidA != cnidB {
		if cnidA < cnidB {
			return -1
		}
		return 1
	}
	if kindA != kindB {
		if kindA < kindB {
			return -1
		}
		return 1
	}
	return c.compareSecondary(kindA, a, b)
}

func (c Comparator) compareSecondary(kind types.JObjTypes, a, b []byte) int {
	switch kind {
	case types.ApfsTypeDirRec:
		ka, errA := decodeDrecHashedKey(a)
		kb, errB := decodeDrecHashedKey(b)
		if errA != nil || errB != nil {
			return 0
		}
		return c.compareNames(ka.Name, kb.Name)
	case types.ApfsTypeXattr:
		ka, errA := decodeXattrKey(a)
		kb, errB := decodeXattrKey(b)
		if errA != nil || errB != nil {
			return 0
		}
		return bytes.Compare([]byte(ka.Name), []byte(kb.Name))
	case types.ApfsTypeSnapName:
		ka, errA := decodeSnapNameKey(a)
		kb, errB := decodeSnapNameKey(b)
		if errA != nil || errB != nil {
			return 0
		}
		return bytes.Compare([]byte(ka.Name), []byte(kb.Name))
	case types.ApfsTypeSiblingLink:
		ka, errA := decodeSiblingKey(a)
		kb, errB := decodeSiblingKey(b)
		if errA != nil || errB != nil {
			return 0
		}
		if ka.SiblingId != kb.SiblingId {
			if ka.SiblingId < kb.SiblingId {
				return -1
			}
			return 1
		}
		return 0
	case types.ApfsTypeFileExtent:
		ka, errA := decodeFileExtentKey(a)
		kb, errB := decodeFileExtentKey(b)
		if errA != nil || errB != nil {
			return 0
		}
		if ka.LogicalAddr != kb.LogicalAddr {
			if ka.LogicalAddr < kb.LogicalAddr {
				return -1
			}
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (c Comparator) compareNames(a, b []byte) int {
	if !c.CaseFold {
		return bytes.Compare(a, b)
	}
	return bytes.Compare([]byte(fold.Name(string(a))), []byte(fold.Name(string(b))))
}

func (c Comparator) Primary(a, b []byte) bool {
	cnidA, kindA, errA := header(a)
	cnidB, kindB, errB := header(b)
	if errA != nil || errB != nil {
		return false
	}
	return cnidA == cnidB && kindA == kindB
}
