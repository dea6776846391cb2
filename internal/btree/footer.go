package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
)

// FooterSize is sizeof(btree_info_t): a fixed 16-byte header plus four
// uint32/uint64 statistics fields.
const FooterSize = 16 + 4 + 4 + 8 + 8

// Footer is the trailing btree_info_t of a root node.
type Footer struct {
	Flags      uint32
	NodeSize   uint32
	KeySize    uint32
	ValSize    uint32
	LongestKey uint32
	LongestVal uint32
	KeyCount   uint64
	NodeCount  uint64
}

// DecodeFooter parses the trailing footer out of a root node's block.
func DecodeFooter(block []byte) (Footer, error) {
	if len(block) < FooterSize {
		return Footer{}, &report.Corruption{What: "block too small to hold a B-tree footer"}
	}
	f := block[len(block)-FooterSize:]
	return Footer{
		Flags:      binary.LittleEndian.Uint32(f[0:4]),
		NodeSize:   binary.LittleEndian.Uint32(f[4:8]),
		KeySize:    binary.LittleEndian.Uint32(f[8:12]),
		ValSize:    binary.LittleEndian.Uint32(f[12:16]),
		LongestKey: binary.LittleEndian.Uint32(f[16:20]),
		LongestVal: binary.LittleEndian.Uint32(f[20:24]),
		KeyCount:   binary.LittleEndian.Uint64(f[24:32]),
		NodeCount:  binary.LittleEndian.Uint64(f[32:40]),
	}, nil
}

// Stats accumulates the measured statistics of a full tree walk, for
// comparison against the root footer.
type Stats struct {
	KeyCount   uint64
	NodeCount  uint64
	LongestKey uint32
	LongestVal uint32
}

// Observe folds one more node's records into the running statistics.
func (s *Stats) Observe(n *Node, loc Locator) error {
	s.NodeCount++
	for i := uint32(0); i < n.Nkeys; i++ {
		rec, err := Locate(n, loc, i)
		if err != nil {
			return err
		}
		s.KeyCount++
		if uint32(len(rec.Key)) > s.LongestKey {
			s.LongestKey = uint32(len(rec.Key))
		}
		if uint32(len(rec.Value)) > s.LongestVal {
			s.LongestVal = uint32(len(rec.Value))
		}
	}
	return nil
}

// CheckFooter verifies footer against B and the accumulated stats per
// §4.6's root-footer reconciliation rules.
func CheckFooter(footer Footer, stats Stats, B uint32, loc Locator) error {
	if footer.NodeSize != B {
		return &report.Unsupported{Feature: fmt.Sprintf("B-tree node size %d differs from block size %d", footer.NodeSize, B)}
	}
	if footer.KeyCount != stats.KeyCount {
		return &report.Corruption{What: fmt.Sprintf("B-tree footer key count %d does not match measured %d", footer.KeyCount, stats.KeyCount)}
	}
	if footer.NodeCount != stats.NodeCount {
		return &report.Corruption{What: fmt.Sprintf("B-tree footer node count %d does not match measured %d", footer.NodeCount, stats.NodeCount)}
	}
	if footer.LongestKey < stats.LongestKey {
		return &report.Corruption{What: fmt.Sprintf("B-tree footer longest key %d is smaller than measured %d", footer.LongestKey, stats.LongestKey)}
	}
	if footer.LongestVal < stats.LongestVal {
		return &report.Corruption{What: fmt.Sprintf("B-tree footer longest value %d is smaller than measured %d", footer.LongestVal, stats.LongestVal)}
	}

	if loc.Fixed {
		if footer.KeySize != uint32(loc.KeySize) || footer.ValSize != uint32(loc.LeafValSize) {
			return &report.Corruption{What: "B-tree footer key/value size does not match the fixed-kv tree's constants"}
		}
	} else if footer.KeySize != 0 || footer.ValSize != 0 {
		return &report.Corruption{What: "B-tree footer key/value size must be zero for a variable-kv tree"}
	}

	return nil
}
