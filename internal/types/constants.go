package types

// Constants that apfsck needs but that aren't tied to any single on-disk
// structure definition above.

// Tier2ByteAddr is the byte offset at which a Fusion container's tier-2
// (secondary, slower) device address space begins. Any absolute byte
// offset at or above this value is served from the tier-2 device rather
// than the main device; this is a fixed value baked into the on-disk
// format, not something read from a superblock field.
const Tier2ByteAddr uint64 = 0x4000000000000000

// BtreeMaxDepth is the maximum allowed depth (root to leaf, inclusive of
// both) of any on-disk B-tree this checker will descend.
const BtreeMaxDepth = 12

// HashBucketCount is the number of hash chains each in-memory
// reconciliation table is bucketed into.
const HashBucketCount = 512
