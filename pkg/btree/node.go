package btree

import (
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// MaxKeySize is the largest key this tree accepts, per spec section 3.
const MaxKeySize = 245

// overflowThreshold is the value size above which an item's value is
// moved out of the node into an overflow chain, per spec section 4.2
// ("Large values are split across overflow blocks.").
const overflowThreshold = 512

// leafLevel is the level value stored in a leaf node's header.
const leafLevel = 0

// item is a decoded (key, value) pair for a leaf node.
type item struct {
	key   []byte
	value []byte
}

// child is a decoded (separator key, child block) pair for an internal
// node. The very first child of a node has no separator of its own;
// it is implicit (see internalNode.firstChild).
type child struct {
	sepKey []byte
	block  uint32
}

type leafNode struct {
	revision uint32
	items    []item
}

type internalNode struct {
	revision   uint32
	level      uint16
	firstChild uint32
	children   []child // in ascending sepKey order
}

// --- leaf encode/decode ---

// encodeLeaf serialises a leaf node. Values larger than
// overflowThreshold are written to fresh overflow blocks via alloc and
// referenced by pointer+length instead of being inlined.
func encodeLeaf(n *leafNode, blockSize int, alloc func([]byte) (uint32, error)) ([]byte, error) {
	buf := make([]byte, 8, blockSize)
	binary.BigEndian.PutUint32(buf[0:4], n.revision)
	binary.BigEndian.PutUint16(buf[4:6], leafLevel)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(n.items)))

	for _, it := range n.items {
		if len(it.key) > MaxKeySize {
			return nil, xapianerr.Newf(xapianerr.InvalidArgument, "key length %d exceeds %d", len(it.key), MaxKeySize)
		}
		entry := make([]byte, 0, 1+len(it.key)+1+8)
		entry = append(entry, byte(len(it.key)))
		entry = append(entry, it.key...)
		if len(it.value) > overflowThreshold {
			head, err := writeOverflow(it.value, blockSize, alloc)
			if err != nil {
				return nil, err
			}
			entry = append(entry, 1) // overflow flag
			var tmp [8]byte
			binary.BigEndian.PutUint32(tmp[0:4], head)
			binary.BigEndian.PutUint32(tmp[4:8], uint32(len(it.value)))
			entry = append(entry, tmp[:]...)
		} else {
			entry = append(entry, 0) // inline flag
			var tmp [2]byte
			binary.BigEndian.PutUint16(tmp[:], uint16(len(it.value)))
			entry = append(entry, tmp[:]...)
			entry = append(entry, it.value...)
		}
		if len(buf)+len(entry) > blockSize {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf node overflowed block size; caller must split before encoding")
		}
		buf = append(buf, entry...)
	}
	return buf, nil
}

func decodeLeaf(buf []byte, fetchOverflow func(head uint32, n int) ([]byte, error)) (*leafNode, error) {
	if len(buf) < 8 {
		return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf block truncated")
	}
	n := &leafNode{
		revision: binary.BigEndian.Uint32(buf[0:4]),
	}
	level := binary.BigEndian.Uint16(buf[4:6])
	if level != leafLevel {
		return nil, xapianerr.Newf(xapianerr.DatabaseCorrupt, "expected leaf level 0, got %d", level)
	}
	count := int(binary.BigEndian.Uint16(buf[6:8]))
	off := 8
	for i := 0; i < count; i++ {
		if off >= len(buf) {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf item truncated")
		}
		keyLen := int(buf[off])
		off++
		if off+keyLen > len(buf) {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf key truncated")
		}
		key := append([]byte(nil), buf[off:off+keyLen]...)
		off += keyLen
		if off >= len(buf) {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf flag truncated")
		}
		flag := buf[off]
		off++
		var value []byte
		if flag == 1 {
			if off+8 > len(buf) {
				return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf overflow pointer truncated")
			}
			head := binary.BigEndian.Uint32(buf[off : off+4])
			length := binary.BigEndian.Uint32(buf[off+4 : off+8])
			off += 8
			v, err := fetchOverflow(head, int(length))
			if err != nil {
				return nil, err
			}
			value = v
		} else {
			if off+2 > len(buf) {
				return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf value length truncated")
			}
			vlen := int(binary.BigEndian.Uint16(buf[off : off+2]))
			off += 2
			if off+vlen > len(buf) {
				return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "leaf value truncated")
			}
			value = append([]byte(nil), buf[off:off+vlen]...)
			off += vlen
		}
		n.items = append(n.items, item{key: key, value: value})
	}
	return n, nil
}

// --- internal encode/decode ---

func encodeInternal(n *internalNode, blockSize int) ([]byte, error) {
	buf := make([]byte, 12, blockSize)
	binary.BigEndian.PutUint32(buf[0:4], n.revision)
	binary.BigEndian.PutUint16(buf[4:6], n.level)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(n.children)))
	binary.BigEndian.PutUint32(buf[8:12], n.firstChild)
	for _, c := range n.children {
		if len(c.sepKey) > MaxKeySize {
			return nil, xapianerr.Newf(xapianerr.InvalidArgument, "separator key length %d exceeds %d", len(c.sepKey), MaxKeySize)
		}
		entry := make([]byte, 0, 1+len(c.sepKey)+4)
		entry = append(entry, byte(len(c.sepKey)))
		entry = append(entry, c.sepKey...)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], c.block)
		entry = append(entry, tmp[:]...)
		if len(buf)+len(entry) > blockSize {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "internal node overflowed block size; caller must split before encoding")
		}
		buf = append(buf, entry...)
	}
	return buf, nil
}

func decodeInternal(buf []byte) (*internalNode, error) {
	if len(buf) < 12 {
		return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "internal block truncated")
	}
	n := &internalNode{
		revision: binary.BigEndian.Uint32(buf[0:4]),
		level:    binary.BigEndian.Uint16(buf[4:6]),
	}
	count := int(binary.BigEndian.Uint16(buf[6:8]))
	n.firstChild = binary.BigEndian.Uint32(buf[8:12])
	off := 12
	for i := 0; i < count; i++ {
		if off >= len(buf) {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "internal item truncated")
		}
		keyLen := int(buf[off])
		off++
		if off+keyLen+4 > len(buf) {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "internal item truncated")
		}
		sep := append([]byte(nil), buf[off:off+keyLen]...)
		off += keyLen
		block := binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		n.children = append(n.children, child{sepKey: sep, block: block})
	}
	return n, nil
}

// childBlockFor returns the block number of the child (firstChild, or
// the one under the last separator <= key) whose subtree must contain
// key.
func (n *internalNode) childBlockFor(key []byte) uint32 {
	block := n.firstChild
	for _, c := range n.children {
		if bytesLess(c.sepKey, key) || bytesEqual(c.sepKey, key) {
			block = c.block
		} else {
			break
		}
	}
	return block
}

// childIndexFor returns the index into n.children whose separator is
// the last one <= key, or -1 if key falls in the firstChild subtree.
func (n *internalNode) childIndexFor(key []byte) int {
	idx := -1
	for i, c := range n.children {
		if bytesLess(c.sepKey, key) || bytesEqual(c.sepKey, key) {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// blockAt returns the child block number at index ci (-1 for firstChild).
func (n *internalNode) blockAt(ci int) uint32 {
	if ci < 0 {
		return n.firstChild
	}
	return n.children[ci].block
}

// setBlockAt rewrites the child block number at index ci (-1 for firstChild).
func (n *internalNode) setBlockAt(ci int, block uint32) {
	if ci < 0 {
		n.firstChild = block
		return
	}
	n.children[ci].block = block
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
