// Package postlist implements the per-term posting-list codec
// described in spec section 4.3: chunked storage of (docid, wdf) pairs
// inside pkg/btree values, with a fixed-width run-length mode, an
// optional skip-list overlay for fast seeking, and the reader/writer
// contracts used by pkg/inverter and pkg/matcher.
package postlist

import (
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// MaxTermLength is the longest term/key this codec accepts (spec
// section 3).
const MaxTermLength = 245

// MaxPostingsPerChunk bounds how many postings a single chunk may
// hold before the writer must split it (spec section 4.3).
const MaxPostingsPerChunk = 2000

// EncodeKey builds the B-tree key for a chunk. The first chunk of a
// term's posting list is keyed purely by the term; later chunks append
// the encoded first docid of that chunk so chunks sort in docid order
// immediately after their term's first chunk.
func EncodeKey(term []byte, firstDocid uint32, isFirstChunk bool) ([]byte, error) {
	if len(term) > MaxTermLength {
		return nil, xapianerr.Newf(xapianerr.InvalidArgument, "term length %d exceeds %d", len(term), MaxTermLength)
	}
	key := make([]byte, 0, 1+len(term)+4)
	key = append(key, byte(len(term)))
	key = append(key, term...)
	if !isFirstChunk {
		key = appendDocid(key, firstDocid)
	}
	return key, nil
}

// DecodeKey splits a chunk key back into its term and, for non-first
// chunks, the encoded first docid.
func DecodeKey(key []byte) (term []byte, firstDocid uint32, isFirstChunk bool, err error) {
	if len(key) == 0 {
		err = xapianerr.New(xapianerr.DatabaseCorrupt, "empty postlist key")
		return
	}
	termLen := int(key[0])
	if 1+termLen > len(key) {
		err = xapianerr.New(xapianerr.DatabaseCorrupt, "postlist key term truncated")
		return
	}
	term = key[1 : 1+termLen]
	rest := key[1+termLen:]
	if len(rest) == 0 {
		isFirstChunk = true
		return
	}
	if len(rest) != 4 {
		err = xapianerr.New(xapianerr.DatabaseCorrupt, "postlist key docid suffix malformed")
		return
	}
	firstDocid = decodeDocid(rest)
	return
}

// appendDocid appends the big-endian 4-byte encoding of docid. Fixed
// big-endian width preserves numeric order under byte-lexicographic
// comparison, which is what lets chunk keys sort correctly in the
// B-tree (spec section 6, "Key encoding").
func appendDocid(buf []byte, docid uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], docid)
	return append(buf, tmp[:]...)
}

func decodeDocid(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}
