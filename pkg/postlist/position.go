package postlist

import "github.com/xapian/xapiango/pkg/xapianerr"

// EncodePositionKey builds the B-tree key for one term's positionlist
// entry within a single document: the position table is keyed by
// (term, docid) rather than chunked like the postlist table, since
// spec section 4.4's positional buffer is "term -> (docid ->
// new_positionlist_blob or tombstone)" with no chunk-splitting
// requirement of its own.
func EncodePositionKey(term []byte, docid uint32) ([]byte, error) {
	if len(term) > MaxTermLength {
		return nil, xapianerr.Newf(xapianerr.InvalidArgument, "term length %d exceeds %d", len(term), MaxTermLength)
	}
	key := make([]byte, 0, 1+len(term)+4)
	key = append(key, byte(len(term)))
	key = append(key, term...)
	key = appendDocid(key, docid)
	return key, nil
}

// DecodePositionKey splits a position-table key back into its term and
// docid.
func DecodePositionKey(key []byte) (term []byte, docid uint32, err error) {
	if len(key) == 0 {
		err = xapianerr.New(xapianerr.DatabaseCorrupt, "empty position key")
		return
	}
	termLen := int(key[0])
	if 1+termLen+4 != len(key) {
		err = xapianerr.New(xapianerr.DatabaseCorrupt, "position key malformed")
		return
	}
	term = key[1 : 1+termLen]
	docid = decodeDocid(key[1+termLen:])
	return
}

// EncodePositions serialises a term's within-document position list as
// the "new_positionlist_blob" spec section 4.4 describes: ascending
// ordinal word positions, delta-encoded as varints so a long, dense
// list stays compact.
func EncodePositions(positions []uint32) []byte {
	buf := make([]byte, 0, len(positions)*2)
	var prev uint32
	for i, p := range positions {
		if i == 0 {
			buf = appendUvarint(buf, uint64(p))
		} else {
			buf = appendUvarint(buf, uint64(p-prev))
		}
		prev = p
	}
	return buf
}

// DecodePositions parses a blob written by EncodePositions.
func DecodePositions(buf []byte) ([]uint32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	var out []uint32
	var prev uint32
	off := 0
	first := true
	for off < len(buf) {
		v, n, err := readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		off = n
		var p uint32
		if first {
			p = uint32(v)
			first = false
		} else {
			p = prev + uint32(v)
		}
		out = append(out, p)
		prev = p
	}
	return out, nil
}
