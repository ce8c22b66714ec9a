package xapiandb

import (
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/btree"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// termlist records, per document, exactly which (term, wdf) pairs it
// contributed, so DeleteDocument and ReplaceDocument can compute the
// RemovePosting/UpdatePosting calls needed to keep the postlist table
// correct without the caller having to remember a document's own old
// contents (spec section 2 names "termlist" as one of the table set's
// six trees without specifying its codec, since it is this
// implementation's own bookkeeping rather than part of the posting-
// list wire format section 4.3 pins down).
//
// Key: 4-byte big-endian docid. Value: repeated
// (uvarint termlen, term bytes, uvarint wdf).

func termlistKey(did uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], did)
	return b[:]
}

func encodeTermList(terms map[string]uint32) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	for term, wdf := range terms {
		n := binary.PutUvarint(tmp[:], uint64(len(term)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, term...)
		n = binary.PutUvarint(tmp[:], uint64(wdf))
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

func decodeTermList(buf []byte) (map[string]uint32, error) {
	terms := make(map[string]uint32)
	off := 0
	for off < len(buf) {
		termLen, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "termlist: truncated term length").WithTable("termlist")
		}
		off += n
		if off+int(termLen) > len(buf) {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "termlist: truncated term bytes").WithTable("termlist")
		}
		term := string(buf[off : off+int(termLen)])
		off += int(termLen)
		wdf, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "termlist: truncated wdf").WithTable("termlist")
		}
		off += n
		terms[term] = uint32(wdf)
	}
	return terms, nil
}

// readTermList returns the stored term set for did, or (nil, false) if
// did has no termlist entry (never indexed, or already deleted).
func readTermList(tree *btree.Tree, did uint32) (map[string]uint32, bool, error) {
	val, ok, err := tree.Get(termlistKey(did))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	terms, err := decodeTermList(val)
	if err != nil {
		return nil, false, err
	}
	return terms, true, nil
}

func writeTermList(tree *btree.Tree, did uint32, terms map[string]uint32) error {
	return tree.Add(termlistKey(did), encodeTermList(terms))
}

func deleteTermList(tree *btree.Tree, did uint32) error {
	return tree.Del(termlistKey(did))
}
