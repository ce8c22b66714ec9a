package matcher

import (
	"bytes"
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/btree"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// valueKeyPrefix distinguishes a value-slot key from any other key the
// record table holds (spec section 3's "Value slot": "per-document
// byte string addressable by (docid, slot#)"). A value-slot key is
// always 6 bytes; every other record-table key this implementation
// writes (the nextDocID counter) is a single byte, so the two never
// collide.
const valueKeyPrefix = byte(1)

// EncodeValueKey builds the record-table key for one document's slot
// value.
func EncodeValueKey(slot byte, docid uint32) []byte {
	key := make([]byte, 6)
	key[0] = valueKeyPrefix
	key[1] = slot
	binary.BigEndian.PutUint32(key[2:], docid)
	return key
}

// ValueSlotPrefix is the common prefix of every key belonging to slot,
// used to bound a cursor walk to just that slot.
func ValueSlotPrefix(slot byte) []byte {
	return []byte{valueKeyPrefix, slot}
}

// DecodeValueKey splits a value-slot key back into its slot and docid.
func DecodeValueKey(key []byte) (slot byte, docid uint32, err error) {
	if len(key) != 6 || key[0] != valueKeyPrefix {
		err = xapianerr.New(xapianerr.DatabaseCorrupt, "malformed value-slot key")
		return
	}
	slot = key[1]
	docid = binary.BigEndian.Uint32(key[2:])
	return
}

// valueRangeIterator walks one value slot's entries in ascending docid
// order, yielding only the documents whose stored byte string falls in
// [low, high] (spec section 4.5's VALUE-RANGE node). A nil low or high
// leaves that side of the range unbounded. It carries no weight of its
// own: VALUE-RANGE is a pure filter, composed with scored leaves via
// AND/AND-NOT.
type valueRangeIterator struct {
	tree       *btree.Tree
	slot       byte
	low, high  []byte
	cursor     *btree.Cursor
	docid      uint32
	atEnd      bool
	termFreq   uint32
}

// NewValueRangeIterator opens a VALUE-RANGE leaf over tree (the
// record table), restricted to slot and the inclusive [low, high]
// byte-string range.
func NewValueRangeIterator(tree *btree.Tree, slot byte, low, high []byte) (Iterator, error) {
	count, err := countInRange(tree, slot, low, high)
	if err != nil {
		return nil, err
	}
	it := &valueRangeIterator{tree: tree, slot: slot, low: low, high: high, termFreq: count}
	it.cursor = tree.Cursor()
	if !it.cursor.Seek(ValueSlotPrefix(slot)) {
		if err := it.cursor.Err(); err != nil {
			return nil, err
		}
		it.atEnd = true
		return it, nil
	}
	if err := it.advanceToMatch(); err != nil {
		return nil, err
	}
	return it, nil
}

func countInRange(tree *btree.Tree, slot byte, low, high []byte) (uint32, error) {
	prefix := ValueSlotPrefix(slot)
	cur := tree.Cursor()
	if !cur.Seek(prefix) {
		return 0, cur.Err()
	}
	var count uint32
	for {
		key := cur.Key()
		if key == nil || !bytes.HasPrefix(key, prefix) {
			break
		}
		if inRange(cur.Value(), low, high) {
			count++
		}
		if !cur.Next() {
			return count, cur.Err()
		}
	}
	return count, nil
}

func inRange(v, low, high []byte) bool {
	if low != nil && bytes.Compare(v, low) < 0 {
		return false
	}
	if high != nil && bytes.Compare(v, high) > 0 {
		return false
	}
	return true
}

// advanceToMatch scans forward from the cursor's current position to
// the next in-range entry still within this slot, or marks AtEnd.
func (it *valueRangeIterator) advanceToMatch() error {
	prefix := ValueSlotPrefix(it.slot)
	for {
		key := it.cursor.Key()
		if key == nil || !bytes.HasPrefix(key, prefix) {
			it.atEnd = true
			return nil
		}
		if inRange(it.cursor.Value(), it.low, it.high) {
			_, did, err := DecodeValueKey(key)
			if err != nil {
				return err
			}
			it.docid = did
			it.atEnd = false
			return nil
		}
		if !it.cursor.Next() {
			if err := it.cursor.Err(); err != nil {
				return err
			}
			it.atEnd = true
			return nil
		}
	}
}

func (it *valueRangeIterator) DocID() uint32      { return it.docid }
func (it *valueRangeIterator) WDF() uint32        { return 0 }
func (it *valueRangeIterator) Weight() float64    { return 0 }
func (it *valueRangeIterator) MaxWeight() float64 { return 0 }
func (it *valueRangeIterator) TermFreqMin() uint32 { return it.termFreq }
func (it *valueRangeIterator) TermFreqEst() uint32 { return it.termFreq }
func (it *valueRangeIterator) TermFreqMax() uint32 { return it.termFreq }
func (it *valueRangeIterator) AtEnd() bool         { return it.atEnd }

func (it *valueRangeIterator) Next(wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	if !it.cursor.Next() {
		if err := it.cursor.Err(); err != nil {
			return false, err
		}
		it.atEnd = true
		return false, nil
	}
	if err := it.advanceToMatch(); err != nil {
		return false, err
	}
	return !it.atEnd, nil
}

func (it *valueRangeIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	if target <= it.docid {
		return true, nil
	}
	if !it.cursor.Seek(EncodeValueKey(it.slot, target)) {
		if err := it.cursor.Err(); err != nil {
			return false, err
		}
		it.atEnd = true
		return false, nil
	}
	if err := it.advanceToMatch(); err != nil {
		return false, err
	}
	return !it.atEnd, nil
}
