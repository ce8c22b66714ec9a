package xapiandb

import (
	"github.com/xapian/xapiango/pkg/matcher"
	"github.com/xapian/xapiango/pkg/table"
)

// SetValue stores did's value for slot in the record table (spec
// section 3's "Value slot": "per-document byte string addressable by
// (docid, slot#)"). An empty value deletes the slot entry, mirroring
// xapian-metadata's "empty value deletes the key" convention.
func (w *Writer) SetValue(did uint32, slot byte, value []byte) error {
	key := matcher.EncodeValueKey(slot, did)
	if len(value) == 0 {
		return w.set.Tree(table.Record).Del(key)
	}
	return w.set.Tree(table.Record).Add(key, value)
}

// DeleteValue removes did's stored value for slot, if any.
func (w *Writer) DeleteValue(did uint32, slot byte) error {
	return w.set.Tree(table.Record).Del(matcher.EncodeValueKey(slot, did))
}

// GetValue returns did's stored value for slot, if one has been set.
func (db *Database) GetValue(did uint32, slot byte) ([]byte, bool, error) {
	return db.set.Tree(table.Record).Get(matcher.EncodeValueKey(slot, did))
}

// CollapseKeyBySlot builds a matcher.CollapseKey reading did's slot
// value as the collapse/sort key, backing pkg/matcher's
// Options.CollapseKey with real engine-persisted data (spec section
// 3: value slots are "used for sorting and collapsing") instead of a
// caller-supplied callback with nothing behind it.
func (db *Database) CollapseKeyBySlot(slot byte) matcher.CollapseKey {
	return func(did uint32) (string, bool) {
		v, ok, err := db.GetValue(did, slot)
		if err != nil || !ok {
			return "", false
		}
		return string(v), true
	}
}

// OpenValueRangeIterator opens a VALUE-RANGE leaf over slot, restricted
// to the inclusive [low, high] byte-string range (spec section 4.5).
func (db *Database) OpenValueRangeIterator(slot byte, low, high []byte) (matcher.Iterator, error) {
	return matcher.NewValueRangeIterator(db.set.Tree(table.Record), slot, low, high)
}
