package table

import (
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// Metadata is the user-metadata key/value table spec section 6's
// "xapian-metadata get|list|set" CLI operates on. It is deliberately a
// separate store from the six COW B-trees: user metadata is small,
// infrequently written, and has no posting-list shape at all, so a
// generic embedded KV (goleveldb, as perkeep's pkg/sorted/leveldb
// backend uses for comparable small auxiliary state) is the right tool
// rather than forcing it through pkg/btree's chunk format.
type Metadata struct {
	db *leveldb.DB
}

// OpenMetadata opens (creating if necessary) the metadata table inside
// dir.
func OpenMetadata(dir string) (*Metadata, error) {
	db, err := leveldb.OpenFile(filepath.Join(dir, "metadata.ldb"), nil)
	if err != nil {
		return nil, xapianerr.New(xapianerr.DatabaseOpening, "open metadata table").Wrap(err)
	}
	return &Metadata{db: db}, nil
}

// Get returns the value for key, or ok=false if absent.
func (m *Metadata) Get(key string) (value string, ok bool, err error) {
	v, err := m.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, xapianerr.New(xapianerr.DatabaseCorrupt, "read metadata key").Wrap(err)
	}
	return string(v), true, nil
}

// Set writes key to value, or deletes key when value is empty (mirroring
// the source engine's convention that an empty metadata value means
// "unset").
func (m *Metadata) Set(key, value string) error {
	if value == "" {
		if err := m.db.Delete([]byte(key), nil); err != nil {
			return xapianerr.New(xapianerr.DatabaseCorrupt, "delete metadata key").Wrap(err)
		}
		return nil
	}
	if err := m.db.Put([]byte(key), []byte(value), nil); err != nil {
		return xapianerr.New(xapianerr.DatabaseCorrupt, "write metadata key").Wrap(err)
	}
	return nil
}

// List returns every metadata key with the given prefix, sorted
// ascending. An empty prefix lists everything.
func (m *Metadata) List(prefix string) ([]string, error) {
	var r *util.Range
	if prefix != "" {
		r = util.BytesPrefix([]byte(prefix))
	}
	iter := m.db.NewIterator(r, nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "list metadata keys").Wrap(err)
	}
	return keys, nil
}

// Close closes the underlying goleveldb handle.
func (m *Metadata) Close() error { return m.db.Close() }
