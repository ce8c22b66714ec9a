// Package xapiandb is the facade tying every lower layer together into
// the single-database handle spec sections 4 and 5 describe: a
// read-only Database for queries, and a single exclusive Writer for
// add/replace/delete_document and commit. Neither layer below this one
// (pkg/blockstore, pkg/btree, pkg/table, pkg/postlist, pkg/inverter,
// pkg/matcher) knows about documents, only blocks, trees, chunks and
// iterators; this package is where "document" and "term" become first-
// class again.
package xapiandb

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/xapian/xapiango/pkg/matcher"
	"github.com/xapian/xapiango/pkg/postlist"
	"github.com/xapian/xapiango/pkg/table"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// docLenCacheSize bounds the LRU doclength cache every Database keeps
// for the hot path of per-posting doclen lookups during scoring; once
// it is full the least recently used entry is evicted.
const docLenCacheSize = 4096

// Options configures Open and OpenWriter.
type Options struct {
	BlockSize int
	NoSync    bool
	Logger    zerolog.Logger
}

// Database is a read-only handle on a database directory, opened at
// whatever revision was most recently consistent when Open or Reopen
// last ran (spec section 5: "readers do not lock and observe whichever
// revision was current when they opened a table").
type Database struct {
	dir         string
	set         *table.Set
	log         zerolog.Logger
	opts        Options
	docLenCache *lru.Cache[uint32, uint32]
}

// Open opens dir read-only at the most recent consistent revision.
func Open(dir string, opts Options) (*Database, error) {
	set, err := table.Open(dir, table.Options{ReadOnly: true, Revision: -1, BlockSize: opts.BlockSize, NoSync: opts.NoSync, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	cache, _ := lru.New[uint32, uint32](docLenCacheSize)
	return &Database{dir: dir, set: set, log: opts.Logger, opts: opts, docLenCache: cache}, nil
}

// Reopen re-reads the table set at its current most-recent consistent
// revision, picking up any commits made since Open (or the last
// Reopen). Per spec section 7 ("DatabaseModified: a reader detected
// its revision was recycled"), a caller that instead wants to detect
// staleness rather than silently advance should compare Revision()
// before and after.
func (db *Database) Reopen() error {
	set, err := table.Open(db.dir, table.Options{ReadOnly: true, Revision: -1, BlockSize: db.opts.BlockSize, NoSync: db.opts.NoSync, Logger: db.log})
	if err != nil {
		return err
	}
	old := db.set
	db.set = set
	db.docLenCache.Purge()
	return old.Close()
}

// Revision returns the revision this handle is currently pinned at.
func (db *Database) Revision() uint32 { return db.set.Revision() }

// Close releases every table's block store.
func (db *Database) Close() error { return db.set.Close() }

// TermFreq returns the number of documents containing term.
func (db *Database) TermFreq(term string) (uint32, error) {
	r, err := postlist.NewReader(db.set.Tree(table.Postlist), []byte(term))
	if err != nil {
		return 0, err
	}
	return r.Termfreq(), nil
}

// CollectionFreq returns the total occurrences of term across every
// document.
func (db *Database) CollectionFreq(term string) (uint32, error) {
	r, err := postlist.NewReader(db.set.Tree(table.Postlist), []byte(term))
	if err != nil {
		return 0, err
	}
	return r.Collfreq(), nil
}

// DocLength returns document did's length (spec section 3's doclen
// postlist), failing with DocNotFound if did has no recorded length
// (spec section 8 scenario 5: "get_doclength(11) fails with
// DocNotFound" after deletion).
func (db *Database) DocLength(did uint32) (uint32, error) {
	if dl, ok := db.docLenCache.Get(did); ok {
		return dl, nil
	}
	r, err := postlist.NewReader(db.set.Tree(table.Postlist), []byte{})
	if err != nil {
		return 0, err
	}
	found, err := r.Seek(did)
	if err != nil {
		return 0, err
	}
	if !found || r.DocID() != did {
		return 0, xapianerr.Newf(xapianerr.DocNotFound, "document %d has no doclength entry", did)
	}
	dl := r.WDF()
	db.docLenCache.Add(did, dl)
	return dl, nil
}

// Stats returns the collection-wide numbers pkg/matcher's weighting
// schemes need, derived from the doclen postlist's first-chunk
// termfreq/collfreq (spec section 3: "total_doclen equals the sum over
// documents").
func (db *Database) Stats() (matcher.CollectionStats, error) {
	r, err := postlist.NewReader(db.set.Tree(table.Postlist), []byte{})
	if err != nil {
		return matcher.CollectionStats{}, err
	}
	n := r.Termfreq()
	total := r.Collfreq()
	var avg float64
	if n > 0 {
		avg = float64(total) / float64(n)
	}
	return matcher.CollectionStats{NumDocs: n, AvgDocLen: avg}, nil
}

// OpenTermIterator opens a leaf query iterator over term, scored by
// weight, with Database.DocLength wired in as the weight scheme's
// doclen source.
func (db *Database) OpenTermIterator(term string, weight matcher.Weight) (matcher.Iterator, error) {
	return matcher.NewTermIterator(db.set.Tree(table.Postlist), term, weight, db.DocLength)
}

// Positions returns term's within-document word-position list for
// did, reading the position table (spec section 4.4's positional
// data). An empty, nil-error result means the term occurred in did but
// positions were never recorded for it.
func (db *Database) Positions(term string, did uint32) ([]uint32, error) {
	key, err := postlist.EncodePositionKey([]byte(term), did)
	if err != nil {
		return nil, err
	}
	val, ok, err := db.set.Tree(table.Position).Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return postlist.DecodePositions(val)
}

// OpenPhraseIterator opens a PHRASE (window == 0) or NEAR (window > 0)
// query node over terms, in order, scored by weight and backed by
// Database.Positions (spec section 4.5).
func (db *Database) OpenPhraseIterator(terms []string, weight matcher.Weight, window int) (matcher.Iterator, error) {
	children := make([]matcher.Iterator, len(terms))
	for i, term := range terms {
		it, err := db.OpenTermIterator(term, weight)
		if err != nil {
			return nil, err
		}
		children[i] = it
	}
	return matcher.NewPhrase(children, terms, db.Positions, window)
}

// NewMatcher builds a Matcher over an already-constructed query tree
// (see pkg/matcher's NewAnd/NewOr/... combinators and
// OpenTermIterator for leaves).
func (db *Database) NewMatcher(root matcher.Iterator, opts matcher.Options) *matcher.Matcher {
	return matcher.NewMatcher(root, opts)
}
