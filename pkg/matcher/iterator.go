// Package matcher evaluates a boolean/ranked query tree over posting
// lists and collects the top-scoring documents into an MSet, per spec
// section 4.5. There is no direct analogue for this layer anywhere in
// the example pack: pkg/search builds and evaluates a constraint tree
// over blob metadata with no weighting or cardinality estimation, so
// the iterator contract, leapfrog AND, and BM25/Trad weighting below
// come directly from the specification this package implements.
package matcher

import (
	"github.com/xapian/xapiango/pkg/btree"
	"github.com/xapian/xapiango/pkg/postlist"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// Iterator is one node of a query tree: a leaf wraps a single term's
// posting list, an internal node combines its children. All methods
// operate at the iterator's current position; advancing (next/skip_to)
// is the only way to move forward, there is no rewind.
type Iterator interface {
	// DocID returns the current position. Only valid when AtEnd is
	// false; monotonically >= the docid returned by the last Next/
	// SkipTo call.
	DocID() uint32

	// WDF returns the within-document frequency contribution at the
	// current position: the term's own wdf for a leaf, a derived sum
	// for internal nodes (e.g. SYNONYM).
	WDF() uint32

	// Weight returns this node's score contribution at the current
	// docid; always in [0, MaxWeight()].
	Weight() float64

	// MaxWeight returns an upper bound on Weight over any docid this
	// iterator could still produce. Recomputed on demand from leaves
	// up so a tree-rewrite (see OR) can tighten it.
	MaxWeight() float64

	// TermFreqMin/Est/Max bound how many further documents this
	// iterator could still produce, for cardinality estimation.
	TermFreqMin() uint32
	TermFreqEst() uint32
	TermFreqMax() uint32

	// Next advances to the next docid whose partial weight might still
	// exceed wMin; an implementation may skip or prune whole branches
	// that cannot. Returns false once AtEnd becomes true.
	Next(wMin float64) (bool, error)

	// SkipTo advances to the first docid >= target meeting wMin.
	// Returns false once AtEnd becomes true.
	SkipTo(target uint32, wMin float64) (bool, error)

	// AtEnd reports whether this iterator has been exhausted.
	AtEnd() bool
}

// DocLenFunc looks up a document's length (spec section 3's doclen
// postlist) so a leaf iterator can feed the real length into its
// Weight scheme instead of a fixed constant. A nil DocLenFunc is valid
// for boolean-only queries that never dereference doclen (BoolWeight
// ignores its doclen argument entirely).
type DocLenFunc func(docid uint32) (uint32, error)

// termIterator is a leaf node: one term's posting list read lazily
// through pkg/postlist.Reader.
type termIterator struct {
	term     string
	reader   *postlist.Reader
	weight   Weight
	doclenFn DocLenFunc
	doclen   uint32
	atEnd    bool
}

// NewTermIterator opens a leaf iterator over term's posting list in
// tree, scored with the given weight object. doclenFn resolves the
// current document's length for weight schemes (BM25, Trad) whose
// SumPart depends on it; pass nil for boolean-only evaluation.
func NewTermIterator(tree *btree.Tree, term string, weight Weight, doclenFn DocLenFunc) (Iterator, error) {
	r, err := postlist.NewReader(tree, []byte(term))
	if err != nil {
		return nil, err
	}
	it := &termIterator{term: term, reader: r, weight: weight, doclenFn: doclenFn, atEnd: r.AtEnd()}
	if !it.atEnd {
		if err := it.loadDocLen(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *termIterator) loadDocLen() error {
	if it.doclenFn == nil {
		return nil
	}
	dl, err := it.doclenFn(it.reader.DocID())
	if err != nil {
		return err
	}
	it.doclen = dl
	return nil
}

func (it *termIterator) DocID() uint32 { return it.reader.DocID() }
func (it *termIterator) WDF() uint32   { return it.reader.WDF() }

func (it *termIterator) Weight() float64 {
	if it.atEnd {
		return 0
	}
	return it.weight.SumPart(it.reader.WDF(), it.doclen)
}

func (it *termIterator) MaxWeight() float64 { return it.weight.MaxSumPart() }

func (it *termIterator) TermFreqMin() uint32 { return it.reader.Termfreq() }
func (it *termIterator) TermFreqEst() uint32 { return it.reader.Termfreq() }
func (it *termIterator) TermFreqMax() uint32 { return it.reader.Termfreq() }

func (it *termIterator) Next(wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	if wMin > it.MaxWeight() {
		it.atEnd = true
		return false, nil
	}
	more, err := it.reader.Next()
	if err != nil {
		return false, xapianerr.New(xapianerr.DatabaseCorrupt, "postlist iterator: "+err.Error()).Wrap(err)
	}
	it.atEnd = !more
	if !it.atEnd {
		if err := it.loadDocLen(); err != nil {
			return false, err
		}
	}
	return more, nil
}

func (it *termIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	if wMin > it.MaxWeight() {
		it.atEnd = true
		return false, nil
	}
	found, err := it.reader.Seek(target)
	if err != nil {
		return false, xapianerr.New(xapianerr.DatabaseCorrupt, "postlist iterator: "+err.Error()).Wrap(err)
	}
	it.atEnd = !found
	if !it.atEnd {
		if err := it.loadDocLen(); err != nil {
			return false, err
		}
	}
	return found, nil
}

func (it *termIterator) AtEnd() bool { return it.atEnd }
