package matcher

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xapian/xapiango/pkg/btree"
	"github.com/xapian/xapiango/pkg/inverter"
)

func openPostingsTree(t *testing.T) *btree.Tree {
	t.Helper()
	dir := t.TempDir()
	tr, err := btree.Open(filepath.Join(dir, "postlist"), btree.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func openPositionTree(t *testing.T) *btree.Tree {
	t.Helper()
	dir := t.TempDir()
	tr, err := btree.Open(filepath.Join(dir, "position"), btree.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func openRecordTree(t *testing.T) *btree.Tree {
	t.Helper()
	dir := t.TempDir()
	tr, err := btree.Open(filepath.Join(dir, "record"), btree.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func flushAndCommit(t *testing.T, iv *inverter.Inverter, postings, positions *btree.Tree) {
	t.Helper()
	require.NoError(t, iv.FlushAll(postings, positions))
	require.NoError(t, postings.Commit())
	require.NoError(t, positions.Commit())
}

func TestAndIteratorLeapfrogsToIntersection(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	for _, did := range []uint32{1, 2, 3, 5, 8} {
		iv.AddPosting(did, []byte("alpha"), 1)
	}
	for _, did := range []uint32{2, 3, 4, 8, 9} {
		iv.AddPosting(did, []byte("beta"), 1)
	}
	flushAndCommit(t, iv, tree, posTree)

	a, err := NewTermIterator(tree, "alpha", BoolWeight{}, nil)
	require.NoError(t, err)
	b, err := NewTermIterator(tree, "beta", BoolWeight{}, nil)
	require.NoError(t, err)

	and := NewAnd(a, b)
	var got []uint32
	for !and.AtEnd() {
		got = append(got, and.DocID())
		if ok, err := and.Next(0); err != nil || !ok {
			break
		}
	}
	require.Equal(t, []uint32{2, 3, 8}, got)
}

func TestOrIteratorUnionsAndSumsWeight(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	iv.AddPosting(1, []byte("cat"), 1)
	iv.AddPosting(2, []byte("cat"), 1)
	iv.AddPosting(2, []byte("dog"), 1)
	iv.AddPosting(3, []byte("dog"), 1)
	flushAndCommit(t, iv, tree, posTree)

	a, err := NewTermIterator(tree, "cat", BoolWeight{}, nil)
	require.NoError(t, err)
	b, err := NewTermIterator(tree, "dog", BoolWeight{}, nil)
	require.NoError(t, err)

	or := NewOr([]Iterator{a, b})
	var got []uint32
	for !or.AtEnd() {
		got = append(got, or.DocID())
		if or.DocID() == 2 {
			require.Equal(t, float64(2), or.Weight())
		}
		if ok, err := or.Next(0); err != nil || !ok {
			break
		}
	}
	require.Equal(t, []uint32{1, 2, 3}, got)
}

func TestAndNotIteratorExcludesRight(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	for _, did := range []uint32{1, 2, 3, 4} {
		iv.AddPosting(did, []byte("left"), 1)
	}
	for _, did := range []uint32{2, 4} {
		iv.AddPosting(did, []byte("right"), 1)
	}
	flushAndCommit(t, iv, tree, posTree)

	l, err := NewTermIterator(tree, "left", BoolWeight{}, nil)
	require.NoError(t, err)
	r, err := NewTermIterator(tree, "right", BoolWeight{}, nil)
	require.NoError(t, err)

	andNot := NewAndNot(l, r)
	var got []uint32
	for !andNot.AtEnd() {
		got = append(got, andNot.DocID())
		if ok, err := andNot.Next(0); err != nil || !ok {
			break
		}
	}
	require.Equal(t, []uint32{1, 3}, got)
}

func TestMatcherSearchRanksByBM25Weight(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	iv.AddPosting(1, []byte("term"), 1)
	iv.AddPosting(2, []byte("term"), 5)
	iv.AddPosting(3, []byte("term"), 2)
	flushAndCommit(t, iv, tree, posTree)

	stats := CollectionStats{NumDocs: 100, AvgDocLen: 50}
	w := NewBM25Weight(DefaultBM25Params(), stats, TermStats{Termfreq: 3, QueryTF: 1})
	root, err := NewTermIterator(tree, "term", w, nil)
	require.NoError(t, err)

	m := NewMatcher(root, Options{First: 0, MaxItems: 10})
	ms, err := m.Search()
	require.NoError(t, err)
	require.Len(t, ms.Items, 3)
	require.Equal(t, uint32(2), ms.Items[0].DocID) // highest wdf scores highest
	require.Equal(t, uint32(3), ms.MatchesLowerBound)
}

func TestCollectorAppliesWeightCutoff(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	iv.AddPosting(1, []byte("x"), 1)
	iv.AddPosting(2, []byte("x"), 10)
	flushAndCommit(t, iv, tree, posTree)

	root, err := NewTermIterator(tree, "x", BoolWeight{}, nil)
	require.NoError(t, err)

	m := NewMatcher(root, Options{MaxItems: 10, WeightCutoff: 0.5})
	ms, err := m.Search()
	require.NoError(t, err)
	// BoolWeight always scores 1, so both postings pass a 0.5 cutoff.
	require.Len(t, ms.Items, 2)
}

func TestScaleIteratorMultipliesWeight(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	iv.AddPosting(1, []byte("y"), 1)
	flushAndCommit(t, iv, tree, posTree)

	base, err := NewTermIterator(tree, "y", BoolWeight{}, nil)
	require.NoError(t, err)
	scaled := NewScale(base, 3.0)
	require.Equal(t, float64(3), scaled.Weight())
	require.Equal(t, float64(3), scaled.MaxWeight())
}

// positionsFuncFor builds a PositionsFunc backed by a plain map, for
// tests that only need to exercise phraseIterator's matching logic
// rather than a real position table.
func positionsFuncFor(m map[string]map[uint32][]uint32) PositionsFunc {
	return func(term string, docid uint32) ([]uint32, error) {
		return m[term][docid], nil
	}
}

func TestPhraseIteratorRequiresConsecutivePositions(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	// doc 1: "quick brown" adjacent (quick@0, brown@1); doc 2: words
	// present but not adjacent (quick@0, brown@5).
	iv.AddPosting(1, []byte("quick"), 1)
	iv.AddPosting(1, []byte("brown"), 1)
	iv.AddPosting(2, []byte("quick"), 1)
	iv.AddPosting(2, []byte("brown"), 1)
	flushAndCommit(t, iv, tree, posTree)

	positions := positionsFuncFor(map[string]map[uint32][]uint32{
		"quick": {1: {0}, 2: {0}},
		"brown": {1: {1}, 2: {5}},
	})

	a, err := NewTermIterator(tree, "quick", BoolWeight{}, nil)
	require.NoError(t, err)
	b, err := NewTermIterator(tree, "brown", BoolWeight{}, nil)
	require.NoError(t, err)

	phrase, err := NewPhrase([]Iterator{a, b}, []string{"quick", "brown"}, positions, 0)
	require.NoError(t, err)

	var got []uint32
	for !phrase.AtEnd() {
		got = append(got, phrase.DocID())
		if ok, err := phrase.Next(0); err != nil || !ok {
			break
		}
	}
	require.Equal(t, []uint32{1}, got)
}

func TestNearIteratorAllowsWindowedOutOfOrderPositions(t *testing.T) {
	tree, posTree := openPostingsTree(t), openPositionTree(t)
	iv := inverter.New(zerolog.Nop())
	iv.AddPosting(1, []byte("fox"), 1)
	iv.AddPosting(1, []byte("lazy"), 1)
	iv.AddPosting(2, []byte("fox"), 1)
	iv.AddPosting(2, []byte("lazy"), 1)
	flushAndCommit(t, iv, tree, posTree)

	// doc 1: within a window of 3; doc 2: 10 positions apart, too far.
	positions := positionsFuncFor(map[string]map[uint32][]uint32{
		"fox":  {1: {4}, 2: {0}},
		"lazy": {1: {1}, 2: {10}},
	})

	a, err := NewTermIterator(tree, "fox", BoolWeight{}, nil)
	require.NoError(t, err)
	b, err := NewTermIterator(tree, "lazy", BoolWeight{}, nil)
	require.NoError(t, err)

	near, err := NewPhrase([]Iterator{a, b}, []string{"fox", "lazy"}, positions, 3)
	require.NoError(t, err)

	var got []uint32
	for !near.AtEnd() {
		got = append(got, near.DocID())
		if ok, err := near.Next(0); err != nil || !ok {
			break
		}
	}
	require.Equal(t, []uint32{1}, got)
}

func TestValueRangeIteratorFiltersByStoredValue(t *testing.T) {
	tree := openRecordTree(t)
	const slot = byte(0)
	require.NoError(t, tree.Add(EncodeValueKey(slot, 1), []byte("apple")))
	require.NoError(t, tree.Add(EncodeValueKey(slot, 2), []byte("mango")))
	require.NoError(t, tree.Add(EncodeValueKey(slot, 3), []byte("banana")))
	require.NoError(t, tree.Commit())

	it, err := NewValueRangeIterator(tree, slot, []byte("b"), []byte("n"))
	require.NoError(t, err)

	var got []uint32
	for !it.AtEnd() {
		got = append(got, it.DocID())
		if ok, err := it.Next(0); err != nil || !ok {
			break
		}
	}
	require.Equal(t, []uint32{2, 3}, got)
	require.Equal(t, uint32(2), it.TermFreqEst())
}

func TestValueRangeIteratorSkipTo(t *testing.T) {
	tree := openRecordTree(t)
	const slot = byte(1)
	for did := uint32(1); did <= 5; did++ {
		require.NoError(t, tree.Add(EncodeValueKey(slot, did), []byte{byte('a' + did)}))
	}
	require.NoError(t, tree.Commit())

	it, err := NewValueRangeIterator(tree, slot, nil, nil)
	require.NoError(t, err)
	ok, err := it.SkipTo(3, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(3), it.DocID())
}
