package xapiandb

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xapian/xapiango/pkg/matcher"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

func mustBM25(t *testing.T, stats matcher.CollectionStats) matcher.Weight {
	t.Helper()
	return matcher.NewBM25Weight(matcher.DefaultBM25Params(), stats, matcher.TermStats{Termfreq: 1, QueryTF: 1})
}

func openWriter(t *testing.T, dir string) *Writer {
	t.Helper()
	w, err := OpenWriter(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return w
}

// TestIndexingRoundTrip is spec section 8 scenario 1.
func TestIndexingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)

	d1, err := w.AddDocument(map[string]uint32{"cat": 2, "sat": 1}, 3, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, d1)
	d2, err := w.AddDocument(map[string]uint32{"cat": 1, "mat": 3}, 4, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, d2)

	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	tf, err := db.TermFreq("cat")
	require.NoError(t, err)
	require.EqualValues(t, 2, tf)

	cf, err := db.CollectionFreq("cat")
	require.NoError(t, err)
	require.EqualValues(t, 3, cf)

	dl1, err := db.DocLength(1)
	require.NoError(t, err)
	require.EqualValues(t, 3, dl1)

	dl2, err := db.DocLength(2)
	require.NoError(t, err)
	require.EqualValues(t, 4, dl2)

	stats, err := db.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.NumDocs)
	require.InDelta(t, 3.5, stats.AvgDocLen, 1e-9)
}

// TestDeletionAndTombstones is spec section 8 scenario 5 (scaled down).
func TestDeletionAndTombstones(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)

	for i := uint32(1); i <= 10; i++ {
		_, err := w.AddDocument(map[string]uint32{"x": 1}, 1, nil)
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())

	for did := uint32(1); did <= 10; did += 2 {
		require.NoError(t, w.DeleteDocument(did))
	}
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	tf, err := db.TermFreq("x")
	require.NoError(t, err)
	require.EqualValues(t, 5, tf)

	_, err = db.DocLength(1)
	require.Error(t, err)
	require.True(t, xapianerr.Is(err, xapianerr.DocNotFound))

	w2 := openWriter(t, dir)
	require.NoError(t, w2.DeleteDocument(1)) // already gone: no-op, not an error
	require.NoError(t, w2.Commit())
	require.NoError(t, w2.Close())
}

func TestReplaceDocumentDiffsPostings(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)

	did, err := w.AddDocument(map[string]uint32{"alpha": 2, "beta": 1}, 3, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, w.ReplaceDocument(did, map[string]uint32{"alpha": 5, "gamma": 1}, 6, nil))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	tf, err := db.TermFreq("alpha")
	require.NoError(t, err)
	require.EqualValues(t, 1, tf)
	cf, err := db.CollectionFreq("alpha")
	require.NoError(t, err)
	require.EqualValues(t, 5, cf)

	tf, err = db.TermFreq("beta")
	require.NoError(t, err)
	require.EqualValues(t, 0, tf)

	tf, err = db.TermFreq("gamma")
	require.NoError(t, err)
	require.EqualValues(t, 1, tf)

	dl, err := db.DocLength(did)
	require.NoError(t, err)
	require.EqualValues(t, 6, dl)
}

func TestOpenTermIteratorWiresRealDocLength(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)
	_, err := w.AddDocument(map[string]uint32{"term": 4}, 10, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	stats, err := db.Stats()
	require.NoError(t, err)

	it, err := db.OpenTermIterator("term", mustBM25(t, stats))
	require.NoError(t, err)
	require.False(t, it.AtEnd())
	require.EqualValues(t, 1, it.DocID())
	require.Greater(t, it.Weight(), 0.0)
}

func TestPositionalDataRoundTripsThroughCommit(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)

	did, err := w.AddDocument(
		map[string]uint32{"quick": 1, "brown": 1, "fox": 1},
		3,
		map[string][]uint32{"quick": {0}, "brown": {1}, "fox": {2}},
	)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	positions, err := db.Positions("brown", did)
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, positions)

	weight := mustBM25(t, matcher.CollectionStats{NumDocs: 1, AvgDocLen: 3})
	phrase, err := db.OpenPhraseIterator([]string{"quick", "brown"}, weight, 0)
	require.NoError(t, err)
	require.False(t, phrase.AtEnd())
	require.EqualValues(t, did, phrase.DocID())
}

func TestPositionsClearedOnDeleteDocument(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)

	did, err := w.AddDocument(map[string]uint32{"term": 1}, 1, map[string][]uint32{"term": {0}})
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, w.DeleteDocument(did))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	positions, err := db.Positions("term", did)
	require.NoError(t, err)
	require.Nil(t, positions)
}

func TestValueSlotSetGetAndCollapseKey(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, dir)

	did, err := w.AddDocument(map[string]uint32{"term": 1}, 1, nil)
	require.NoError(t, err)
	require.NoError(t, w.SetValue(did, 0, []byte("2024-01-01")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer db.Close()

	v, ok, err := db.GetValue(did, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024-01-01", string(v))

	key := db.CollapseKeyBySlot(0)
	ck, ok := key(did)
	require.True(t, ok)
	require.Equal(t, "2024-01-01", ck)

	it, err := db.OpenValueRangeIterator(0, []byte("2023-01-01"), []byte("2025-01-01"))
	require.NoError(t, err)
	require.False(t, it.AtEnd())
	require.EqualValues(t, did, it.DocID())
}
