package muxdb

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xapian/xapiango/pkg/matcher"
	"github.com/xapian/xapiango/pkg/xapiandb"
)

func buildSub(t *testing.T, docs map[uint32]map[string]uint32, lengths map[uint32]uint32) *xapiandb.Database {
	t.Helper()
	dir := t.TempDir()
	w, err := xapiandb.OpenWriter(dir, xapiandb.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	for did := uint32(1); did <= uint32(len(docs)); did++ {
		_, err := w.AddDocument(docs[did], lengths[did], nil)
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	db, err := xapiandb.Open(dir, xapiandb.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOuterDocIDSplitRoundTrip(t *testing.T) {
	m := &MultiDatabase{subs: make([]*xapiandb.Database, 3)}
	for subIndex := 0; subIndex < 3; subIndex++ {
		for realDid := uint32(1); realDid <= 20; realDid++ {
			outer := m.OuterDocID(subIndex, realDid)
			gotSub, gotReal := m.SplitDocID(outer)
			require.Equal(t, subIndex, gotSub)
			require.Equal(t, realDid, gotReal)
		}
	}
}

func TestFirstRealDidAtOrAfterMatchesOuterDocID(t *testing.T) {
	m := &MultiDatabase{subs: make([]*xapiandb.Database, 3)}
	for subIndex := 0; subIndex < 3; subIndex++ {
		for outerTarget := uint32(1); outerTarget <= 60; outerTarget++ {
			real := m.firstRealDidAtOrAfter(subIndex, outerTarget)
			require.GreaterOrEqual(t, m.OuterDocID(subIndex, real), outerTarget)
			if real > 1 {
				require.Less(t, m.OuterDocID(subIndex, real-1), outerTarget)
			}
		}
	}
}

func TestTermFreqAndCollectionFreqAggregateAcrossSubs(t *testing.T) {
	sub1 := buildSub(t,
		map[uint32]map[string]uint32{1: {"cat": 2}, 2: {"dog": 1}},
		map[uint32]uint32{1: 2, 2: 1},
	)
	sub2 := buildSub(t,
		map[uint32]map[string]uint32{1: {"cat": 3}},
		map[uint32]uint32{1: 3},
	)
	m := Open([]*xapiandb.Database{sub1, sub2})

	tf, err := m.TermFreq("cat")
	require.NoError(t, err)
	require.EqualValues(t, 2, tf)

	cf, err := m.CollectionFreq("cat")
	require.NoError(t, err)
	require.EqualValues(t, 5, cf)

	stats, err := m.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.NumDocs)
}

func TestOpenTermIteratorCombinesSubsAndTranslatesDocIDs(t *testing.T) {
	sub1 := buildSub(t,
		map[uint32]map[string]uint32{1: {"shared": 1}, 2: {"other": 1}},
		map[uint32]uint32{1: 1, 2: 1},
	)
	sub2 := buildSub(t,
		map[uint32]map[string]uint32{1: {"shared": 1}},
		map[uint32]uint32{1: 1},
	)
	m := Open([]*xapiandb.Database{sub1, sub2})

	stats, err := m.Stats()
	require.NoError(t, err)
	weight := matcher.NewBM25Weight(matcher.DefaultBM25Params(), stats, matcher.TermStats{Termfreq: 2, QueryTF: 1})

	it, err := m.OpenTermIterator("shared", weight)
	require.NoError(t, err)

	var got []uint32
	for !it.AtEnd() {
		got = append(got, it.DocID())
		if _, err := it.Next(0); err != nil {
			require.NoError(t, err)
		}
	}
	require.ElementsMatch(t, []uint32{m.OuterDocID(0, 1), m.OuterDocID(1, 1)}, got)
}

func TestOpenTermIteratorRejectsEmptyUnion(t *testing.T) {
	m := Open(nil)
	_, err := m.OpenTermIterator("x", nil)
	require.Error(t, err)
}
