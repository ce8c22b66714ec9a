package inverter

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xapian/xapiango/pkg/btree"
	"github.com/xapian/xapiango/pkg/postlist"
)

func openTestTree(t *testing.T) *btree.Tree {
	t.Helper()
	dir := t.TempDir()
	tr, err := btree.Open(filepath.Join(dir, "postlist"), btree.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// openTestTrees returns a fresh postlist tree and position tree pair,
// the two FlushAll targets.
func openTestTrees(t *testing.T) (*btree.Tree, *btree.Tree) {
	t.Helper()
	dir := t.TempDir()
	pl, err := btree.Open(filepath.Join(dir, "postlist"), btree.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pl.Close() })
	pos, err := btree.Open(filepath.Join(dir, "position"), btree.Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pos.Close() })
	return pl, pos
}

func commitBoth(t *testing.T, pl, pos *btree.Tree) {
	t.Helper()
	require.NoError(t, pl.Commit())
	require.NoError(t, pos.Commit())
}

func TestAddPostingThenFlushIsReadable(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.AddPosting(1, []byte("apple"), 3)
	iv.AddPosting(2, []byte("apple"), 1)
	iv.AddPosting(1, []byte("banana"), 5)

	require.True(t, iv.Pending())
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)
	require.False(t, iv.Pending())

	postings, tf, cf, err := postlist.ReadAll(tree, []byte("apple"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), tf)
	require.Equal(t, uint32(4), cf)
	require.Equal(t, []postlist.Posting{{DocID: 1, WDF: 3}, {DocID: 2, WDF: 1}}, postings)

	postings, tf, cf, err = postlist.ReadAll(tree, []byte("banana"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), tf)
	require.Equal(t, uint32(5), cf)
	require.Equal(t, []postlist.Posting{{DocID: 1, WDF: 5}}, postings)
}

func TestRemovePostingAcrossFlushes(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.AddPosting(1, []byte("cherry"), 2)
	iv.AddPosting(2, []byte("cherry"), 4)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	iv.RemovePosting(1, []byte("cherry"), 2)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	postings, tf, cf, err := postlist.ReadAll(tree, []byte("cherry"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), tf)
	require.Equal(t, uint32(4), cf)
	require.Equal(t, []postlist.Posting{{DocID: 2, WDF: 4}}, postings)
}

func TestUpdatePostingChangesWDFNotTermfreq(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.AddPosting(1, []byte("date"), 2)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	iv.UpdatePosting(1, []byte("date"), 2, 9)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	postings, tf, cf, err := postlist.ReadAll(tree, []byte("date"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), tf)
	require.Equal(t, uint32(9), cf)
	require.Equal(t, []postlist.Posting{{DocID: 1, WDF: 9}}, postings)
}

func TestDocLengthSetAndDelete(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.SetDocLength(1, 100)
	iv.SetDocLength(2, 50)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	postings, _, _, err := postlist.ReadAll(tree, []byte{})
	require.NoError(t, err)
	require.Equal(t, []postlist.Posting{{DocID: 1, WDF: 100}, {DocID: 2, WDF: 50}}, postings)

	iv.DeleteDocLength(1)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	postings, _, _, err = postlist.ReadAll(tree, []byte{})
	require.NoError(t, err)
	require.Equal(t, []postlist.Posting{{DocID: 2, WDF: 50}}, postings)
}

func TestCancelDiscardsBufferedChanges(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.AddPosting(1, []byte("elder"), 1)
	iv.SetDocLength(1, 10)
	iv.SetPositions(1, []byte("elder"), []uint32{0})
	iv.Cancel()
	require.False(t, iv.Pending())

	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	postings, _, _, err := postlist.ReadAll(tree, []byte("elder"))
	require.NoError(t, err)
	require.Nil(t, postings)
}

func TestFlushManyPostingsSpansChunks(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	for did := uint32(1); did <= 2500; did++ {
		iv.AddPosting(did, []byte("fig"), 1)
	}
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	postings, tf, cf, err := postlist.ReadAll(tree, []byte("fig"))
	require.NoError(t, err)
	require.Equal(t, uint32(2500), tf)
	require.Equal(t, uint32(2500), cf)
	require.Len(t, postings, 2500)
	require.Equal(t, uint32(1), postings[0].DocID)
	require.Equal(t, uint32(2500), postings[len(postings)-1].DocID)

	keys, err := postlist.ChunkKeys(tree, []byte("fig"))
	require.NoError(t, err)
	require.Greater(t, len(keys), 1)
}

func TestFlushOutOfOrderTermsAllReadable(t *testing.T) {
	tree, posTree := openTestTrees(t)

	iv := New(zerolog.Nop())
	iv.AddPosting(1, []byte("zebra"), 1)
	iv.AddPosting(1, []byte("apple"), 1)
	iv.AddPosting(1, []byte("mango"), 1)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	for _, term := range []string{"apple", "mango", "zebra"} {
		postings, _, _, err := postlist.ReadAll(tree, []byte(term))
		require.NoError(t, err)
		require.Len(t, postings, 1)
	}
}

func TestSetPositionsThenFlushIsReadable(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.SetPositions(1, []byte("grape"), []uint32{0, 5, 9})
	iv.SetPositions(2, []byte("grape"), []uint32{2})
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	key, err := postlist.EncodePositionKey([]byte("grape"), 1)
	require.NoError(t, err)
	val, ok, err := posTree.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	positions, err := postlist.DecodePositions(val)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 5, 9}, positions)

	key2, err := postlist.EncodePositionKey([]byte("grape"), 2)
	require.NoError(t, err)
	val2, ok, err := posTree.Get(key2)
	require.NoError(t, err)
	require.True(t, ok)
	positions2, err := postlist.DecodePositions(val2)
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, positions2)
}

func TestDeletePositionsRemovesEntry(t *testing.T) {
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())

	iv.SetPositions(1, []byte("honeydew"), []uint32{1, 2})
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	iv.DeletePositions(1, []byte("honeydew"))
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)

	key, err := postlist.EncodePositionKey([]byte("honeydew"), 1)
	require.NoError(t, err)
	_, ok, err := posTree.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlushAllWithNoPendingPositions(t *testing.T) {
	// A writer session that touches no positional data must still be
	// able to flush: FlushAll must not assume the position buffer has
	// anything pending.
	tree, posTree := openTestTrees(t)
	iv := New(zerolog.Nop())
	iv.AddPosting(1, []byte("kiwi"), 1)
	require.NoError(t, iv.FlushAll(tree, posTree))
	commitBoth(t, tree, posTree)
}
