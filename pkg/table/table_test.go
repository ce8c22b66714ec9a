package table

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// truncateNewestBase simulates spec section 8 scenario 6 ("crash
// between the two base-file writes") for one table: it finds whichever
// of tablePath.baseA/.baseB currently holds the higher revision and
// truncates it to zero bytes, as if the write-then-rename had been
// interrupted partway through.
func truncateNewestBase(tablePath string) error {
	aPath, bPath := tablePath+".baseA", tablePath+".baseB"
	aRev, aOK := readBaseRevision(aPath)
	bRev, bOK := readBaseRevision(bPath)
	switch {
	case aOK && (!bOK || aRev >= bRev):
		return os.Truncate(aPath, 0)
	case bOK:
		return os.Truncate(bPath, 0)
	default:
		return nil
	}
}

func readBaseRevision(path string) (uint32, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) < 30 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[26:30]), true
}

func openSet(t *testing.T, dir string) *Set {
	t.Helper()
	s, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func TestOpenCreatesAllTablesAtRevisionZero(t *testing.T) {
	dir := t.TempDir()
	s := openSet(t, dir)
	defer s.Close()

	require.EqualValues(t, 0, s.Revision())
	for _, name := range Names {
		require.NotNil(t, s.Tree(name))
	}
}

func TestCommitAdvancesSharedRevision(t *testing.T) {
	dir := t.TempDir()
	s := openSet(t, dir)
	defer s.Close()

	require.NoError(t, s.Tree(Postlist).Add([]byte("k"), []byte("v")))
	require.NoError(t, s.Commit())
	require.EqualValues(t, 1, s.Revision())
	for _, name := range Names {
		require.EqualValues(t, 1, s.Tree(name).Revision())
	}
}

func TestReopenFallsBackToConsistentRevision(t *testing.T) {
	dir := t.TempDir()
	s := openSet(t, dir)
	require.NoError(t, s.Tree(Postlist).Add([]byte("k"), []byte("v1")))
	require.NoError(t, s.Commit())
	require.NoError(t, s.Tree(Postlist).Add([]byte("k"), []byte("v2")))
	require.NoError(t, s.Commit())
	require.NoError(t, s.Close())

	// Simulate a crash: truncate one table's newer base file so it
	// looks half-written, leaving the rest of the set one revision
	// ahead of it.
	require.NoError(t, truncateNewestBase(filepath.Join(dir, Termlist)))

	reopened, err := Open(dir, Options{BlockSize: 2048, NoSync: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer reopened.Close()

	require.EqualValues(t, 1, reopened.Revision())
	v, ok, err := reopened.Tree(Postlist).Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestMetadataGetSetList(t *testing.T) {
	dir := t.TempDir()
	md, err := OpenMetadata(dir)
	require.NoError(t, err)
	defer md.Close()

	_, ok, err := md.Get("lang")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, md.Set("lang", "en"))
	v, ok, err := md.Get("lang")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "en", v)

	require.NoError(t, md.Set("lang2", "fr"))
	keys, err := md.List("")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"lang", "lang2"}, keys)

	require.NoError(t, md.Set("lang", ""))
	_, ok, err = md.Get("lang")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangesLogRecordsRevisions(t *testing.T) {
	dir := t.TempDir()
	cl, err := OpenChangesLog(dir)
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.Record(1, []string{"postlist", "termlist"}))
	require.NoError(t, cl.Record(2, []string{"postlist"}))

	entries, err := cl.Since(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 1, entries[0].Revision)
	require.EqualValues(t, 2, entries[1].Revision)

	entries, err = cl.Since(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2, entries[0].Revision)
}

func TestWriteLockExcludesSecondWriter(t *testing.T) {
	dir := t.TempDir()
	l1, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NotEmpty(t, l1.Token())

	_, err = AcquireLock(dir)
	require.Error(t, err)

	require.NoError(t, l1.Release())
	l2, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
