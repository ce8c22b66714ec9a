package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.DB"), Options{BlockSize: MinBlockSize, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExtendReadWrite(t *testing.T) {
	s := openTestStore(t)

	n1, err := s.Extend()
	require.NoError(t, err)
	require.EqualValues(t, 0, n1)

	n2, err := s.Extend()
	require.NoError(t, err)
	require.EqualValues(t, 1, n2)
	require.EqualValues(t, 2, s.NumBlocks())

	payload := []byte("hello posting list")
	require.NoError(t, s.Write(n2, payload))

	got, err := s.Read(n2)
	require.NoError(t, err)
	require.Equal(t, payload, got[:len(payload)])

	// An untouched block reads back as all zero payload.
	got0, err := s.Read(n1)
	require.NoError(t, err)
	for _, b := range got0 {
		require.EqualValues(t, 0, b)
	}
}

func TestChecksumMismatchIsCorrupt(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Extend()
	require.NoError(t, err)
	require.NoError(t, s.Write(n, []byte("payload")))

	// Corrupt the underlying file directly, bypassing Write's checksum.
	off := int64(n) * int64(s.blockSize)
	_, err = s.f.WriteAt([]byte{0xFF}, off)
	require.NoError(t, err)

	_, err = s.Read(n)
	require.Error(t, err)
}

func TestReadOutOfRange(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Read(5)
	require.Error(t, err)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.DB")
	rw, err := Open(path, Options{BlockSize: MinBlockSize, NoSync: true})
	require.NoError(t, err)
	_, err = rw.Extend()
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := Open(path, Options{BlockSize: MinBlockSize, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Write(0, []byte("x"))
	require.Error(t, err)
	_, err = ro.Extend()
	require.Error(t, err)
}
