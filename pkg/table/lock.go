package table

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// lockName is the process-wide lock file a writer holds for its
// lifetime (spec section 6: "Optional process-wide lock file held by
// the writer"; section 5: "A writer acquires an exclusive file lock on
// the database directory for its lifetime"). The flock(2)/LockFileEx
// mechanics follow jpl-au-folio's lock_unix.go / lock_windows.go.
const lockName = "xapian-writer.lock"

// WriteLock is the writer's exclusive hold on a database directory. It
// writes an opaque per-session token (spec section 6's lock file
// content is otherwise unspecified) so a human inspecting a stale lock
// can at least tell which writer session created it.
type WriteLock struct {
	f     *os.File
	token string
}

// AcquireLock takes the exclusive lock on dir's lock file, failing
// with DatabaseLock if another writer already holds it.
func AcquireLock(dir string) (*WriteLock, error) {
	path := filepath.Join(dir, lockName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xapianerr.New(xapianerr.DatabaseOpening, "open lock file").Wrap(err)
	}
	if err := flockExclusive(f.Fd()); err != nil {
		f.Close()
		return nil, xapianerr.New(xapianerr.DatabaseLock, "database locked by another writer").Wrap(err)
	}
	token := uuid.NewString()
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(token), 0)
	}
	return &WriteLock{f: f, token: token}, nil
}

// Token returns this writer session's opaque lock-holder identifier.
func (l *WriteLock) Token() string { return l.token }

// Release drops the lock and closes the lock file.
func (l *WriteLock) Release() error {
	if err := funlock(l.f.Fd()); err != nil {
		l.f.Close()
		return xapianerr.New(xapianerr.DatabaseCorrupt, "release write lock").Wrap(err)
	}
	return l.f.Close()
}
