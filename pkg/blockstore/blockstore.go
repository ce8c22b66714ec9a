// Package blockstore implements the lowest layer of the engine: a
// single data file partitioned into fixed-size blocks, addressed by
// block number. It knows nothing about B-trees, revisions, or posting
// lists — it only reads, writes, checksums and extends blocks. Higher
// layers (pkg/btree) are responsible for the free list, copy-on-write
// semantics, and revisioning described in spec section 4.2; this
// package only ever grows the file, never reuses a block number on its
// own.
//
// The on-disk shape and the read/write/extend/sync split follow
// the file-of-fixed-slots model used by perkeep's diskpacked blob
// storage (pkg/blobserver/diskpacked), adapted from a growable blob log
// to a fixed-block random-access file with per-block checksums.
package blockstore

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// MinBlockSize is the smallest block size the store will accept.
const MinBlockSize = 2048

// DefaultBlockSize matches the historical default of the backend this
// engine's on-disk format is compatible with.
const DefaultBlockSize = 8192

// checksumSize is the size, in bytes, of the per-block trailer holding
// the checksum of the block's payload. It is appended transparently by
// Store and is not visible to callers of Read/Write: Read/Write always
// deal in BlockSize() bytes of usable payload, which is the on-disk
// block size minus checksumSize.
const checksumSize = 8

// Store owns one data file made of fixed-size blocks. Block 0 is
// reserved by convention (callers should not address it); this package
// does not enforce that, since reservation semantics belong to the
// table/B-tree layer that owns block 0's contents.
type Store struct {
	mu        sync.Mutex
	f         *os.File
	blockSize int
	numBlocks uint32
	readOnly  bool
	noSync    bool
	log       zerolog.Logger
}

// Options configures Open.
type Options struct {
	BlockSize int // ignored when opening an existing, non-empty file
	ReadOnly  bool
	NoSync    bool // skip fsync in Sync(); for tests only
	Logger    zerolog.Logger
}

// Open opens (creating if necessary) the block file at path.
func Open(path string, opts Options) (*Store, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlockSize < MinBlockSize {
		return nil, xapianerr.Newf(xapianerr.InvalidArgument, "block size %d below minimum %d", opts.BlockSize, MinBlockSize)
	}
	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, xapianerr.New(xapianerr.DatabaseOpening, "open block file").Wrap(err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xapianerr.New(xapianerr.DatabaseOpening, "stat block file").Wrap(err)
	}
	blockSize := opts.BlockSize
	slot := int64(blockSize)
	var numBlocks uint32
	if fi.Size() > 0 {
		if fi.Size()%slot != 0 {
			f.Close()
			return nil, xapianerr.Corrupt("blockstore", "file size %d is not a multiple of block size %d", fi.Size(), slot)
		}
		numBlocks = uint32(fi.Size() / slot)
	}
	s := &Store{
		f:         f,
		blockSize: blockSize,
		numBlocks: numBlocks,
		readOnly:  opts.ReadOnly,
		noSync:    opts.NoSync,
		log:       opts.Logger,
	}
	return s, nil
}

// BlockSize returns the usable payload size of each block (the full
// on-disk slot minus the trailing checksum).
func (s *Store) BlockSize() int { return s.blockSize - checksumSize }

// NumBlocks returns the number of blocks currently in the file.
func (s *Store) NumBlocks() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numBlocks
}

func (s *Store) offset(n uint32) int64 { return int64(n) * int64(s.blockSize) }

// Read returns the payload of block n. It fails with DatabaseCorrupt if
// the stored checksum does not match the payload, or with a wrapped OS
// error on I/O failure.
func (s *Store) Read(n uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= s.numBlocks {
		return nil, xapianerr.Newf(xapianerr.DatabaseCorrupt, "block %d out of range (have %d)", n, s.numBlocks).WithBlock(n)
	}
	buf := make([]byte, s.blockSize)
	if _, err := s.f.ReadAt(buf, s.offset(n)); err != nil && err != io.EOF {
		return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "read block").WithBlock(n).Wrap(err)
	}
	payload := buf[:s.blockSize-checksumSize]
	wantSum := buf[s.blockSize-checksumSize:]
	gotSum := checksum(payload)
	if !sameChecksum(gotSum, wantSum) {
		return nil, xapianerr.Newf(xapianerr.DatabaseCorrupt, "checksum mismatch").WithBlock(n)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Write stores payload (must be <= BlockSize()) as the contents of
// block n, which must already exist (see Extend). No fsync happens
// unless Sync is called.
func (s *Store) Write(n uint32, payload []byte) error {
	if len(payload) > s.BlockSize() {
		return xapianerr.Newf(xapianerr.InvalidArgument, "payload %d exceeds block size %d", len(payload), s.BlockSize())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return xapianerr.New(xapianerr.InvalidOperation, "write on read-only block store")
	}
	if n >= s.numBlocks {
		return xapianerr.Newf(xapianerr.DatabaseCorrupt, "block %d out of range (have %d)", n, s.numBlocks).WithBlock(n)
	}
	buf := make([]byte, s.blockSize)
	copy(buf, payload)
	sum := checksum(buf[:s.blockSize-checksumSize])
	copy(buf[s.blockSize-checksumSize:], sum)
	if _, err := s.f.WriteAt(buf, s.offset(n)); err != nil {
		return xapianerr.New(xapianerr.DatabaseCorrupt, "write block").WithBlock(n).Wrap(err)
	}
	return nil
}

// Extend grows the file by one block and returns its number. The
// caller (the B-tree's free-list) decides whether to hand this number
// out immediately or to prefer reusing a released block instead.
func (s *Store) Extend() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return 0, xapianerr.New(xapianerr.InvalidOperation, "extend on read-only block store")
	}
	n := s.numBlocks
	buf := make([]byte, s.blockSize)
	copy(buf[s.blockSize-checksumSize:], checksum(buf[:s.blockSize-checksumSize]))
	if _, err := s.f.WriteAt(buf, s.offset(n)); err != nil {
		return 0, xapianerr.New(xapianerr.DatabaseCorrupt, "extend block file").Wrap(err)
	}
	s.numBlocks++
	s.log.Debug().Uint32("block", n).Msg("blockstore: extended file")
	return n, nil
}

// Sync fsyncs the underlying file unless the store was opened with
// NoSync.
func (s *Store) Sync() error {
	if s.noSync {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Sync(); err != nil {
		return xapianerr.New(xapianerr.DatabaseCorrupt, "fsync block file").Wrap(err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func checksum(payload []byte) []byte {
	sum := xxh3.Hash(payload)
	var b [checksumSize]byte
	for i := 0; i < checksumSize; i++ {
		b[i] = byte(sum >> (8 * i))
	}
	return b[:]
}

func sameChecksum(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
