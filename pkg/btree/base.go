package btree

import (
	"encoding/binary"
	"os"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// formatVersion is bumped whenever the base record or block layout
// changes incompatibly.
const formatVersion = 1

var baseMagic = [8]byte{'x', 'a', 'p', 'b', 'a', 's', 'e', '1'}

const baseRecordSize = 8 + 4 + 4 + 4 + 2 + 4 + 4 + 4 + 4

// baseRecord is the small, fixed-layout record written to <table>.baseA
// / <table>.baseB (spec section 6, "Base file format"). The free list
// itself is too variable in size to live inline, so the base record
// only points at the overflow chain (see freelist.go) that holds it.
type baseRecord struct {
	version      uint32
	blockSize    uint32
	root         uint32
	level        uint16
	itemCount    uint32
	revision     uint32
	freeListHead uint32
	freeListLen  uint32
}

func (b baseRecord) encode() []byte {
	buf := make([]byte, baseRecordSize)
	copy(buf[0:8], baseMagic[:])
	binary.BigEndian.PutUint32(buf[8:12], b.version)
	binary.BigEndian.PutUint32(buf[12:16], b.blockSize)
	binary.BigEndian.PutUint32(buf[16:20], b.root)
	binary.BigEndian.PutUint16(buf[20:22], b.level)
	binary.BigEndian.PutUint32(buf[22:26], b.itemCount)
	binary.BigEndian.PutUint32(buf[26:30], b.revision)
	binary.BigEndian.PutUint32(buf[30:34], b.freeListHead)
	binary.BigEndian.PutUint32(buf[34:38], b.freeListLen)
	return buf
}

func decodeBaseRecord(buf []byte) (baseRecord, error) {
	var b baseRecord
	if len(buf) < baseRecordSize {
		return b, xapianerr.New(xapianerr.DatabaseCorrupt, "base record truncated")
	}
	for i := range baseMagic {
		if buf[i] != baseMagic[i] {
			return b, xapianerr.New(xapianerr.DatabaseVersion, "bad base file magic")
		}
	}
	b.version = binary.BigEndian.Uint32(buf[8:12])
	if b.version != formatVersion {
		return b, xapianerr.Newf(xapianerr.DatabaseVersion, "unsupported base format version %d", b.version)
	}
	b.blockSize = binary.BigEndian.Uint32(buf[12:16])
	b.root = binary.BigEndian.Uint32(buf[16:20])
	b.level = binary.BigEndian.Uint16(buf[20:22])
	b.itemCount = binary.BigEndian.Uint32(buf[22:26])
	b.revision = binary.BigEndian.Uint32(buf[26:30])
	b.freeListHead = binary.BigEndian.Uint32(buf[30:34])
	b.freeListLen = binary.BigEndian.Uint32(buf[34:38])
	return b, nil
}

// writeBaseFile writes rec to path via write-then-rename, giving
// crash-atomicity: either the old contents of path survive untouched,
// or the new ones are wholly visible.
func writeBaseFile(path string, rec baseRecord) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, rec.encode(), 0644); err != nil {
		return xapianerr.New(xapianerr.DatabaseCorrupt, "write base file").Wrap(err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0644)
	if err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		return xapianerr.New(xapianerr.DatabaseCorrupt, "rename base file").Wrap(err)
	}
	return nil
}

func readBaseFile(path string) (baseRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return baseRecord{}, xapianerr.New(xapianerr.DatabaseOpening, "read base file").Wrap(err)
	}
	return decodeBaseRecord(data)
}

// baseFileNames returns the two alternating base file paths for the
// table rooted at tablePath (e.g. ".../postlist" -> ".../postlist.baseA",
// ".../postlist.baseB").
func baseFileNames(tablePath string) (a, b string) {
	return tablePath + ".baseA", tablePath + ".baseB"
}

// chooseBase reads both base files and returns the one with the higher
// (valid) revision; a requested revision pins the choice to that
// specific one instead, failing if neither base file holds it.
func chooseBase(tablePath string, wantRevision int64) (rec baseRecord, path string, err error) {
	aPath, bPath := baseFileNames(tablePath)
	a, aErr := readBaseFile(aPath)
	b, bErr := readBaseFile(bPath)

	candidates := []struct {
		rec  baseRecord
		path string
		ok   bool
	}{
		{a, aPath, aErr == nil},
		{b, bPath, bErr == nil},
	}

	if wantRevision >= 0 {
		for _, c := range candidates {
			if c.ok && int64(c.rec.revision) == wantRevision {
				return c.rec, c.path, nil
			}
		}
		return baseRecord{}, "", xapianerr.Newf(xapianerr.DatabaseCorrupt, "no consistent base at revision %d", wantRevision)
	}

	var best *struct {
		rec  baseRecord
		path string
		ok   bool
	}
	for i := range candidates {
		c := &candidates[i]
		if !c.ok {
			continue
		}
		if best == nil || c.rec.revision > best.rec.revision {
			best = c
		}
	}
	if best == nil {
		return baseRecord{}, "", xapianerr.New(xapianerr.DatabaseCorrupt, "no consistent base file found").WithTable(tablePath)
	}
	return best.rec, best.path, nil
}

// inactiveBaseFile returns whichever of baseA/baseB is NOT currentPath,
// i.e. the one commit should write the next revision into.
func inactiveBaseFile(tablePath, currentPath string) string {
	a, b := baseFileNames(tablePath)
	if currentPath == a {
		return b
	}
	return a
}
