package btree

import (
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

var errFreeListTruncated = xapianerr.New(xapianerr.DatabaseCorrupt, "free list blob truncated")

// freeList tracks released blocks available for reuse by a future
// commit. Per spec section 3 ("A block belongs to at most one table at
// any revision; freed blocks return to the table's free list") and
// section 5 ("the engine retains two past revisions' worth of blocks
// before recycling"), a block released while building revision R is
// not safe to hand out again until R is no longer the newest-minus-one
// revision — i.e. not until the commit that produces R+2. pending holds
// exactly those not-yet-safe blocks, tagged with the revision that
// produced them; reusable holds blocks that have cleared that wait.
//
// The set is small enough in practice (bounded by churn between
// commits, not by database size) that it is kept fully decoded in
// memory for the lifetime of an open tree and persisted as a single
// varint-encoded blob via the overflow chain mechanism on each commit,
// rather than maintained as a live on-disk cursor; see base.go.
type freeList struct {
	reusable      []uint32
	pending       []uint32
	pendingRevis  uint32
	pendingIsOpen bool
}

// allocate pops a block from the reusable set, or reports none
// available (caller then extends the file).
func (f *freeList) allocate() (uint32, bool) {
	if len(f.reusable) == 0 {
		return 0, false
	}
	n := f.reusable[len(f.reusable)-1]
	f.reusable = f.reusable[:len(f.reusable)-1]
	return n, true
}

// release marks block as freed by the commit that will produce
// newRevision. It becomes reusable only once rollForward has been
// called with a revision two or more past newRevision.
func (f *freeList) release(block uint32, newRevision uint32) {
	if !f.pendingIsOpen || f.pendingRevis != newRevision {
		f.pendingRevis = newRevision
		f.pendingIsOpen = true
	}
	f.pending = append(f.pending, block)
}

// rollForward is called once per commit, after pending's revision has
// aged by two further commits, moving it into the reusable pool.
func (f *freeList) rollForward(committedRevision uint32) {
	if f.pendingIsOpen && committedRevision >= f.pendingRevis+2 {
		f.reusable = append(f.reusable, f.pending...)
		f.pending = nil
		f.pendingIsOpen = false
	}
}

// encode serialises the free list to a varint blob for storage in the
// base file (via an overflow chain, since it can exceed one block).
func (f *freeList) encode() []byte {
	buf := make([]byte, 0, 16+len(f.reusable)*5+len(f.pending)*5)
	buf = appendUvarint(buf, uint64(len(f.reusable)))
	for _, b := range f.reusable {
		buf = appendUvarint(buf, uint64(b))
	}
	var open uint64
	if f.pendingIsOpen {
		open = 1
	}
	buf = appendUvarint(buf, open)
	buf = appendUvarint(buf, uint64(f.pendingRevis))
	buf = appendUvarint(buf, uint64(len(f.pending)))
	for _, b := range f.pending {
		buf = appendUvarint(buf, uint64(b))
	}
	return buf
}

func decodeFreeList(buf []byte) (*freeList, error) {
	f := &freeList{}
	off := 0
	readCount := func() (int, error) {
		v, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return 0, errFreeListTruncated
		}
		off += n
		return int(v), nil
	}
	n, err := readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		v, err := readCount()
		if err != nil {
			return nil, err
		}
		f.reusable = append(f.reusable, uint32(v))
	}
	open, err := readCount()
	if err != nil {
		return nil, err
	}
	f.pendingIsOpen = open == 1
	rev, err := readCount()
	if err != nil {
		return nil, err
	}
	f.pendingRevis = uint32(rev)
	pn, err := readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < pn; i++ {
		v, err := readCount()
		if err != nil {
			return nil, err
		}
		f.pending = append(f.pending, uint32(v))
	}
	return f, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
