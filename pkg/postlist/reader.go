package postlist

import (
	"github.com/xapian/xapiango/pkg/btree"
)

// Reader sequentially walks a term's posting list across chunks,
// implementing the next/seek contract from spec section 4.3. It reads
// lazily, one chunk at a time, through a B-tree cursor rather than
// materialising the whole list.
type Reader struct {
	cursor *btree.Cursor
	term   []byte

	chunk    *Chunk
	idx      int
	atEnd    bool
	termfreq uint32
	collfreq uint32
}

// NewReader opens a reader positioned on the first posting of term
// (at end if term has none). The empty term reads the doclen postlist (spec section 3).
func NewReader(tree *btree.Tree, term []byte) (*Reader, error) {
	key, err := EncodeKey(term, 0, true)
	if err != nil {
		return nil, err
	}
	c := tree.Cursor()
	if !c.Seek(key) {
		if c.Err() != nil {
			return nil, c.Err()
		}
		return &Reader{cursor: c, term: term, atEnd: true}, nil
	}
	r := &Reader{cursor: c, term: term}
	if err := r.loadChunkAt(c); err != nil {
		return nil, err
	}
	if !r.chunkMatchesTerm() {
		r.atEnd = true
		r.chunk = nil
		return r, nil
	}
	r.termfreq = r.chunk.Termfreq
	r.collfreq = r.chunk.Collfreq
	r.idx = 0
	return r, nil
}

func (r *Reader) chunkMatchesTerm() bool {
	t, _, isFirst, err := DecodeKey(r.cursor.Key())
	return err == nil && isFirst && bytesEqual(t, r.term)
}

func (r *Reader) loadChunkAt(c *btree.Cursor) error {
	term, firstDocid, isFirst, err := DecodeKey(c.Key())
	if err != nil {
		return err
	}
	if !bytesEqual(term, r.term) {
		r.chunk = nil
		return nil
	}
	chunk, err := DecodeChunk(c.Value(), isFirst, firstDocid)
	if err != nil {
		return err
	}
	if len(r.term) > 0 {
		chunk.Skip = BuildSkipList(chunk.Postings)
	}
	r.chunk = chunk
	return nil
}

// Termfreq returns the posting list's total document frequency, valid
// once positioned (or even at end, since it is read from the first chunk).
func (r *Reader) Termfreq() uint32 { return r.termfreq }

// Collfreq returns the posting list's total collection frequency.
func (r *Reader) Collfreq() uint32 { return r.collfreq }

// AtEnd reports whether the reader has exhausted the posting list.
func (r *Reader) AtEnd() bool { return r.atEnd }

// DocID returns the current posting's docid. Only valid when !AtEnd().
func (r *Reader) DocID() uint32 { return r.chunk.Postings[r.idx].DocID }

// WDF returns the current posting's within-document frequency.
func (r *Reader) WDF() uint32 { return r.chunk.Postings[r.idx].WDF }

// Next advances to the next posting, returning false once exhausted.
func (r *Reader) Next() (bool, error) {
	if r.atEnd {
		return false, nil
	}
	r.idx++
	if r.idx < len(r.chunk.Postings) {
		return true, nil
	}
	return r.advanceChunk()
}

func (r *Reader) advanceChunk() (bool, error) {
	if r.chunk.IsLastChunk {
		r.atEnd = true
		return false, nil
	}
	if !r.cursor.Next() {
		if err := r.cursor.Err(); err != nil {
			return false, err
		}
		r.atEnd = true
		return false, nil
	}
	if err := r.loadChunkAt(r.cursor); err != nil {
		return false, err
	}
	if r.chunk == nil || len(r.chunk.Postings) == 0 {
		r.atEnd = true
		return false, nil
	}
	r.idx = 0
	return true, nil
}

// Seek advances to the first posting with docid >= target, using the
// chunk's skip list (if built) to bypass part of the body, falling
// back to a chunk-level B-tree seek when the target lies in a later
// chunk (spec section 4.3).
func (r *Reader) Seek(target uint32) (bool, error) {
	if r.atEnd {
		return false, nil
	}
	if r.chunk != nil && len(r.chunk.Postings) > 0 && target <= r.chunk.Postings[len(r.chunk.Postings)-1].DocID {
		start := r.idx
		if r.chunk.Skip != nil {
			for _, s := range r.chunk.Skip {
				if s.Docid <= target && s.Index > start {
					start = s.Index
				}
			}
		}
		i := start
		for i < len(r.chunk.Postings) && r.chunk.Postings[i].DocID < target {
			i++
		}
		if i < len(r.chunk.Postings) {
			r.idx = i
			return true, nil
		}
	}
	// Target lies beyond this chunk (or we have none loaded): seek the
	// B-tree cursor directly to the chunk whose key range covers it.
	// A chunk key is its own first docid, so the first key >= target
	// either starts exactly at target or overshoots into a later chunk
	// (or a later term, or off the end of the tree); in every
	// overshoot case the chunk we actually want is one step back.
	key, err := EncodeKey(r.term, target, false)
	if err != nil {
		return false, err
	}
	found := r.cursor.Seek(key)
	if err := r.cursor.Err(); err != nil {
		return false, err
	}
	if !found {
		if !r.cursor.Last() {
			r.atEnd = true
			return false, nil
		}
	} else if err := r.loadChunkAt(r.cursor); err != nil {
		return false, err
	} else if r.chunk == nil || len(r.chunk.Postings) == 0 || r.chunk.Postings[0].DocID > target {
		if !r.cursor.Prev() {
			r.atEnd = true
			return false, nil
		}
	}
	if err := r.loadChunkAt(r.cursor); err != nil {
		return false, err
	}
	if r.chunk == nil {
		r.atEnd = true
		return false, nil
	}
	i := 0
	for i < len(r.chunk.Postings) && r.chunk.Postings[i].DocID < target {
		i++
	}
	if i >= len(r.chunk.Postings) {
		r.idx = i
		return r.advanceChunk()
	}
	r.idx = i
	return true, nil
}

func bytesEqual(a, b []byte) bool {
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
