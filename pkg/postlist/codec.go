package postlist

import (
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// Posting is one (docid, wdf) pair as stored on disk. Pending
// tombstones live only in pkg/inverter's buffered change maps (as a
// nil new-wdf), never as an on-disk Posting.
type Posting struct {
	DocID uint32
	WDF   uint32
}

// blockSentinel marks the start of a fixed-width run-length block in
// a chunk body, standing in for a docid delta that can never occur
// for real (deltas are always >= 1 and well below 2^32-1).
const blockSentinel = ^uint32(0)

// Chunk is the decoded form of one posting-list chunk value.
type Chunk struct {
	// Termfreq/Collfreq are only meaningful when
	// IsFirstChunk is true; they are the running totals for the whole
	// posting list, not just this chunk.
	IsFirstChunk bool
	Termfreq     uint32
	Collfreq     uint32

	IsLastChunk bool
	Postings    []Posting // ascending by DocID, first one is this chunk's first_docid

	// Skip is an optional overlay built by BuildSkipList; nil chunks
	// read and written by this package work fine without it.
	Skip []SkipEntry
}

// SkipEntry lets a Reader jump directly to index Index (into
// Chunk.Postings) once it knows the target docid is >= Docid.
type SkipEntry struct {
	Docid uint32
	Index int
}

// EncodeChunk serialises a chunk's value bytes (the B-tree value for
// this chunk's key; the key itself is produced separately by
// EncodeKey).
func EncodeChunk(c *Chunk) ([]byte, error) {
	if len(c.Postings) == 0 {
		return nil, xapianerr.New(xapianerr.InvalidArgument, "cannot encode an empty chunk")
	}
	if len(c.Postings) > MaxPostingsPerChunk {
		return nil, xapianerr.Newf(xapianerr.InvalidArgument, "chunk has %d postings, max is %d", len(c.Postings), MaxPostingsPerChunk)
	}
	buf := make([]byte, 0, 64+len(c.Postings)*3)
	firstDocid := c.Postings[0].DocID
	lastDocid := c.Postings[len(c.Postings)-1].DocID

	if c.IsFirstChunk {
		buf = appendUvarint(buf, uint64(c.Termfreq))
		buf = appendUvarint(buf, uint64(c.Collfreq))
		buf = appendUvarint(buf, uint64(firstDocid-1))
	}
	if c.IsLastChunk {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUvarint(buf, uint64(lastDocid-firstDocid))

	buf = appendBody(buf, c.Postings)
	return buf, nil
}

// DecodeChunk parses value bytes produced by EncodeChunk. firstDocid
// is required for non-first chunks, since it comes from the chunk's
// key rather than its value (see DecodeKey).
func DecodeChunk(buf []byte, isFirstChunk bool, keyFirstDocid uint32) (*Chunk, error) {
	c := &Chunk{IsFirstChunk: isFirstChunk}
	off := 0
	var firstDocid uint32

	if isFirstChunk {
		tf, n, err := readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		off = n
		cf, n, err := readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		off = n
		fdMinus1, n, err := readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		off = n
		c.Termfreq = uint32(tf)
		c.Collfreq = uint32(cf)
		firstDocid = uint32(fdMinus1) + 1
	} else {
		firstDocid = keyFirstDocid
	}

	if off >= len(buf) {
		return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "postlist chunk header truncated")
	}
	c.IsLastChunk = buf[off] != 0
	off++
	_, off, err := readUvarint(buf, off) // lastDocid-firstDocid; recomputed from postings on re-encode
	if err != nil {
		return nil, err
	}

	postings, err := parseBody(buf[off:], firstDocid)
	if err != nil {
		return nil, err
	}
	c.Postings = postings
	return c, nil
}

// appendBody encodes postings using delta mode, switching to a
// fixed-width run-length block wherever a consecutive-docid run of at
// least 5 postings can be packed at a "good bytes" ratio of >= 0.8
// (spec section 4.3).
func appendBody(buf []byte, postings []Posting) []byte {
	i := 0
	prevDocid := postings[0].DocID - 1 // so the first delta is correct below
	for i < len(postings) {
		runLen := consecutiveRunLength(postings, i)
		if runLen >= 5 {
			width := runByteWidth(postings[i : i+runLen])
			good := runGoodBytes(postings[i : i+runLen])
			if float64(good)/float64(width*runLen) >= 0.8 {
				buf = appendUvarint(buf, uint64(blockSentinel))
				buf = appendUvarint(buf, uint64(postings[i].DocID-prevDocid))
				var tmp [2]byte
				binary.BigEndian.PutUint16(tmp[:], uint16(runLen))
				buf = append(buf, tmp[:]...)
				buf = append(buf, byte(width))
				for j := 0; j < runLen; j++ {
					buf = appendFixedWidth(buf, postings[i+j].WDF, width)
				}
				prevDocid = postings[i+runLen-1].DocID
				i += runLen
				continue
			}
		}
		buf = appendUvarint(buf, uint64(postings[i].DocID-prevDocid))
		buf = appendUvarint(buf, uint64(postings[i].WDF))
		prevDocid = postings[i].DocID
		i++
	}
	return buf
}

func parseBody(buf []byte, firstDocid uint32) ([]Posting, error) {
	var out []Posting
	off := 0
	prevDocid := firstDocid - 1
	for off < len(buf) {
		v, n, err := readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		if uint32(v) == blockSentinel {
			off = n
			delta, n2, err := readUvarint(buf, off)
			if err != nil {
				return nil, err
			}
			off = n2
			if off+3 > len(buf) {
				return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "fixed-width block header truncated")
			}
			count := int(binary.BigEndian.Uint16(buf[off : off+2]))
			off += 2
			width := int(buf[off])
			off++
			base := prevDocid + uint32(delta)
			if off+count*width > len(buf) {
				return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "fixed-width block body truncated")
			}
			for j := 0; j < count; j++ {
				wdf := readFixedWidth(buf[off : off+width])
				off += width
				out = append(out, Posting{DocID: base + uint32(j), WDF: wdf})
			}
			prevDocid = base + uint32(count) - 1
			continue
		}
		off = n
		wdf, n2, err := readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		off = n2
		docid := prevDocid + uint32(v)
		out = append(out, Posting{DocID: docid, WDF: uint32(wdf)})
		prevDocid = docid
	}
	return out, nil
}

func consecutiveRunLength(postings []Posting, start int) int {
	n := 1
	for start+n < len(postings) && postings[start+n].DocID == postings[start+n-1].DocID+1 {
		n++
	}
	return n
}

func neededBytes(v uint32) int {
	switch {
	case v < 1<<8:
		return 1
	case v < 1<<16:
		return 2
	case v < 1<<24:
		return 3
	default:
		return 4
	}
}

func runByteWidth(run []Posting) int {
	w := 1
	for _, p := range run {
		if nb := neededBytes(p.WDF); nb > w {
			w = nb
		}
	}
	return w
}

func runGoodBytes(run []Posting) int {
	g := 0
	for _, p := range run {
		g += neededBytes(p.WDF)
	}
	return g
}

// appendFixedWidth stores v in width little-endian bytes (spec section
// 4.3: "each stored in B little-endian bytes"), keeping only the low
// width bytes of the full 4-byte encoding.
func appendFixedWidth(buf []byte, v uint32, width int) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:width]...)
}

func readFixedWidth(b []byte) uint32 {
	var tmp [4]byte
	copy(tmp[:len(b)], b)
	return binary.LittleEndian.Uint32(tmp[:])
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte, off int) (uint64, int, error) {
	v, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, 0, xapianerr.Newf(xapianerr.DatabaseCorrupt, "varint truncated at offset %d", off)
	}
	return v, off + n, nil
}
