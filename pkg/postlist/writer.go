package postlist

import (
	"math"
	"sort"
)

// ApplyChanges merges a sorted set of pending per-docid changes into
// an existing chunk's postings, per the writer contract in spec
// section 4.3: a nil value tombstones (removes) the docid, a non-nil
// value sets its wdf (inserting if the docid was not already present).
func ApplyChanges(postings []Posting, changes map[uint32]*uint32) []Posting {
	if len(changes) == 0 {
		return postings
	}
	byDocid := make(map[uint32]uint32, len(postings))
	for _, p := range postings {
		byDocid[p.DocID] = p.WDF
	}
	for docid, wdf := range changes {
		if wdf == nil {
			delete(byDocid, docid)
		} else {
			byDocid[docid] = *wdf
		}
	}
	out := make([]Posting, 0, len(byDocid))
	for docid, wdf := range byDocid {
		out = append(out, Posting{DocID: docid, WDF: wdf})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// SplitChunks chops a merged posting list into chunks of at most
// MaxPostingsPerChunk postings (spec section 4.3, writer step 4). Only
// the final output chunk inherits wasLastChunk; every chunk before it
// is necessarily followed by more data and so is not last.
func SplitChunks(merged []Posting, termfreq, collfreq uint32, wasLastChunk bool) []*Chunk {
	if len(merged) == 0 {
		return nil
	}
	var chunks []*Chunk
	for off := 0; off < len(merged); off += MaxPostingsPerChunk {
		end := off + MaxPostingsPerChunk
		if end > len(merged) {
			end = len(merged)
		}
		chunks = append(chunks, &Chunk{
			Postings: merged[off:end],
		})
	}
	chunks[0].IsFirstChunk = true
	chunks[0].Termfreq = termfreq
	chunks[0].Collfreq = collfreq
	chunks[len(chunks)-1].IsLastChunk = wasLastChunk
	return chunks
}

// BuildSkipList materialises a multi-level skip overlay for a chunk's
// postings, per spec section 4.3: levels are formed by recursively
// halving the remaining entries, with ⌊log10(n)/0.6⌋ levels in total.
// Readers consult Chunk.Skip directly (see Reader.Seek) rather than
// the interleaved-sentinel scheme the prose describes, since a skip
// entry and a fixed-width run-length block cannot otherwise be told
// apart from the same leading sentinel value; see DESIGN.md.
func BuildSkipList(postings []Posting) []SkipEntry {
	n := len(postings)
	if n < 2 {
		return nil
	}
	levels := skipLevels(n)
	if levels <= 0 {
		return nil
	}
	var out []SkipEntry
	step := n
	for l := 0; l < levels; l++ {
		step /= 2
		if step < 1 {
			break
		}
		for i := step; i < n; i += step {
			out = append(out, SkipEntry{Docid: postings[i].DocID, Index: i})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func skipLevels(n int) int {
	if n < 1 {
		return 0
	}
	return int(math.Log10(float64(n)) / 0.6)
}
