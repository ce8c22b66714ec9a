package matcher

import (
	"sort"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// PositionsFunc resolves a term's within-document word-position list
// for a given docid (spec section 4.4's positional data), so a PHRASE
// or NEAR node can check adjacency once its AND-composed children
// agree on a candidate document.
type PositionsFunc func(term string, docid uint32) ([]uint32, error)

// phraseIterator filters an AND over its terms down to the documents
// where the terms' positions also satisfy an adjacency or proximity
// constraint (spec section 4.5's PHRASE/NEAR node type). window == 0
// means PHRASE: every term must occur at consecutive positions, in
// query order. window > 0 means NEAR: every term must have some
// occurrence inside a single span of window+1 positions, in any order.
type phraseIterator struct {
	and    Iterator
	terms  []string
	posFn  PositionsFunc
	window int
	atEnd  bool
}

// NewPhrase builds a PHRASE (window == 0) or NEAR (window > 0) node
// over children, one per term in terms (same order, same length).
// children must already be positioned (as NewAnd expects).
func NewPhrase(children []Iterator, terms []string, posFn PositionsFunc, window int) (Iterator, error) {
	if len(children) != len(terms) {
		return nil, xapianerr.New(xapianerr.InvalidArgument, "phrase: children and terms length mismatch")
	}
	if len(children) < 2 {
		return nil, xapianerr.New(xapianerr.InvalidArgument, "phrase: needs at least two terms")
	}
	and := children[0]
	for i := 1; i < len(children); i++ {
		and = NewAnd(and, children[i])
	}
	it := &phraseIterator{and: and, terms: terms, posFn: posFn, window: window}
	if err := it.settle(0); err != nil {
		return nil, err
	}
	return it, nil
}

// settle advances it.and past any candidate docid whose terms fail the
// positional constraint, stopping at the first match or at end.
func (it *phraseIterator) settle(wMin float64) error {
	for !it.and.AtEnd() {
		ok, err := it.matches(it.and.DocID())
		if err != nil {
			return err
		}
		if ok {
			it.atEnd = false
			return nil
		}
		more, err := it.and.Next(wMin)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	it.atEnd = true
	return nil
}

func (it *phraseIterator) matches(docid uint32) (bool, error) {
	lists := make([][]uint32, len(it.terms))
	for i, term := range it.terms {
		positions, err := it.posFn(term, docid)
		if err != nil {
			return false, err
		}
		if len(positions) == 0 {
			return false, nil
		}
		lists[i] = positions
	}
	if it.window == 0 {
		return phraseMatch(lists), nil
	}
	return nearMatch(lists, it.window), nil
}

// phraseMatch reports whether some position p in the first term's
// list has term i occurring at exactly p+i for every other term.
func phraseMatch(lists [][]uint32) bool {
	for _, p0 := range lists[0] {
		ok := true
		for i := 1; i < len(lists); i++ {
			if !containsUint32(lists[i], p0+uint32(i)) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// nearMatch reports whether every term has an occurrence inside some
// span of window+1 consecutive word positions, regardless of order,
// via a sliding window over every list's merged, sorted positions.
func nearMatch(lists [][]uint32, window int) bool {
	type occ struct {
		pos  uint32
		term int
	}
	var all []occ
	for i, l := range lists {
		for _, p := range l {
			all = append(all, occ{pos: p, term: i})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	need := len(lists)
	counts := make([]int, need)
	distinct := 0
	left := 0
	for right := 0; right < len(all); right++ {
		if counts[all[right].term] == 0 {
			distinct++
		}
		counts[all[right].term]++
		for all[right].pos-all[left].pos > uint32(window) {
			counts[all[left].term]--
			if counts[all[left].term] == 0 {
				distinct--
			}
			left++
		}
		if distinct == need {
			return true
		}
	}
	return false
}

func containsUint32(s []uint32, v uint32) bool {
	// s is sorted ascending; binary search keeps a long positionlist
	// cheap to probe.
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s[mid] == v:
			return true
		case s[mid] < v:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

func (it *phraseIterator) DocID() uint32      { return it.and.DocID() }
func (it *phraseIterator) WDF() uint32        { return it.and.WDF() }
func (it *phraseIterator) Weight() float64    { return it.and.Weight() }
func (it *phraseIterator) MaxWeight() float64 { return it.and.MaxWeight() }
func (it *phraseIterator) TermFreqMin() uint32 { return 0 }
func (it *phraseIterator) TermFreqEst() uint32 { return it.and.TermFreqEst() }
func (it *phraseIterator) TermFreqMax() uint32 { return it.and.TermFreqMax() }
func (it *phraseIterator) AtEnd() bool         { return it.atEnd }

func (it *phraseIterator) Next(wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	more, err := it.and.Next(wMin)
	if err != nil || !more {
		it.atEnd = true
		return false, err
	}
	if err := it.settle(wMin); err != nil {
		return false, err
	}
	return !it.atEnd, nil
}

func (it *phraseIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	more, err := it.and.SkipTo(target, wMin)
	if err != nil || !more {
		it.atEnd = true
		return false, err
	}
	if err := it.settle(wMin); err != nil {
		return false, err
	}
	return !it.atEnd, nil
}
