package matcher

import "github.com/xapian/xapiango/pkg/xapianerr"

// Matcher drives a single query tree to completion, applying the
// match_decider hooks and collecting results into an MSet (spec
// section 4.5).
type Matcher struct {
	root Iterator
	opts Options
}

// NewMatcher builds a matcher over an already-constructed iterator
// tree (see NewAnd/NewOr/.../NewTermIterator).
func NewMatcher(root Iterator, opts Options) *Matcher {
	return &Matcher{root: root, opts: opts}
}

// Search drains the query tree, applying opts' cutoffs, collapse,
// decider and sort order, and returns the resulting MSet. A
// posting-list IO error aborts the search with a wrapped
// DatabaseCorrupt error; an error from the decider propagates
// unwrapped (spec section 4.5, "Failure semantics").
func (m *Matcher) Search() (*MSet, error) {
	c := newCollector(m.opts)
	var matched, checked uint32

	if m.root.AtEnd() {
		return finalizeMSet(c, m.opts, m.root, 0), nil
	}

	wMin := 0.0
	for {
		docid := m.root.DocID()
		accept := true
		if m.opts.Decider != nil {
			ok, err := m.opts.Decider(docid)
			if err != nil {
				return nil, err
			}
			accept = ok
		}
		checked++
		if accept {
			matched++
			wMin = c.offer(docid, m.root.Weight())
		}

		more, err := m.root.Next(wMin)
		if err != nil {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "matcher: posting list read failed").Wrap(err)
		}
		if !more {
			break
		}
		if m.opts.CheckAtLeast > 0 && int(checked) >= m.opts.CheckAtLeast && c.heap.Len() >= c.capacity && wMin >= m.root.MaxWeight() {
			break
		}
	}

	return finalizeMSet(c, m.opts, m.root, matched), nil
}

// finalizeMSet computes the cardinality bounds the spec requires: a
// guaranteed lower bound from what was actually matched, an estimate
// from the root iterator's own independence-assumption tracking, and
// an upper bound from summed leaf term-frequencies.
func finalizeMSet(c *collector, opts Options, root Iterator, matched uint32) *MSet {
	ms := &MSet{
		Items:             c.finish(opts),
		MatchesLowerBound: matched,
		MatchesEstimated:  root.TermFreqEst(),
		MatchesUpperBound: root.TermFreqMax(),
		CollapseCount:     c.collapseCount,
	}
	if ms.MatchesEstimated < ms.MatchesLowerBound {
		ms.MatchesEstimated = ms.MatchesLowerBound
	}
	if ms.MatchesUpperBound < ms.MatchesEstimated {
		ms.MatchesUpperBound = ms.MatchesEstimated
	}
	return ms
}
