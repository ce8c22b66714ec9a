// Package muxdb implements the multi-database facade from spec section
// 4.6: a logical database formed as the horizontal union of several
// sub-databases, each opened independently through pkg/xapiandb, with
// a docid mapping that lets a single outer query tree address postings
// across all of them without the matcher (pkg/matcher) ever knowing
// more than one database exists.
package muxdb

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/xapian/xapiango/pkg/matcher"
	"github.com/xapian/xapiango/pkg/xapianerr"

	"github.com/xapian/xapiango/pkg/xapiandb"
)

// MultiDatabase aggregates N sub-databases under outer docids. Per
// spec section 4.6, sub i's real docid `realdid` maps to outer docid
// `(realdid-1)*M + (i+1)` where M is the number of subs; this is a
// bijection onto every outer docid >= 1, letting the matcher treat the
// union as a single ordinary posting-list space.
type MultiDatabase struct {
	subs []*xapiandb.Database
}

// Open wraps already-opened sub-databases into one logical union. The
// caller owns opening/closing each sub; MultiDatabase only combines
// them.
func Open(subs []*xapiandb.Database) *MultiDatabase {
	return &MultiDatabase{subs: subs}
}

// NumSubs returns the number of sub-databases in the union.
func (m *MultiDatabase) NumSubs() int { return len(m.subs) }

// OuterDocID maps a sub-database's own docid to this union's outer
// docid space.
func (m *MultiDatabase) OuterDocID(subIndex int, realDid uint32) uint32 {
	M := uint32(len(m.subs))
	return (realDid-1)*M + uint32(subIndex+1)
}

// SplitDocID is OuterDocID's inverse: given an outer docid, it returns
// which sub-database owns it and that sub's own docid for it.
func (m *MultiDatabase) SplitDocID(outer uint32) (subIndex int, realDid uint32) {
	M := uint32(len(m.subs))
	subIndex = int((outer - 1) % M)
	realDid = (outer-1)/M + 1
	return
}

// firstRealDidAtOrAfter returns the smallest sub-local docid in
// sub subIndex whose outer mapping is >= outerTarget, i.e. the inverse
// of OuterDocID rounded up, for driving SkipTo across the union.
func (m *MultiDatabase) firstRealDidAtOrAfter(subIndex int, outerTarget uint32) uint32 {
	M := uint32(len(m.subs))
	offset := int64(outerTarget) - int64(subIndex+1)
	if offset <= 0 {
		return 1
	}
	// Smallest k >= 0 with offset <= k*M, i.e. k = ceil(offset/M).
	k := (offset + int64(M) - 1) / int64(M)
	return uint32(k) + 1
}

// TermFreq sums term's document frequency across every sub (spec
// section 4.6: "termfreq/collfreq are summed"). Sub lookups run
// concurrently since they are independent B-tree reads against
// distinct table sets.
func (m *MultiDatabase) TermFreq(term string) (uint32, error) {
	sums, err := fanOut(m.subs, func(db *xapiandb.Database) (uint32, error) { return db.TermFreq(term) })
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, v := range sums {
		total += v
	}
	return total, nil
}

// CollectionFreq sums term's collection frequency across every sub.
func (m *MultiDatabase) CollectionFreq(term string) (uint32, error) {
	sums, err := fanOut(m.subs, func(db *xapiandb.Database) (uint32, error) { return db.CollectionFreq(term) })
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, v := range sums {
		total += v
	}
	return total, nil
}

// Stats returns collection-wide numbers aggregated across every sub,
// for building a single Weight object shared by the whole union.
func (m *MultiDatabase) Stats() (matcher.CollectionStats, error) {
	perSub, err := fanOut(m.subs, func(db *xapiandb.Database) (matcher.CollectionStats, error) { return db.Stats() })
	if err != nil {
		return matcher.CollectionStats{}, err
	}
	var agg matcher.CollectionStats
	var totalLen float64
	for _, s := range perSub {
		agg.NumDocs += s.NumDocs
		totalLen += s.AvgDocLen * float64(s.NumDocs)
	}
	if agg.NumDocs > 0 {
		agg.AvgDocLen = totalLen / float64(agg.NumDocs)
	}
	return agg, nil
}

// OpenTermIterator builds one outer query leaf for term, scored by
// weight, by opening a leaf iterator against every sub that actually
// has postings for it and combining them with an OR at the top of the
// tree (spec section 4.6: "Leaf posting iterators are created per sub
// and combined via OR at the top of the query tree").
func (m *MultiDatabase) OpenTermIterator(term string, weight matcher.Weight) (matcher.Iterator, error) {
	if len(m.subs) == 0 {
		return nil, xapianerr.New(xapianerr.InvalidOperation, "muxdb: no sub-databases in union")
	}
	var children []matcher.Iterator
	for i, sub := range m.subs {
		it, err := sub.OpenTermIterator(term, weight)
		if err != nil {
			return nil, err
		}
		if it.AtEnd() {
			continue
		}
		children = append(children, &subIterator{inner: it, mux: m, subIndex: i})
	}
	if len(children) == 0 {
		it, err := m.subs[0].OpenTermIterator(term, weight)
		if err != nil {
			return nil, err
		}
		return &subIterator{inner: it, mux: m, subIndex: 0}, nil
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return matcher.NewOr(children), nil
}

// NewMatcher builds a Matcher over an outer query tree built from this
// union's OpenTermIterator/combinators.
func (m *MultiDatabase) NewMatcher(root matcher.Iterator, opts matcher.Options) *matcher.Matcher {
	return matcher.NewMatcher(root, opts)
}

// subIterator wraps one sub-database's leaf iterator, translating its
// docid space into the union's outer docid space at every step.
type subIterator struct {
	inner    matcher.Iterator
	mux      *MultiDatabase
	subIndex int
}

func (s *subIterator) DocID() uint32 {
	return s.mux.OuterDocID(s.subIndex, s.inner.DocID())
}
func (s *subIterator) WDF() uint32          { return s.inner.WDF() }
func (s *subIterator) Weight() float64      { return s.inner.Weight() }
func (s *subIterator) MaxWeight() float64   { return s.inner.MaxWeight() }
func (s *subIterator) TermFreqMin() uint32  { return s.inner.TermFreqMin() }
func (s *subIterator) TermFreqEst() uint32  { return s.inner.TermFreqEst() }
func (s *subIterator) TermFreqMax() uint32  { return s.inner.TermFreqMax() }
func (s *subIterator) AtEnd() bool          { return s.inner.AtEnd() }

func (s *subIterator) Next(wMin float64) (bool, error) {
	return s.inner.Next(wMin)
}

func (s *subIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	realTarget := s.mux.firstRealDidAtOrAfter(s.subIndex, target)
	return s.inner.SkipTo(realTarget, wMin)
}

// fanOut runs f once per sub-database concurrently (spec section 4.6's
// per-sub aggregation has no cross-sub dependency, so each call is
// independent) via golang.org/x/sync/errgroup, in the same
// fan-out/collect idiom perkeep's own codebase uses this package for.
func fanOut[T any](subs []*xapiandb.Database, f func(*xapiandb.Database) (T, error)) ([]T, error) {
	g, _ := errgroup.WithContext(context.Background())
	out := make([]T, len(subs))
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			v, err := f(sub)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
