package matcher

// andIterator implements the leapfrog AND algorithm of spec section
// 4.5: hold the heads of both children; when they disagree, skip the
// lower side up to the higher head, passing a tightened weight bound
// so a branch whose own max cannot possibly reach it gets pruned.
type andIterator struct {
	left, right Iterator
	atEnd       bool
}

// NewAnd builds an AND node over two already-positioned children.
func NewAnd(left, right Iterator) Iterator {
	it := &andIterator{left: left, right: right}
	it.atEnd = left.AtEnd() || right.AtEnd()
	if !it.atEnd {
		// Leapfrog from the children's current heads to their first
		// common docid.
		_, _ = it.advance(0, func() (bool, error) { return true, nil })
	}
	return it
}

func (it *andIterator) DocID() uint32 { return it.left.DocID() }
func (it *andIterator) WDF() uint32   { return it.left.WDF() + it.right.WDF() }

func (it *andIterator) Weight() float64 {
	return it.left.Weight() + it.right.Weight()
}

func (it *andIterator) MaxWeight() float64 {
	return it.left.MaxWeight() + it.right.MaxWeight()
}

func (it *andIterator) TermFreqMin() uint32 { return 0 }

func (it *andIterator) TermFreqEst() uint32 {
	return estimateAnd(it.left.TermFreqEst(), it.right.TermFreqEst())
}

func (it *andIterator) TermFreqMax() uint32 {
	return minUint32(it.left.TermFreqMax(), it.right.TermFreqMax())
}

func (it *andIterator) AtEnd() bool { return it.atEnd }

// advance runs leapfrog until both sides agree on a docid or either is
// exhausted, splitting wMin between the two branches as the spec
// describes: the bound passed to one side is wMin minus the other
// side's max, since that much weight is already unreachable if the
// opposite branch tops out below it.
func (it *andIterator) advance(wMin float64, firstMove func() (bool, error)) (bool, error) {
	more, err := firstMove()
	if err != nil || !more {
		it.atEnd = true
		return false, err
	}
	for {
		l, r := it.left.DocID(), it.right.DocID()
		if l == r {
			return true, nil
		}
		if l < r {
			rWMin := wMin - it.right.MaxWeight()
			ok, err := it.left.SkipTo(r, rWMin)
			if err != nil || !ok {
				it.atEnd = true
				return false, err
			}
		} else {
			lWMin := wMin - it.left.MaxWeight()
			ok, err := it.right.SkipTo(l, lWMin)
			if err != nil || !ok {
				it.atEnd = true
				return false, err
			}
		}
	}
}

func (it *andIterator) Next(wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	return it.advance(wMin, func() (bool, error) {
		lOK, err := it.left.Next(wMin - it.right.MaxWeight())
		if err != nil || !lOK {
			return false, err
		}
		return it.right.Next(wMin - it.left.MaxWeight())
	})
}

func (it *andIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	return it.advance(wMin, func() (bool, error) {
		lOK, err := it.left.SkipTo(target, wMin-it.right.MaxWeight())
		if err != nil || !lOK {
			return false, err
		}
		return it.right.SkipTo(target, wMin-it.left.MaxWeight())
	})
}

// orIterator is a best-first merge over its children: at each step it
// holds the position to be the minimum docid of any non-exhausted
// child, summing the weights of every child currently positioned
// there.
type orIterator struct {
	children []Iterator
	atEnd    bool
	docid    uint32
}

// NewOr builds an OR node over already-positioned children, in
// ascending docid order at the start (true once all children are
// opened at their first posting).
func NewOr(children []Iterator) Iterator {
	it := &orIterator{children: children}
	it.settle()
	return it
}

func (it *orIterator) settle() {
	min := ^uint32(0)
	any := false
	for _, c := range it.children {
		if c.AtEnd() {
			continue
		}
		any = true
		if c.DocID() < min {
			min = c.DocID()
		}
	}
	it.atEnd = !any
	it.docid = min
}

func (it *orIterator) DocID() uint32 { return it.docid }

func (it *orIterator) WDF() uint32 {
	var sum uint32
	for _, c := range it.children {
		if !c.AtEnd() && c.DocID() == it.docid {
			sum += c.WDF()
		}
	}
	return sum
}

func (it *orIterator) Weight() float64 {
	var sum float64
	for _, c := range it.children {
		if !c.AtEnd() && c.DocID() == it.docid {
			sum += c.Weight()
		}
	}
	return sum
}

func (it *orIterator) MaxWeight() float64 {
	var sum float64
	for _, c := range it.children {
		sum += c.MaxWeight()
	}
	return sum
}

func (it *orIterator) TermFreqMin() uint32 {
	var max uint32
	for _, c := range it.children {
		if m := c.TermFreqMin(); m > max {
			max = m
		}
	}
	return max
}

func (it *orIterator) TermFreqEst() uint32 {
	est := uint32(0)
	for _, c := range it.children {
		est = estimateOr(est, c.TermFreqEst())
	}
	return est
}

func (it *orIterator) TermFreqMax() uint32 {
	var sum uint32
	for _, c := range it.children {
		sum += c.TermFreqMax()
	}
	return sum
}

func (it *orIterator) AtEnd() bool { return it.atEnd }

// rewrite drops exhausted children and, when the surviving set's
// combined MaxWeight can never reach wMin, collapses to AtEnd; this is
// the "tree rewriting" the spec describes for OR, simplified to
// in-place pruning rather than splicing a literal replacement node
// back into a parent, since this implementation's combinators hold no
// parent pointer to splice into.
func (it *orIterator) rewrite(wMin float64) {
	alive := it.children[:0]
	for _, c := range it.children {
		if !c.AtEnd() {
			alive = append(alive, c)
		}
	}
	it.children = alive
	if len(it.children) == 0 {
		it.atEnd = true
		return
	}
	if it.MaxWeight() < wMin {
		it.atEnd = true
	}
}

func (it *orIterator) Next(wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	for _, c := range it.children {
		if c.AtEnd() || c.DocID() != it.docid {
			continue
		}
		if _, err := c.Next(0); err != nil {
			return false, err
		}
	}
	it.rewrite(wMin)
	if it.atEnd {
		return false, nil
	}
	it.settle()
	return !it.atEnd, nil
}

func (it *orIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	for _, c := range it.children {
		if c.AtEnd() || c.DocID() >= target {
			continue
		}
		if _, err := c.SkipTo(target, 0); err != nil {
			return false, err
		}
	}
	it.rewrite(wMin)
	if it.atEnd {
		return false, nil
	}
	it.settle()
	return !it.atEnd, nil
}

// andNotIterator yields left's postings except those also present in
// right.
type andNotIterator struct {
	left, right Iterator
	atEnd       bool
}

func NewAndNot(left, right Iterator) Iterator {
	it := &andNotIterator{left: left, right: right}
	it.skipMatches()
	return it
}

func (it *andNotIterator) skipMatches() {
	for !it.left.AtEnd() {
		if it.right.AtEnd() {
			return
		}
		if it.right.DocID() < it.left.DocID() {
			if ok, _ := it.right.SkipTo(it.left.DocID(), 0); !ok {
				return
			}
			continue
		}
		if it.right.DocID() == it.left.DocID() {
			if ok, _ := it.left.Next(0); !ok {
				it.atEnd = true
				return
			}
			continue
		}
		return
	}
	it.atEnd = true
}

func (it *andNotIterator) DocID() uint32     { return it.left.DocID() }
func (it *andNotIterator) WDF() uint32       { return it.left.WDF() }
func (it *andNotIterator) Weight() float64   { return it.left.Weight() }
func (it *andNotIterator) MaxWeight() float64 { return it.left.MaxWeight() }
func (it *andNotIterator) TermFreqMin() uint32 { return 0 }
func (it *andNotIterator) TermFreqEst() uint32 {
	return estimateAndNot(it.left.TermFreqEst(), it.right.TermFreqEst())
}
func (it *andNotIterator) TermFreqMax() uint32 { return it.left.TermFreqMax() }
func (it *andNotIterator) AtEnd() bool         { return it.atEnd }

func (it *andNotIterator) Next(wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	if ok, err := it.left.Next(wMin); err != nil || !ok {
		it.atEnd = true
		return false, err
	}
	it.skipMatches()
	return !it.atEnd, nil
}

func (it *andNotIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	if it.atEnd {
		return false, nil
	}
	if ok, err := it.left.SkipTo(target, wMin); err != nil || !ok {
		it.atEnd = true
		return false, err
	}
	it.skipMatches()
	return !it.atEnd, nil
}

// andMaybeIterator yields every left posting; right merely adds its
// weight when present at the same docid, without filtering anything.
type andMaybeIterator struct {
	left, right Iterator
}

func NewAndMaybe(left, right Iterator) Iterator {
	it := &andMaybeIterator{left: left, right: right}
	if !left.AtEnd() {
		it.syncRight()
	}
	return it
}

func (it *andMaybeIterator) DocID() uint32 { return it.left.DocID() }
func (it *andMaybeIterator) WDF() uint32 {
	if !it.right.AtEnd() && it.right.DocID() == it.left.DocID() {
		return it.left.WDF() + it.right.WDF()
	}
	return it.left.WDF()
}

func (it *andMaybeIterator) Weight() float64 {
	w := it.left.Weight()
	if !it.right.AtEnd() && it.right.DocID() == it.left.DocID() {
		w += it.right.Weight()
	}
	return w
}

func (it *andMaybeIterator) MaxWeight() float64 {
	return it.left.MaxWeight() + it.right.MaxWeight()
}
func (it *andMaybeIterator) TermFreqMin() uint32 { return it.left.TermFreqMin() }
func (it *andMaybeIterator) TermFreqEst() uint32 { return it.left.TermFreqEst() }
func (it *andMaybeIterator) TermFreqMax() uint32 {
	return it.left.TermFreqMax() + it.right.TermFreqMax()
}
func (it *andMaybeIterator) AtEnd() bool { return it.left.AtEnd() }

func (it *andMaybeIterator) syncRight() {
	if it.right.AtEnd() {
		return
	}
	if it.right.DocID() < it.left.DocID() {
		_, _ = it.right.SkipTo(it.left.DocID(), 0)
	}
}

func (it *andMaybeIterator) Next(wMin float64) (bool, error) {
	ok, err := it.left.Next(wMin - it.right.MaxWeight())
	if err != nil || !ok {
		return false, err
	}
	it.syncRight()
	return true, nil
}

func (it *andMaybeIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	ok, err := it.left.SkipTo(target, wMin-it.right.MaxWeight())
	if err != nil || !ok {
		return false, err
	}
	it.syncRight()
	return true, nil
}

// xorIterator yields documents present in exactly one child.
type xorIterator struct {
	or Iterator // underlying merge over both children
}

func NewXor(left, right Iterator) Iterator {
	it := &xorIterator{or: NewOr([]Iterator{left, right})}
	if !it.AtEnd() && !it.matchedByOne() {
		_, _ = it.Next(0)
	}
	return it
}

func (it *xorIterator) DocID() uint32      { return it.or.DocID() }
func (it *xorIterator) WDF() uint32        { return it.or.WDF() }
func (it *xorIterator) MaxWeight() float64 { return it.or.MaxWeight() }
func (it *xorIterator) TermFreqMin() uint32 { return 0 }
func (it *xorIterator) TermFreqEst() uint32 { return it.or.TermFreqEst() }
func (it *xorIterator) TermFreqMax() uint32 { return it.or.TermFreqMax() }
func (it *xorIterator) AtEnd() bool         { return it.or.AtEnd() }

// matchedByOne reports whether exactly one of the OR's children sits
// at the current docid; XOR only ever stops on those.
func (it *xorIterator) matchedByOne() bool {
	o := it.or.(*orIterator)
	count := 0
	for _, c := range o.children {
		if !c.AtEnd() && c.DocID() == o.docid {
			count++
		}
	}
	return count == 1
}

func (it *xorIterator) Weight() float64 {
	if !it.matchedByOne() {
		return 0
	}
	return it.or.Weight()
}

func (it *xorIterator) Next(wMin float64) (bool, error) {
	for {
		ok, err := it.or.Next(0)
		if err != nil || !ok {
			return false, err
		}
		if it.matchedByOne() {
			return true, nil
		}
	}
}

func (it *xorIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	ok, err := it.or.SkipTo(target, 0)
	if err != nil || !ok {
		return false, err
	}
	if it.matchedByOne() {
		return true, nil
	}
	return it.Next(wMin)
}

// scaleIterator multiplies a child's weight (and weight bound) by a
// constant factor, for query-level term boosting.
type scaleIterator struct {
	child  Iterator
	factor float64
}

func NewScale(child Iterator, factor float64) Iterator {
	return &scaleIterator{child: child, factor: factor}
}

func (it *scaleIterator) DocID() uint32      { return it.child.DocID() }
func (it *scaleIterator) WDF() uint32        { return it.child.WDF() }
func (it *scaleIterator) Weight() float64    { return it.child.Weight() * it.factor }
func (it *scaleIterator) MaxWeight() float64 { return it.child.MaxWeight() * it.factor }
func (it *scaleIterator) TermFreqMin() uint32 { return it.child.TermFreqMin() }
func (it *scaleIterator) TermFreqEst() uint32 { return it.child.TermFreqEst() }
func (it *scaleIterator) TermFreqMax() uint32 { return it.child.TermFreqMax() }
func (it *scaleIterator) AtEnd() bool         { return it.child.AtEnd() }

func (it *scaleIterator) Next(wMin float64) (bool, error) {
	return it.child.Next(wMin / it.factor)
}
func (it *scaleIterator) SkipTo(target uint32, wMin float64) (bool, error) {
	return it.child.SkipTo(target, wMin/it.factor)
}

// synonymIterator is an OR whose WDF is the sum of the children's wdfs
// at a shared docid (spec section 4.5). Its Weight is the sum of the
// children's own weights, exactly as for OR; it is not recomputed from
// the combined wdf as if the synonyms were one term.
type synonymIterator struct {
	or Iterator
}

func NewSynonym(children []Iterator) Iterator {
	return &synonymIterator{or: NewOr(children)}
}

func (it *synonymIterator) DocID() uint32      { return it.or.DocID() }
func (it *synonymIterator) WDF() uint32        { return it.or.WDF() }
func (it *synonymIterator) Weight() float64    { return it.or.Weight() }
func (it *synonymIterator) MaxWeight() float64 { return it.or.MaxWeight() }
func (it *synonymIterator) TermFreqMin() uint32 { return it.or.TermFreqMin() }
func (it *synonymIterator) TermFreqEst() uint32 { return it.or.TermFreqEst() }
func (it *synonymIterator) TermFreqMax() uint32 { return it.or.TermFreqMax() }
func (it *synonymIterator) AtEnd() bool         { return it.or.AtEnd() }
func (it *synonymIterator) Next(wMin float64) (bool, error)              { return it.or.Next(wMin) }
func (it *synonymIterator) SkipTo(t uint32, wMin float64) (bool, error)  { return it.or.SkipTo(t, wMin) }

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// estimateAnd applies the independence-assumption formula from spec
// section 4.5: |A|*|B|/N, using a* 1 collection-size proxy of the
// larger operand when no absolute N is available to this helper
// (callers needing exact N should recompute at the Matcher level).
func estimateAnd(a, b uint32) uint32 {
	if a == 0 || b == 0 {
		return 0
	}
	n := a
	if b > n {
		n = b
	}
	return uint32(uint64(a) * uint64(b) / uint64(n))
}

func estimateOr(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	n := a
	if b > n {
		n = b
	}
	return a + b - uint32(uint64(a)*uint64(b)/uint64(n))
}

func estimateAndNot(a, b uint32) uint32 {
	if a <= b {
		return 0
	}
	return a - minUint32(a, b)
}
