package matcher

import (
	"container/heap"
	"sort"
)

// SortOrder selects how Result items are ordered in the final MSet
// (spec section 4.5).
type SortOrder int

const (
	SortRelevance SortOrder = iota
	SortValue
	SortValueThenRelevance
	SortRelevanceThenValue
)

// MatchDecider is consulted for every candidate before it is weighed
// against the heap. Options holds only this one decider; there is no
// second hook that runs on items already promoted into the heap.
type MatchDecider func(docid uint32) (bool, error)

// CollapseKey extracts a document's collapse value; documents sharing
// a key compete for a bounded number of slots (spec section 4.5).
type CollapseKey func(docid uint32) (string, bool)

// Result is one document in the final MSet.
type Result struct {
	DocID      uint32
	Weight     float64
	CollapseKey string
}

// MSet is the final, ordered, bounded result set along with the
// cardinality bounds the spec requires (section 4.5).
type MSet struct {
	Items []Result

	MatchesLowerBound uint32
	MatchesEstimated  uint32
	MatchesUpperBound uint32

	CollapseCount uint32
}

// Options configures a single Search call.
type Options struct {
	First   int // number of leading results to skip
	MaxItems int // number of results to return after First

	PercentCutoff float64 // [0,100]; 0 disables
	WeightCutoff  float64 // absolute weight cutoff; 0 disables

	Sort         SortOrder
	Descending   bool
	CollapseKey  CollapseKey
	CollapseMax  int // max survivors per collapse key; 0 disables collapsing

	Decider       MatchDecider
	CheckAtLeast  int // force enumeration this deep even once the heap is saturated
}

type heapItem struct {
	Result
	insertOrder int
}

// resultHeap is a bounded min-heap over `First+MaxItems` items, kept
// ordered by weight (then docid) whatever the SortOrder, with the
// weakest item always at index 0 so it can be evicted in O(log k); the
// SortOrder only orders the surviving items afterwards (spec section
// 4.5: "a bounded min-heap of the top first+maxitems items").
type resultHeap struct {
	items []heapItem
	less  func(a, b heapItem) bool
}

func (h *resultHeap) Len() int            { return len(h.items) }
func (h *resultHeap) Less(i, j int) bool  { return h.less(h.items[i], h.items[j]) }
func (h *resultHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *resultHeap) Push(x interface{})  { h.items = append(h.items, x.(heapItem)) }
func (h *resultHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func weightLess(a, b heapItem) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	return a.DocID > b.DocID // tie-break: lower docid wins, so it sorts "greater" here
}

// collector accumulates candidates into a bounded heap, applying
// cutoffs and collapse-by-value as each candidate is offered.
type collector struct {
	capacity int
	heap     *resultHeap

	collapseKey CollapseKey
	collapseMax int
	collapseSeen map[string]int
	collapseCount uint32

	percentCutoff float64
	weightCutoff  float64
	maxSeenWeight float64

	seq int
}

func newCollector(opts Options) *collector {
	capacity := opts.First + opts.MaxItems
	if capacity <= 0 {
		capacity = 1 << 30
	}
	c := &collector{
		capacity:      capacity,
		heap:          &resultHeap{less: weightLess},
		collapseKey:   opts.CollapseKey,
		collapseMax:   opts.CollapseMax,
		percentCutoff: opts.PercentCutoff,
		weightCutoff:  opts.WeightCutoff,
	}
	if c.collapseKey != nil && c.collapseMax > 0 {
		c.collapseSeen = make(map[string]int)
	}
	heap.Init(c.heap)
	return c
}

// offer considers one candidate document for inclusion. It returns the
// current heap-min weight, which callers feed back into the query
// tree's next(w_min)/skip_to(w_min) pruning bound.
func (c *collector) offer(docid uint32, weight float64) float64 {
	if weight > c.maxSeenWeight {
		c.maxSeenWeight = weight
	}
	if c.weightCutoff > 0 && weight < c.weightCutoff {
		return c.heapMin()
	}
	if c.percentCutoff > 0 && c.maxSeenWeight > 0 {
		if weight/c.maxSeenWeight*100 < c.percentCutoff {
			return c.heapMin()
		}
	}

	key := ""
	if c.collapseKey != nil && c.collapseMax > 0 {
		k, ok := c.collapseKey(docid)
		if ok {
			key = k
			if c.collapseSeen[k] >= c.collapseMax {
				c.collapseCount++
				return c.heapMin()
			}
			c.collapseSeen[k]++
		}
	}

	if c.heap.Len() < c.capacity {
		heap.Push(c.heap, heapItem{Result: Result{DocID: docid, Weight: weight, CollapseKey: key}, insertOrder: c.seq})
		c.seq++
	} else if c.heap.Len() > 0 && weight > c.heap.items[0].Weight {
		heap.Pop(c.heap)
		heap.Push(c.heap, heapItem{Result: Result{DocID: docid, Weight: weight, CollapseKey: key}, insertOrder: c.seq})
		c.seq++
	}
	return c.heapMin()
}

func (c *collector) heapMin() float64 {
	if c.heap.Len() < c.capacity || c.heap.Len() == 0 {
		return 0
	}
	return c.heap.items[0].Weight
}

// finish drains the heap into a stably-sorted, paginated slice
// according to opts' sort order, applying First/MaxItems.
func (c *collector) finish(opts Options) []Result {
	items := make([]Result, len(c.heap.items))
	for i, it := range c.heap.items {
		items[i] = it.Result
	}
	sortResults(items, opts)
	if opts.First > len(items) {
		return nil
	}
	end := len(items)
	if opts.MaxItems > 0 && opts.First+opts.MaxItems < end {
		end = opts.First + opts.MaxItems
	}
	return items[opts.First:end]
}

func sortResults(items []Result, opts Options) {
	less := func(i, j int) bool {
		a, b := items[i], items[j]
		switch opts.Sort {
		case SortValue:
			if a.CollapseKey != b.CollapseKey {
				return a.CollapseKey < b.CollapseKey
			}
		case SortValueThenRelevance:
			if a.CollapseKey != b.CollapseKey {
				return a.CollapseKey < b.CollapseKey
			}
			if a.Weight != b.Weight {
				return a.Weight > b.Weight
			}
		case SortRelevanceThenValue:
			if a.Weight != b.Weight {
				return a.Weight > b.Weight
			}
			if a.CollapseKey != b.CollapseKey {
				return a.CollapseKey < b.CollapseKey
			}
		default: // SortRelevance
			if a.Weight != b.Weight {
				return a.Weight > b.Weight
			}
		}
		return a.DocID < b.DocID
	}
	if opts.Descending {
		orig := less
		less = func(i, j int) bool { return orig(j, i) }
	}
	sort.SliceStable(items, less)
}
