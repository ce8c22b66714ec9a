package matcher

import "math"

// Weight precomputes per-term constants once, then scores individual
// postings cheaply (spec section 4.5: "a weight object carries IDF /
// length-norm constants precomputed once per term").
type Weight interface {
	// SumPart returns this term's score contribution for a posting
	// with the given wdf in a document of length doclen.
	SumPart(wdf uint32, doclen uint32) float64
	// MaxSumPart bounds SumPart over every wdf/doclen this term could
	// ever see.
	MaxSumPart() float64
	// SumExtra returns the document-level (not per-term) contribution
	// BM25 adds once per query; Trad returns 0.
	SumExtra(doclen uint32) float64
	MaxSumExtra() float64
}

// CollectionStats are the corpus-wide numbers every weighting scheme
// needs: total document count and average document length.
type CollectionStats struct {
	NumDocs  uint32
	AvgDocLen float64
}

// TermStats are the per-term numbers a weight object is built from.
type TermStats struct {
	Termfreq uint32 // n: documents containing the term
	QueryTF  uint32 // qtf: occurrences of the term in the query itself
}

const (
	defaultK1 = 1.2
	defaultB  = 0.75
	defaultK2 = 0.0
	defaultK3 = 1000
)

// BM25Params holds the tunable constants of the BM25 formula (spec
// section 4.5). Zero value is not usable; use DefaultBM25Params.
type BM25Params struct {
	K1, B, K2, K3 float64
}

// DefaultBM25Params returns Xapian's long-standing default constants.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: defaultK1, B: defaultB, K2: defaultK2, K3: defaultK3}
}

// BM25Weight implements the BM25 probabilistic weighting scheme.
type BM25Weight struct {
	params BM25Params
	stats  CollectionStats

	idf      float64
	qtfPart  float64 // (k3+1)*qtf / (k3+qtf), held constant across docs
	maxSumPart float64
}

// NewBM25Weight precomputes the IDF and query-frequency factors for
// one term (spec section 4.5's "precomputed once per term").
func NewBM25Weight(params BM25Params, stats CollectionStats, term TermStats) *BM25Weight {
	w := &BM25Weight{params: params, stats: stats}
	n := float64(term.Termfreq)
	nDocs := float64(stats.NumDocs)
	idf := math.Log((nDocs-n+0.5)/(n+0.5)) / math.Log(2)
	if idf < 1e-6 {
		idf = 1e-6
	}
	w.idf = idf
	qtf := float64(term.QueryTF)
	if qtf == 0 {
		qtf = 1
	}
	w.qtfPart = (params.K3 + 1) * qtf / (params.K3 + qtf)
	w.maxSumPart = w.idf * (params.K1 + 1) * w.qtfPart
	return w
}

// SumPart is the per-posting BM25 term weight.
func (w *BM25Weight) SumPart(wdf uint32, doclen uint32) float64 {
	if wdf == 0 {
		return 0
	}
	tf := float64(wdf)
	lenNorm := 1 - w.params.B + w.params.B*float64(doclen)/w.stats.AvgDocLen
	denom := tf + w.params.K1*lenNorm
	if denom == 0 {
		return 0
	}
	return w.idf * (w.params.K1+1)*tf/denom * w.qtfPart
}

func (w *BM25Weight) MaxSumPart() float64 { return w.maxSumPart }

// SumExtra is BM25's document-level extra term, independent of term.
func (w *BM25Weight) SumExtra(doclen uint32) float64 {
	if w.params.K2 == 0 {
		return 0
	}
	return 2 * w.params.K2 * 1 / (1 + float64(doclen)/w.stats.AvgDocLen)
}

func (w *BM25Weight) MaxSumExtra() float64 {
	if w.params.K2 == 0 {
		return 0
	}
	return 2 * w.params.K2
}

// RSJTermStats adds relevance-feedback (R, r) counts to TermStats for
// the Robertson-Sparck-Jones variant of BM25's IDF.
type RSJTermStats struct {
	TermStats
	R uint32 // judged-relevant documents in the collection
	r uint32 // judged-relevant documents containing the term
}

// NewBM25WeightRSJ builds a BM25 weight using the Robertson-Sparck-
// Jones relevance-weighted IDF formula instead of the plain smoothed
// form, for use once relevance feedback judgements are available.
func NewBM25WeightRSJ(params BM25Params, stats CollectionStats, term RSJTermStats) *BM25Weight {
	w := &BM25Weight{params: params, stats: stats}
	n := float64(term.Termfreq)
	nDocs := float64(stats.NumDocs)
	R := float64(term.R)
	r := float64(term.r)
	idf := math.Log(((r+0.5)*(nDocs-n-R+r+0.5))/((n-r+0.5)*(R-r+0.5))) / math.Log(2)
	if idf < 1e-6 {
		idf = 1e-6
	}
	w.idf = idf
	qtf := float64(term.QueryTF)
	if qtf == 0 {
		qtf = 1
	}
	w.qtfPart = (params.K3 + 1) * qtf / (params.K3 + qtf)
	w.maxSumPart = w.idf * (params.K1 + 1) * w.qtfPart
	return w
}

// TradWeight implements Xapian's "Trad" (BM11-like) probabilistic
// weighting scheme (spec section 4.5).
type TradWeight struct {
	k     float64
	stats CollectionStats

	logTW      float64
	maxSumPart float64
}

// NewTradWeight precomputes the log(termweight) constant for one term.
func NewTradWeight(k float64, stats CollectionStats, term TermStats) *TradWeight {
	n := float64(term.Termfreq)
	nDocs := float64(stats.NumDocs)
	tw := (nDocs - n + 0.5) / (n + 0.5)
	if tw < 1e-6 {
		tw = 1e-6
	}
	logTW := math.Log(tw)
	if logTW < 1e-6 {
		logTW = 1e-6
	}
	w := &TradWeight{k: k, stats: stats, logTW: logTW}
	// wdf/(wdf + doclen*k/avgdl) approaches 1 as wdf -> infinity, so
	// log(tw) alone bounds SumPart from above.
	w.maxSumPart = w.logTW
	return w
}

func (w *TradWeight) SumPart(wdf uint32, doclen uint32) float64 {
	if wdf == 0 {
		return 0
	}
	tf := float64(wdf)
	denom := float64(doclen)*w.k/w.stats.AvgDocLen + tf
	if denom == 0 {
		return 0
	}
	return w.logTW * tf / denom
}

func (w *TradWeight) MaxSumPart() float64 { return w.maxSumPart }
func (w *TradWeight) SumExtra(uint32) float64    { return 0 }
func (w *TradWeight) MaxSumExtra() float64       { return 0 }

// BoolWeight assigns every posting a constant weight of 1, for pure
// boolean (unranked) queries.
type BoolWeight struct{}

func (BoolWeight) SumPart(wdf uint32, doclen uint32) float64 { return 1 }
func (BoolWeight) MaxSumPart() float64                       { return 1 }
func (BoolWeight) SumExtra(uint32) float64                   { return 0 }
func (BoolWeight) MaxSumExtra() float64                      { return 0 }
