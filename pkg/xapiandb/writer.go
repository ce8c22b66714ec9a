package xapiandb

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/xapian/xapiango/pkg/inverter"
	"github.com/xapian/xapiango/pkg/table"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// nextDocIDKey is the reserved key in the record table holding the
// next docid to hand out (spec section 3: "Assigned monotonically on
// insert, reused only after database recreation"). Document id 0 is
// reserved for "none", so this key can never collide with an actual
// per-document record key once those exist.
var nextDocIDKey = []byte{0}

// Writer is the single exclusive handle through which documents are
// added, replaced and deleted (spec section 5: "all mutation is
// funnelled through the single writer; the writer holds the directory
// lock and exclusive ownership of all dirty block buffers").
type Writer struct {
	*Database
	lock *table.WriteLock
	inv  *inverter.Inverter
	log  zerolog.Logger

	nextDocID uint32
}

// OpenWriter acquires the directory's exclusive write lock and opens
// the table set for read-write access, failing with DatabaseLock if
// another writer already holds it.
func OpenWriter(dir string, opts Options) (*Writer, error) {
	lock, err := table.AcquireLock(dir)
	if err != nil {
		return nil, err
	}
	set, err := table.Open(dir, table.Options{ReadOnly: false, Revision: -1, BlockSize: opts.BlockSize, NoSync: opts.NoSync, Logger: opts.Logger})
	if err != nil {
		lock.Release()
		return nil, err
	}
	cache, _ := lru.New[uint32, uint32](docLenCacheSize)
	db := &Database{dir: dir, set: set, log: opts.Logger, opts: opts, docLenCache: cache}

	next, ok, err := set.Tree(table.Record).Get(nextDocIDKey)
	if err != nil {
		set.Close()
		lock.Release()
		return nil, err
	}
	var nextDocID uint32 = 1
	if ok {
		nextDocID = binary.BigEndian.Uint32(next)
	}

	return &Writer{
		Database:  db,
		lock:      lock,
		inv:       inverter.New(opts.Logger),
		log:       opts.Logger,
		nextDocID: nextDocID,
	}, nil
}

// AddDocument allocates a fresh docid, records terms (term -> wdf) and
// the document's length into the inverter's pending buffer, and
// returns the new docid. positions is an optional term -> within-
// document word-position list (spec section 4.4's positional data);
// callers that don't track positions may pass nil. Nothing is visible
// to readers until Commit.
func (w *Writer) AddDocument(terms map[string]uint32, length uint32, positions map[string][]uint32) (uint32, error) {
	did := w.nextDocID
	w.nextDocID++
	if err := w.writeNextDocID(); err != nil {
		return 0, err
	}
	for term, wdf := range terms {
		w.inv.AddPosting(did, []byte(term), wdf)
	}
	for term, plist := range positions {
		w.inv.SetPositions(did, []byte(term), plist)
	}
	w.inv.SetDocLength(did, length)
	if err := writeTermList(w.set.Tree(table.Termlist), did, terms); err != nil {
		return 0, err
	}
	return did, nil
}

// ReplaceDocument replaces did's terms and length, diffing against its
// previous termlist entry to issue exactly the add/remove/update
// postings the change requires (spec section 4.4: "update_posting"
// writes a new wdf without touching termfreq for terms present in
// both; terms dropped entirely become RemovePosting, terms newly
// present become AddPosting). positions replaces the position-list
// entry for every term named in it; a term previously positioned but
// absent from terms after the replace has its position entry dropped
// along with its posting. If did has never been indexed, this behaves
// like AddDocument except the caller's docid is honoured rather than a
// fresh one allocated, extending the nextDocID counter if necessary.
func (w *Writer) ReplaceDocument(did uint32, terms map[string]uint32, length uint32, positions map[string][]uint32) error {
	if did == 0 {
		return xapianerr.New(xapianerr.InvalidArgument, "docid 0 is reserved for \"none\"")
	}
	old, existed, err := readTermList(w.set.Tree(table.Termlist), did)
	if err != nil {
		return err
	}
	for term, wdf := range terms {
		if oldWDF, ok := old[term]; ok {
			if oldWDF != wdf {
				w.inv.UpdatePosting(did, []byte(term), oldWDF, wdf)
			}
		} else {
			w.inv.AddPosting(did, []byte(term), wdf)
		}
	}
	for term, oldWDF := range old {
		if _, ok := terms[term]; !ok {
			w.inv.RemovePosting(did, []byte(term), oldWDF)
			w.inv.DeletePositions(did, []byte(term))
		}
	}
	for term, plist := range positions {
		w.inv.SetPositions(did, []byte(term), plist)
	}
	w.inv.SetDocLength(did, length)
	if err := writeTermList(w.set.Tree(table.Termlist), did, terms); err != nil {
		return err
	}
	if !existed && did >= w.nextDocID {
		w.nextDocID = did + 1
		if err := w.writeNextDocID(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes did's postings, position entries and
// doclength entry. Per spec section 8 scenario 5, deleting an already-
// deleted (or never-existent) docid is a no-op, not an error.
func (w *Writer) DeleteDocument(did uint32) error {
	old, existed, err := readTermList(w.set.Tree(table.Termlist), did)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	for term, wdf := range old {
		w.inv.RemovePosting(did, []byte(term), wdf)
		w.inv.DeletePositions(did, []byte(term))
	}
	w.inv.DeleteDocLength(did)
	return deleteTermList(w.set.Tree(table.Termlist), did)
}

func (w *Writer) writeNextDocID() error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], w.nextDocID)
	return w.set.Tree(table.Record).Add(nextDocIDKey, b[:])
}

// Commit flushes every buffered posting/doclength change into the
// postlist table, then commits every table in the set (spec section
// 4.4 "flush_all", section 4.2 "commit"). The tables commit one after
// another; table.Set.Commit describes how a crash between them is
// recovered.
func (w *Writer) Commit() error {
	if err := w.inv.FlushAll(w.set.Tree(table.Postlist), w.set.Tree(table.Position)); err != nil {
		return err
	}
	if err := w.set.Commit(); err != nil {
		return err
	}
	w.docLenCache.Purge()
	w.log.Debug().Uint32("revision", w.set.Revision()).Msg("xapiandb: writer committed")
	return nil
}

// Cancel discards every change made since the last Commit (or, with no
// Commit yet, since this writer opened), leaving the database exactly
// as that point left it (spec section 4.2 "cancel").
func (w *Writer) Cancel() error {
	w.inv.Cancel()
	return w.set.Cancel()
}

// Close commits nothing; it releases the write lock and closes the
// table set. Callers must Commit (or explicitly Cancel) first if they
// want pending changes to either persist or be discarded cleanly —
// Close on its own leaves uncommitted dirty blocks to be reclaimed the
// next time this table is opened, exactly as Cancel would.
func (w *Writer) Close() error {
	err := w.set.Close()
	if lerr := w.lock.Release(); err == nil {
		err = lerr
	}
	return err
}
