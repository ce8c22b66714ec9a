// Package table implements the table set described in spec section
// 4.3: a database directory is a collection of named pkg/btree trees —
// postlist, termlist, position, record, spelling, synonym — that share
// a single logical revision. A database is only consistent when every
// table agrees on the same current revision, so Open reconciles the
// trees down to the highest revision every one of them actually has a
// base file for, rather than trusting each table's own "most recent"
// independently.
//
// There is no direct analogue for a six-tree consistency set anywhere
// in the example pack (perkeep's pkg/sorted backends are each a single
// standalone KeyValue store); this package is built directly from spec
// section 4.3 and 4.3's sibling External Interfaces in section 6,
// reusing pkg/btree.Tree as its only moving part.
package table

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/xapian/xapiango/pkg/btree"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// Names enumerates the six B-trees a database directory holds, in the
// canonical order Commit and xapian-check iterate them.
var Names = []string{"postlist", "termlist", "position", "record", "spelling", "synonym"}

// Postlist and friends name the individual tables for callers that
// want to address one directly (pkg/xapiandb hands pkg/inverter the
// Postlist and Position trees, and pkg/matcher the Postlist and Record
// trees).
const (
	Postlist = "postlist"
	Termlist = "termlist"
	Position = "position"
	Record   = "record"
	Spelling = "spelling"
	Synonym  = "synonym"
)

// Options configures Open. It mirrors btree.Options but applies
// uniformly to every table in the set.
type Options struct {
	ReadOnly  bool
	Revision  int64 // pin the whole set at this revision; -1 for most recent consistent
	BlockSize int
	NoSync    bool
	Logger    zerolog.Logger
}

// Set is a database directory's collection of named B-trees, opened at
// a single shared, consistent revision.
type Set struct {
	dir      string
	trees    map[string]*btree.Tree
	revision uint32
	readOnly bool
	log      zerolog.Logger
}

// Open opens (creating if necessary) every table named in Names under
// dir, then reconciles them to the highest revision every table can
// actually reach, per spec section 3's "a database is consistent iff
// all tables share the same current revision". A database directory
// that has never been created (no marker file) is initialized fresh.
func Open(dir string, opts Options) (*Set, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, xapianerr.New(xapianerr.DatabaseOpening, "create database directory").Wrap(err)
		}
	}
	if err := ensureMarker(dir, opts.ReadOnly); err != nil {
		return nil, err
	}

	s := &Set{dir: dir, trees: make(map[string]*btree.Tree, len(Names)), readOnly: opts.ReadOnly, log: opts.Logger}
	btOpts := btree.Options{ReadOnly: opts.ReadOnly, Revision: opts.Revision, BlockSize: opts.BlockSize, NoSync: opts.NoSync, Logger: opts.Logger}
	for _, name := range Names {
		tr, err := btree.Open(filepath.Join(dir, name), btOpts)
		if err != nil {
			s.closeAll()
			return nil, xapianerr.New(xapianerr.DatabaseOpening, "open table").WithTable(name).Wrap(err)
		}
		s.trees[name] = tr
	}

	if opts.Revision >= 0 {
		s.revision = uint32(opts.Revision)
		return s, nil
	}
	if err := s.reconcile(btOpts); err != nil {
		s.closeAll()
		return nil, err
	}
	return s, nil
}

// reconcile finds the highest revision shared by every open table and,
// for any table that opened ahead of it (having committed more
// recently than a sibling table), closes and reopens it pinned at that
// revision. This is what turns "each table's own most-recent base
// file" into the set-wide consistent snapshot spec section 3 requires.
func (s *Set) reconcile(btOpts btree.Options) error {
	min := ^uint32(0)
	for _, tr := range s.trees {
		if tr.Revision() < min {
			min = tr.Revision()
		}
	}
	s.revision = min
	for name, tr := range s.trees {
		if tr.Revision() == min {
			continue
		}
		if err := tr.Close(); err != nil {
			return err
		}
		pinned := btOpts
		pinned.Revision = int64(min)
		reopened, err := btree.Open(filepath.Join(s.dir, name), pinned)
		if err != nil {
			return xapianerr.New(xapianerr.DatabaseModified, "table ahead of set revision could not reopen at shared revision").WithTable(name).Wrap(err)
		}
		s.trees[name] = reopened
	}
	return nil
}

// Tree returns the named table's B-tree. Panics on an unknown name
// since the set of table names is fixed and closed, not user input.
func (s *Set) Tree(name string) *btree.Tree {
	tr, ok := s.trees[name]
	if !ok {
		panic("table: unknown table " + name)
	}
	return tr
}

// Revision returns the revision every table in the set currently
// shares.
func (s *Set) Revision() uint32 { return s.revision }

// Commit commits every table in Names order. A crash partway through
// leaves some tables at revision+1 and others at the prior revision;
// that is recovered transparently the next time Open's reconcile walks
// the set down to the highest shared revision, so Commit itself need
// not be atomic across tables (spec section 8, "crash between the two
// base-file writes").
func (s *Set) Commit() error {
	if s.readOnly {
		return xapianerr.New(xapianerr.InvalidOperation, "commit on read-only table set")
	}
	for _, name := range Names {
		if err := s.trees[name].Commit(); err != nil {
			return xapianerr.New(xapianerr.DatabaseCorrupt, "commit table").WithTable(name).Wrap(err)
		}
	}
	s.revision++
	s.log.Debug().Uint32("revision", s.revision).Msg("table: set committed")
	return nil
}

// Cancel discards uncommitted changes in every table.
func (s *Set) Cancel() error {
	for name, tr := range s.trees {
		if err := tr.Cancel(); err != nil {
			return xapianerr.New(xapianerr.DatabaseCorrupt, "cancel table").WithTable(name).Wrap(err)
		}
	}
	return nil
}

// Close closes every table's underlying block store.
func (s *Set) Close() error {
	return s.closeAll()
}

func (s *Set) closeAll() error {
	var first error
	names := make([]string, 0, len(s.trees))
	for name := range s.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.trees[name].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
