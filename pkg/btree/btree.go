// Package btree implements the copy-on-write, revision-numbered B-tree
// described in spec section 4.2: byte-string keys to byte-string
// values, point lookup, ordered cursor, insert, delete, and atomic
// commit over a pkg/blockstore.Store.
//
// Every insert or delete rewrites the path from the touched leaf to
// the root into freshly allocated blocks (true copy-on-write): the
// previous blocks along that path are never mutated in place, so a
// reader that opened the tree at an earlier revision keeps seeing
// exactly the blocks that existed then. Commit only has to publish a
// new root pointer and revision number; Cancel only has to forget it.
package btree

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/xapian/xapiango/pkg/blockstore"
	"github.com/xapian/xapiango/pkg/xapianerr"
)

// Options configures Open.
type Options struct {
	ReadOnly bool
	// Revision, if >= 0, pins the tree open at that specific revision
	// instead of the most recent consistent one.
	Revision int64
	BlockSize int
	NoSync    bool
	Logger    zerolog.Logger
}

// Tree is one open copy-on-write B-tree, backed by a block store and a
// pair of alternating base files.
type Tree struct {
	mu sync.Mutex

	tablePath string
	store     *blockstore.Store
	basePath  string
	readOnly  bool
	log       zerolog.Logger

	root      uint32
	level     uint16
	itemCount uint32
	revision  uint32

	fl *freeList

	superseded []uint32 // blocks rewritten (and thus orphaned) since the last commit/cancel
}

// Open opens the table rooted at tablePath (i.e. tablePath+".DB",
// tablePath+".baseA", tablePath+".baseB"), creating it if none of
// those files exist yet.
func Open(tablePath string, opts Options) (*Tree, error) {
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = blockstore.DefaultBlockSize
	}
	dataPath := tablePath + ".DB"
	store, err := blockstore.Open(dataPath, blockstore.Options{
		BlockSize: blockSize,
		ReadOnly:  opts.ReadOnly,
		NoSync:    opts.NoSync,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if !opts.ReadOnly && store.NumBlocks() == 0 {
		// Block 0 is reserved by convention (spec section 4.2); consume
		// it here so a real node never gets allocated block number 0,
		// which this package uses as the "no root yet" sentinel.
		if _, err := store.Extend(); err != nil {
			store.Close()
			return nil, err
		}
	}

	t := &Tree{
		tablePath: tablePath,
		store:     store,
		readOnly:  opts.ReadOnly,
		log:       opts.Logger,
		fl:        &freeList{},
	}

	rec, path, err := chooseBase(tablePath, opts.Revision)
	if err != nil {
		if opts.Revision >= 0 {
			store.Close()
			return nil, err
		}
		// Brand new table: no base file yet.
		t.basePath, _ = baseFileNames(tablePath)
		t.revision = 0
		t.root = 0
		t.level = 0
		t.itemCount = 0
		return t, nil
	}
	t.basePath = path
	t.revision = rec.revision
	t.root = rec.root
	t.level = rec.level
	t.itemCount = rec.itemCount
	if rec.freeListLen > 0 {
		blob, err := readOverflow(rec.freeListHead, int(rec.freeListLen), t.rawFetch)
		if err != nil {
			store.Close()
			return nil, err
		}
		fl, err := decodeFreeList(blob)
		if err != nil {
			store.Close()
			return nil, err
		}
		t.fl = fl
	}
	return t, nil
}

// Revision returns the revision this tree is currently open at.
func (t *Tree) Revision() uint32 { return t.revision }

// ItemCount returns the number of key/value pairs in the tree.
func (t *Tree) ItemCount() uint32 { return t.itemCount }

// NumBlocks returns the block store's current file size in blocks, for
// consistency reporting (xapian-check's bitmap pass).
func (t *Tree) NumBlocks() uint32 { return t.store.NumBlocks() }

func (t *Tree) rawFetch(n uint32) ([]byte, error) { return t.store.Read(n) }

func (t *Tree) allocate() (uint32, error) {
	if n, ok := t.fl.allocate(); ok {
		return n, nil
	}
	return t.store.Extend()
}

// allocWrite allocates a block and writes buf into it; it is the alloc
// callback encodeLeaf and writeOverflow use for overflow blocks.
func (t *Tree) allocWrite(buf []byte) (uint32, error) {
	n, err := t.allocate()
	if err != nil {
		return 0, err
	}
	if err := t.store.Write(n, buf); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Tree) supersede(block uint32) {
	if block != 0 {
		t.superseded = append(t.superseded, block)
	}
}

func (t *Tree) readLeaf(block uint32) (*leafNode, error) {
	buf, err := t.store.Read(block)
	if err != nil {
		return nil, err
	}
	return decodeLeaf(buf, func(head uint32, n int) ([]byte, error) {
		return readOverflow(head, n, t.rawFetch)
	})
}

func (t *Tree) readInternal(block uint32) (*internalNode, error) {
	buf, err := t.store.Read(block)
	if err != nil {
		return nil, err
	}
	return decodeInternal(buf)
}

// Get performs a point lookup.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == 0 {
		return nil, false, nil
	}
	return t.getRec(t.root, t.level, key)
}

func (t *Tree) getRec(block uint32, level uint16, key []byte) ([]byte, bool, error) {
	if level == 0 {
		leaf, err := t.readLeaf(block)
		if err != nil {
			return nil, false, err
		}
		for _, it := range leaf.items {
			if bytesEqual(it.key, key) {
				return it.value, true, nil
			}
		}
		return nil, false, nil
	}
	node, err := t.readInternal(block)
	if err != nil {
		return nil, false, err
	}
	child := node.childBlockFor(key)
	return t.getRec(child, level-1, key)
}

// Add inserts or replaces key with value.
func (t *Tree) Add(key, value []byte) error {
	if t.readOnly {
		return xapianerr.New(xapianerr.InvalidOperation, "add on read-only tree")
	}
	if len(key) == 0 || len(key) > MaxKeySize {
		return xapianerr.Newf(xapianerr.InvalidArgument, "key length %d out of range", len(key))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	newBlock, sep, splitBlock, split, isNew, err := t.insertRec(t.root, t.level, t.root != 0, key, value)
	if err != nil {
		return err
	}
	if split {
		rootBuf, err := encodeInternal(&internalNode{
			revision:   t.revision + 1,
			level:      t.level + 1,
			firstChild: newBlock,
			children:   []child{{sepKey: sep, block: splitBlock}},
		}, t.store.BlockSize())
		if err != nil {
			return err
		}
		nb, err := t.allocate()
		if err != nil {
			return err
		}
		if err := t.store.Write(nb, rootBuf); err != nil {
			return err
		}
		t.root = nb
		t.level++
	} else {
		t.root = newBlock
	}
	if isNew {
		t.itemCount++
	}
	return nil
}

// insertRec returns the new block number for the subtree rooted at
// block (or, if it split, the new left block plus the promoted
// separator and new right block).
func (t *Tree) insertRec(block uint32, level uint16, exists bool, key, value []byte) (newBlock uint32, sep []byte, splitBlock uint32, split bool, isNew bool, err error) {
	if level == 0 {
		var leaf *leafNode
		if exists {
			leaf, err = t.readLeaf(block)
			if err != nil {
				return
			}
			t.supersede(block)
		} else {
			leaf = &leafNode{}
		}
		idx := 0
		for idx < len(leaf.items) && bytesLess(leaf.items[idx].key, key) {
			idx++
		}
		if idx < len(leaf.items) && bytesEqual(leaf.items[idx].key, key) {
			leaf.items[idx].value = value
			isNew = false
		} else {
			leaf.items = append(leaf.items, item{})
			copy(leaf.items[idx+1:], leaf.items[idx:])
			leaf.items[idx] = item{key: key, value: value}
			isNew = true
		}
		leaf.revision = t.revision + 1
		return t.writeLeafOrSplit(leaf)
	}

	node, rerr := t.readInternal(block)
	if rerr != nil {
		err = rerr
		return
	}
	t.supersede(block)
	ci := node.childIndexFor(key)
	childBlock := node.blockAt(ci)
	newChild, csep, csplit, didSplit, cIsNew, cerr := t.insertRec(childBlock, level-1, true, key, value)
	if cerr != nil {
		err = cerr
		return
	}
	isNew = cIsNew
	node.setBlockAt(ci, newChild)
	if didSplit {
		entry := child{sepKey: csep, block: csplit}
		pos := ci + 1
		node.children = append(node.children, child{})
		copy(node.children[pos+1:], node.children[pos:])
		node.children[pos] = entry
	}
	node.revision = t.revision + 1
	return t.writeInternalOrSplit(node)
}

func (t *Tree) writeLeafOrSplit(leaf *leafNode) (newBlock uint32, sep []byte, splitBlock uint32, split bool, isNew bool, err error) {
	buf, encErr := encodeLeaf(leaf, t.store.BlockSize(), t.allocWrite)
	if encErr == nil {
		nb, aerr := t.allocate()
		if aerr != nil {
			err = aerr
			return
		}
		if werr := t.store.Write(nb, buf); werr != nil {
			err = werr
			return
		}
		newBlock = nb
		return
	}
	if len(leaf.items) < 2 {
		err = encErr
		return
	}
	mid := len(leaf.items) / 2
	left := &leafNode{revision: leaf.revision, items: leaf.items[:mid]}
	right := &leafNode{revision: leaf.revision, items: leaf.items[mid:]}
	leftBuf, err := encodeLeaf(left, t.store.BlockSize(), t.allocWrite)
	if err != nil {
		return
	}
	rightBuf, err := encodeLeaf(right, t.store.BlockSize(), t.allocWrite)
	if err != nil {
		return
	}
	lb, err := t.allocate()
	if err != nil {
		return
	}
	if err = t.store.Write(lb, leftBuf); err != nil {
		return
	}
	rb, err := t.allocate()
	if err != nil {
		return
	}
	if err = t.store.Write(rb, rightBuf); err != nil {
		return
	}
	newBlock = lb
	sep = right.items[0].key
	splitBlock = rb
	split = true
	return
}

func (t *Tree) writeInternalOrSplit(node *internalNode) (newBlock uint32, sep []byte, splitBlock uint32, split bool, isNew bool, err error) {
	buf, encErr := encodeInternal(node, t.store.BlockSize())
	if encErr == nil {
		nb, aerr := t.allocate()
		if aerr != nil {
			err = aerr
			return
		}
		if werr := t.store.Write(nb, buf); werr != nil {
			err = werr
			return
		}
		newBlock = nb
		return
	}
	if len(node.children) < 1 {
		err = encErr
		return
	}
	mid := len(node.children) / 2
	left := &internalNode{revision: node.revision, level: node.level, firstChild: node.firstChild, children: node.children[:mid]}
	promoted := node.children[mid]
	right := &internalNode{revision: node.revision, level: node.level, firstChild: promoted.block, children: node.children[mid+1:]}

	leftBuf, err := encodeInternal(left, t.store.BlockSize())
	if err != nil {
		return
	}
	rightBuf, err := encodeInternal(right, t.store.BlockSize())
	if err != nil {
		return
	}
	lb, err := t.allocate()
	if err != nil {
		return
	}
	if err = t.store.Write(lb, leftBuf); err != nil {
		return
	}
	rb, err := t.allocate()
	if err != nil {
		return
	}
	if err = t.store.Write(rb, rightBuf); err != nil {
		return
	}
	newBlock = lb
	sep = promoted.sepKey
	splitBlock = rb
	split = true
	return
}

// Del removes key, if present. Per spec section 4.2, deletion
// rebalances lazily: only the path from the touched leaf to the root
// is rewritten, with no sibling merge or redistribution.
func (t *Tree) Del(key []byte) error {
	if t.readOnly {
		return xapianerr.New(xapianerr.InvalidOperation, "delete on read-only tree")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == 0 {
		return nil
	}
	newRoot, found, err := t.deleteRec(t.root, t.level, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	t.root = newRoot
	t.itemCount--
	return nil
}

func (t *Tree) deleteRec(block uint32, level uint16, key []byte) (newBlock uint32, found bool, err error) {
	if level == 0 {
		leaf, rerr := t.readLeaf(block)
		if rerr != nil {
			err = rerr
			return
		}
		idx := -1
		for i, it := range leaf.items {
			if bytesEqual(it.key, key) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return block, false, nil
		}
		t.supersede(block)
		leaf.items = append(leaf.items[:idx], leaf.items[idx+1:]...)
		leaf.revision = t.revision + 1
		buf, eerr := encodeLeaf(leaf, t.store.BlockSize(), t.allocWrite)
		if eerr != nil {
			err = eerr
			return
		}
		nb, aerr := t.allocate()
		if aerr != nil {
			err = aerr
			return
		}
		if werr := t.store.Write(nb, buf); werr != nil {
			err = werr
			return
		}
		return nb, true, nil
	}

	node, rerr := t.readInternal(block)
	if rerr != nil {
		err = rerr
		return
	}
	ci := node.childIndexFor(key)
	childBlock := node.blockAt(ci)
	newChild, childFound, cerr := t.deleteRec(childBlock, level-1, key)
	if cerr != nil {
		err = cerr
		return
	}
	if !childFound {
		return block, false, nil
	}
	t.supersede(block)
	node.setBlockAt(ci, newChild)
	node.revision = t.revision + 1
	buf, eerr := encodeInternal(node, t.store.BlockSize())
	if eerr != nil {
		err = eerr
		return
	}
	nb, aerr := t.allocate()
	if aerr != nil {
		err = aerr
		return
	}
	if werr := t.store.Write(nb, buf); werr != nil {
		err = werr
		return
	}
	return nb, true, nil
}

// Commit writes out dirty state and publishes a new revision. Per
// spec section 4.2, it is crash-atomic: the base file slot that is
// NOT currently active is rewritten (write-then-rename), so a crash
// mid-commit leaves the previously committed revision fully intact.
func (t *Tree) Commit() error {
	if t.readOnly {
		return xapianerr.New(xapianerr.InvalidOperation, "commit on read-only tree")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	newRevision := t.revision + 1
	for _, b := range t.superseded {
		t.fl.release(b, newRevision)
	}
	t.superseded = nil
	t.fl.rollForward(newRevision)

	if err := t.store.Sync(); err != nil {
		return err
	}

	blob := t.fl.encode()
	var flHead uint32
	var flLen uint32
	if len(blob) > 0 {
		head, err := writeOverflow(blob, t.store.BlockSize(), t.allocWrite)
		if err != nil {
			return err
		}
		flHead = head
		flLen = uint32(len(blob))
		if err := t.store.Sync(); err != nil {
			return err
		}
	}

	rec := baseRecord{
		version:      formatVersion,
		blockSize:    uint32(t.store.BlockSize()),
		root:         t.root,
		level:        t.level,
		itemCount:    t.itemCount,
		revision:     newRevision,
		freeListHead: flHead,
		freeListLen:  flLen,
	}
	path := inactiveBaseFile(t.tablePath, t.basePath)
	if err := writeBaseFile(path, rec); err != nil {
		return err
	}
	t.basePath = path
	t.revision = newRevision
	t.log.Debug().Uint32("revision", newRevision).Uint32("root", t.root).Msg("btree: committed")
	return nil
}

// Cancel discards every block written since the last commit. The
// blocks themselves stay physically present in the data file (this
// engine leaves space reclamation to a Non-goal compaction tool) but
// become permanently unreferenced, since root/level revert to the last
// committed base record.
func (t *Tree) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.superseded = nil
	rec, path, err := chooseBase(t.tablePath, -1)
	if err != nil {
		// Nothing has ever been committed: revert to the empty tree.
		t.root, t.level, t.itemCount, t.revision = 0, 0, 0, 0
		return nil
	}
	t.basePath = path
	t.root = rec.root
	t.level = rec.level
	t.itemCount = rec.itemCount
	t.revision = rec.revision
	return nil
}

// Close releases the underlying block store.
func (t *Tree) Close() error {
	return t.store.Close()
}
