package postlist

import "github.com/xapian/xapiango/pkg/btree"

// ChunkKeys returns every on-disk chunk key belonging to term, in
// ascending order. pkg/inverter uses this to delete the old chunk set
// before writing the freshly merged and re-split one during flush.
func ChunkKeys(tree *btree.Tree, term []byte) ([][]byte, error) {
	key, err := EncodeKey(term, 0, true)
	if err != nil {
		return nil, err
	}
	c := tree.Cursor()
	if !c.Seek(key) {
		return nil, c.Err()
	}
	var keys [][]byte
	for {
		k := c.Key()
		t, _, _, err := DecodeKey(k)
		if err != nil {
			return nil, err
		}
		if !bytesEqual(t, term) {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
		if !c.Next() {
			break
		}
	}
	return keys, c.Err()
}

// ReadAll collects every posting currently stored for term, along
// with its termfreq/collfreq, by walking every chunk from the start.
func ReadAll(tree *btree.Tree, term []byte) (postings []Posting, termfreq, collfreq uint32, err error) {
	r, err := NewReader(tree, term)
	if err != nil {
		return nil, 0, 0, err
	}
	if r.AtEnd() {
		return nil, 0, 0, nil
	}
	termfreq, collfreq = r.Termfreq(), r.Collfreq()
	for {
		postings = append(postings, Posting{DocID: r.DocID(), WDF: r.WDF()})
		more, err := r.Next()
		if err != nil {
			return nil, 0, 0, err
		}
		if !more {
			break
		}
	}
	return postings, termfreq, collfreq, nil
}
