package btree

import (
	"encoding/binary"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// Overflow blocks store large values that don't fit inline in a leaf
// item. Per spec section 6 ("Overflow chains use the last 4 bytes as a
// next-block pointer"), each overflow block is [payload][next uint32],
// where next is 0 for the last block in the chain.

// writeOverflow splits value across as many blocks as needed, each
// allocated via alloc, and returns the block number of the first one.
// Blocks are written tail-first so each block's next pointer is known
// before it is persisted.
func writeOverflow(value []byte, blockSize int, alloc func([]byte) (uint32, error)) (uint32, error) {
	payloadSize := blockSize - 4
	var chunks [][]byte
	for off := 0; off < len(value); off += payloadSize {
		end := off + payloadSize
		if end > len(value) {
			end = len(value)
		}
		chunks = append(chunks, value[off:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	var next uint32
	for i := len(chunks) - 1; i >= 0; i-- {
		buf := make([]byte, len(chunks[i])+4)
		copy(buf, chunks[i])
		binary.BigEndian.PutUint32(buf[len(chunks[i]):], next)
		n, err := alloc(buf)
		if err != nil {
			return 0, err
		}
		next = n
	}
	return next, nil
}

// readOverflow walks the chain starting at head, collecting up to
// length bytes of payload, using fetch to read each block's raw bytes.
func readOverflow(head uint32, length int, fetch func(uint32) ([]byte, error)) ([]byte, error) {
	out := make([]byte, 0, length)
	block := head
	for len(out) < length {
		buf, err := fetch(block)
		if err != nil {
			return nil, err
		}
		if len(buf) < 4 {
			return nil, xapianerr.New(xapianerr.DatabaseCorrupt, "overflow chain truncated").WithBlock(block)
		}
		payload := buf[:len(buf)-4]
		next := binary.BigEndian.Uint32(buf[len(buf)-4:])
		need := length - len(out)
		if need < len(payload) {
			payload = payload[:need]
		}
		out = append(out, payload...)
		if len(out) >= length {
			break
		}
		block = next
	}
	return out, nil
}
