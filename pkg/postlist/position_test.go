package postlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionKeyRoundTrip(t *testing.T) {
	k, err := EncodePositionKey([]byte("brown"), 42)
	require.NoError(t, err)
	term, did, err := DecodePositionKey(k)
	require.NoError(t, err)
	require.Equal(t, "brown", string(term))
	require.Equal(t, uint32(42), did)
}

func TestPositionsEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]uint32{
		nil,
		{0},
		{0, 1, 2, 9, 100},
		{5, 5000, 1000000},
	}
	for _, positions := range cases {
		blob := EncodePositions(positions)
		got, err := DecodePositions(blob)
		require.NoError(t, err)
		if len(positions) == 0 {
			require.Empty(t, got)
		} else {
			require.Equal(t, positions, got)
		}
	}
}

func TestFixedWidthBlockUsesLittleEndian(t *testing.T) {
	// Regression test for the spec section 4.3 "each stored in B
	// little-endian bytes" requirement: a run long and uniform enough
	// to trigger the fixed-width block must round-trip through the
	// codec with a little-endian wire encoding, not big-endian.
	postings := make([]Posting, 10)
	for i := range postings {
		postings[i] = Posting{DocID: uint32(i + 1), WDF: 0x0102}
	}
	buf := appendBody(nil, postings)

	// 0x0102 in 2 little-endian bytes is {0x02, 0x01}; a big-endian
	// encoding would instead emit {0x01, 0x02}. Locate the fixed-width
	// block's value bytes by decoding and checking the round trip
	// matches, then directly assert the on-disk byte order.
	parsed, err := parseBody(buf, 1)
	require.NoError(t, err)
	require.Len(t, parsed, 10)
	for _, p := range parsed {
		require.Equal(t, uint32(0x0102), p.WDF)
	}

	encoded := appendFixedWidth(nil, 0x0102, 2)
	require.Equal(t, []byte{0x02, 0x01}, encoded)
	require.Equal(t, uint32(0x0102), readFixedWidth(encoded))
}
