package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allItemTypes = []ItemType{
	ItemKey, ItemKeyOvfl, ItemData, ItemDataOvfl, ItemDup, ItemDupOvfl, ItemOffPage,
}

func TestPackChunkRoundTrip(t *testing.T) {
	t.Parallel()

	lengths := []uint32{0, 1, 3, 4, 255, 4096, MaxItemLen}
	for _, typ := range allItemTypes {
		for _, l := range lengths {
			chunk, err := PackChunk(typ, l)
			require.NoError(t, err)
			assert.Equal(t, typ, ChunkType(chunk))
			assert.Equal(t, l, ChunkLen(chunk))
		}
	}
}

func TestPackChunkRejectsOversize(t *testing.T) {
	t.Parallel()

	_, err := PackChunk(ItemData, MaxItemLen+1)
	require.ErrorIs(t, err, ErrItemTooLarge)

	_, err = PackChunk(ItemType(0), 10)
	require.ErrorIs(t, err, ErrBadItemType)
	_, err = PackChunk(ItemType(8), 10)
	require.ErrorIs(t, err, ErrBadItemType)
}

func TestChunkTagValues(t *testing.T) {
	t.Parallel()

	// The packed tags are the documented on-disk constants, high nibble
	// of the 32-bit chunk.
	want := map[ItemType]uint32{
		ItemKey:      0x01000000,
		ItemKeyOvfl:  0x02000000,
		ItemData:     0x03000000,
		ItemDataOvfl: 0x04000000,
		ItemDup:      0x05000000,
		ItemDupOvfl:  0x06000000,
		ItemOffPage:  0x07000000,
	}
	for typ, tag := range want {
		chunk, err := PackChunk(typ, 0)
		require.NoError(t, err)
		assert.Equal(t, tag, chunk)
	}
}

func TestChunkSetters(t *testing.T) {
	t.Parallel()

	chunk, err := PackChunk(ItemDup, 100)
	require.NoError(t, err)

	// Replacing the length keeps the type.
	chunk, err = ChunkSetLen(chunk, 9000)
	require.NoError(t, err)
	assert.Equal(t, ItemDup, ChunkType(chunk))
	assert.Equal(t, uint32(9000), ChunkLen(chunk))

	_, err = ChunkSetLen(chunk, MaxItemLen+1)
	require.ErrorIs(t, err, ErrItemTooLarge)

	// Replacing the type keeps the length.
	chunk = ChunkSetType(chunk, ItemDupOvfl)
	assert.Equal(t, ItemDupOvfl, ChunkType(chunk))
	assert.Equal(t, uint32(9000), ChunkLen(chunk))
}

func TestItemSpaceRequired(t *testing.T) {
	t.Parallel()

	for _, l := range []uint32{0, 1, 2, 3, 4, 5, 255, 4093, MaxItemLen} {
		space := ItemSpaceRequired(l)
		assert.Zero(t, space%4, "length %d", l)
		assert.GreaterOrEqual(t, space, l+ItemHeaderSize, "length %d", l)
		assert.Less(t, space, l+ItemHeaderSize+4, "length %d", l)
	}
	assert.Equal(t, uint32(4), ItemSpaceRequired(0))
	assert.Equal(t, uint32(8), ItemSpaceRequired(1))
	assert.Equal(t, uint32(8), ItemSpaceRequired(4))
	assert.Equal(t, uint32(12), ItemSpaceRequired(5))
}
