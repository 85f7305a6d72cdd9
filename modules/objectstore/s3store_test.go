package objectstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateChunksExactMultiple(t *testing.T) {
	chunks := calculateChunks(2 * partSize)
	require.Len(t, chunks, 2)
	require.EqualValues(t, partSize, chunks[0].length)
	require.EqualValues(t, partSize, chunks[1].length)
}

func TestCalculateChunksRemainder(t *testing.T) {
	chunks := calculateChunks(2*partSize + 100)
	require.Len(t, chunks, 3)
	require.EqualValues(t, 100, chunks[2].length)
}

func TestCalculateChunksSmallerThanOnePart(t *testing.T) {
	chunks := calculateChunks(10)
	require.Len(t, chunks, 1)
	require.EqualValues(t, 10, chunks[0].length)
}

func TestCalculateChunksZeroSize(t *testing.T) {
	chunks := calculateChunks(0)
	require.Len(t, chunks, 1)
	require.EqualValues(t, 0, chunks[0].length)
}
