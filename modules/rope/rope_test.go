package rope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAppend(t *testing.T) {
	b := New("")
	require.NoError(t, b.Insert(0, "hello"))
	require.NoError(t, b.Insert(5, " world"))
	require.Equal(t, "hello world", b.String())
	require.Equal(t, 11, b.Len())
}

func TestInsertMiddle(t *testing.T) {
	b := New("abcdef")
	require.NoError(t, b.Insert(3, "XYZ"))
	require.Equal(t, "abcXYZdef", b.String())
}

func TestDelete(t *testing.T) {
	b := New("abcdef")
	require.NoError(t, b.Delete(2, 3))
	require.Equal(t, "abf", b.String())
}

func TestDeleteOutOfRange(t *testing.T) {
	b := New("abc")
	require.ErrorIs(t, b.Delete(2, 5), ErrOutOfRange)
}

func TestInsertOutOfRange(t *testing.T) {
	b := New("abc")
	require.ErrorIs(t, b.Insert(10, "x"), ErrOutOfRange)
}

func TestUnicodeCharacterCounting(t *testing.T) {
	b := New("a😀b")
	require.Equal(t, 3, b.Len())
	require.NoError(t, b.Delete(1, 1))
	require.Equal(t, "ab", b.String())
}

func TestWriteTo(t *testing.T) {
	b := New("hello")
	require.NoError(t, b.Insert(5, " world"))
	var sb strings.Builder
	n, err := b.WriteTo(&sb)
	require.NoError(t, err)
	require.Equal(t, int64(len("hello world")), n)
	require.Equal(t, "hello world", sb.String())
}

func TestManySmallInsertsMerge(t *testing.T) {
	b := New("")
	for i := 0; i < 1000; i++ {
		require.NoError(t, b.Insert(b.Len(), "x"))
	}
	require.Equal(t, 1000, b.Len())
	require.Equal(t, strings.Repeat("x", 1000), b.String())
}
