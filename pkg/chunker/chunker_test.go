package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitBytesExactAndTail(t *testing.T) {
	// 10000 字节、块大小 4096 -> 3 块: 4096, 4096, 1808
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	chunks, err := SplitBytes(data, 4096)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0].Data, 4096)
	require.Len(t, chunks[1].Data, 4096)
	require.Len(t, chunks[2].Data, 1808)

	for i, c := range chunks {
		require.Equal(t, i, c.Index)
		sum := sha256.Sum256(c.Data)
		require.Equal(t, hex.EncodeToString(sum[:]), c.Hash)
	}
}

func TestSplitReaderMatchesSplitBytes(t *testing.T) {
	data := []byte("hello proof of pinning, this is chunked content spanning several blocks")

	fromBytes, err := SplitBytes(data, 16)
	require.NoError(t, err)
	fromReader, err := Split(bytes.NewReader(data), 16)
	require.NoError(t, err)

	require.Equal(t, LeafHashes(fromBytes), LeafHashes(fromReader))
}

func TestSplitEmptyInput(t *testing.T) {
	chunks, err := SplitBytes(nil, 4096)
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunks, err = Split(bytes.NewReader(nil), 4096)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestSplitRejectsBadChunkSize(t *testing.T) {
	_, err := SplitBytes([]byte("x"), 0)
	require.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = Split(bytes.NewReader([]byte("x")), -1)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestTotalChunks(t *testing.T) {
	n, err := TotalChunks(10000, 4096)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = TotalChunks(4096, 4096)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = TotalChunks(0, 4096)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = TotalChunks(100, 0)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}
