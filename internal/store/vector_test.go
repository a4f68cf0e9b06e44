package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVector_RoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.5, 3.25, 0.0, 100.125}
	blob := encodeVector(vec)
	require.Len(t, blob, len(vec)*4)

	decoded, err := decodeVector(blob)
	require.NoError(t, err)
	require.Equal(t, vec, decoded)
}

func TestDecodeVector_RejectsMisalignedBlob(t *testing.T) {
	_, err := decodeVector([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	require.InDelta(t, 1.0, cosineSimilarity(a, b), 1e-9)

	c := []float32{0, 1, 0}
	require.InDelta(t, 0.0, cosineSimilarity(a, c), 1e-9)

	require.Equal(t, 0.0, cosineSimilarity(a, []float32{1, 0}))
	require.Equal(t, 0.0, cosineSimilarity(nil, nil))
}
