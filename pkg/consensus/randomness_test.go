package consensus

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickRandomNonce(t *testing.T) {
	a, err := PickRandomNonce(16)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := PickRandomNonce(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	// 非法长度回退到默认 16 字节
	c, err := PickRandomNonce(0)
	require.NoError(t, err)
	require.Len(t, c, 32)
}

func TestSampleOffsetsExactPopulation(t *testing.T) {
	offsets, err := SampleOffsets(5, 5)
	require.NoError(t, err)
	sort.Ints(offsets)
	require.Equal(t, []int{0, 1, 2, 3, 4}, offsets)
}

func TestSampleOffsetsNoDuplicates(t *testing.T) {
	for i := 0; i < 50; i++ {
		offsets, err := SampleOffsets(100, 6)
		require.NoError(t, err)
		require.Len(t, offsets, 6)

		seen := make(map[int]bool)
		for _, off := range offsets {
			require.GreaterOrEqual(t, off, 0)
			require.Less(t, off, 100)
			require.False(t, seen[off])
			seen[off] = true
		}
	}
}

func TestSampleOffsetsErrors(t *testing.T) {
	_, err := SampleOffsets(3, 4)
	require.Error(t, err)
	_, err = SampleOffsets(-1, 0)
	require.Error(t, err)
	_, err = SampleOffsets(3, -1)
	require.Error(t, err)

	empty, err := SampleOffsets(10, 0)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSelectRandomCIDs(t *testing.T) {
	all := []string{"cid-a", "cid-b", "cid-c", "cid-d"}
	picked, err := SelectRandomCIDs(all, 2)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	require.NotEqual(t, picked[0], picked[1])
	require.Subset(t, all, picked)

	_, err = SelectRandomCIDs(all, 5)
	require.Error(t, err)
}

func TestChallengeCountClamped(t *testing.T) {
	for i := 0; i < 50; i++ {
		n := challengeCount(100)
		require.GreaterOrEqual(t, n, MinChallengeOffsets)
		require.LessOrEqual(t, n, MaxChallengeOffsets)
	}
	require.Equal(t, 2, challengeCount(2))
	require.Equal(t, 1, challengeCount(1))
}
