package consensus

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"popchain/pkg/file"
	"popchain/pkg/proof"
)

func quietConfig() EngineConfig {
	cfg := NewEngineConfig()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg.Logger = log
	return cfg
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestEngine(t *testing.T, contents []byte) (*Engine, *file.MemoryFileSystemAdapter) {
	t.Helper()
	fs := file.NewMemoryFileSystemAdapter()
	fs.Files["/pins/video.bin"] = contents
	return NewEngine(fs, quietConfig()), fs
}

func honestResponse(t *testing.T, contents []byte, ch Challenge) []byte {
	t.Helper()
	blob, err := proof.BuildFromBytes(contents, ch.ChunkSize, ch.Offsets)
	require.NoError(t, err)
	return blob.Encode()
}

func TestSingleNodeRound(t *testing.T) {
	contents := testData(10000)
	engine, _ := newTestEngine(t, contents)

	ch, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 2})
	require.NoError(t, err)
	require.Equal(t, 3, ch.TotalChunks)

	require.NoError(t, engine.CollectResponse("node1", honestResponse(t, contents, ch)))
	require.True(t, engine.ValidateResponses())
	require.Equal(t, []string{"node1"}, engine.PassingNodes())

	history := engine.History()
	require.Len(t, history, 1)
	require.Equal(t, "cid-video", history[0].CID)
	require.Equal(t, []string{"node1"}, history[0].PassingNodes)
}

func TestValidateIsIdempotent(t *testing.T) {
	contents := testData(10000)
	engine, _ := newTestEngine(t, contents)

	ch, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 2})
	require.NoError(t, err)
	require.NoError(t, engine.CollectResponse("node1", honestResponse(t, contents, ch)))
	require.True(t, engine.ValidateResponses())

	// 没有新挑战时重复校验不追加历史，结果与首次一致
	require.True(t, engine.ValidateResponses())
	require.Len(t, engine.History(), 1)
	require.Equal(t, []string{"node1"}, engine.PassingNodes())
}

func TestCorruptedChunkFailsRound(t *testing.T) {
	contents := testData(10000)
	engine, _ := newTestEngine(t, contents)

	ch, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 2})
	require.NoError(t, err)

	// 节点本地副本第 0 块被破坏：证明基于坏数据构建
	corrupted := append([]byte(nil), contents...)
	corrupted[10] ^= 0x01
	require.NoError(t, engine.CollectResponse("node1", honestResponse(t, corrupted, ch)))

	require.False(t, engine.ValidateResponses())
	require.Empty(t, engine.PassingNodes())
}

func TestMixedHonestAndDishonestNodes(t *testing.T) {
	contents := testData(50000)
	engine, _ := newTestEngine(t, contents)

	ch, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{1, 4, 7})
	require.NoError(t, err)

	corrupted := append([]byte(nil), contents...)
	corrupted[5000] ^= 0xff

	require.NoError(t, engine.CollectResponse("honest-a", honestResponse(t, contents, ch)))
	require.NoError(t, engine.CollectResponse("cheater", honestResponse(t, corrupted, ch)))
	require.NoError(t, engine.CollectResponse("honest-b", honestResponse(t, contents, ch)))
	require.NoError(t, engine.CollectResponse("garbage", []byte{0x01, 0x02}))

	require.True(t, engine.ValidateResponses())
	require.Equal(t, []string{"honest-a", "honest-b"}, engine.PassingNodes())
}

func TestIncompleteOffsetCoverageRejected(t *testing.T) {
	contents := testData(50000)
	engine, _ := newTestEngine(t, contents)

	ch, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{1, 4, 7})
	require.NoError(t, err)

	// 只证明了一部分被抽样的 offset，可能是旧挑战的重放
	partial := ch
	partial.Offsets = []int{1, 4}
	require.NoError(t, engine.CollectResponse("node1", honestResponse(t, contents, partial)))

	require.False(t, engine.ValidateResponses())
	require.Empty(t, engine.PassingNodes())
}

func TestLastSubmissionWins(t *testing.T) {
	contents := testData(10000)
	engine, _ := newTestEngine(t, contents)

	ch, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 1})
	require.NoError(t, err)

	require.NoError(t, engine.CollectResponse("node1", []byte("junk")))
	require.NoError(t, engine.CollectResponse("node1", honestResponse(t, contents, ch)))
	require.True(t, engine.ValidateResponses())
	require.Equal(t, []string{"node1"}, engine.PassingNodes())
}

func TestCollectWithoutRound(t *testing.T) {
	engine, _ := newTestEngine(t, testData(100))
	require.ErrorIs(t, engine.CollectResponse("node1", []byte("x")), ErrNoActiveRound)
}

func TestValidateWithoutRound(t *testing.T) {
	engine, _ := newTestEngine(t, testData(100))
	require.False(t, engine.ValidateResponses())
	require.Empty(t, engine.History())
}

func TestNoResponsesFailsRound(t *testing.T) {
	engine, _ := newTestEngine(t, testData(10000))
	_, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0})
	require.NoError(t, err)

	require.False(t, engine.ValidateResponses())
	require.Empty(t, engine.PassingNodes())
	require.Len(t, engine.History(), 1)
}

func TestIssueChallengeSamplesWithinBounds(t *testing.T) {
	contents := testData(100 * 4096)
	engine, _ := newTestEngine(t, contents)

	for i := 0; i < 20; i++ {
		ch, err := engine.IssueChallenge("cid-video", "/pins/video.bin")
		require.NoError(t, err)
		require.Equal(t, 100, ch.TotalChunks)
		require.GreaterOrEqual(t, len(ch.Offsets), MinChallengeOffsets)
		require.LessOrEqual(t, len(ch.Offsets), MaxChallengeOffsets)

		seen := make(map[int]bool)
		for _, off := range ch.Offsets {
			require.GreaterOrEqual(t, off, 0)
			require.Less(t, off, 100)
			require.False(t, seen[off], "duplicate offset %d", off)
			seen[off] = true
		}
	}
}

func TestIssueChallengeTinyFile(t *testing.T) {
	// 2 块文件，抽样数量收缩到总块数
	engine, _ := newTestEngine(t, testData(5000))
	ch, err := engine.IssueChallenge("cid-video", "/pins/video.bin")
	require.NoError(t, err)
	require.Equal(t, 2, ch.TotalChunks)
	require.Len(t, ch.Offsets, 2)
}

func TestIssueChallengeEmptyFile(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	_, err := engine.IssueChallenge("cid-video", "/pins/video.bin")
	require.Error(t, err)
}

func TestIssueChallengeMissingFile(t *testing.T) {
	engine, _ := newTestEngine(t, testData(100))
	_, err := engine.IssueChallenge("cid-video", "/missing")
	require.Error(t, err)
}

func TestNewChallengeSupersedesPrevious(t *testing.T) {
	contents := testData(10000)
	engine, _ := newTestEngine(t, contents)

	ch1, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0})
	require.NoError(t, err)
	require.NoError(t, engine.CollectResponse("node1", honestResponse(t, contents, ch1)))

	// 第二轮丢弃第一轮未校验的响应
	_, err = engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{1, 2})
	require.NoError(t, err)
	require.False(t, engine.ValidateResponses())
	require.Empty(t, engine.PassingNodes())
}

func TestHistoryEviction(t *testing.T) {
	contents := testData(10000)
	fs := file.NewMemoryFileSystemAdapter()
	fs.Files["/pins/video.bin"] = contents

	cfg := quietConfig()
	cfg.HistoryRetention = 3
	engine := NewEngine(fs, cfg)

	for i := 0; i < 5; i++ {
		_, err := engine.IssueChallengeAt(fmt.Sprintf("cid-%d", i), "/pins/video.bin", []int{0})
		require.NoError(t, err)
		engine.ValidateResponses()
	}

	history := engine.History()
	require.Len(t, history, 3)
	require.Equal(t, "cid-2", history[0].CID)
	require.Equal(t, "cid-4", history[2].CID)
}

func TestActiveChallenge(t *testing.T) {
	contents := testData(10000)
	engine, _ := newTestEngine(t, contents)

	_, ok := engine.ActiveChallenge()
	require.False(t, ok)

	issued, err := engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 1})
	require.NoError(t, err)

	active, ok := engine.ActiveChallenge()
	require.True(t, ok)
	require.Equal(t, issued, active)

	engine.ValidateResponses()
	_, ok = engine.ActiveChallenge()
	require.False(t, ok)
}
