package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

const testPeer = peer.ID("test-peer-1")

func TestPassRateTracking(t *testing.T) {
	ns := NewNodeStats(5, time.Minute)
	require.Equal(t, 0.0, ns.PassRate(testPeer))

	ns.RecordPass(testPeer)
	ns.RecordPass(testPeer)
	ns.RecordFail(testPeer)

	stats := ns.GetStats(testPeer)
	require.NotNil(t, stats)
	require.Equal(t, int64(3), stats.TotalSubmits)
	require.Equal(t, int64(2), stats.PassedReqs)
	require.InDelta(t, 2.0/3.0, ns.PassRate(testPeer), 1e-9)
	require.Equal(t, 1, ns.TotalNodes())
}

func TestStreamQuota(t *testing.T) {
	ns := NewNodeStats(2, time.Minute)

	require.True(t, ns.AcquireStream(testPeer))
	require.True(t, ns.AcquireStream(testPeer))
	require.False(t, ns.AcquireStream(testPeer))

	ns.ReleaseStream(testPeer)
	require.True(t, ns.AcquireStream(testPeer))

	// 未知节点释放为空操作
	ns.ReleaseStream(peer.ID("unknown"))
}

func TestBlacklisting(t *testing.T) {
	ns := NewNodeStats(5, time.Minute)

	// 提交次数不足不拉黑
	ns.RecordFail(testPeer)
	require.False(t, ns.ShouldBlacklist(testPeer, 0.5, 10))

	for i := 0; i < 9; i++ {
		ns.RecordFail(testPeer)
	}
	require.True(t, ns.ShouldBlacklist(testPeer, 0.5, 10))
	require.True(t, ns.IsBlacklisted(testPeer))
	require.False(t, ns.AcquireStream(testPeer))

	// 成功率高的节点不拉黑
	good := peer.ID("good-peer")
	for i := 0; i < 10; i++ {
		ns.RecordPass(good)
	}
	require.False(t, ns.ShouldBlacklist(good, 0.5, 10))
	require.True(t, ns.AcquireStream(good))
}

func TestBlacklistExpiry(t *testing.T) {
	ns := NewNodeStats(5, time.Millisecond)
	for i := 0; i < 10; i++ {
		ns.RecordFail(testPeer)
	}
	require.True(t, ns.ShouldBlacklist(testPeer, 0.5, 10))

	// 黑名单超时后恢复
	time.Sleep(5 * time.Millisecond)
	require.False(t, ns.IsBlacklisted(testPeer))
	require.True(t, ns.AcquireStream(testPeer))
}

func TestCleanupOldNodes(t *testing.T) {
	ns := NewNodeStats(5, time.Minute)
	ns.RecordPass(testPeer)
	require.Equal(t, 1, ns.TotalNodes())

	// 活跃窗口内不清理
	ns.CleanupOldNodes(time.Hour)
	require.Equal(t, 1, ns.TotalNodes())

	ns.CleanupOldNodes(0)
	require.Equal(t, 0, ns.TotalNodes())
}

func TestGates(t *testing.T) {
	ctx := context.Background()

	require.False(t, OpenGate{}.Refuse(ctx, testPeer))
	require.False(t, (&StatsGate{}).Refuse(ctx, testPeer))

	ns := NewNodeStats(5, time.Minute)
	gate := &StatsGate{Stats: ns}
	require.False(t, gate.Refuse(ctx, testPeer))

	for i := 0; i < 10; i++ {
		ns.RecordFail(testPeer)
	}
	ns.ShouldBlacklist(testPeer, 0.5, 10)
	require.True(t, gate.Refuse(ctx, testPeer))
}
