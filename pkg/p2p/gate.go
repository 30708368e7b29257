// Package p2p 提供证明提交的准入控制
//
// SubmissionGate 功能:
//   - 定义证明提交的准入接口
//   - 节点拒绝: 判断是否拒收特定节点的证明包
//   - 可扩展: 支持自定义准入策略
//
// 使用场景:
//   - 挡住黑名单节点: 反复提交垃圾证明的节点直接拒收
//   - 网络健康: 把校验开销留给行为正常的节点
//
// 实现策略:
//   - OpenGate: 默认实现，不拒绝任何节点
//   - StatsGate: 基于 NodeStats 黑名单状态拒收
package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
)

type SubmissionGate interface {
	Refuse(ctx context.Context, peerID peer.ID) bool
}

// OpenGate 不拒绝任何节点
type OpenGate struct{}

func (OpenGate) Refuse(ctx context.Context, peerID peer.ID) bool {
	return false
}

// StatsGate 拒收被 NodeStats 拉黑的节点
type StatsGate struct {
	Stats *NodeStats
}

func (g *StatsGate) Refuse(ctx context.Context, peerID peer.ID) bool {
	if g.Stats == nil {
		return false
	}
	return g.Stats.IsBlacklisted(peerID)
}
