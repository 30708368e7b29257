// Package p2p 提供节点统计功能
//
// NodeStats 功能:
//   - 并发控制: 限制每个节点的并发证明流数
//   - 统计记录: 记录证明提交的接收成功/失败情况
//   - 黑名单机制: 自动拉黑提交质量差的节点
//   - 清理功能: 自动清理长时间未活动的节点信息
//
// 使用场景:
//   - 防止资源耗尽: 限制单个节点的并发流数量
//   - 挡住垃圾提交: 反复提交超大或不可解析证明包的节点被拉黑
//   - 自动恢复: 黑名单超时后节点可重新提交
//
// 黑名单策略:
//   - 提交成功率 < 阈值
//   - 提交次数达到下限
//   - 自动标记为黑名单节点
package p2p

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// SubmitStats 证明提交统计信息
type SubmitStats struct {
	TotalSubmits int64
	PassedReqs   int64
	FailedReqs   int64
	LastPassTime time.Time
	LastFailTime time.Time
}

// nodeInfo 单个节点的统计与配额状态
type nodeInfo struct {
	mu            sync.RWMutex
	stats         SubmitStats
	activeStreams int
	isBlacklisted bool
}

// NodeStats 节点统计器
type NodeStats struct {
	mu               sync.RWMutex
	nodes            map[peer.ID]*nodeInfo
	maxStreams       int // 每个节点的最大并发流数
	blacklistTimeout time.Duration
}

// NewNodeStats 创建节点统计器
func NewNodeStats(maxStreams int, blacklistTimeout time.Duration) *NodeStats {
	return &NodeStats{
		nodes:            make(map[peer.ID]*nodeInfo),
		maxStreams:       maxStreams,
		blacklistTimeout: blacklistTimeout,
	}
}

func (ns *NodeStats) getOrCreateLocked(p peer.ID) *nodeInfo {
	info, exists := ns.nodes[p]
	if !exists {
		info = &nodeInfo{}
		ns.nodes[p] = info
	}
	return info
}

// RecordPass 记录一次被成功接收的证明提交
func (ns *NodeStats) RecordPass(p peer.ID) {
	ns.mu.Lock()
	info := ns.getOrCreateLocked(p)
	ns.mu.Unlock()

	info.mu.Lock()
	defer info.mu.Unlock()

	info.stats.TotalSubmits++
	info.stats.PassedReqs++
	info.stats.LastPassTime = time.Now()
}

// RecordFail 记录一次被拒收的证明提交（超大、不可读、无活动轮次）
func (ns *NodeStats) RecordFail(p peer.ID) {
	ns.mu.Lock()
	info := ns.getOrCreateLocked(p)
	ns.mu.Unlock()

	info.mu.Lock()
	defer info.mu.Unlock()

	info.stats.TotalSubmits++
	info.stats.FailedReqs++
	info.stats.LastFailTime = time.Now()
}

// AcquireStream 尝试获取流配额（原子操作，避免竞态条件）
func (ns *NodeStats) AcquireStream(p peer.ID) bool {
	ns.mu.Lock()
	info := ns.getOrCreateLocked(p)
	ns.mu.Unlock()

	info.mu.Lock()
	defer info.mu.Unlock()

	// 检查是否在黑名单中
	if info.isBlacklisted {
		// 检查是否已经过了黑名单超时时间
		if time.Since(info.stats.LastFailTime) > ns.blacklistTimeout {
			info.isBlacklisted = false
		} else {
			return false
		}
	}

	// 检查并发流限制
	if info.activeStreams >= ns.maxStreams {
		return false
	}

	info.activeStreams++
	return true
}

// ReleaseStream 释放流配额（原子操作）
func (ns *NodeStats) ReleaseStream(p peer.ID) {
	ns.mu.Lock()
	info, exists := ns.nodes[p]
	ns.mu.Unlock()
	if !exists {
		return
	}

	info.mu.Lock()
	defer info.mu.Unlock()
	if info.activeStreams > 0 {
		info.activeStreams--
	}
}

// GetStats 获取节点统计信息副本
func (ns *NodeStats) GetStats(p peer.ID) *SubmitStats {
	ns.mu.RLock()
	info, exists := ns.nodes[p]
	ns.mu.RUnlock()

	if !exists {
		return nil
	}

	info.mu.RLock()
	defer info.mu.RUnlock()

	statsCopy := info.stats
	return &statsCopy
}

// PassRate 获取节点的提交成功率
func (ns *NodeStats) PassRate(p peer.ID) float64 {
	stats := ns.GetStats(p)
	if stats == nil || stats.TotalSubmits == 0 {
		return 0.0
	}
	return float64(stats.PassedReqs) / float64(stats.TotalSubmits)
}

// IsBlacklisted 查询节点当前是否在黑名单中
func (ns *NodeStats) IsBlacklisted(p peer.ID) bool {
	ns.mu.RLock()
	info, exists := ns.nodes[p]
	ns.mu.RUnlock()
	if !exists {
		return false
	}

	info.mu.RLock()
	defer info.mu.RUnlock()
	if info.isBlacklisted && time.Since(info.stats.LastFailTime) > ns.blacklistTimeout {
		return false
	}
	return info.isBlacklisted
}

// ShouldBlacklist 判断是否应该将节点加入黑名单
// 当成功率低于阈值且提交次数足够多时标记并返回 true
func (ns *NodeStats) ShouldBlacklist(p peer.ID, threshold float64, minSubmits int64) bool {
	ns.mu.Lock()
	info, exists := ns.nodes[p]
	ns.mu.Unlock()
	if !exists {
		return false
	}

	// 读取统计信息
	info.mu.RLock()
	totalSubmits := info.stats.TotalSubmits
	passedReqs := info.stats.PassedReqs
	info.mu.RUnlock()

	if totalSubmits < minSubmits {
		return false
	}

	passRate := float64(passedReqs) / float64(totalSubmits)
	if passRate < threshold {
		// 加入黑名单
		info.mu.Lock()
		info.isBlacklisted = true
		info.mu.Unlock()
		logrus.Warnf("Peer %s blacklisted due to low pass rate: %.2f%% (%d/%d)",
			p, passRate*100, passedReqs, totalSubmits)
		return true
	}

	return false
}

// CleanupOldNodes 清理长时间未活动的节点信息
func (ns *NodeStats) CleanupOldNodes(maxIdleTime time.Duration) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	now := time.Now()
	for p, info := range ns.nodes {
		info.mu.RLock()
		lastActivity := info.stats.LastPassTime
		if info.stats.LastFailTime.After(lastActivity) {
			lastActivity = info.stats.LastFailTime
		}
		isActive := info.activeStreams > 0
		info.mu.RUnlock()

		// 如果节点长时间未活动且没有活跃流，则删除
		if !isActive && now.Sub(lastActivity) > maxIdleTime {
			delete(ns.nodes, p)
			logrus.Debugf("Cleaned up inactive node: %s", p)
		}
	}
}

// TotalNodes 获取管理的节点总数
func (ns *NodeStats) TotalNodes() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.nodes)
}
