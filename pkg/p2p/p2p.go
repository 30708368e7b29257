// Package p2p 提供了基于 libp2p 的 PoP 挑战传输功能
//
// 核心功能:
//   - DHT (分布式哈希表): 用于节点发现和钉存者路由
//   - 挑战广播: 把每轮挑战推送给已连接的存储节点
//   - 证明回传: 存储节点把证明包流式回传给发起方
//   - 节点统计: 记录各节点的证明通过情况并支持黑名单
//
// 主要组件:
//   - P2PService: 核心服务，整合所有功能
//   - NodeStats: 节点统计器，黑名单与并发流配额
//   - SubmissionGate: 响应准入接口
//
// 使用示例:
//
//	config := p2p.NewP2PConfig()
//	config.Port = 0  // 随机端口
//
//	service, err := p2p.NewP2PService(context.Background(), config, engine, registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer service.Shutdown()
package p2p

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	record "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"popchain/pkg/file"
)

// 默认的 ProtocolPrefix 和 Validator 配置
var defaultPrefix = "/popchain"

type blankValidator struct{}

func (blankValidator) Validate(_ string, _ []byte) error        { return nil }
func (blankValidator) Select(_ string, _ [][]byte) (int, error) { return 0, nil }

// ResponseCollector 接收 (节点, 证明包字节) 对，由 consensus.Engine 实现
type ResponseCollector interface {
	CollectResponse(nodeID string, raw []byte) error
}

// PinLookup 按 CID 查本地钉存路径，由 pinned.Registry 实现
type PinLookup interface {
	Lookup(cid string) (string, bool)
}

type P2PService struct {
	Host      host.Host
	DHT       *dht.IpfsDHT
	Config    *P2PConfig
	Collector ResponseCollector
	Pins      PinLookup
	Gate      SubmissionGate
	NodeStats *NodeStats
	FSAdapter file.FileSystemAdapter
	Ctx       context.Context    // 服务上下文，用于优雅关闭
	Cancel    context.CancelFunc // 取消函数
}

type P2PConfig struct {
	Port              int
	Insecure          bool
	Seed              int64
	BootstrapPeers    []multiaddr.Multiaddr
	ProtocolPrefix    string
	EnableAutoRefresh bool
	NameSpace         string
	Validator         record.Validator
	MaxStreams        int // 每个节点的最大并发流数
	BlacklistTimeout  int // 黑名单超时时间（秒）
}

// NewP2PConfig 返回一个包含默认配置的 P2PConfig 实例
// 返回值:
//   - P2PConfig: 包含默认配置的 P2PConfig 实例
func NewP2PConfig() P2PConfig {
	return P2PConfig{
		// 此处Port设为0，即可随机分配一个端口；指定可能会导致端口占用，从而连接失败
		Port:              0,
		Insecure:          false,
		Seed:              0,
		ProtocolPrefix:    defaultPrefix,
		EnableAutoRefresh: true,
		NameSpace:         "popchain",
		Validator:         blankValidator{}, // 使用默认的 blankValidator
		MaxStreams:        5,                // 每个节点最多5个并发流
		BlacklistTimeout:  600,              // 黑名单超时10分钟
	}
}

// NewP2PService 创建并启动 PoP 传输服务
// 参数:
//   - ctx: 上下文，用于控制生命周期
//   - config: 服务配置
//   - collector: 证明包收集器（发起方注入 consensus.Engine，纯存储节点可为 nil）
//   - pins: 本地钉存查询（响应挑战时用，纯发起方可为 nil）
//
// 返回值:
//   - *P2PService: 服务实例
//   - error: 错误信息
func NewP2PService(ctx context.Context, config P2PConfig, collector ResponseCollector, pins PinLookup) (*P2PService, error) {
	host, err := newBasicHost(config.Port, config.Insecure, config.Seed)
	if err != nil {
		return nil, xerrors.Errorf("failed to create host: %w", err)
	}

	kdht, err := newDHT(ctx, host, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to create DHT instance: %w", err)
	}

	// 创建可取消的上下文用于服务生命周期管理
	serviceCtx, cancel := context.WithCancel(context.Background())

	stats := NewNodeStats(config.MaxStreams, time.Duration(config.BlacklistTimeout)*time.Second)
	p := &P2PService{
		Host:      host,
		DHT:       kdht,
		Config:    &config,
		Collector: collector,
		Pins:      pins,
		Gate:      &StatsGate{Stats: stats},
		NodeStats: stats,
		FSAdapter: file.LocalFileSystemAdapter{},
		Ctx:       serviceCtx,
		Cancel:    cancel,
	}
	p.AnnouncePinHandler(ctx)
	p.LookupHandler(ctx)
	p.RegisterChallengeHandler(ctx)
	p.RegisterProofHandler(ctx)
	return p, nil
}

func (p *P2PService) GetMaddr() []multiaddr.Multiaddr {
	return p.Host.Addrs()
}

// Shutdown 优雅关闭 P2P 服务
// 关闭 Host，取消所有正在进行的操作
func (p *P2PService) Shutdown() error {
	logrus.Info("Shutting down P2P service...")

	// 1. 取消服务上下文，通知所有 goroutine 退出
	if p.Cancel != nil {
		p.Cancel()
	}

	// 2. 关闭 libp2p Host（会关闭所有连接和监听器）
	if p.Host != nil {
		if err := p.Host.Close(); err != nil {
			logrus.Errorf("Error closing host: %v", err)
			return err
		}
	}

	logrus.Info("P2P service shutdown complete")
	return nil
}
