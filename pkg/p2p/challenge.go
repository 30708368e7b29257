package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"popchain/pkg/consensus"
	"popchain/pkg/proof"
)

const (
	// 协议名定义
	ChallengeProtocol = "/popchain/challenge/1.0.0"
	ProofProtocol     = "/popchain/proof/1.0.0"

	// 超时与限制
	RequestTimeout = 5 * time.Second
	// 挑战消息上限: JSON 信封除 CID 和 offset 外还带发起方的完整
	// AddrInfo（多个 multiaddr），比裸公告消息大得多
	MaxChallengeMessageSize = 16 * 1024
	// 证明包上限: 6 个 offset，每个最多 4MB 块数据加兄弟路径
	MaxProofMessageSize = 32 * 1024 * 1024
)

// challengeMsg 挑战广播的线上格式
type challengeMsg struct {
	Challenge consensus.Challenge `json:"challenge"`
	Issuer    peer.AddrInfo       `json:"issuer"`
}

// -----------------------------
// 客户端方法
// -----------------------------

// BroadcastChallenge 把挑战推送给所有已连接的节点，返回成功送达的数量
func (p *P2PService) BroadcastChallenge(ctx context.Context, ch consensus.Challenge) (int, error) {
	msg := challengeMsg{
		Challenge: ch,
		Issuer: peer.AddrInfo{
			ID:    p.Host.ID(),
			Addrs: p.Host.Addrs(),
		},
	}

	peers := p.Host.Network().Peers()
	logrus.Infof("Broadcasting challenge for cid %s to %d peers", ch.CID, len(peers))

	delivered := 0
	for _, peerID := range peers {
		peerCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
		s, err := p.Host.NewStream(peerCtx, peerID, ChallengeProtocol)
		if err != nil {
			cancel()
			logrus.Debugf("Failed to open challenge stream to %s: %v", peerID, err)
			continue
		}

		s.SetWriteDeadline(time.Now().Add(RequestTimeout))
		err = json.NewEncoder(s).Encode(msg)
		s.Close()
		cancel()
		if err != nil {
			logrus.Warnf("Failed to send challenge to %s: %v", peerID, err)
			continue
		}
		delivered++
	}

	if len(peers) > 0 && delivered == 0 {
		return 0, fmt.Errorf("challenge delivered to none of %d peers", len(peers))
	}
	return delivered, nil
}

// SubmitProof 把证明包字节回传给发起方
func (p *P2PService) SubmitProof(ctx context.Context, issuer peer.AddrInfo, raw []byte) error {
	if len(issuer.Addrs) > 0 {
		if err := p.Host.Connect(ctx, issuer); err != nil {
			return fmt.Errorf("connect to issuer: %w", err)
		}
	}

	s, err := p.Host.NewStream(ctx, issuer.ID, ProofProtocol)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer s.Close()

	s.SetWriteDeadline(time.Now().Add(RequestTimeout))
	if _, err := s.Write(raw); err != nil {
		return fmt.Errorf("write proof: %w", err)
	}

	logrus.Infof("Proof submitted to issuer %s (%d bytes)", issuer.ID, len(raw))
	return nil
}

// -----------------------------
// 服务端注册处理器
// -----------------------------

// RegisterChallengeHandler 处理收到的挑战：
// 查本地钉存副本，构建证明包并回传给发起方
func (p *P2PService) RegisterChallengeHandler(ctx context.Context) {
	p.Host.SetStreamHandler(ChallengeProtocol, func(s network.Stream) {
		defer s.Close()
		remote := s.Conn().RemotePeer()
		logrus.Infof("Received challenge from peer %s", remote)

		s.SetReadDeadline(time.Now().Add(RequestTimeout))
		var msg challengeMsg
		if err := json.NewDecoder(io.LimitReader(s, MaxChallengeMessageSize)).Decode(&msg); err != nil {
			logrus.Errorf("Invalid challenge message: %v", err)
			return
		}

		if p.Pins == nil {
			logrus.Debug("No pin registry attached, ignoring challenge")
			return
		}
		localPath, ok := p.Pins.Lookup(msg.Challenge.CID)
		if !ok {
			logrus.Warnf("Challenged for unpinned cid %s", msg.Challenge.CID)
			return
		}

		blob, err := proof.BuildFromFile(p.FSAdapter, localPath, msg.Challenge.ChunkSize, msg.Challenge.Offsets)
		if err != nil {
			logrus.Errorf("Failed to build proof for cid %s: %v", msg.Challenge.CID, err)
			return
		}

		// 回传在独立 goroutine 中进行，避免占着挑战流
		go func() {
			submitCtx, cancel := context.WithTimeout(p.Ctx, RequestTimeout)
			defer cancel()
			if err := p.SubmitProof(submitCtx, msg.Issuer, blob.Encode()); err != nil {
				logrus.Errorf("Failed to submit proof to %s: %v", msg.Issuer.ID, err)
			}
		}()
	})
}

// RegisterProofHandler 处理存储节点回传的证明包
func (p *P2PService) RegisterProofHandler(ctx context.Context) {
	p.Host.SetStreamHandler(ProofProtocol, func(s network.Stream) {
		defer s.Close()
		remote := s.Conn().RemotePeer()
		logrus.Infof("Received proof from peer %s", remote)

		if p.Gate.Refuse(ctx, remote) {
			logrus.Warnf("Refused proof submission from peer %s", remote)
			return
		}
		if p.Collector == nil {
			logrus.Debug("No collector attached, discarding proof")
			return
		}
		if !p.NodeStats.AcquireStream(remote) {
			logrus.Warnf("Stream quota exceeded for peer %s", remote)
			return
		}
		defer p.NodeStats.ReleaseStream(remote)

		s.SetReadDeadline(time.Now().Add(RequestTimeout))
		limited := &io.LimitedReader{R: s, N: MaxProofMessageSize + 1}
		raw, err := io.ReadAll(limited)
		if err != nil {
			logrus.Errorf("Failed to read proof from %s: %v", remote, err)
			p.NodeStats.RecordFail(remote)
			return
		}
		if int64(len(raw)) > MaxProofMessageSize {
			logrus.Warnf("Proof from %s too large, discarding", remote)
			p.NodeStats.RecordFail(remote)
			return
		}

		if err := p.Collector.CollectResponse(remote.String(), raw); err != nil {
			logrus.Warnf("Proof from %s rejected: %v", remote, err)
			p.NodeStats.RecordFail(remote)
			return
		}
		p.NodeStats.RecordPass(remote)
		logrus.Infof("Proof from %s collected (%d bytes)", remote, len(raw))
	})
}
