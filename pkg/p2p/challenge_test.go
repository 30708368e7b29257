package p2p

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"popchain/pkg/consensus"
)

func TestChallengeMessageFitsSizeLimit(t *testing.T) {
	// 最坏情形: 64 字符的十六进制 CID、6 个大 offset、
	// 发起方带一串监听地址
	addrs := make([]multiaddr.Multiaddr, 0, 8)
	for _, s := range []string{
		"/ip4/203.0.113.7/tcp/4001",
		"/ip4/203.0.113.7/udp/4001/quic-v1",
		"/ip4/10.0.0.12/tcp/4001",
		"/ip4/10.0.0.12/udp/4001/quic-v1",
		"/ip4/127.0.0.1/tcp/4001",
		"/ip6/2001:db8::1/tcp/4001",
		"/ip6/2001:db8::1/udp/4001/quic-v1",
		"/ip6/::1/tcp/4001",
	} {
		m, err := multiaddr.NewMultiaddr(s)
		require.NoError(t, err)
		addrs = append(addrs, m)
	}

	msg := challengeMsg{
		Challenge: consensus.Challenge{
			CID:         strings.Repeat("ab", 32),
			ChunkSize:   4096,
			TotalChunks: 1 << 20,
			Offsets:     []int{1048570, 917503, 786431, 655359, 524287, 393215},
		},
		Issuer: peer.AddrInfo{
			ID:    testPeer,
			Addrs: addrs,
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	// 挑战信封必须装得进自己的限额，留出裕量
	require.Less(t, len(raw), MaxChallengeMessageSize/2)
}
