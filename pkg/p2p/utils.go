// Package p2p 提供主机创建的工具函数
//
// Utils 功能:
//   - 主机创建: 创建 libp2p 主机实例
//   - 地址生成: 生成可直连的完整 multiaddr
//   - 密钥对生成: RSA 2048 位密钥对
//
// 注意事项:
//   - 生产环境应始终使用加密连接
//   - 不安全模式仅用于开发和测试
//   - seed 固定时节点 ID 可复现，方便多节点调试
package p2p

import (
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// newBasicHost creates a libp2p host listening on the given TCP port.
// A zero randseed derives the identity from crypto/rand; a fixed seed
// yields a reproducible peer ID. It won't encrypt the connection if
// insecure is true.
func newBasicHost(listenPort int, insecure bool, randseed int64) (host.Host, error) {
	var r io.Reader
	if randseed == 0 {
		r = rand.Reader
	} else {
		r = mrand.New(mrand.NewSource(randseed))
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.RSA, 2048, r)
	if err != nil {
		return nil, err
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
		libp2p.Identity(priv),
	}

	if insecure {
		opts = append(opts, libp2p.NoSecurity)
	}

	return libp2p.New(opts...)
}

// GetHostAddress 返回主机的完整可拨号地址（首个监听地址 + /p2p/<id>）
func GetHostAddress(host host.Host) string {
	hostAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", host.ID()))
	if err != nil {
		logrus.Errorf("Failed to create host multiaddress: %v", err)
		return ""
	}

	addrs := host.Addrs()
	if len(addrs) == 0 {
		logrus.Error("Host has no addresses")
		return ""
	}

	return addrs[0].Encapsulate(hostAddr).String()
}
