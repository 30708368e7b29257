// Package block 定义携带 PoP 证明的区块结构
//
// 核心功能:
//   - BlockHeader/Block: 引用前块、块高、交易与 PoP 两棵 Merkle 根、临时挑战串
//   - PopProof: 块级证明声明（节点公钥、CID 列表、CID 聚合根、签名）
//   - 结构校验: 字段完整性检查，在进入共识校验前先行拒绝残缺块
//
// 注意事项:
//   - 块级 PopProof 只做粗粒度绑定检查，不在收块时逐块校验磁盘数据；
//     细粒度校验由 consensus 包的挑战轮离线完成
//   - 签名为占位实现，不承载密码学强度
package block

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"popchain/pkg/chunker"
)

// BlockHeader 区块头
type BlockHeader struct {
	PrevBlockHash string    `json:"prev_block_hash"`
	Height        uint64    `json:"height"`
	Timestamp     time.Time `json:"timestamp"`
	Version       uint32    `json:"version"`
	// MerkleRootTx 交易聚合根
	MerkleRootTx string `json:"merkle_root_tx"`
	// MerkleRootPoP 本块携带的 PoP 证明聚合根
	MerkleRootPoP string `json:"merkle_root_pop"`
	// Challenge 本块的临时挑战串，见 DeriveChallenge
	Challenge string `json:"challenge"`
}

// Hash 区块头的十六进制摘要
func (h *BlockHeader) Hash() string {
	payload := fmt.Sprintf("%s|%d|%d|%d|%s|%s|%s",
		h.PrevBlockHash, h.Height, h.Timestamp.Unix(), h.Version,
		h.MerkleRootTx, h.MerkleRootPoP, h.Challenge)
	return chunker.HashBytes([]byte(payload))
}

// PopProof 块级 PoP 证明声明
type PopProof struct {
	NodePublicKey    string   `json:"node_public_key"`
	CIDs             []string `json:"cids"`
	MerkleRootChunks string   `json:"merkle_root_chunks"`
	Signature        string   `json:"signature"`
}

// Validate 检查声明的字段完整性
func (p *PopProof) Validate() error {
	if p.NodePublicKey == "" {
		return xerrors.New("pop proof missing node public key")
	}
	if len(p.CIDs) == 0 {
		return xerrors.New("pop proof references no cids")
	}
	for _, cid := range p.CIDs {
		if strings.TrimSpace(cid) == "" {
			return xerrors.New("pop proof contains empty cid")
		}
	}
	if p.MerkleRootChunks == "" {
		return xerrors.New("pop proof missing chunk merkle root")
	}
	if p.Signature == "" {
		return xerrors.New("pop proof missing signature")
	}
	return nil
}

// Block 区块
type Block struct {
	Header       BlockHeader `json:"header"`
	Transactions []string    `json:"transactions"`
	PopProofs    []PopProof  `json:"pop_proofs"`
}

// ValidateStructure 收块时的结构完整性检查。
// 只看字段是否齐全，不校验挑战绑定，也不触碰磁盘数据。
func (b *Block) ValidateStructure() error {
	if b.Header.Height > 0 && b.Header.PrevBlockHash == "" {
		return xerrors.Errorf("block %d missing previous hash", b.Header.Height)
	}
	if b.Header.Challenge == "" {
		return xerrors.Errorf("block %d missing challenge", b.Header.Height)
	}
	if b.Header.Timestamp.IsZero() {
		return xerrors.Errorf("block %d missing timestamp", b.Header.Height)
	}
	for i := range b.PopProofs {
		if err := b.PopProofs[i].Validate(); err != nil {
			return xerrors.Errorf("block %d pop proof %d invalid: %w", b.Header.Height, i, err)
		}
	}
	return nil
}

// TxMerkleRoot 聚合交易列表为一个根，空列表返回空串
func TxMerkleRoot(txs []string) string {
	return aggregateRoot(txs)
}

// PopMerkleRoot 聚合本块 PoP 证明的签名为一个根，空列表返回空串
func PopMerkleRoot(proofs []PopProof) string {
	items := make([]string, len(proofs))
	for i, p := range proofs {
		items[i] = p.Signature
	}
	return aggregateRoot(items)
}
