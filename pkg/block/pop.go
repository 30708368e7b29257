// 块级挑战绑定与占位签名。
// 细粒度的按块抽样校验在 consensus 包，这里只负责把临时挑战
// 和块内携带的证明做粗粒度关联。
package block

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"popchain/pkg/chunker"
	"popchain/pkg/merkle"
)

// challengeSalt 固定盐值。同样的 (prevHash, height) 必须推出同样的挑战串，
// 生产部署应换成 VRF 输出。
const challengeSalt = "POP_SALT_V1"

// DeriveChallenge 由前块哈希和块高推导本块的临时挑战串
func DeriveChallenge(prevBlockHash string, height uint64) string {
	return prevBlockHash + "#" + strconv.FormatUint(height, 10) + "#" + challengeSalt
}

// VerifyBlockBinding 检查块内至少有一个 PopProof 的签名引用了块头挑战串。
// 没有任何证明的块直接失败。
func VerifyBlockBinding(b *Block) bool {
	if len(b.PopProofs) == 0 {
		return false
	}
	for _, proof := range b.PopProofs {
		if strings.Contains(proof.Signature, b.Header.Challenge) {
			return true
		}
	}
	return false
}

// derivePublicKey 占位公钥推导：对私钥做摘要并截断
func derivePublicKey(privateKey string) string {
	return "PUBKEY_for_" + chunker.HashBytes([]byte(privateKey))[:16]
}

// signPopData 占位签名：摘要截断后把被签数据原样附带，
// 让 VerifyBlockBinding 的包含性检查可以工作
func signPopData(privateKey, data string) string {
	digest := chunker.HashBytes([]byte(privateKey + "|" + data))
	return fmt.Sprintf("SIG_%s_%s", digest[:24], data)
}

// GeneratePopProof 为一组已钉 CID 生成引用指定挑战的块级证明
func GeneratePopProof(challenge string, pinnedCIDs []string, nodePrivateKey string) (PopProof, error) {
	if challenge == "" {
		return PopProof{}, xerrors.New("challenge is empty")
	}
	if len(pinnedCIDs) == 0 {
		return PopProof{}, xerrors.New("no pinned cids to prove")
	}
	if nodePrivateKey == "" {
		return PopProof{}, xerrors.New("node private key is empty")
	}

	root := MerkleRootOfCIDs(pinnedCIDs)
	return PopProof{
		NodePublicKey:    derivePublicKey(nodePrivateKey),
		CIDs:             append([]string(nil), pinnedCIDs...),
		MerkleRootChunks: root,
		Signature:        signPopData(nodePrivateKey, challenge+"|"+root),
	}, nil
}

// MerkleRootOfCIDs 把 CID 列表聚合成一个根，空列表返回空串
func MerkleRootOfCIDs(cids []string) string {
	return aggregateRoot(cids)
}

// aggregateRoot 对字符串列表逐项取摘要作叶子并建树
func aggregateRoot(items []string) string {
	if len(items) == 0 {
		return ""
	}
	leaves := make([]string, len(items))
	for i, item := range items {
		leaves[i] = chunker.HashBytes([]byte(item))
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return ""
	}
	return tree.Root()
}
