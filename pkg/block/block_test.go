package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"popchain/pkg/chunker"
	"popchain/pkg/merkle"
)

func sampleBlock(t *testing.T) *Block {
	t.Helper()
	challenge := DeriveChallenge("prevhash", 10)
	proof, err := GeneratePopProof(challenge, []string{"QmCidA", "QmCidB"}, "privkey-1")
	require.NoError(t, err)

	return &Block{
		Header: BlockHeader{
			PrevBlockHash: "prevhash",
			Height:        10,
			Timestamp:     time.Unix(1700000000, 0),
			Version:       1,
			Challenge:     challenge,
			MerkleRootPoP: PopMerkleRoot([]PopProof{proof}),
		},
		Transactions: []string{"tx1", "tx2"},
		PopProofs:    []PopProof{proof},
	}
}

func TestDeriveChallengeDeterministic(t *testing.T) {
	a := DeriveChallenge("abc", 5)
	b := DeriveChallenge("abc", 5)
	require.Equal(t, a, b)
	require.Contains(t, a, "abc#5#")

	require.NotEqual(t, a, DeriveChallenge("abc", 6))
	require.NotEqual(t, a, DeriveChallenge("abd", 5))
}

func TestGenerateAndBindProof(t *testing.T) {
	b := sampleBlock(t)
	require.NoError(t, b.ValidateStructure())
	require.True(t, VerifyBlockBinding(b))
}

func TestBindingFailsWithoutProofs(t *testing.T) {
	b := sampleBlock(t)
	b.PopProofs = nil
	require.False(t, VerifyBlockBinding(b))
}

func TestBindingFailsForForeignChallenge(t *testing.T) {
	b := sampleBlock(t)
	// 证明签的是别的块的挑战
	stale, err := GeneratePopProof(DeriveChallenge("otherhash", 9), []string{"QmCidA"}, "privkey-1")
	require.NoError(t, err)
	b.PopProofs = []PopProof{stale}
	require.False(t, VerifyBlockBinding(b))
}

func TestBindingNeedsOnlyOneMatchingProof(t *testing.T) {
	b := sampleBlock(t)
	stale, err := GeneratePopProof(DeriveChallenge("otherhash", 9), []string{"QmCidA"}, "privkey-2")
	require.NoError(t, err)
	b.PopProofs = append([]PopProof{stale}, b.PopProofs...)
	require.True(t, VerifyBlockBinding(b))
}

func TestGeneratePopProofErrors(t *testing.T) {
	_, err := GeneratePopProof("", []string{"QmCid"}, "priv")
	require.Error(t, err)
	_, err = GeneratePopProof("chal", nil, "priv")
	require.Error(t, err)
	_, err = GeneratePopProof("chal", []string{"QmCid"}, "")
	require.Error(t, err)
}

func TestProofValidate(t *testing.T) {
	proof, err := GeneratePopProof("chal", []string{"QmCid"}, "priv")
	require.NoError(t, err)
	require.NoError(t, proof.Validate())

	broken := proof
	broken.NodePublicKey = ""
	require.Error(t, broken.Validate())

	broken = proof
	broken.CIDs = []string{" "}
	require.Error(t, broken.Validate())

	broken = proof
	broken.Signature = ""
	require.Error(t, broken.Validate())
}

func TestValidateStructure(t *testing.T) {
	b := sampleBlock(t)
	require.NoError(t, b.ValidateStructure())

	broken := *b
	broken.Header.Challenge = ""
	require.Error(t, broken.ValidateStructure())

	broken = *b
	broken.Header.PrevBlockHash = ""
	require.Error(t, broken.ValidateStructure())

	// 创世块允许没有前块哈希
	genesis := *b
	genesis.Header.Height = 0
	genesis.Header.PrevBlockHash = ""
	require.NoError(t, genesis.ValidateStructure())

	broken = *b
	broken.PopProofs = []PopProof{{}}
	require.Error(t, broken.ValidateStructure())
}

func TestHeaderHashSensitivity(t *testing.T) {
	b := sampleBlock(t)
	h1 := b.Header.Hash()
	require.Len(t, h1, 64)

	other := b.Header
	other.Height++
	require.NotEqual(t, h1, other.Hash())
}

func TestAggregateRoots(t *testing.T) {
	require.Empty(t, TxMerkleRoot(nil))
	require.Empty(t, MerkleRootOfCIDs(nil))

	// 单元素聚合根就是该元素摘要
	require.Equal(t, chunker.HashBytes([]byte("tx1")), TxMerkleRoot([]string{"tx1"}))

	// 两元素与手工组合一致
	expected := merkle.Combine(chunker.HashBytes([]byte("a")), chunker.HashBytes([]byte("b")))
	require.Equal(t, expected, TxMerkleRoot([]string{"a", "b"}))

	require.NotEqual(t, TxMerkleRoot([]string{"a", "b"}), TxMerkleRoot([]string{"b", "a"}))
}
