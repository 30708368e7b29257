// Package merkle implements the hash tree used by proof-of-pinning
// challenges: a binary Merkle tree over chunk hashes with sibling-path
// membership proofs.
//
// All hashes are lowercase hex strings of SHA-256 digests. Parents are
// computed by hashing the concatenation of the two child hex strings;
// the same representation is used during construction and during the
// verification climb, since root equality depends on the exact bytes
// being concatenated. An odd trailing node at any level is carried
// upward unchanged (not duplicated), so a carried node contributes no
// sibling-path entry at that level.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrNoLeaves = errors.New("merkle: no leaf hashes provided")

// PathStep 路径上的一个兄弟节点
type PathStep struct {
	Sibling string // 兄弟节点哈希（hex）
	IsLeft  bool   // 兄弟在左侧时为 true
}

// Tree 自底向上构建的完整层级结构，levels[0] 为叶子层，最后一层只有根
type Tree struct {
	levels [][]string
}

// Combine hashes the concatenation of two hex-encoded child hashes.
func Combine(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// Build constructs the tree from ordered leaf hashes. The leaf order is
// significant; the same ordered sequence always yields the same root.
func Build(leafHashes []string) (*Tree, error) {
	if len(leafHashes) == 0 {
		return nil, ErrNoLeaves
	}

	levels := make([][]string, 0, 8)
	leaves := make([]string, len(leafHashes))
	copy(leaves, leafHashes)
	levels = append(levels, leaves)

	for len(levels[len(levels)-1]) > 1 {
		prev := levels[len(levels)-1]
		next := make([]string, 0, (len(prev)+1)/2)
		for i := 0; i < len(prev); i += 2 {
			if i+1 < len(prev) {
				next = append(next, Combine(prev[i], prev[i+1]))
			} else {
				// 奇数个节点，末尾节点原样上移
				next = append(next, prev[i])
			}
		}
		levels = append(levels, next)
	}

	return &Tree{levels: levels}, nil
}

// Root returns the tree root hash.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built from.
func (t *Tree) LeafCount() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Path returns the sibling path from the given leaf up to the root.
// Levels where the node is an odd trailing element contribute no step.
func (t *Tree) Path(leafIndex int) ([]PathStep, error) {
	if len(t.levels) == 0 {
		return nil, ErrNoLeaves
	}
	if leafIndex < 0 || leafIndex >= len(t.levels[0]) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", leafIndex, len(t.levels[0]))
	}

	var path []PathStep
	index := leafIndex
	for level := 0; level < len(t.levels)-1; level++ {
		current := t.levels[level]

		// 偶数下标 -> 本节点在左，兄弟在右；奇数下标反之
		siblingIsLeft := index%2 == 1
		siblingIndex := index + 1
		if siblingIsLeft {
			siblingIndex = index - 1
		}

		if siblingIndex < len(current) {
			path = append(path, PathStep{
				Sibling: current[siblingIndex],
				IsLeft:  siblingIsLeft,
			})
		}

		index /= 2
	}

	return path, nil
}

// VerifyPath climbs from a leaf hash along the sibling path and reports
// whether the reconstructed root equals the expected root.
func VerifyPath(leafHash string, path []PathStep, expectedRoot string) bool {
	if leafHash == "" || expectedRoot == "" {
		return false
	}

	current := leafHash
	for _, step := range path {
		if step.IsLeft {
			current = Combine(step.Sibling, current)
		} else {
			current = Combine(current, step.Sibling)
		}
	}
	return current == expectedRoot
}

// ClimbIndexed reconstructs the root for a leaf using only positional
// information: the leaf index and the total leaf count. Sibling hashes
// are consumed from siblings in order; levels where the node is an odd
// trailing element consume nothing. This is the verification form used
// for decoded proof blobs, which carry no explicit side flags.
//
// Returns an error when the sibling list is shorter or longer than the
// tree shape requires (a malformed or truncated claim).
func ClimbIndexed(leafHash string, leafIndex, leafCount int, siblings []string) (string, error) {
	if leafCount <= 0 {
		return "", ErrNoLeaves
	}
	if leafIndex < 0 || leafIndex >= leafCount {
		return "", fmt.Errorf("merkle: leaf index %d out of range [0,%d)", leafIndex, leafCount)
	}

	current := leafHash
	index := leafIndex
	width := leafCount
	consumed := 0

	for width > 1 {
		if index%2 == 0 && index+1 == width {
			// 末尾孤节点：该层没有兄弟，直接上移
		} else {
			if consumed >= len(siblings) {
				return "", fmt.Errorf("merkle: sibling path too short: need more than %d entries", len(siblings))
			}
			sibling := siblings[consumed]
			consumed++
			if index%2 == 1 {
				current = Combine(sibling, current)
			} else {
				current = Combine(current, sibling)
			}
		}
		index /= 2
		width = (width + 1) / 2
	}

	if consumed != len(siblings) {
		return "", fmt.Errorf("merkle: sibling path too long: %d entries, used %d", len(siblings), consumed)
	}
	return current, nil
}
