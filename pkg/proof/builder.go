package proof

import (
	"golang.org/x/xerrors"

	"popchain/pkg/chunker"
	"popchain/pkg/file"
	"popchain/pkg/merkle"
)

// BuildFromBytes 为内存中的文件内容和指定 offset 集合构建证明包。
// 空内容无法成树，返回错误；越界 offset 被跳过。
func BuildFromBytes(data []byte, chunkSize int, offsets []int) (*Blob, error) {
	chunks, err := chunker.SplitBytes(data, chunkSize)
	if err != nil {
		return nil, err
	}
	return buildFromChunks(chunks, chunkSize, offsets)
}

// BuildFromFile 读取文件并为指定 offset 集合构建证明包
func BuildFromFile(fs file.FileSystemAdapter, path string, chunkSize int, offsets []int) (*Blob, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	chunks, err := chunker.Split(f, chunkSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to chunk %s: %w", path, err)
	}
	return buildFromChunks(chunks, chunkSize, offsets)
}

func buildFromChunks(chunks []chunker.Chunk, chunkSize int, offsets []int) (*Blob, error) {
	if len(chunks) == 0 {
		return nil, merkle.ErrNoLeaves
	}

	tree, err := merkle.Build(chunker.LeafHashes(chunks))
	if err != nil {
		return nil, err
	}

	blob := &Blob{
		ChunkSize:   uint32(chunkSize),
		TotalChunks: uint32(len(chunks)),
		Root:        tree.Root(),
	}

	for _, off := range offsets {
		if off < 0 || off >= len(chunks) {
			continue
		}
		path, err := tree.Path(off)
		if err != nil {
			return nil, err
		}
		siblings := make([]string, len(path))
		for i, step := range path {
			siblings[i] = step.Sibling
		}
		blob.Entries = append(blob.Entries, Entry{
			Offset:   uint32(off),
			Chunk:    chunks[off].Data,
			Siblings: siblings,
		})
	}

	return blob, nil
}

// VerifyEntry 重建单个 offset 声明的根并与期望根比对
func VerifyEntry(e Entry, totalChunks uint32, expectedRoot string) bool {
	if totalChunks == 0 || e.Offset >= totalChunks {
		return false
	}
	leaf := chunker.HashBytes(e.Chunk)
	root, err := merkle.ClimbIndexed(leaf, int(e.Offset), int(totalChunks), e.Siblings)
	if err != nil {
		return false
	}
	return root == expectedRoot
}

// Verify 校验整个证明包：至少一个声明，且每个声明都必须重建出期望根。
// 单个被篡改的 offset 只导致该声明失败，但整包即告不通过。
func Verify(blob *Blob, expectedRoot string) bool {
	if blob == nil || expectedRoot == "" || len(blob.Entries) == 0 {
		return false
	}
	for _, e := range blob.Entries {
		if !VerifyEntry(e, blob.TotalChunks, expectedRoot) {
			return false
		}
	}
	return true
}

// CoveredOffsets 返回证明包声明的 offset 集合
func (b *Blob) CoveredOffsets() map[uint32]bool {
	out := make(map[uint32]bool, len(b.Entries))
	for _, e := range b.Entries {
		out[e.Offset] = true
	}
	return out
}
