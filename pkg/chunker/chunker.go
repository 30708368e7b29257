// Package chunker 提供固定大小的文件分块与叶子哈希计算
//
// 核心功能:
//   - 分块: 将文件字节流切分为固定大小的 Chunk（最后一块可以不足一个块）
//   - 叶子哈希: 对每个 Chunk 计算 SHA256，作为 Merkle 树的叶子
//   - 定位读取: 按 chunk 下标读取单个块，供证明生成使用
//
// 使用场景:
//   - ChallengeIssuer 构建参考证明时对被钉文件分块
//   - 响应节点根据挑战中的 offset 提取对应 chunk
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
)

// DefaultChunkSize 默认分块大小 4KB
const DefaultChunkSize = 4096

var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Chunk 一个文件分块及其哈希
type Chunk struct {
	Index int
	Data  []byte
	Hash  string // lowercase hex SHA256 of Data
}

// HashBytes 计算数据的 SHA256 并返回小写十六进制字符串
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Split 将 r 的内容切分为 chunkSize 大小的块。
// 空输入返回零个块，调用方必须将其视为"没有叶子"。
func Split(r io.Reader, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	var chunks []Chunk
	buffer := make([]byte, chunkSize)
	index := 0

	for {
		n, err := io.ReadFull(r, buffer)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])
			chunks = append(chunks, Chunk{
				Index: index,
				Data:  data,
				Hash:  HashBytes(data),
			})
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

// SplitBytes 对内存中的字节切分，测试和小文件场景使用
func SplitBytes(data []byte, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	var chunks []Chunk
	for off, index := 0, 0; off < len(data); off, index = off+chunkSize, index+1 {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		piece := make([]byte, end-off)
		copy(piece, data[off:end])
		chunks = append(chunks, Chunk{
			Index: index,
			Data:  piece,
			Hash:  HashBytes(piece),
		})
	}
	return chunks, nil
}

// LeafHashes 提取所有块的哈希，顺序与块下标一致
func LeafHashes(chunks []Chunk) []string {
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	return hashes
}

// TotalChunks 计算给定文件大小需要的块数
func TotalChunks(fileSize int64, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		return 0, ErrInvalidChunkSize
	}
	if fileSize <= 0 {
		return 0, nil
	}
	return int((fileSize + int64(chunkSize) - 1) / int64(chunkSize)), nil
}
