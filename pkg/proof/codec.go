// Package proof 实现 PoP 证明的二进制编码与校验
//
// 核心功能:
//   - Blob: 一轮挑战的证明包（分块大小、总块数、抽样 offset、块数据、兄弟路径、根）
//   - Encode/Decode: 32 位大端定宽字段的扁平字节编码
//   - Build: 基于 chunker + merkle 为指定 offset 集合构建证明
//   - Verify: 对照期望根逐 offset 重建并比对
//
// 线格式 (所有整数为 u32 大端):
//
//	chunkSize | totalChunks | numOffsets
//	  { offsetIndex | chunkLen | chunkBytes | pathLen | { siblingLen | siblingBytes }×pathLen }×numOffsets
//	rootLen | rootBytes
//
// 注意事项:
//   - Decode 是对抗网络输入的主要硬化点：任何越界的长度字段都返回错误，绝不 panic
//   - 兄弟哈希与根均为 ASCII 十六进制摘要字符串，长度字段按其字节数计
//   - offset ≥ totalChunks 在编码时被静默跳过，不视为错误
package proof

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncated = errors.New("proof: blob truncated")
	ErrEmptyBlob = errors.New("proof: empty blob")
)

// Entry 一个被抽样 offset 的声明：块数据及其到根的兄弟路径
type Entry struct {
	Offset   uint32
	Chunk    []byte
	Siblings []string
}

// Blob 一轮挑战的完整证明包
type Blob struct {
	ChunkSize   uint32
	TotalChunks uint32
	Entries     []Entry
	Root        string
}

// Encode 将证明包序列化为扁平字节缓冲。
// 越界的 offset（≥ TotalChunks）不会被写入。
func (b *Blob) Encode() []byte {
	kept := make([]Entry, 0, len(b.Entries))
	for _, e := range b.Entries {
		if e.Offset < b.TotalChunks {
			kept = append(kept, e)
		}
	}

	out := make([]byte, 0, 64)
	out = appendU32(out, b.ChunkSize)
	out = appendU32(out, b.TotalChunks)
	out = appendU32(out, uint32(len(kept)))

	for _, e := range kept {
		out = appendU32(out, e.Offset)
		out = appendU32(out, uint32(len(e.Chunk)))
		out = append(out, e.Chunk...)
		out = appendU32(out, uint32(len(e.Siblings)))
		for _, s := range e.Siblings {
			out = appendU32(out, uint32(len(s)))
			out = append(out, s...)
		}
	}

	out = appendU32(out, uint32(len(b.Root)))
	out = append(out, b.Root...)
	return out
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// cursor 带边界检查的顺序读取器
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) u32() (uint32, error) {
	if c.off+4 > len(c.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(c.buf[c.off : c.off+4])
	c.off += 4
	return v, nil
}

func (c *cursor) bytes(n uint32) ([]byte, error) {
	// n 来自网络输入，先检查剩余长度再分配
	if uint64(c.off)+uint64(n) > uint64(len(c.buf)) {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, c.buf[c.off:c.off+int(n)])
	c.off += int(n)
	return out, nil
}

// Decode 解析一个证明包。任何读出缓冲区末尾的长度字段都会返回错误，
// 解析失败的响应由调用方直接排除出通过集合。
func Decode(raw []byte) (*Blob, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyBlob
	}
	c := &cursor{buf: raw}

	chunkSize, err := c.u32()
	if err != nil {
		return nil, err
	}
	totalChunks, err := c.u32()
	if err != nil {
		return nil, err
	}
	numOffsets, err := c.u32()
	if err != nil {
		return nil, err
	}

	blob := &Blob{ChunkSize: chunkSize, TotalChunks: totalChunks}

	for i := uint32(0); i < numOffsets; i++ {
		var e Entry
		if e.Offset, err = c.u32(); err != nil {
			return nil, err
		}
		chunkLen, err := c.u32()
		if err != nil {
			return nil, err
		}
		if e.Chunk, err = c.bytes(chunkLen); err != nil {
			return nil, err
		}
		pathLen, err := c.u32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < pathLen; j++ {
			sibLen, err := c.u32()
			if err != nil {
				return nil, err
			}
			sib, err := c.bytes(sibLen)
			if err != nil {
				return nil, err
			}
			e.Siblings = append(e.Siblings, string(sib))
		}
		blob.Entries = append(blob.Entries, e)
	}

	rootLen, err := c.u32()
	if err != nil {
		return nil, err
	}
	root, err := c.bytes(rootLen)
	if err != nil {
		return nil, err
	}
	blob.Root = string(root)

	if c.off != len(raw) {
		return nil, fmt.Errorf("proof: %d trailing bytes after root", len(raw)-c.off)
	}
	return blob, nil
}
