// Package file 提供文件系统抽象层
//
// 功能:
//   - 文件打开: 统一的文件读取接口
//   - 大小查询: Stat 用于在发起挑战前确定分块数量
//   - 抽象层: 隔离具体文件系统实现，便于单元测试注入内存实现
//
// 主要组件:
//   - FileSystemAdapter: 文件系统适配器接口
//   - LocalFileSystemAdapter: 本地文件系统实现
//   - MemoryFileSystemAdapter: 内存实现，测试专用
//
// 使用示例:
//
//	adapter := NewLocalFileSystemAdapter()
//	size, err := adapter.Stat("/path/to/file")
//	if err != nil {
//	    return err
//	}
//	data, err := file.ReadAll(adapter, "/path/to/file")
//
// 注意事项:
//   - 读取是同步阻塞的，大文件的读取是 IssueChallenge 的主要延迟来源
//   - 可扩展支持云存储、分布式文件系统等
package file

import (
	"fmt"
	"io"
	"os"
)

type FileSystemAdapter interface {
	// Open 打开文件用于顺序读取，调用方负责 Close
	Open(path string) (io.ReadCloser, error)
	// Stat 返回文件大小（字节）
	Stat(path string) (int64, error)
}

type LocalFileSystemAdapter struct{}

func (LocalFileSystemAdapter) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (LocalFileSystemAdapter) Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func NewLocalFileSystemAdapter() FileSystemAdapter {
	return LocalFileSystemAdapter{}
}

// ReadAll 一次性读取整个文件内容
func ReadAll(fs FileSystemAdapter, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// MemoryFileSystemAdapter 以 map 保存文件内容，测试时替代本地文件系统
type MemoryFileSystemAdapter struct {
	Files map[string][]byte
}

func NewMemoryFileSystemAdapter() *MemoryFileSystemAdapter {
	return &MemoryFileSystemAdapter{Files: make(map[string][]byte)}
}

type memReader struct {
	data []byte
	off  int
}

func (r *memReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func (r *memReader) Close() error { return nil }

func (m *MemoryFileSystemAdapter) Open(path string) (io.ReadCloser, error) {
	data, ok := m.Files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return &memReader{data: data}, nil
}

func (m *MemoryFileSystemAdapter) Stat(path string) (int64, error) {
	data, ok := m.Files[path]
	if !ok {
		return 0, fmt.Errorf("file not found: %s", path)
	}
	return int64(len(data)), nil
}
