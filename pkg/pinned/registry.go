// Package pinned 维护本节点承诺钉存的 CID 集合
//
// 核心功能:
//   - Pin/Unpin: 登记或移除 CID 与其本地文件路径的映射
//   - Lookup: 挑战轮按 CID 找到本地副本
//   - PickRandom: 为下一轮挑战随机选取目标 CID
//   - 文本持久化: "<cid> <path>" 按行存取，重启后恢复钉存清单
//
// 注意事项:
//   - 只登记映射，不校验文件内容；内容校验是挑战轮的职责
package pinned

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"popchain/pkg/consensus"
)

// Registry 钉存清单
type Registry struct {
	mu sync.Mutex

	entries     map[string]string
	storageFile string
	log         logrus.FieldLogger
}

// NewRegistry 创建钉存清单；storageFile 非空且存在时加载历史清单
func NewRegistry(storageFile string, logger logrus.FieldLogger) (*Registry, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Registry{
		entries:     make(map[string]string),
		storageFile: storageFile,
		log:         logger.WithField("component", "pinned"),
	}
	if storageFile != "" {
		if err := r.load(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Pin 登记一个 CID 到本地路径的映射，重复 Pin 覆盖旧路径
func (r *Registry) Pin(cid, localPath string) error {
	if strings.TrimSpace(cid) == "" {
		return xerrors.New("cannot pin empty cid")
	}
	if strings.TrimSpace(localPath) == "" {
		return xerrors.Errorf("cannot pin %s without a local path", cid)
	}

	r.mu.Lock()
	r.entries[cid] = localPath
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"cid": cid, "path": localPath}).Info("pinned cid")
	return r.persist()
}

// Unpin 移除一个 CID，不存在时为空操作
func (r *Registry) Unpin(cid string) error {
	r.mu.Lock()
	_, existed := r.entries[cid]
	delete(r.entries, cid)
	r.mu.Unlock()

	if existed {
		r.log.WithField("cid", cid).Info("unpinned cid")
	}
	return r.persist()
}

// Lookup 返回 CID 的本地路径
func (r *Registry) Lookup(cid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, ok := r.entries[cid]
	return path, ok
}

// List 返回全部已钉 CID（按字典序）
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.entries))
	for cid := range r.entries {
		out = append(out, cid)
	}
	sort.Strings(out)
	return out
}

// Count 返回已钉 CID 数量
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PickRandom 随机选取 count 个已钉 CID 作为挑战目标
func (r *Registry) PickRandom(count int) ([]string, error) {
	return consensus.SelectRandomCIDs(r.List(), count)
}

func (r *Registry) persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.storageFile == "" {
		return nil
	}

	cids := make([]string, 0, len(r.entries))
	for cid := range r.entries {
		cids = append(cids, cid)
	}
	sort.Strings(cids)

	var sb strings.Builder
	for _, cid := range cids {
		fmt.Fprintf(&sb, "%s %s\n", cid, r.entries[cid])
	}
	if err := os.WriteFile(r.storageFile, []byte(sb.String()), 0644); err != nil {
		return xerrors.Errorf("failed to write pin list %s: %w", r.storageFile, err)
	}
	return nil
}

func (r *Registry) load() error {
	f, err := os.Open(r.storageFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("failed to open pin list %s: %w", r.storageFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return xerrors.Errorf("malformed pin list line %d: %q", line, text)
		}
		r.entries[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Errorf("failed to read pin list: %w", err)
	}

	r.log.WithField("pins", len(r.entries)).Info("loaded pin list")
	return nil
}
