// Package reward 实现 PoP 通过节点的记账与周期性发奖
//
// 核心功能:
//   - 奖池累积: 每记录一轮通过集合，奖池增加一份基础日奖励
//   - 连胜计数: 节点连续通过的轮数，作为发奖权重
//   - 按权发奖: Distribute 按 streak 占比向下取整切分奖池，余数销毁
//   - 文本持久化: "<nodeId> <streak> <balance>" 按行存取，跨重启保留账本；
//     加载时逐行贪婪解析，遇到首个坏行即停，已读条目保留
//
// 使用场景:
//   - scheduler 在每轮 ValidateResponses 之后调用 RecordPassingNodes
//   - 发奖周期到达时调用 Distribute，余额经 API 层对外查询
//
// 注意事项:
//   - 所有金额为无符号整数记账单位，不做浮点运算
//   - 缺席节点默认保留连胜（宽松模式），可配置为缺席即清零
package reward

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// DefaultBaseDailyReward 每轮注入奖池的默认数额
const DefaultBaseDailyReward uint64 = 100

// SchedulerConfig 奖励调度器的可调参数
type SchedulerConfig struct {
	BaseDailyReward uint64
	// ResetMissedStreak 为 true 时，一轮缺席即把该节点连胜清零
	ResetMissedStreak bool
	// StorageFile 账本文件路径，空串表示纯内存运行
	StorageFile string
	Logger      logrus.FieldLogger
}

// NewSchedulerConfig 返回带默认值的配置
func NewSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseDailyReward: DefaultBaseDailyReward,
		Logger:          logrus.StandardLogger(),
	}
}

// Scheduler 奖励账本与发奖器
type Scheduler struct {
	mu sync.Mutex

	base        uint64
	pool        uint64
	resetMissed bool
	storageFile string
	log         logrus.FieldLogger

	streaks  map[string]uint64
	balances map[string]uint64
}

// NewScheduler 创建奖励调度器；配置了账本文件且文件存在时加载历史状态
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.BaseDailyReward == 0 {
		cfg.BaseDailyReward = DefaultBaseDailyReward
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		base:        cfg.BaseDailyReward,
		resetMissed: cfg.ResetMissedStreak,
		storageFile: cfg.StorageFile,
		log:         cfg.Logger.WithField("component", "reward"),
		streaks:     make(map[string]uint64),
		balances:    make(map[string]uint64),
	}
	if s.storageFile != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetBaseDailyReward 调整每轮注入奖池的数额
func (s *Scheduler) SetBaseDailyReward(amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = amount
}

// RecordPassingNodes 记录一轮的通过集合：奖池加一份基础奖励，
// 通过节点连胜加一（首次通过从 1 起算），缺席节点按配置决定是否清零。
// 空集合也计一轮，用于严格模式下统一推进缺席清零。
func (s *Scheduler) RecordPassingNodes(nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool += s.base

	passed := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		passed[node] = true
		s.streaks[node]++
	}
	if s.resetMissed {
		for node := range s.streaks {
			if !passed[node] {
				s.streaks[node] = 0
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"passing": len(nodes),
		"pool":    s.pool,
	}).Info("recorded pop round")
}

// Distribute 按连胜占比切分当前奖池。每个节点得到
// floor(pool * streak / totalStreak)，除不尽的余数直接销毁，奖池清零。
// 没有可发金额或没有正连胜时返回 false，奖池保持不动。
func (s *Scheduler) Distribute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == 0 {
		s.log.Debug("distribution skipped: empty pool")
		return false
	}
	var totalStreak uint64
	for _, streak := range s.streaks {
		totalStreak += streak
	}
	if totalStreak == 0 {
		s.log.Debug("distribution skipped: no positive streaks")
		return false
	}

	var paid uint64
	for node, streak := range s.streaks {
		if streak == 0 {
			continue
		}
		share := s.pool * streak / totalStreak
		s.balances[node] += share
		paid += share
	}

	s.log.WithFields(logrus.Fields{
		"pool":   s.pool,
		"paid":   paid,
		"burned": s.pool - paid,
	}).Info("distributed rewards")
	s.pool = 0

	if s.storageFile != "" {
		if err := s.saveLocked(); err != nil {
			s.log.WithError(err).Error("failed to persist reward ledger")
		}
	}
	return true
}

// Balance 返回节点的累计余额
func (s *Scheduler) Balance(node string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[node]
}

// Streak 返回节点当前连胜轮数
func (s *Scheduler) Streak(node string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[node]
}

// PoolBalance 返回尚未发放的奖池余额
func (s *Scheduler) PoolBalance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// Nodes 返回账本中已知的节点列表（按字典序）
func (s *Scheduler) Nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.streaks)+len(s.balances))
	for node := range s.streaks {
		seen[node] = true
	}
	for node := range s.balances {
		seen[node] = true
	}
	out := make([]string, 0, len(seen))
	for node := range seen {
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}

// Save 立即把账本写入磁盘
func (s *Scheduler) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storageFile == "" {
		return nil
	}
	return s.saveLocked()
}

func (s *Scheduler) saveLocked() error {
	var sb strings.Builder
	seen := make(map[string]bool, len(s.streaks)+len(s.balances))
	for node := range s.streaks {
		seen[node] = true
	}
	for node := range s.balances {
		seen[node] = true
	}
	nodes := make([]string, 0, len(seen))
	for node := range seen {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		fmt.Fprintf(&sb, "%s %d %d\n", node, s.streaks[node], s.balances[node])
	}

	if err := os.WriteFile(s.storageFile, []byte(sb.String()), 0644); err != nil {
		return xerrors.Errorf("failed to write reward ledger %s: %w", s.storageFile, err)
	}
	return nil
}

func (s *Scheduler) load() error {
	f, err := os.Open(s.storageFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("failed to open reward ledger %s: %w", s.storageFile, err)
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
		var node string
		var streak, balance uint64
		// 贪婪读取：首个坏行终止加载，之前的条目保留
		if _, err := fmt.Sscanf(text, "%s %d %d", &node, &streak, &balance); err != nil {
			s.log.WithFields(logrus.Fields{
				"line":  line,
				"entry": text,
			}).Warn("malformed reward ledger line, stopping load")
			break
		}
		s.streaks[node] = streak
		s.balances[node] = balance
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Errorf("failed to read reward ledger: %w", err)
	}

	s.log.WithField("nodes", len(s.streaks)).Info("loaded reward ledger")
	return nil
}
