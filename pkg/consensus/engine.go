// Package consensus 实现 PoP (Proof-of-Pinning) 每日挑战轮
//
// 核心功能:
//   - Engine: 单轮挑战的状态机（发起挑战 -> 收集响应 -> 批量校验 -> 冻结记录）
//   - IssueChallenge: 对指定 CID 抽样 offset 并计算期望 Merkle 根
//   - CollectResponse: 并发收集各节点的证明包字节（同节点后到覆盖先到）
//   - ValidateResponses: 逐节点解码校验，产出本轮通过集合并写入有界历史
//
// 使用场景:
//   - 由 scheduler 按固定周期驱动，也可通过 CLI 单次触发
//   - 通过集合交给 reward 层记账发奖
//
// 注意事项:
//   - 所有读写都经过同一把互斥锁，收集与校验可被不同 goroutine 并发调用
//   - 期望根在发起挑战时由本地文件计算，根缺失时本轮直接判失败
//   - 响应必须覆盖本轮抽样的全部 offset，防止用旧证明包重放
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"popchain/pkg/chunker"
	"popchain/pkg/file"
	"popchain/pkg/proof"
)

// DefaultHistoryRetention 历史轮次保留上限，超出后淘汰最旧
const DefaultHistoryRetention = 50

var ErrNoActiveRound = xerrors.New("consensus: no active challenge round")

// Challenge 发给存储节点的挑战描述
type Challenge struct {
	CID         string `json:"cid"`
	ChunkSize   int    `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Offsets     []int  `json:"offsets"`
}

// RoundRecord 一轮已校验挑战的冻结快照
type RoundRecord struct {
	CID          string
	Root         string
	Offsets      []int
	PassingNodes []string
	Timestamp    time.Time
}

// EngineConfig Engine 的可调参数
type EngineConfig struct {
	ChunkSize        int
	HistoryRetention int
	Logger           logrus.FieldLogger
}

// NewEngineConfig 返回带默认值的配置
func NewEngineConfig() EngineConfig {
	return EngineConfig{
		ChunkSize:        chunker.DefaultChunkSize,
		HistoryRetention: DefaultHistoryRetention,
		Logger:           logrus.StandardLogger(),
	}
}

// activeRound 当前未冻结轮次的内部状态
type activeRound struct {
	challenge Challenge
	root      string
	responses map[string][]byte
	passing   []string
	validated bool
	issuedAt  time.Time
}

// Engine PoP 挑战轮状态机
type Engine struct {
	mu sync.Mutex

	fs        file.FileSystemAdapter
	chunkSize int
	retention int
	log       logrus.FieldLogger

	current *activeRound
	history []RoundRecord
}

// NewEngine 创建挑战引擎，fs 为读取本地钉存文件的适配器
func NewEngine(fs file.FileSystemAdapter, cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = DefaultHistoryRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Engine{
		fs:        fs,
		chunkSize: cfg.ChunkSize,
		retention: cfg.HistoryRetention,
		log:       cfg.Logger.WithField("component", "consensus"),
	}
}

// IssueChallenge 对 cid 发起新一轮挑战，localPath 为该 CID 在本地的文件路径。
// 抽样数量随机落在 [MinChallengeOffsets, MaxChallengeOffsets] 并收缩到总块数以内。
// 新挑战会丢弃上一轮的全部状态。
func (e *Engine) IssueChallenge(cid, localPath string) (Challenge, error) {
	size, err := e.fs.Stat(localPath)
	if err != nil {
		return Challenge{}, xerrors.Errorf("failed to stat %s: %w", localPath, err)
	}
	totalChunks, err := chunker.TotalChunks(size, e.chunkSize)
	if err != nil {
		return Challenge{}, err
	}
	if totalChunks == 0 {
		return Challenge{}, xerrors.Errorf("cannot challenge empty file %s", localPath)
	}

	offsets, err := SampleOffsets(totalChunks, challengeCount(totalChunks))
	if err != nil {
		return Challenge{}, err
	}
	sort.Ints(offsets)
	return e.IssueChallengeAt(cid, localPath, offsets)
}

// IssueChallengeAt 使用调用方指定的 offset 集合发起挑战
func (e *Engine) IssueChallengeAt(cid, localPath string, offsets []int) (Challenge, error) {
	// 期望根基于本地副本计算；顺便拿到实际总块数
	reference, err := proof.BuildFromFile(e.fs, localPath, e.chunkSize, nil)
	if err != nil {
		return Challenge{}, xerrors.Errorf("failed to compute expected root for %s: %w", cid, err)
	}

	ch := Challenge{
		CID:         cid,
		ChunkSize:   e.chunkSize,
		TotalChunks: int(reference.TotalChunks),
		Offsets:     append([]int(nil), offsets...),
	}

	e.mu.Lock()
	e.current = &activeRound{
		challenge: ch,
		root:      reference.Root,
		responses: make(map[string][]byte),
		issuedAt:  time.Now(),
	}
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"cid":          cid,
		"total_chunks": ch.TotalChunks,
		"offsets":      ch.Offsets,
	}).Info("issued pop challenge")
	return ch, nil
}

// CollectResponse 记录 nodeID 对当前轮的证明包字节。
// 同一节点重复提交时保留最后一份；没有进行中的轮次时返回错误。
func (e *Engine) CollectResponse(nodeID string, raw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ErrNoActiveRound
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	e.current.responses[nodeID] = buf

	e.log.WithFields(logrus.Fields{
		"node": nodeID,
		"size": len(raw),
	}).Debug("collected pop response")
	return nil
}

// ValidateResponses 校验当前轮收集到的全部响应并冻结轮次记录。
// 返回 true 当且仅当至少一个节点通过。解码失败或校验不过的响应
// 只影响对应节点，不会中断整轮。对同一轮重复调用是幂等的：
// 只冻结一次，返回首次校验的结果。
func (e *Engine) ValidateResponses() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		e.log.Warn("validate called without an active round")
		return false
	}
	round := e.current
	if round.validated {
		// 重复校验不重复冻结，结果与首次一致
		return len(round.passing) > 0
	}
	if round.root == "" {
		e.log.WithField("cid", round.challenge.CID).Error("missing expected root, failing round")
		round.validated = true
		round.passing = nil
		e.freezeLocked(round)
		return false
	}

	var passing []string
	for nodeID, raw := range round.responses {
		blob, err := proof.Decode(raw)
		if err != nil {
			e.log.WithError(err).WithField("node", nodeID).Warn("malformed pop response")
			continue
		}
		if !e.coversChallenge(blob, round.challenge) {
			e.log.WithField("node", nodeID).Warn("response does not cover challenged offsets")
			continue
		}
		if !proof.Verify(blob, round.root) {
			e.log.WithField("node", nodeID).Info("pop verification failed")
			continue
		}
		passing = append(passing, nodeID)
	}
	sort.Strings(passing)

	round.validated = true
	round.passing = passing
	e.freezeLocked(round)

	e.log.WithFields(logrus.Fields{
		"cid":       round.challenge.CID,
		"responses": len(round.responses),
		"passing":   len(passing),
	}).Info("pop round validated")
	return len(passing) > 0
}

// coversChallenge 检查响应是否完整覆盖本轮抽样的 offset
func (e *Engine) coversChallenge(blob *proof.Blob, ch Challenge) bool {
	if int(blob.TotalChunks) != ch.TotalChunks {
		return false
	}
	covered := blob.CoveredOffsets()
	for _, off := range ch.Offsets {
		if !covered[uint32(off)] {
			return false
		}
	}
	return true
}

// freezeLocked 把已校验轮次写入有界历史，调用方必须持锁
func (e *Engine) freezeLocked(round *activeRound) {
	e.history = append(e.history, RoundRecord{
		CID:          round.challenge.CID,
		Root:         round.root,
		Offsets:      append([]int(nil), round.challenge.Offsets...),
		PassingNodes: append([]string(nil), round.passing...),
		Timestamp:    round.issuedAt,
	})
	if len(e.history) > e.retention {
		e.history = e.history[len(e.history)-e.retention:]
	}
}

// PassingNodes 返回最近一次校验的通过节点列表（按字典序）
func (e *Engine) PassingNodes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || !e.current.validated {
		return nil
	}
	return append([]string(nil), e.current.passing...)
}

// ActiveChallenge 返回进行中的挑战描述，没有时第二个返回值为 false
func (e *Engine) ActiveChallenge() (Challenge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.validated {
		return Challenge{}, false
	}
	return e.current.challenge, true
}

// History 返回已冻结轮次记录的副本，从旧到新
func (e *Engine) History() []RoundRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RoundRecord, len(e.history))
	copy(out, e.history)
	return out
}
