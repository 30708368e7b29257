// Package scheduler 周期性驱动 PoP 挑战轮
//
// 核心功能:
//   - 轮循环: 选取已钉 CID -> 发起挑战 -> 广播 -> 等待收集窗口 -> 校验 -> 记账
//   - 发奖触发: 每累计 DistributeEvery 轮调用一次奖励发放
//   - Clock 抽象: 时间来源可注入，测试不依赖真实等待
//
// 使用场景:
//   - 服务进程启动后 Start 一次，Stop 幂等
//   - CLI 单次触发时直接调用 RunRound
//
// 注意事项:
//   - 一次只有一轮在进行，轮内的收集窗口会阻塞循环
//   - 没有已钉 CID 时该轮跳过，只记日志
package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"popchain/pkg/consensus"
	"popchain/pkg/pinned"
	"popchain/pkg/reward"
)

const (
	DefaultRoundInterval    = 24 * time.Hour
	DefaultCollectionWindow = 30 * time.Second
	DefaultDistributeEvery  = 1
)

// Clock 时间来源抽象
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock 返回基于系统时间的 Clock
func NewRealClock() Clock { return realClock{} }

// ChallengePublisher 把挑战广播给存储节点，由传输层注入
type ChallengePublisher func(consensus.Challenge) error

// Config 调度器参数
type Config struct {
	RoundInterval    time.Duration
	CollectionWindow time.Duration
	// DistributeEvery 每累计多少轮触发一次发奖
	DistributeEvery int
	Clock           Clock
	Logger          logrus.FieldLogger
}

// NewConfig 返回带默认值的配置
func NewConfig() Config {
	return Config{
		RoundInterval:    DefaultRoundInterval,
		CollectionWindow: DefaultCollectionWindow,
		DistributeEvery:  DefaultDistributeEvery,
		Clock:            realClock{},
		Logger:           logrus.StandardLogger(),
	}
}

// Scheduler PoP 轮循环
type Scheduler struct {
	engine  *consensus.Engine
	rewards *reward.Scheduler
	pins    *pinned.Registry
	publish ChallengePublisher

	interval  time.Duration
	window    time.Duration
	distEvery int
	clock     Clock
	log       logrus.FieldLogger

	// runMu 串行化 RunRound：循环与手动触发可能并发到达，
	// 同时跑两轮会让后发的挑战覆盖前一轮尚未校验的状态
	runMu      sync.Mutex
	roundsDone int

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler 组装轮循环。publish 可为 nil（单机模式，不广播）。
func NewScheduler(engine *consensus.Engine, rewards *reward.Scheduler, pins *pinned.Registry,
	publish ChallengePublisher, cfg Config) *Scheduler {
	if cfg.RoundInterval <= 0 {
		cfg.RoundInterval = DefaultRoundInterval
	}
	if cfg.CollectionWindow <= 0 {
		cfg.CollectionWindow = DefaultCollectionWindow
	}
	if cfg.DistributeEvery <= 0 {
		cfg.DistributeEvery = DefaultDistributeEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Scheduler{
		engine:    engine,
		rewards:   rewards,
		pins:      pins,
		publish:   publish,
		interval:  cfg.RoundInterval,
		window:    cfg.CollectionWindow,
		distEvery: cfg.DistributeEvery,
		clock:     cfg.Clock,
		log:       cfg.Logger.WithField("component", "scheduler"),
	}
}

// Start 启动后台轮循环，重复调用为空操作
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.log.WithField("interval", s.interval).Info("pop scheduler started")
}

// Stop 停止轮循环并等待当前轮结束，幂等
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("pop scheduler stopped")
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case <-s.clock.After(s.interval):
			if err := s.RunRound(); err != nil {
				s.log.WithError(err).Warn("pop round failed")
			}
		}
	}
}

// RunRound 执行完整的一轮: 选目标 -> 发挑战 -> 广播 -> 等窗口 -> 校验 -> 记账。
// 同一时刻只允许一轮在跑，后到的调用阻塞等待前一轮完成。
// 没有已钉 CID 时返回错误但不影响后续轮次。
func (s *Scheduler) RunRound() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	targets, err := s.pins.PickRandom(1)
	if err != nil || len(targets) == 0 {
		return xerrors.New("no pinned cid to challenge")
	}
	cid := targets[0]
	localPath, ok := s.pins.Lookup(cid)
	if !ok {
		return xerrors.Errorf("pinned cid %s has no local path", cid)
	}

	challenge, err := s.engine.IssueChallenge(cid, localPath)
	if err != nil {
		return xerrors.Errorf("failed to issue challenge for %s: %w", cid, err)
	}

	if s.publish != nil {
		if err := s.publish(challenge); err != nil {
			s.log.WithError(err).Warn("failed to broadcast challenge")
		}
	}

	// 收集窗口：传输层在此期间向 engine 投递响应
	select {
	case <-s.clock.After(s.window):
	case <-s.stopChan():
	}

	s.engine.ValidateResponses()
	s.rewards.RecordPassingNodes(s.engine.PassingNodes())

	s.roundsDone++
	if s.roundsDone%s.distEvery == 0 {
		s.rewards.Distribute()
	}
	return nil
}

func (s *Scheduler) stopChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		// RunRound 被直接调用（未 Start）时窗口不可中断
		return make(chan struct{})
	}
	return s.stopCh
}
