// Package api 提供节点状态的 HTTP 查询接口
//
// 核心功能:
//   - 共识查询: 当前挑战、轮次历史、最近通过集合
//   - 奖励查询: 奖池余额、节点余额与连胜
//   - 钉存管理: 查询、登记、移除钉存 CID
//   - 手动触发: 立即执行一轮 PoP 挑战
//
// 注意事项:
//   - 接口只读为主，写操作仅限钉存管理和手动触发
//   - 监听地址默认只绑回环，对外暴露需自行加鉴权
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"popchain/pkg/consensus"
	"popchain/pkg/pinned"
	"popchain/pkg/reward"
)

// RoundRunner 手动触发一轮挑战，由 scheduler.Scheduler 实现
type RoundRunner interface {
	RunRound() error
}

// Server HTTP查询服务器
type Server struct {
	server  *http.Server
	engine  *consensus.Engine
	rewards *reward.Scheduler
	pins    *pinned.Registry
	runner  RoundRunner
	router  *http.ServeMux
	log     logrus.FieldLogger
	mu      sync.RWMutex
	started bool
}

// NewServer 创建查询服务器。runner 可为 nil（禁用手动触发）。
func NewServer(listen string, engine *consensus.Engine, rewards *reward.Scheduler,
	pins *pinned.Registry, runner RoundRunner, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := http.NewServeMux()
	srv := &Server{
		engine:  engine,
		rewards: rewards,
		pins:    pins,
		runner:  runner,
		router:  router,
		log:     logger.WithField("component", "api"),
	}

	// 注册路由
	srv.registerRoutes()

	// 配置HTTP服务器
	srv.server = &http.Server{
		Addr:         listen,
		Handler:      srv.corsMiddleware(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return srv
}

// registerRoutes 注册所有路由
func (s *Server) registerRoutes() {
	// 健康检查
	s.router.HandleFunc("GET /api/health", s.handleHealth)

	// 共识查询
	s.router.HandleFunc("GET /api/v1/consensus/round", s.handleActiveRound)
	s.router.HandleFunc("GET /api/v1/consensus/history", s.handleHistory)
	s.router.HandleFunc("GET /api/v1/consensus/passing", s.handlePassing)
	s.router.HandleFunc("POST /api/v1/consensus/trigger", s.handleTrigger)

	// 奖励查询
	s.router.HandleFunc("GET /api/v1/rewards/pool", s.handlePool)
	s.router.HandleFunc("GET /api/v1/rewards/nodes", s.handleRewardNodes)
	s.router.HandleFunc("GET /api/v1/rewards/balance/{node}", s.handleBalance)

	// 钉存管理
	s.router.HandleFunc("GET /api/v1/pinned", s.handlePinList)
	s.router.HandleFunc("POST /api/v1/pinned", s.handlePinAdd)
	s.router.HandleFunc("DELETE /api/v1/pinned/{cid}", s.handlePinRemove)
}

// Handler 返回带 CORS 的根处理器，测试时直接挂到 httptest
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// Start 启动HTTP服务器
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.log.WithField("listen", s.server.Addr).Info("HTTP API server listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown 关闭HTTP服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.log.Info("Shutting down HTTP API server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.log.Info("HTTP API server stopped")
	return nil
}

// corsMiddleware CORS中间件
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
