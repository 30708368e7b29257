package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIResponse 统一的API响应格式
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// respondJSON 发送JSON响应
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError 发送错误响应
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// respondSuccess 发送成功响应
func (s *Server) respondSuccess(w http.ResponseWriter, data interface{}) {
	s.respondJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondSuccess(w, map[string]string{
		"status":  "ok",
		"service": "popchain-api",
	})
}

// handleActiveRound 查询进行中的挑战
func (s *Server) handleActiveRound(w http.ResponseWriter, r *http.Request) {
	challenge, ok := s.engine.ActiveChallenge()
	if !ok {
		s.respondSuccess(w, map[string]interface{}{
			"active": false,
		})
		return
	}

	s.respondSuccess(w, map[string]interface{}{
		"active":    true,
		"challenge": challenge,
	})
}

// roundView 轮次历史的对外视图
type roundView struct {
	CID          string    `json:"cid"`
	Root         string    `json:"root"`
	Offsets      []int     `json:"offsets"`
	PassingNodes []string  `json:"passing_nodes"`
	Timestamp    time.Time `json:"timestamp"`
}

// handleHistory 查询已冻结的轮次历史（从旧到新）
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.engine.History()
	views := make([]roundView, 0, len(history))
	for _, rec := range history {
		views = append(views, roundView{
			CID:          rec.CID,
			Root:         rec.Root,
			Offsets:      rec.Offsets,
			PassingNodes: rec.PassingNodes,
			Timestamp:    rec.Timestamp,
		})
	}

	s.respondSuccess(w, map[string]interface{}{
		"count":  len(views),
		"rounds": views,
	})
}

// handlePassing 查询最近一次校验的通过集合
func (s *Server) handlePassing(w http.ResponseWriter, r *http.Request) {
	nodes := s.engine.PassingNodes()
	if nodes == nil {
		nodes = []string{}
	}
	s.respondSuccess(w, map[string]interface{}{
		"count": len(nodes),
		"nodes": nodes,
	})
}

// handleTrigger 手动触发一轮挑战
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.respondError(w, http.StatusNotImplemented, "Manual trigger not enabled")
		return
	}

	if err := s.runner.RunRound(); err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Round failed: %v", err))
		return
	}

	s.respondSuccess(w, map[string]string{
		"message": "Round completed",
	})
}

// handlePool 查询奖池余额
func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	s.respondSuccess(w, map[string]interface{}{
		"pool": s.rewards.PoolBalance(),
	})
}

// handleRewardNodes 查询账本中全部节点的连胜与余额
func (s *Server) handleRewardNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.rewards.Nodes()
	accounts := make([]map[string]interface{}, 0, len(nodes))
	for _, node := range nodes {
		accounts = append(accounts, map[string]interface{}{
			"node":    node,
			"streak":  s.rewards.Streak(node),
			"balance": s.rewards.Balance(node),
		})
	}

	s.respondSuccess(w, map[string]interface{}{
		"count": len(accounts),
		"nodes": accounts,
	})
}

// handleBalance 查询单个节点的余额与连胜
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	node := r.PathValue("node")
	if node == "" {
		s.respondError(w, http.StatusBadRequest, "Node id is required")
		return
	}

	s.respondSuccess(w, map[string]interface{}{
		"node":    node,
		"streak":  s.rewards.Streak(node),
		"balance": s.rewards.Balance(node),
	})
}

// handlePinList 查询已钉 CID 列表
func (s *Server) handlePinList(w http.ResponseWriter, r *http.Request) {
	cids := s.pins.List()
	s.respondSuccess(w, map[string]interface{}{
		"count": len(cids),
		"cids":  cids,
	})
}

// handlePinAdd 登记一个钉存映射
func (s *Server) handlePinAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CID  string `json:"cid"`
		Path string `json:"path"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := s.pins.Pin(req.CID, req.Path); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Pin failed: %v", err))
		return
	}

	s.respondSuccess(w, map[string]string{
		"cid":     req.CID,
		"message": "Pinned successfully",
	})
}

// handlePinRemove 移除一个钉存映射
func (s *Server) handlePinRemove(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if cid == "" {
		s.respondError(w, http.StatusBadRequest, "CID is required")
		return
	}

	if err := s.pins.Unpin(cid); err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Unpin failed: %v", err))
		return
	}

	s.respondSuccess(w, map[string]string{
		"cid":     cid,
		"message": "Unpinned successfully",
	})
}
