package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentMesh-Chain/internal/a2a"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/observability/metrics"
	"AgentMesh-Chain/internal/payment"
	"AgentMesh-Chain/internal/roles"
	"AgentMesh-Chain/internal/task"
)

// Server 负责暴露 REST 接口，供外部发布任务并查询协调状态。
type Server struct {
	addr       string
	issuer     *roles.Issuer
	tasks      *task.Machine
	escrow     *payment.Escrow
	correlator *a2a.Correlator
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, issuer *roles.Issuer, tasks *task.Machine, escrow *payment.Escrow, correlator *a2a.Correlator) *Server {
	return &Server{addr: addr, issuer: issuer, tasks: tasks, escrow: escrow, correlator: correlator}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回路由表，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/tasks", metrics.Instrument("tasks", http.HandlerFunc(s.handleTasks)))
	mux.Handle("/api/v1/tasks/", metrics.Instrument("task_detail", http.HandlerFunc(s.handleTaskDetail)))
	mux.Handle("/api/v1/payments/", metrics.Instrument("payment_detail", http.HandlerFunc(s.handlePaymentDetail)))
	mux.Handle("/api/v1/threads/", metrics.Instrument("thread_detail", http.HandlerFunc(s.handleThreadDetail)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// createTaskRequest 是发布任务的请求体。
type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	created, err := s.issuer.Submit(r.Context(), req.Title, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	results, err := s.tasks.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "任务 ID 不合法", http.StatusBadRequest)
		return
	}
	result, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handlePaymentDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.escrow == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "支付 ID 不合法", http.StatusBadRequest)
		return
	}
	result, err := s.escrow.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleThreadDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.correlator == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	thid := strings.TrimPrefix(r.URL.Path, "/api/v1/threads/")
	if thid == "" {
		http.Error(w, "线程 ID 不合法", http.StatusBadRequest)
		return
	}
	thread := s.correlator.Thread(thid)
	if len(thread) == 0 {
		http.Error(w, "线程不存在", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(thread)
}

// writeError 把统一错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeValidation, task.CodeTaskValidation, payment.CodePaymentValidation:
		status = http.StatusBadRequest
	case xerrors.CodeInvalidTransition, xerrors.CodeStaleVersion,
		task.CodeTaskConflict, payment.CodePaymentConflict:
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
