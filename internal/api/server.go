package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ProcessMCP/internal/auth"
	"ProcessMCP/internal/compiler"
	"ProcessMCP/internal/observability/metrics"
	"ProcessMCP/internal/task"
	"ProcessMCP/internal/transport"
	"ProcessMCP/pkg/logger"
)

// maxBodyBytes 限制单个请求体的大小。
const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口，供外部编译请求、提交批次与查看缓存。
type Server struct {
	addr       string
	compiler   *compiler.Compiler
	tasks      *task.Service
	metrics    *metrics.Collector
	credential transport.Credential
	auth       *auth.Service
	log        *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithTaskService 启用批次接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) {
		s.tasks = svc
	}
}

// WithMetrics 记录 HTTP 指标并暴露 /metrics。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithCredential 设置写消息默认使用的钱包凭证。
func WithCredential(cred transport.Credential) Option {
	return func(s *Server) {
		s.credential = cred
	}
}

// WithAuth 为 /api/v1 下的接口启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, c *compiler.Compiler, opts ...Option) *Server {
	s := &Server{addr: addr, compiler: c, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/compile", "compile", s.handleCompile, auth.PermCompile)
	s.route(mux, "POST /api/v1/simulate", "simulate", s.handleSimulate, auth.PermSimulate)
	s.route(mux, "GET /api/v1/discovery/cache", "discovery_cache", s.handleCacheStats, auth.PermRead)
	s.route(mux, "DELETE /api/v1/discovery/cache", "discovery_cache", s.handleCacheClear, auth.PermAdmin)
	s.route(mux, "GET /api/v1/encoding/preferences", "encoding_preferences", s.handlePreferences, auth.PermRead)
	s.route(mux, "DELETE /api/v1/encoding/preferences", "encoding_preferences", s.handlePreferencesClear, auth.PermAdmin)
	s.route(mux, "GET /api/v1/executions", "executions", s.handleExecutions, auth.PermRead)
	s.route(mux, "POST /api/v1/batches", "batches", s.handleCreateBatch, auth.PermTasks)
	s.route(mux, "GET /api/v1/batches/{id}", "batch_detail", s.handleBatchDetail, auth.PermRead)
	s.route(mux, "POST /api/v1/tasks", "tasks", s.handleCreateTask, auth.PermTasks)
	s.route(mux, "GET /api/v1/tasks", "tasks", s.handleListTasks, auth.PermRead)
	s.route(mux, "GET /api/v1/tasks/{id}", "task_detail", s.handleTaskDetail, auth.PermRead)
	s.route(mux, "GET /healthz", "healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}, "")
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// route 注册处理器；perm 为空的接口不做认证。
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc, perm string) {
	var handler http.Handler = h
	if perm != "" {
		handler = s.auth.Middleware(perm)(handler)
	}
	mux.Handle(pattern, s.instrument(name, handler))
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
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

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

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
		s.log.Debug("request served",
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(started)),
		)
	})
}
