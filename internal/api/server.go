package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ASpec-Commerce/internal/agent"
	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/observability/alerting"
	"ASpec-Commerce/internal/observability/metrics"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/internal/task"
	"ASpec-Commerce/pkg/logger"
)

// Wallet 提供结算钱包的余额，provider.Strategy 满足该接口。
type Wallet interface {
	Balance(ctx context.Context) (settlement.Balance, error)
}

// Dependencies 汇总 HTTP 层用到的组件。Tasks、Paywall、Metrics、Alerter 可以为空。
type Dependencies struct {
	Procurement *agent.Procurement
	Marketing   *agent.Marketing
	Catalog     *catalog.Catalog
	Wallet      Wallet
	Mode        string
	Paywall     *paywall.Protocol
	Tasks       *task.Service
	Metrics     *metrics.Registry
	Alerter     alerting.Dispatcher
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	deps     Dependencies
	webhooks *WebhookInbox
	shutdown time.Duration
	log      *slog.Logger
}

// Option 定制 Server。
type Option func(*Server)

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies, opts ...Option) *Server {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	s := &Server{
		addr:     addr,
		deps:     deps,
		webhooks: NewWebhookInbox(webhookCapacity),
		shutdown: 5 * time.Second,
		log:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册好全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/agents/{kind}/analyze", "analyze", s.handleAnalyze)
	s.route(mux, "POST /api/v1/agents/marketing/discover", "discover", s.handleDiscover)
	s.route(mux, "PATCH /api/v1/agents/{kind}/guardrails", "guardrails", s.handleGuardrails)
	s.route(mux, "GET /api/v1/status", "status", s.handleStatus)
	s.route(mux, "GET /api/v1/events", "events", s.handleEvents)
	s.route(mux, "POST /api/v1/reset", "reset", s.handleReset)
	s.route(mux, "GET /api/v1/samples", "samples", s.handleSamples)
	s.route(mux, "GET /api/v1/paywall/receipts", "receipts", s.handleReceipts)
	s.route(mux, "POST /api/v1/webhook", "webhook", s.handleWebhookPost)
	s.route(mux, "GET /api/v1/webhook", "webhook", s.handleWebhookList)
	s.route(mux, "POST /api/v1/jobs", "jobs", s.handleSubmitJob)
	s.route(mux, "GET /api/v1/jobs", "jobs", s.handleListJobs)
	s.route(mux, "GET /api/v1/jobs/{id}", "job", s.handleGetJob)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.deps.Metrics != nil {
		h = s.deps.Metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
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
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 在根上下文取消后拒绝新请求。
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
