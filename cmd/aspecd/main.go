package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ASpec-Commerce/internal/agent"
	"ASpec-Commerce/internal/api"
	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/config"
	"ASpec-Commerce/internal/decision"
	"ASpec-Commerce/internal/decision/gemini"
	"ASpec-Commerce/internal/decision/openai"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/events/sinks"
	"ASpec-Commerce/internal/guardrail"
	"ASpec-Commerce/internal/observability/alerting"
	"ASpec-Commerce/internal/observability/metrics"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement/provider"
	"ASpec-Commerce/internal/storage/mysql"
	"ASpec-Commerce/internal/task"
	"ASpec-Commerce/pkg/logger"
)

// main 是 aspecd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("aspecd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ASPEC_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "aspec.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	registry := metrics.NewRegistry()

	oracle, err := buildOracle(cfg.Oracle, registry)
	if err != nil {
		return err
	}

	strategy, err := provider.Build(ctx, cfg.Settlement)
	if err != nil {
		return err
	}
	defer strategy.Close()

	cat, err := catalog.Load(cfg.Catalog.SeedFile)
	if err != nil {
		return err
	}

	pricing := paywall.NewPriceTable(paywall.DefaultRules())
	if cfg.Paywall.PricingFile != "" {
		if pricing, err = paywall.LoadPriceTable(cfg.Paywall.PricingFile); err != nil {
			return err
		}
	}

	var archive *mysql.Archive
	if cfg.Events.MySQL.Enabled {
		archive, err = mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Events.MySQL.DSN,
			MaxOpenConns:    cfg.Events.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Events.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Events.MySQL.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	protocol := paywall.New(pricing, cat, strategy.Oracle,
		paywall.WithReceiptPolicy(paywall.ReceiptPolicy(cfg.Paywall.ReceiptPolicy)),
		paywall.WithAutoPayLimit(cfg.Paywall.AutoPayLimit),
		paywall.WithObserver(paywallObserver(registry, archive)),
	)

	common := []agent.Option{
		agent.WithEventCapacity(cfg.Agents.EventCapacity),
		agent.WithRecorder(registry),
		agent.WithDecisionTimeout(time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second),
	}
	procurement := agent.NewProcurement(oracle, strategy.Oracle,
		append(common, agent.WithLimits(limits(cfg.Agents.Procurement)))...)
	marketing := agent.NewMarketing(oracle, strategy.Oracle, protocol,
		append(common, agent.WithLimits(limits(cfg.Agents.Marketing)))...)

	closeSinks, err := attachSinks(cfg.Events, archive, procurement, marketing)
	if err != nil {
		return err
	}
	defer closeSinks()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	dispatcher := alerting.NewFanout(notifiers...)

	queue, err := task.NewQueue(cfg.TaskQueue)
	if err != nil {
		return err
	}
	store := task.NewMemoryStore()
	service := task.NewService(store, queue, cfg.TaskQueue.MaxRetries)
	defer func() {
		if err := service.Close(); err != nil {
			logger.L().Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()
	processor := task.NewProcessor(
		&task.AgentExecutor{Procurement: procurement, Marketing: marketing},
		store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(dispatcher),
		task.WithProcessorLogger(logger.Named("task")),
	)

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Procurement: procurement,
		Marketing:   marketing,
		Catalog:     cat,
		Wallet:      strategy,
		Mode:        strategy.Mode,
		Paywall:     protocol,
		Tasks:       service,
		Metrics:     registry,
		Alerter:     dispatcher,
	}, api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownSeconds)*time.Second))

	logger.L().Info("aspecd 启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("oracle", cfg.Oracle.Provider),
		slog.String("settlement", strategy.Mode),
		slog.String("task_queue", cfg.TaskQueue.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func limits(c config.GuardrailConfig) guardrail.Limits {
	return guardrail.Limits{DailyLimit: c.DailyLimit, MaxPerTransaction: c.MaxPerTransaction}
}

func buildOracle(cfg config.OracleConfig, registry *metrics.Registry) (decision.Oracle, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var base decision.Oracle
	switch cfg.Provider {
	case "static":
		base = decision.Static{}
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.ResolveAPIKey(),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		base = client
	case "gemini":
		client, err := gemini.NewClient(gemini.Config{
			APIKey:   cfg.ResolveAPIKey(),
			Endpoint: cfg.BaseURL,
			Model:    cfg.Model,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, fmt.Errorf("不支持的决策提供方: %s", cfg.Provider)
	}

	if cfg.RatePerSecond > 0 {
		base = decision.RateLimited(base, rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst))
	}
	return decision.Guarded(base, decision.OnDegrade(func(in decision.Context, err error) {
		registry.Degraded(in.Kind)
		logger.ForAgent(string(in.Kind)).Warn("决策降级为 HOLD", slog.Any("error", err))
	})), nil
}

// paywallObserver 统计每次付费访问，并在启用归档时写入新付款的收据。
func paywallObserver(registry *metrics.Registry, archive *mysql.Archive) func(string, paywall.Response) {
	return func(resourceID string, resp paywall.Response) {
		registry.Paywall(resourceID, resp)
		if archive == nil || !resp.Success || resp.Reused || resp.Receipt == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := archive.AppendReceipt(ctx, resourceID, *resp.Receipt); err != nil {
			logger.Named("paywall").Warn("归档收据失败", slog.String("resource", resourceID), slog.Any("error", err))
		}
	}
}

type subscriber interface {
	Subscribe(fn events.Observer) func()
}

// attachSinks 按配置把事件导出到审计日志、Redis、RabbitMQ 与 MySQL。
// 每个 sink 都经过 Buffered 包装，慢速导出不会拖慢流水线。
func attachSinks(cfg config.EventsConfig, archive *mysql.Archive, agents ...subscriber) (func(), error) {
	var (
		observers    []events.Observer
		connections  []func()
		unsubscribes []func()
		buffers      []*events.BufferedObserver
	)
	// 关闭顺序：取消订阅，排空缓冲，最后断开连接。
	cleanup := func() {
		for _, fn := range unsubscribes {
			fn()
		}
		for _, b := range buffers {
			b.Close()
		}
		for _, fn := range connections {
			fn()
		}
	}

	if cfg.Audit {
		observers = append(observers, sinks.NewAudit(logger.Audit()).Observe)
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		connections = append(connections, func() { _ = client.Close() })
		observers = append(observers, sinks.NewRedis(client, cfg.Redis.Key).Observe)
	}
	if cfg.RabbitMQ.Enabled {
		sink, err := sinks.DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			cleanup()
			return nil, err
		}
		connections = append(connections, func() { _ = sink.Close() })
		observers = append(observers, sink.Observe)
	}
	if archive != nil {
		observers = append(observers, sinks.NewArchive(archive).Observe)
	}

	for _, obs := range observers {
		buffered := events.Buffered(obs, cfg.BufferSize)
		buffers = append(buffers, buffered)
		for _, a := range agents {
			unsubscribes = append(unsubscribes, a.Subscribe(buffered.Observe))
		}
	}
	return cleanup, nil
}
