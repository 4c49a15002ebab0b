package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ProcessMCP/internal/catalog"
	"ProcessMCP/internal/compiler"
	"ProcessMCP/internal/config"
	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/extract"
	"ProcessMCP/internal/observability/alerting"
	"ProcessMCP/internal/observability/metrics"
	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/risk"
	"ProcessMCP/internal/storage/mysql"
	"ProcessMCP/internal/task"
	"ProcessMCP/internal/transport"
	"ProcessMCP/internal/validate"
	"ProcessMCP/pkg/logger"
)

// app 持有一次运行所需的全部组件。
type app struct {
	cfg        *config.Config
	registry   *transport.Registry
	redis      *redis.Client
	discoverer *protocol.Discoverer
	compiler   *compiler.Compiler
	metrics    *metrics.Collector
	closers    []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func loadConfig() (*config.Config, error) {
	path := config.ResolvePath(configPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && configPath == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newApp 按配置装配编译流水线。
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.registry, err = transport.NewRegistry(ctx, cfg.Transport)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(func() error { a.registry.Close(); return nil }))
	gateway, err := a.registry.Default()
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		a.closers = append(a.closers, a.redis)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
	}

	parser, err := protocol.NewParser(cfg.Discovery.VersionConstraint)
	if err != nil {
		return nil, err
	}
	discoveryOpts := []protocol.DiscoveryOption{
		protocol.WithTTL(cfg.Discovery.TTL()),
		protocol.WithMaxEntries(cfg.Discovery.MaxEntries),
		protocol.WithParser(parser),
		protocol.WithObserver(a.metrics),
	}
	if cfg.Discovery.SharedCache {
		if a.redis == nil {
			return nil, errors.New("shared_cache 需要配置 storage.redis.address")
		}
		store, err := protocol.NewRedisDocumentStore(a.redis, cfg.Discovery.RedisPrefix)
		if err != nil {
			return nil, err
		}
		discoveryOpts = append(discoveryOpts, protocol.WithDocumentStore(store))
	}
	a.discoverer = protocol.NewDiscoverer(gateway, discoveryOpts...)

	detectorOpts := []detect.Option{}
	if cfg.Detection.RulesFile != "" {
		rules, err := detect.LoadRuleSet(cfg.Detection.RulesFile)
		if err != nil {
			return nil, err
		}
		detectorOpts = append(detectorOpts, detect.WithRuleSet(rules))
	}
	detector, err := detect.New(detectorOpts...)
	if err != nil {
		return nil, err
	}
	validator, err := validate.New()
	if err != nil {
		return nil, err
	}
	riskEngine := risk.New(
		risk.WithThresholds(risk.Thresholds{
			Medium:    cfg.Risk.MediumValue,
			High:      cfg.Risk.HighValue,
			HighValue: cfg.Risk.ConfirmAbove,
		}),
		risk.WithAlwaysConfirm(cfg.Risk.AlwaysConfirm),
	)

	handlers := catalog.Default()
	if cfg.Catalog.File != "" {
		if handlers, err = catalog.Load(cfg.Catalog.File); err != nil {
			return nil, err
		}
	}

	executions, err := mysql.Open(ctx, cfg.Storage.ExecutionLog, cfg.Runtime.DataDir)
	if err != nil {
		return nil, err
	}
	if closer, ok := executions.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	a.compiler = compiler.New(gateway,
		compiler.WithDiscoverer(a.discoverer),
		compiler.WithDetector(detector),
		compiler.WithValidator(validator),
		compiler.WithExtractor(extract.New(validator, extract.WithMaxAttempts(cfg.Extraction.MaxAttempts))),
		compiler.WithRiskEngine(riskEngine),
		compiler.WithCatalog(handlers),
		compiler.WithExecutionLog(executions),
		compiler.WithMetrics(a.metrics),
	)
	ok = true
	return a, nil
}

// taskRuntime 装配批量任务的存储与队列。
func (a *app) taskRuntime(ctx context.Context) (task.Store, task.Queue, error) {
	cfg := a.cfg.TaskQueue

	var store task.Store
	switch strings.ToLower(cfg.Store) {
	case "", "memory":
		store = task.NewMemoryStore()
	case "mysql":
		s, err := task.NewMySQLStore(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("%w: %s", mysql.ErrUnsupportedDriver, cfg.Store)
	}
	a.closers = append(a.closers, store)

	var queue task.Queue
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		queue = task.NewMemoryQueue(cfg.Buffer)
	case "redis":
		if a.redis == nil {
			return nil, nil, errors.New("redis 队列需要配置 storage.redis.address")
		}
		queue = task.NewRedisQueueWithClient(a.redis, cfg.Redis.Key, 0)
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:                cfg.RabbitMQ.URL,
			Queue:              cfg.RabbitMQ.Queue,
			Prefetch:           cfg.RabbitMQ.Prefetch,
			Durable:            true,
			DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
		})
		if err != nil {
			return nil, nil, err
		}
		queue = q
	default:
		return nil, nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
	a.closers = append(a.closers, queue)
	return store, queue, nil
}

// alerter 组合日志与 webhook 告警渠道。
func (a *app) alerter() alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := strings.TrimSpace(a.cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    url,
			Client: &http.Client{Timeout: time.Duration(a.cfg.Alerting.TimeoutSeconds) * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func (a *app) credential() transport.Credential {
	cred := transport.Credential{Address: os.Getenv("PROCESSMCP_WALLET_ADDRESS")}
	if walletAddress != "" {
		cred.Address = walletAddress
	}
	return cred
}

// Close 按创建顺序的逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}
	a.closers = nil
}
