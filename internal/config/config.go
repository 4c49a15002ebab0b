package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ProcessMCP/internal/auth"
	"ProcessMCP/pkg/logger"
)

// DefaultPath 为未指定配置文件时使用的路径。
const DefaultPath = "configs/processmcp.json"

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "PROCESSMCP_CONFIG"

// Config 描述了 ProcessMCP 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    logger.Config    `json:"logging"`
	Transport  TransportConfig  `json:"transport"`
	Discovery  DiscoveryConfig  `json:"discovery"`
	Detection  DetectionConfig  `json:"detection"`
	Extraction ExtractionConfig `json:"extraction"`
	Risk       RiskConfig       `json:"risk"`
	Catalog    CatalogConfig    `json:"catalog"`
	Storage    StorageConfig    `json:"storage"`
	TaskQueue  TaskQueueConfig  `json:"task_queue"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string      `json:"address"`
	Auth    auth.Config `json:"auth"`
}

// TransportConfig 描述消息网关的连接方式。
type TransportConfig struct {
	// GatewaysFile 指向 YAML 格式的网关定义。
	GatewaysFile   string  `json:"gateways_file"`
	DefaultGateway string  `json:"default_gateway"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	RateLimit      float64 `json:"rate_limit"`
	Burst          int     `json:"burst"`
}

// Timeout 返回单次调用的超时时间。
func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// DiscoveryConfig 控制协议文档缓存。
type DiscoveryConfig struct {
	TTLSeconds        int    `json:"ttl_seconds"`
	MaxEntries        int    `json:"max_entries"`
	VersionConstraint string `json:"version_constraint"`
	// SharedCache 为 true 时使用 Redis 作为二级缓存。
	SharedCache bool   `json:"shared_cache"`
	RedisPrefix string `json:"redis_prefix"`
}

// TTL 返回缓存有效期。
func (d DiscoveryConfig) TTL() time.Duration {
	return time.Duration(d.TTLSeconds) * time.Second
}

// DetectionConfig 允许覆盖内置的意图规则表。
type DetectionConfig struct {
	RulesFile string `json:"rules_file"`
}

// ExtractionConfig 控制参数提取的重试次数。
type ExtractionConfig struct {
	MaxAttempts int `json:"max_attempts"`
}

// RiskConfig 定义风险评估的金额阈值。
type RiskConfig struct {
	MediumValue   float64 `json:"medium_value"`
	HighValue     float64 `json:"high_value"`
	ConfirmAbove  float64 `json:"confirm_above"`
	AlwaysConfirm bool    `json:"always_confirm"`
}

// CatalogConfig 指定旧路径使用的处理器模板文件。
type CatalogConfig struct {
	File string `json:"file"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	ExecutionLog ExecutionLogConfig `json:"execution_log"`
	Redis        RedisConfig        `json:"redis"`
}

// ExecutionLogConfig 控制执行记录的存储方式。
type ExecutionLogConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled 判断是否配置了 Redis。
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Address) != ""
}

// TaskQueueConfig 描述批量任务队列。
type TaskQueueConfig struct {
	Driver string `json:"driver"`
	// Store 为 memory 或 mysql；mysql 时未填写 DSN 则复用执行日志的 DSN。
	Store      string         `json:"store"`
	StoreDSN   string         `json:"store_dsn"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
	Buffer     int            `json:"buffer"`
	Redis      RedisQueue     `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 为 Redis 队列提供键名配置。
type RedisQueue struct {
	Key string `json:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	// DeadLetterExchange 接收无法解析的消息。
	DeadLetterExchange string `json:"dead_letter_exchange,omitempty"`
}

// AlertingConfig 描述批量任务最终失败时的告警渠道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// ResolvePath 根据参数与环境变量确定配置文件路径。
func ResolvePath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults(".")
	return cfg
}

// applyEnv 使用环境变量覆盖部分连接信息，便于容器部署。
func (c *Config) applyEnv() {
	if v := os.Getenv("PROCESSMCP_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("PROCESSMCP_API_TOKEN"); v != "" {
		c.Server.Auth.Tokens = append(c.Server.Auth.Tokens, auth.Token{
			Name:        "env",
			Token:       v,
			Permissions: []string{auth.PermAdmin},
		})
	}
	if v := os.Getenv("PROCESSMCP_EXECUTION_LOG_DSN"); v != "" {
		c.Storage.ExecutionLog.DSN = v
		if c.Storage.ExecutionLog.Driver == "" {
			c.Storage.ExecutionLog.Driver = "mysql"
		}
	}
	if v := os.Getenv("PROCESSMCP_REDIS_ADDRESS"); v != "" {
		c.Storage.Redis.Address = v
	}
	if v := os.Getenv("PROCESSMCP_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("PROCESSMCP_RABBITMQ_URL"); v != "" {
		c.TaskQueue.RabbitMQ.URL = v
	}
	if v := os.Getenv("PROCESSMCP_ALERT_WEBHOOK_URL"); v != "" {
		c.Alerting.WebhookURL = v
	}
	if v := os.Getenv("PROCESSMCP_TASK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TaskQueue.Workers = n
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit/audit.log"
	}

	if c.Transport.TimeoutSeconds <= 0 {
		c.Transport.TimeoutSeconds = 30
	}
	if c.Transport.RateLimit <= 0 {
		c.Transport.RateLimit = 10
	}
	if c.Transport.Burst <= 0 {
		c.Transport.Burst = 5
	}
	c.Transport.GatewaysFile = resolve(baseDir, c.Transport.GatewaysFile)

	if c.Discovery.TTLSeconds <= 0 {
		c.Discovery.TTLSeconds = 300
	}
	if c.Discovery.MaxEntries <= 0 {
		c.Discovery.MaxEntries = 256
	}
	if c.Discovery.VersionConstraint == "" {
		c.Discovery.VersionConstraint = ">=1.0.0, <2.0.0"
	}
	if c.Discovery.RedisPrefix == "" {
		c.Discovery.RedisPrefix = "processmcp:protocol:"
	}

	c.Detection.RulesFile = resolve(baseDir, c.Detection.RulesFile)
	c.Catalog.File = resolve(baseDir, c.Catalog.File)

	if c.Extraction.MaxAttempts <= 0 {
		c.Extraction.MaxAttempts = 5
	}

	if c.Risk.MediumValue <= 0 {
		c.Risk.MediumValue = 10_000
	}
	if c.Risk.HighValue <= 0 {
		c.Risk.HighValue = 1_000_000
	}
	if c.Risk.ConfirmAbove <= 0 {
		c.Risk.ConfirmAbove = 100_000
	}

	if c.Storage.ExecutionLog.Driver == "" {
		c.Storage.ExecutionLog.Driver = "memory"
	}
	if c.Storage.ExecutionLog.MaxOpenConns <= 0 {
		c.Storage.ExecutionLog.MaxOpenConns = 10
	}
	if c.Storage.ExecutionLog.MaxIdleConns <= 0 {
		c.Storage.ExecutionLog.MaxIdleConns = 5
	}
	if c.Storage.ExecutionLog.ConnMaxLifetime <= 0 {
		c.Storage.ExecutionLog.ConnMaxLifetime = 300
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Store == "" {
		c.TaskQueue.Store = "memory"
	}
	if c.TaskQueue.StoreDSN == "" {
		c.TaskQueue.StoreDSN = c.Storage.ExecutionLog.DSN
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 2
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 64
	}
	if c.TaskQueue.Redis.Key == "" {
		c.TaskQueue.Redis.Key = "processmcp:tasks"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "processmcp.tasks"
	}
	if c.TaskQueue.RabbitMQ.Prefetch <= 0 {
		c.TaskQueue.RabbitMQ.Prefetch = c.TaskQueue.Workers
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 10
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
