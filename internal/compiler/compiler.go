package compiler

import (
	"context"
	"log/slog"

	"ProcessMCP/internal/catalog"
	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/encoding"
	"ProcessMCP/internal/extract"
	"ProcessMCP/internal/observability/metrics"
	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/risk"
	"ProcessMCP/internal/simulate"
	"ProcessMCP/internal/storage/mysql"
	"ProcessMCP/internal/transport"
	"ProcessMCP/internal/validate"
	"ProcessMCP/pkg/logger"
)

// Compiler 协调编译流水线的各个阶段，是系统的业务核心。
type Compiler struct {
	transport  transport.Transport
	discoverer *protocol.Discoverer
	detector   *detect.Detector
	validator  *validate.Validator
	extractor  *extract.Engine
	selector   *encoding.Selector
	risk       *risk.Engine
	simulator  *simulate.Simulator
	catalog    catalog.Provider
	executions mysql.Repository
	metrics    *metrics.Collector
	log        *slog.Logger

	minHandlerScore float64
}

// Option 定义可选的 Compiler 配置。
type Option func(*Compiler)

// defaultMinHandlerScore 是选择处理器时要求的最低匹配分。
const defaultMinHandlerScore = 0.4

// WithDiscoverer 使用外部构造的协议发现缓存。
func WithDiscoverer(d *protocol.Discoverer) Option {
	return func(c *Compiler) { c.discoverer = d }
}

// WithDetector 替换操作类型识别器。
func WithDetector(d *detect.Detector) Option {
	return func(c *Compiler) { c.detector = d }
}

// WithValidator 替换参数校验器。
func WithValidator(v *validate.Validator) Option {
	return func(c *Compiler) { c.validator = v }
}

// WithExtractor 替换参数提取引擎。
func WithExtractor(e *extract.Engine) Option {
	return func(c *Compiler) { c.extractor = e }
}

// WithSelector 替换编码策略选择器。
func WithSelector(s *encoding.Selector) Option {
	return func(c *Compiler) { c.selector = s }
}

// WithRiskEngine 替换风险评估引擎。
func WithRiskEngine(r *risk.Engine) Option {
	return func(c *Compiler) { c.risk = r }
}

// WithSimulator 替换模拟执行器。
func WithSimulator(s *simulate.Simulator) Option {
	return func(c *Compiler) { c.simulator = s }
}

// WithCatalog 配置未自描述目标使用的处理器模板。
func WithCatalog(p catalog.Provider) Option {
	return func(c *Compiler) { c.catalog = p }
}

// WithExecutionLog 配置执行记录仓库。
func WithExecutionLog(repo mysql.Repository) Option {
	return func(c *Compiler) { c.executions = repo }
}

// WithMetrics 配置 Prometheus 指标收集器。
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Compiler) { c.metrics = m }
}

// WithLogger 覆盖组件日志。
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMinHandlerScore 设置处理器匹配的最低分数。
func WithMinHandlerScore(score float64) Option {
	return func(c *Compiler) {
		if score > 0 && score <= 1 {
			c.minHandlerScore = score
		}
	}
}

// New 创建一个 Compiler，未配置的协作者使用默认实现。
func New(t transport.Transport, opts ...Option) *Compiler {
	c := &Compiler{
		transport:       t,
		log:             logger.Named("compiler"),
		minHandlerScore: defaultMinHandlerScore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.discoverer == nil {
		var observer protocol.Observer
		if c.metrics != nil {
			observer = c.metrics
		}
		c.discoverer = protocol.NewDiscoverer(t, protocol.WithObserver(observer))
	}
	if c.detector == nil {
		c.detector = detect.MustNew()
	}
	if c.validator == nil {
		c.validator = validate.MustNew()
	}
	if c.extractor == nil {
		c.extractor = extract.New(c.validator)
	}
	if c.selector == nil {
		c.selector = encoding.NewSelector()
	}
	if c.risk == nil {
		c.risk = risk.New()
	}
	if c.simulator == nil {
		c.simulator = simulate.New(c.validator, c.risk)
	}
	if c.catalog == nil {
		c.catalog = catalog.Default()
	}
	return c
}

// ClearDiscoveryCache 清空协议文档缓存（含共享的二级缓存）。
func (c *Compiler) ClearDiscoveryCache(ctx context.Context) {
	c.discoverer.Clear(ctx)
}

// ClearEncodingPreferences 清空已学习的编码偏好。
func (c *Compiler) ClearEncodingPreferences() {
	c.selector.Clear()
}

// DiscoveryCacheStats 返回协议文档缓存的统计信息。
func (c *Compiler) DiscoveryCacheStats() protocol.CacheStats {
	return c.discoverer.Stats()
}

// EncodingPreferences 返回已学习的编码偏好。
func (c *Compiler) EncodingPreferences() encoding.PreferenceStats {
	return c.selector.Stats()
}
