package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ProcessMCP/internal/compiler"
	xerrors "ProcessMCP/internal/errors"
	"ProcessMCP/internal/observability/alerting"
	"ProcessMCP/internal/observability/metrics"
	"ProcessMCP/internal/risk"
	"ProcessMCP/internal/transport"
	"ProcessMCP/pkg/logger"
)

// Executor 定义了处理器所需的编译能力。
type Executor interface {
	CompileAndExecute(ctx context.Context, targetID, text string, cred transport.Credential, opts compiler.Options) compiler.Result
}

// Processor 负责从队列消费任务并交给编译器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	credential  transport.Credential
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	metrics     *metrics.Collector
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithCredential 设置写消息使用的钱包凭证。
func WithCredential(cred transport.Credential) ProcessorOption {
	return func(p *Processor) {
		p.credential = cred
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithProcessorMetrics 配置任务计数指标。
func WithProcessorMetrics(c *metrics.Collector) ProcessorOption {
	return func(p *Processor) {
		p.metrics = c
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, msg.TaskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logDebug("跳过任务", slog.String("task_id", msg.TaskID), slog.Int("attempt", msg.Attempt), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", msg.TaskID))
		p.emitAlert(ctx, &Task{ID: msg.TaskID, BatchID: msg.BatchID, Step: msg.Step, Total: msg.Total}, CodeTaskProcessing, err, "claim")
		return err
	}
	p.metrics.ObserveTask("claimed")
	// 旧格式消息只有任务 ID，批次位置以存储为准。
	if msg.BatchID == "" && task.BatchID != "" {
		msg = MessageFor(task)
	}

	opts := compiler.Options{
		Mode:       task.Mode,
		Confirmed:  task.Confirmed,
		Parameters: cloneParameters(task.Parameters),
	}
	if msg.BatchID != "" {
		opts.Batch = &risk.BatchContext{ID: msg.BatchID, Step: msg.Step, Total: msg.Total}
	}
	res := p.executor.CompileAndExecute(ctx, task.TargetID, task.Request, p.credential, opts)
	record := summarize(res)

	switch {
	case res.Success:
		return p.handleSuccess(ctx, msg, task, record)
	case res.Status == compiler.StatusConfirmationRequired:
		// 批量执行无法交互确认，直接终止该步骤。
		cause := xerrors.New(xerrors.CodeConfirmationRequired, record.Outcome)
		return p.handleFailure(ctx, msg, task, cause, record)
	case res.Error != nil:
		return p.handleFailure(ctx, msg, task, res.Error.AsError(), record)
	default:
		return p.handleFailure(ctx, msg, task, xerrors.New(CodeTaskProcessing, fmt.Sprintf("request ended with status %s", res.Status)), record)
	}
}

func (p *Processor) handleSuccess(ctx context.Context, msg Message, task *Task, record ExecutionResult) error {
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	p.metrics.ObserveTask("succeeded")
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("batch_id", task.BatchID),
		slog.String("target", task.TargetID),
		slog.String("handler", record.Handler),
	)
	if next, ok := msg.Next(); ok {
		if err := p.producer.Publish(ctx, next); err != nil {
			wrapped := xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("批次 %s 投递第 %d 步失败", next.BatchID, next.Step))
			p.abortBatch(ctx, msg, wrapped)
			return wrapped
		}
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, msg Message, task *Task, cause error, record ExecutionResult) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(cause)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), terminal, &record); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("batch_id", task.BatchID),
		slog.Bool("terminal", terminal),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if !terminal {
		p.metrics.ObserveTask("retried")
		retry := msg
		retry.Attempt = task.Attempts
		if pubErr := p.producer.Publish(ctx, retry); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
		return nil
	}

	p.metrics.ObserveTask("failed")
	stage := "terminal"
	if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, task, code, cause, stage)
	p.abortBatch(ctx, msg, cause)
	return nil
}

// abortBatch 将失败步骤之后尚未执行的步骤标记为终止。
func (p *Processor) abortBatch(ctx context.Context, failed Message, cause error) {
	reason := fmt.Sprintf("step %d failed: %v", failed.Step, cause)
	for _, id := range failed.Remaining() {
		if err := p.store.MarkFailed(ctx, id, CodeTaskBatchAborted, reason, true, nil); err != nil {
			logger.L().Error("终止批次步骤失败", slog.Any("error", err), slog.String("task_id", id))
			continue
		}
		p.metrics.ObserveTask("aborted")
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		BatchID:    task.BatchID,
		TargetID:   task.TargetID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}

// summarize 提取编译结果中需要持久化的部分。
func summarize(res compiler.Result) ExecutionResult {
	out := ExecutionResult{
		RequestID:  res.RequestID,
		Status:     string(res.Status),
		Approach:   string(res.Approach),
		Handler:    res.HandlerUsed,
		Parameters: cloneParameters(res.ParametersUsed),
		Strategy:   string(res.Strategy),
		Response:   res.Response,
	}
	if res.Risk != nil {
		out.RiskLevel = string(res.Risk.Level)
	}
	switch {
	case res.Confirmation != nil:
		out.Outcome = res.Confirmation.Message
	case res.Simulation != nil:
		out.Outcome = res.Simulation.EstimatedOutcome
	case res.Error != nil:
		out.Outcome = res.Error.Message
	}
	return out
}
