package task

import (
	stdErrors "errors"

	xerrors "ProcessMCP/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次编译调用的摘要。
type ExecutionResult struct {
	RequestID  string         `json:"request_id"`
	Status     string         `json:"status"`
	Approach   string         `json:"approach,omitempty"`
	Handler    string         `json:"handler,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	RiskLevel  string         `json:"risk_level,omitempty"`
	Response   any            `json:"response,omitempty"`
	// Outcome 为模拟结果或确认提示的文字说明。
	Outcome string `json:"outcome,omitempty"`
}

// Request 描述提交单个任务所需的信息。
type Request struct {
	ID         string         `json:"id,omitempty"`
	TargetID   string         `json:"target_id"`
	Request    string         `json:"request"`
	Mode       string         `json:"mode,omitempty"`
	Confirmed  bool           `json:"confirmed,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// BatchRequest 描述按顺序执行的多步请求。步骤未填写目标时使用批次目标。
type BatchRequest struct {
	ID        string    `json:"id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Confirmed bool      `json:"confirmed,omitempty"`
	Steps     []Request `json:"steps"`
}

// Task 描述排队执行的编译请求。
type Task struct {
	ID         string           `json:"id"`
	BatchID    string           `json:"batch_id,omitempty"`
	Step       int              `json:"step,omitempty"`
	Total      int              `json:"total,omitempty"`
	TargetID   string           `json:"target_id"`
	Request    string           `json:"request"`
	Mode       string           `json:"mode,omitempty"`
	Confirmed  bool             `json:"confirmed"`
	Parameters map[string]any   `json:"parameters,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
	// SubmittedBy 为提交任务的 API 令牌名称，未启用认证时为空。
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// Batch 汇总一个批次的全部步骤。
type Batch struct {
	ID    string    `json:"id"`
	Stats TaskStats `json:"stats"`
	Tasks []*Task   `json:"tasks"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskCompleted 表示任务已经成功完成。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTaskExhausted 表示任务已经最终失败或重试次数耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeTaskNotFound     xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict     xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted    xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted    xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation   xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish      xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing   xerrors.Code = "TASK_PROCESSING_FAILED"
	CodeTaskBatchAborted xerrors.Code = "TASK_BATCH_ABORTED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:  "task already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskBatchAborted, xerrors.Attributes{
		Message:  "an earlier batch step failed",
		Severity: xerrors.SeverityWarning,
	})
}

// IsTaskError 判断错误是否为统一任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrTaskNotFound) {
		return target == CodeTaskNotFound
	}
	if stdErrors.Is(err, ErrTaskConflict) {
		return target == CodeTaskConflict
	}
	if stdErrors.Is(err, ErrTaskCompleted) {
		return target == CodeTaskCompleted
	}
	if stdErrors.Is(err, ErrTaskExhausted) {
		return target == CodeTaskExhausted
	}
	return false
}

func cloneParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cloned := make(map[string]any, len(params))
	for key, value := range params {
		cloned[key] = value
	}
	return cloned
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		resultCopy := *task.Result
		resultCopy.Parameters = cloneParameters(task.Result.Parameters)
		clone.Result = &resultCopy
	}
	clone.Parameters = cloneParameters(task.Parameters)
	return &clone
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Finished 判断任务是否已经结束。
func (t *Task) Finished() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// IsValidationError 判断错误是否因提交内容不合法。
func IsValidationError(err error) bool {
	return xerrors.CodeOf(err) == CodeTaskValidation
}
