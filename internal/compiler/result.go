package compiler

import (
	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/encoding"
	xerrors "ProcessMCP/internal/errors"
	"ProcessMCP/internal/extract"
	"ProcessMCP/internal/risk"
	"ProcessMCP/internal/simulate"
	"ProcessMCP/internal/transport"
)

// Approach 标识本次编译是否使用了目标自描述的协议文档。
type Approach string

const (
	ApproachProtocol Approach = "protocol"
	ApproachLegacy   Approach = "legacy"
)

// Status 是一次调用的最终状态。
type Status string

const (
	StatusExecuted             Status = "executed"
	StatusSimulated            Status = "simulated"
	StatusConfirmationRequired Status = "confirmation_required"
	StatusFailed               Status = "failed"
)

// Kind 是面向调用方的失败类型。
type Kind string

const (
	KindInvalidRequest     Kind = "InvalidRequest"
	KindDetectionAmbiguous Kind = "DetectionAmbiguous"
	KindExtractionFailed   Kind = "ExtractionFailed"
	KindValidationFailed   Kind = "ValidationFailed"
	KindDispatchFailed     Kind = "DispatchFailed"
)

// Code 将失败类型映射为统一错误码。
func (k Kind) Code() xerrors.Code {
	switch k {
	case KindInvalidRequest:
		return xerrors.CodeInvalidArgument
	case KindDetectionAmbiguous:
		return xerrors.CodeDetectionAmbiguous
	case KindExtractionFailed:
		return xerrors.CodeExtractionFailed
	case KindValidationFailed:
		return xerrors.CodeValidationFailed
	case KindDispatchFailed:
		return xerrors.CodeDispatchFailed
	default:
		return xerrors.CodeUnknown
	}
}

// Failure 描述流水线中止的原因。
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Category 仅在 DispatchFailed 时给出，是对失败原因的猜测。
	Category   xerrors.DispatchCategory `json:"category,omitempty"`
	Fixes      []string                 `json:"fixes,omitempty"`
	Strategies []extract.Strategy       `json:"strategies,omitempty"`
	Reasoning  []string                 `json:"reasoning,omitempty"`
}

// Error 实现 error 接口，便于与统一错误类型互转。
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return string(f.Kind) + ": " + f.Message
}

// AsError 将失败转换为统一错误类型。
func (f *Failure) AsError() error {
	if f == nil {
		return nil
	}
	opts := []xerrors.Option{xerrors.WithMetadata("kind", string(f.Kind))}
	if f.Category != "" {
		opts = append(opts, xerrors.WithMetadata("category", string(f.Category)))
		// 只有网络类的投递失败值得重试。
		opts = append(opts, xerrors.WithRetryable(f.Category == xerrors.DispatchNetwork))
	}
	return xerrors.New(f.Kind.Code(), f.Message, opts...)
}

// Result 汇总一次编译调用的全部产物。
type Result struct {
	RequestID      string                   `json:"requestId"`
	TargetID       string                   `json:"targetId"`
	Success        bool                     `json:"success"`
	Status         Status                   `json:"status"`
	Approach       Approach                 `json:"approach"`
	HandlerUsed    string                   `json:"handlerUsed,omitempty"`
	ParametersUsed map[string]any           `json:"parametersUsed,omitempty"`
	Confidence     float64                  `json:"confidence"`
	Detection      *detect.Result           `json:"detection,omitempty"`
	Extraction     *extract.Result          `json:"extraction,omitempty"`
	Strategy       encoding.Strategy        `json:"strategy,omitempty"`
	Tags           []transport.Tag          `json:"tags,omitempty"`
	Data           *string                  `json:"data,omitempty"`
	Response       any                      `json:"response,omitempty"`
	Risk           *risk.Assessment         `json:"risk,omitempty"`
	Confirmation   *risk.ConfirmationPrompt `json:"confirmation,omitempty"`
	Simulation     *simulate.Result         `json:"simulation,omitempty"`
	Guidance       string                   `json:"guidance,omitempty"`
	Error          *Failure                 `json:"error,omitempty"`
}

// Options 控制单次调用的行为。
type Options struct {
	// Mode 为 read、write、validate 或 auto，空值等同 auto。
	Mode string `json:"mode,omitempty"`
	// Confirmed 表示调用方已确认过风险提示。
	Confirmed bool `json:"confirmed,omitempty"`
	// RequireConfirmation 强制在投递前返回确认提示。
	RequireConfirmation bool `json:"requireConfirmation,omitempty"`
	// DryRun 只编译与模拟，不投递消息。
	DryRun bool `json:"dryRun,omitempty"`
	// Parameters 显式提供的参数，跳过文本提取。
	Parameters map[string]any `json:"parameters,omitempty"`
	// Encoding 显式指定编码策略；投递成功后记为该目标的偏好。
	Encoding encoding.Strategy `json:"encoding,omitempty"`
	// Batch 表示该调用属于多步批处理中的一步。
	Batch *risk.BatchContext `json:"batch,omitempty"`
}
