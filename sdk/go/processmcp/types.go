package processmcp

import "fmt"

// CompileRequest is the payload of the compile and simulate endpoints.
type CompileRequest struct {
	TargetID            string         `json:"targetId"`
	Request             string         `json:"request"`
	Mode                string         `json:"mode,omitempty"`
	Confirmed           bool           `json:"confirmed,omitempty"`
	RequireConfirmation bool           `json:"requireConfirmation,omitempty"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	Encoding            string         `json:"encoding,omitempty"`
	WalletAddress       string         `json:"walletAddress,omitempty"`
}

// Tag is one message tag produced by the compiler.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Confirmation is returned instead of dispatching a risky write.
type Confirmation struct {
	Title        string   `json:"title"`
	Message      string   `json:"message"`
	RiskLevel    string   `json:"riskLevel"`
	Warnings     []string `json:"warnings,omitempty"`
	Consequences []string `json:"consequences,omitempty"`
}

// Failure explains why a request could not be compiled or sent.
type Failure struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
	Fixes    []string `json:"fixes,omitempty"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Kind + ": " + f.Message
}

// CompileResult mirrors the server's compile result. Fields the SDK does not
// interpret are kept as raw values.
type CompileResult struct {
	RequestID      string         `json:"requestId"`
	TargetID       string         `json:"targetId"`
	Success        bool           `json:"success"`
	Status         string         `json:"status"`
	Approach       string         `json:"approach"`
	HandlerUsed    string         `json:"handlerUsed,omitempty"`
	ParametersUsed map[string]any `json:"parametersUsed,omitempty"`
	Confidence     float64        `json:"confidence"`
	Strategy       string         `json:"strategy,omitempty"`
	Tags           []Tag          `json:"tags,omitempty"`
	Data           *string        `json:"data,omitempty"`
	Response       any            `json:"response,omitempty"`
	Confirmation   *Confirmation  `json:"confirmation,omitempty"`
	Simulation     map[string]any `json:"simulation,omitempty"`
	Guidance       string         `json:"guidance,omitempty"`
	Error          *Failure       `json:"error,omitempty"`
}

// NeedsConfirmation reports whether the request must be resent with
// Confirmed set.
func (r CompileResult) NeedsConfirmation() bool {
	return r.Status == "confirmation_required"
}

// BatchStep is one request of a batch.
type BatchStep struct {
	TargetID   string         `json:"target_id,omitempty"`
	Request    string         `json:"request"`
	Mode       string         `json:"mode,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// BatchRequest submits steps that run in order.
type BatchRequest struct {
	ID        string      `json:"id,omitempty"`
	TargetID  string      `json:"target_id,omitempty"`
	Confirmed bool        `json:"confirmed,omitempty"`
	Steps     []BatchStep `json:"steps"`
}

// TaskResult summarises the compiler result of a task.
type TaskResult struct {
	RequestID  string         `json:"request_id"`
	Status     string         `json:"status"`
	Handler    string         `json:"handler,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	RiskLevel  string         `json:"risk_level,omitempty"`
	Response   any            `json:"response,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
}

// Task is one queued request.
type Task struct {
	ID        string      `json:"id"`
	BatchID   string      `json:"batch_id,omitempty"`
	Step      int         `json:"step,omitempty"`
	Total     int         `json:"total,omitempty"`
	TargetID  string      `json:"target_id"`
	Request   string      `json:"request"`
	Status    string      `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Result    *TaskResult `json:"result,omitempty"`
	UpdatedAt int64       `json:"updated_at"`
	// SubmittedBy names the API token that queued the task.
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// BatchStats counts batch steps per status.
type BatchStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Done reports whether every step has finished.
func (s BatchStats) Done() bool {
	return s.Pending == 0 && s.Running == 0
}

// Batch is the server view of a batch.
type Batch struct {
	ID    string     `json:"id"`
	Stats BatchStats `json:"stats"`
	Tasks []Task     `json:"tasks"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("processmcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("processmcp api error (%d): %s", e.StatusCode, e.Message)
}
