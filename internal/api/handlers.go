package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ProcessMCP/internal/compiler"
	"ProcessMCP/internal/encoding"
	xerrors "ProcessMCP/internal/errors"
	"ProcessMCP/internal/task"
)

type compileRequest struct {
	TargetID            string         `json:"targetId"`
	Request             string         `json:"request"`
	Mode                string         `json:"mode,omitempty"`
	Confirmed           bool           `json:"confirmed,omitempty"`
	RequireConfirmation bool           `json:"requireConfirmation,omitempty"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	Encoding            string         `json:"encoding,omitempty"`
	// WalletAddress 覆盖默认凭证中的地址。
	WalletAddress string `json:"walletAddress,omitempty"`
}

func (req compileRequest) options() compiler.Options {
	return compiler.Options{
		Mode:                req.Mode,
		Confirmed:           req.Confirmed,
		RequireConfirmation: req.RequireConfirmation,
		Parameters:          req.Parameters,
		Encoding:            encoding.Strategy(req.Encoding),
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, string(xerrors.CodeInvalidArgument), "请求体过大")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体为空")
		default:
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "无法解析请求体: "+err.Error())
		}
		return false
	}
	return true
}

// resultStatus 将编译结果映射为 HTTP 状态码。
func resultStatus(res compiler.Result) int {
	if res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Kind {
	case compiler.KindInvalidRequest:
		return http.StatusBadRequest
	case compiler.KindDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	var req compileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cred := s.credential
	if addr := strings.TrimSpace(req.WalletAddress); addr != "" {
		cred.Address = addr
	}
	res := s.compiler.CompileAndExecute(r.Context(), req.TargetID, req.Request, cred, req.options())
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	var req compileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := s.compiler.Simulate(r.Context(), req.TargetID, req.Request, req.options())
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	writeJSON(w, http.StatusOK, s.compiler.DiscoveryCacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	s.compiler.ClearDiscoveryCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreferences(w http.ResponseWriter, _ *http.Request) {
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	writeJSON(w, http.StatusOK, s.compiler.EncodingPreferences())
}

func (s *Server) handlePreferencesClear(w http.ResponseWriter, _ *http.Request) {
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	s.compiler.ClearEncodingPreferences()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if s.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "编译器未初始化")
		return
	}
	records, err := s.compiler.ListHistory(r.Context(), limit)
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// taskError 将任务与存储错误映射为 HTTP 响应。
func taskError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case task.IsTaskError(err, task.CodeTaskNotFound):
		status = http.StatusNotFound
	case task.IsValidationError(err):
		status = http.StatusBadRequest
	case code == xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	case code == task.CodeTaskPublish:
		status = http.StatusBadGateway
	}
	writeError(w, status, string(code), err.Error())
}

func (s *Server) tasksReady(w http.ResponseWriter) bool {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未启用")
		return false
	}
	return true
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	var req task.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	batch, err := s.tasks.SubmitBatch(r.Context(), req)
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (s *Server) handleBatchDetail(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	batch, err := s.tasks.ListBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	var req task.Request
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少任务 ID")
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type taskList struct {
	Tasks []*task.Task   `json:"tasks"`
	Stats task.TaskStats `json:"stats"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if !s.tasksReady(w) {
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		taskError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		taskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, taskList{Tasks: tasks, Stats: stats})
}

// parseListOptions 解析 limit、offset、status、batch、target、submitted_by、q、since、until、has_result 与 order 查询参数。
func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, errors.New("limit 必须为正整数")
		}
		opts = append(opts, task.WithLimit(n))
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, errors.New("offset 不能为负数")
		}
		opts = append(opts, task.WithOffset(n))
	}
	if raws := q["status"]; len(raws) > 0 {
		var statuses []task.Status
		for _, raw := range raws {
			for _, part := range strings.Split(raw, ",") {
				status := task.Status(strings.TrimSpace(part))
				if status == "" {
					continue
				}
				if !task.IsValidStatus(status) {
					return nil, errors.New("未知的任务状态: " + string(status))
				}
				statuses = append(statuses, status)
			}
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := strings.TrimSpace(q.Get("batch")); raw != "" {
		opts = append(opts, task.WithBatch(raw))
	}
	if raw := strings.TrimSpace(q.Get("target")); raw != "" {
		opts = append(opts, task.WithTarget(raw))
	}
	if raw := strings.TrimSpace(q.Get("submitted_by")); raw != "" {
		opts = append(opts, task.WithSubmitter(raw))
	}
	if raw := strings.TrimSpace(q.Get("q")); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	for key, apply := range map[string]func(time.Time) task.ListOption{
		"since": task.WithUpdatedSince,
		"until": task.WithUpdatedUntil,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New(key + " 必须为 RFC3339 时间")
		}
		opts = append(opts, apply(ts))
	}
	if raw := q.Get("has_result"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_result 必须为布尔值")
		}
		opts = append(opts, task.WithResultPresence(v))
	}
	switch strings.ToLower(q.Get("order")) {
	case "":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	case "desc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedDesc))
	case "step":
		opts = append(opts, task.WithSortOrder(task.SortByStep))
	default:
		return nil, errors.New("order 仅支持 asc、desc 或 step")
	}
	return opts, nil
}
