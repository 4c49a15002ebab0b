package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ProcessMCP/internal/auth"
	xerrors "ProcessMCP/internal/errors"
	"ProcessMCP/pkg/logger"
)

// Service 负责任务与批次的创建和查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

func (s *Service) ready() error {
	if s.store == nil || s.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.TargetID) == "" {
		return xerrors.New(CodeTaskValidation, "target id is required")
	}
	if strings.TrimSpace(req.Request) == "" && len(req.Parameters) == 0 {
		return xerrors.New(CodeTaskValidation, "request text is required")
	}
	return nil
}

// Submit 创建一个新的任务并推送到队列。相同 ID 的重复提交返回已有任务。
func (s *Service) Submit(ctx context.Context, req Request) (*Task, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := s.newTask(taskID, req, auth.Actor(ctx))
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.store.Get(ctx, taskID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.publish(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitBatch 创建批次的全部步骤，只投递第一步；后续步骤在前一步成功后由处理器投递。
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	if len(req.Steps) == 0 {
		return nil, xerrors.New(CodeTaskValidation, "batch has no steps")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	batchID := strings.TrimSpace(req.ID)
	if batchID == "" {
		batchID = uuid.NewString()
	} else if existing, err := s.ListBatch(ctx, batchID); err == nil && len(existing.Tasks) > 0 {
		return existing, nil
	}

	total := len(req.Steps)
	tasks := make([]*Task, 0, total)
	submitter := auth.Actor(ctx)
	for i, step := range req.Steps {
		if strings.TrimSpace(step.TargetID) == "" {
			step.TargetID = req.TargetID
		}
		step.Confirmed = step.Confirmed || req.Confirmed
		if err := validateRequest(step); err != nil {
			return nil, xerrors.Wrap(CodeTaskValidation, err, fmt.Sprintf("step %d", i+1))
		}
		task := s.newTask(StepID(batchID, i+1), step, submitter)
		task.BatchID = batchID
		task.Step = i + 1
		task.Total = total
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		if err := s.store.Create(ctx, task); err != nil {
			return nil, err
		}
	}
	if err := s.publish(ctx, tasks[0]); err != nil {
		return nil, err
	}
	logger.Audit().Info("批次已创建",
		slog.String("batch_id", batchID),
		slog.Int("steps", total),
	)
	return s.ListBatch(ctx, batchID)
}

func (s *Service) newTask(id string, req Request, submitter string) *Task {
	return &Task{
		ID:          id,
		TargetID:    strings.TrimSpace(req.TargetID),
		Request:     strings.TrimSpace(req.Request),
		Mode:        req.Mode,
		Confirmed:   req.Confirmed,
		Parameters:  cloneParameters(req.Parameters),
		Status:      StatusPending,
		MaxRetries:  s.maxRetries,
		SubmittedBy: submitter,
	}
}

func (s *Service) publish(ctx context.Context, task *Task) error {
	if err := s.producer.Publish(ctx, MessageFor(task)); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", task.ID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), true, nil)
		return wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", task.ID),
		slog.String("batch_id", task.BatchID),
		slog.String("target", task.TargetID),
		slog.String("submitted_by", task.SubmittedBy),
		slog.Int("max_retries", task.MaxRetries),
	)
	return nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// ListBatch 按步骤顺序返回批次内的任务与统计。
func (s *Service) ListBatch(ctx context.Context, batchID string) (*Batch, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, xerrors.New(CodeTaskValidation, "batch id is required")
	}
	opts := buildListOptions([]ListOption{WithBatch(batchID), WithSortOrder(SortByStep)})
	tasks, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	batch := &Batch{ID: batchID, Tasks: tasks}
	for _, t := range tasks {
		batch.Stats.add(t)
	}
	return batch, nil
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询任务直到结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Finished() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForBatch 轮询批次直到所有步骤结束或 ctx 取消。
func (s *Service) WaitForBatch(ctx context.Context, batchID string, interval time.Duration) (*Batch, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		batch, err := s.ListBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if batch.Stats.Done() {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
