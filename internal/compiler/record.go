package compiler

import (
	"context"
	"log/slog"
	"time"

	xerrors "ProcessMCP/internal/errors"
	"ProcessMCP/internal/storage/mysql"
	"ProcessMCP/pkg/logger"
)

// finish 记录指标、审计日志与执行记录。
func (c *Compiler) finish(ctx context.Context, res *Result, text string, started time.Time) {
	log := logger.FromContext(ctx)
	approach := string(res.Approach)
	if approach == "" {
		approach = "none"
	}
	c.metrics.ObserveStage("total", time.Since(started))
	c.metrics.ObserveOutcome(approach, string(res.Status))

	dispatched := res.Status == StatusExecuted || (res.Error != nil && res.Error.Kind == KindDispatchFailed)
	if dispatched {
		level := ""
		if res.Risk != nil {
			level = string(res.Risk.Level)
		}
		logger.Audit().InfoContext(ctx, "dispatch",
			slog.String("request_id", res.RequestID),
			slog.String("target", res.TargetID),
			slog.String("action", res.HandlerUsed),
			slog.String("approach", approach),
			slog.String("risk", level),
			slog.Bool("success", res.Success),
		)
	}

	if res.Error != nil {
		log.Info("request not executed", "kind", res.Error.Kind, "message", res.Error.Message)
	} else {
		log.Debug("request compiled", "status", res.Status, "handler", res.HandlerUsed, "elapsed", time.Since(started))
	}

	c.record(ctx, res, text)
}

// record 保存执行记录；存储失败只记录日志，不影响调用结果。
func (c *Compiler) record(ctx context.Context, res *Result, text string) {
	if c.executions == nil {
		return
	}
	rec := mysql.ExecutionRecord{
		ID:         res.RequestID,
		TargetID:   res.TargetID,
		Request:    text,
		Approach:   string(res.Approach),
		Action:     res.HandlerUsed,
		Parameters: res.ParametersUsed,
		Strategy:   string(res.Strategy),
		Success:    res.Success,
		CreatedAt:  time.Now().Unix(),
	}
	if res.Risk != nil {
		rec.RiskLevel = string(res.Risk.Level)
	}
	if res.Error != nil {
		rec.ErrorKind = string(res.Error.Kind)
		rec.Error = res.Error.Message
	} else if res.Status != StatusExecuted {
		rec.ErrorKind = string(res.Status)
	}
	if err := c.executions.Save(ctx, rec); err != nil {
		logger.FromContext(ctx).Warn("save execution record failed", "error", err)
	}
}

// ListHistory 获取最近的执行记录。
func (c *Compiler) ListHistory(ctx context.Context, limit int) ([]mysql.ExecutionRecord, error) {
	if c.executions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "execution log is not configured")
	}
	records, err := c.executions.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query execution log failed")
	}
	return records, nil
}
