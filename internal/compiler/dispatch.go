package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	xerrors "ProcessMCP/internal/errors"
	"ProcessMCP/internal/transport"
)

// dataTag 在只读查询中携带 data 负载，因为只读接口只接受标签。
const dataTag = "Data"

// dispatch 根据读写属性选择只读查询或写消息。
func (c *Compiler) dispatch(ctx context.Context, targetID string, cred transport.Credential, p *plan) (any, error) {
	if c.transport == nil {
		return nil, errors.New("no transport configured")
	}

	if p.isWrite {
		out, err := c.transport.QueryWrite(ctx, cred, targetID, p.message.Tags, p.message.Data)
		c.metrics.ObserveDispatch("write", err == nil)
		if err != nil {
			return nil, err
		}
		return normalizeResponse(out), nil
	}

	tags := p.message.Tags
	if p.message.Data != nil {
		tags = append(append([]transport.Tag(nil), tags...), transport.Tag{Name: dataTag, Value: *p.message.Data})
	}
	out, err := c.transport.QueryReadOnly(ctx, targetID, tags)
	c.metrics.ObserveDispatch("read", err == nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return normalizeResponse(out.Data), nil
}

// normalizeResponse 尝试将字符串响应解析为 JSON，失败时原样返回。
func normalizeResponse(v any) any {
	var raw string
	switch x := v.(type) {
	case string:
		raw = x
	case []byte:
		raw = string(x)
	case json.RawMessage:
		raw = string(x)
	default:
		return v
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded
	}
	return raw
}

func dispatchFailure(err error) *Failure {
	category := xerrors.ClassifyDispatch(err)
	f := &Failure{Kind: KindDispatchFailed, Message: err.Error(), Category: category}
	switch category {
	case xerrors.DispatchNetwork:
		f.Fixes = []string{"check the gateway URL and network connectivity, then retry"}
	case xerrors.DispatchAuthorization:
		f.Fixes = []string{"check the wallet address and signing key"}
	case xerrors.DispatchTransaction:
		f.Fixes = []string{"check balances and parameters; the target process rejected the message"}
	}
	return f
}
