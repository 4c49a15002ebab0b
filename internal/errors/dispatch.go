package errors

import (
	"context"
	stdErrors "errors"
	"net"
	"strings"
)

// DispatchCategory 是对传输层失败原因的粗略归类，便于给调用方更明确的提示。
type DispatchCategory string

const (
	DispatchNetwork       DispatchCategory = "network"
	DispatchAuthorization DispatchCategory = "authorization"
	DispatchTransaction   DispatchCategory = "transaction"
	DispatchUnknown       DispatchCategory = "unknown"
)

var dispatchKeywords = []struct {
	category DispatchCategory
	words    []string
}{
	{DispatchAuthorization, []string{"unauthorized", "forbidden", "signature", "wallet", "credential", "permission denied", "not authorized", "401", "403"}},
	{DispatchNetwork, []string{"timeout", "timed out", "connection", "network", "dial", "econnrefused", "no such host", "eof", "fetch failed", "unreachable", "502", "503", "504"}},
	{DispatchTransaction, []string{"insufficient", "rejected", "revert", "handler", "balance", "nonce", "invalid message", "execution failed", "out of"}},
}

// ClassifyDispatch 根据错误类型与错误文本猜测失败类别。
func ClassifyDispatch(err error) DispatchCategory {
	if err == nil {
		return DispatchUnknown
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return DispatchNetwork
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		return DispatchNetwork
	}
	text := strings.ToLower(err.Error())
	for _, group := range dispatchKeywords {
		for _, word := range group.words {
			if strings.Contains(text, word) {
				return group.category
			}
		}
	}
	return DispatchUnknown
}
