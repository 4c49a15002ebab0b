package auth

import "context"

type contextKey int

const subjectContextKey contextKey = iota

// WithSubject 返回携带已认证令牌主体的上下文；subject 为 nil 时原样返回 ctx。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectContextKey, subject)
}

// SubjectFromContext 返回中间件放入上下文的令牌主体。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectContextKey).(*Subject)
	return subject
}

// Actor 返回发起请求的令牌名称，未认证的请求返回空字符串。
// 任务与批次据此记录提交者。
func Actor(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil {
		return subject.Name
	}
	return ""
}
