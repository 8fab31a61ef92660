// internal/auth/context.go
package auth

import "context"

type identityKey struct{}

// Identity 当前请求的调用者。Raw 为原始令牌，调用官方模型时转发
type Identity struct {
	Token *Token
	Raw   string
}

// Premium 是否为付费用户
func (id *Identity) Premium() bool {
	return id != nil && id.Token.Premium()
}

// SignedIn 是否携带了有效令牌
func (id *Identity) SignedIn() bool {
	return id != nil && id.Token != nil && id.Raw != ""
}

// WithIdentity 把调用者身份放进 context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext 取出调用者身份，匿名请求返回 nil
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
