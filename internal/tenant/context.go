package tenant

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNoTenant = errors.New("no tenant in context")
	ErrNotFound = errors.New("organization not found")
)

type ctxKey struct{}

// WithOrganization 把租户放入请求上下文，后续所有读写都以它为作用域
func WithOrganization(ctx context.Context, org *Organization) context.Context {
	return context.WithValue(ctx, ctxKey{}, org)
}

// FromContext 未解析出租户时返回 ErrNoTenant
func FromContext(ctx context.Context) (*Organization, error) {
	org, ok := ctx.Value(ctxKey{}).(*Organization)
	if !ok || org == nil {
		return nil, ErrNoTenant
	}
	return org, nil
}
