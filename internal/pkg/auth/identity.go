// Package auth 身份、JWT 与访问控制中间件
package auth

import "context"

type Role string

const (
	RoleSuperuser Role = "superuser"
	RoleOwner     Role = "owner"
	RoleStaff     Role = "staff"
	RoleCustomer  Role = "customer"
)

// Identity 当前请求的操作者
type Identity struct {
	UserID         uint   `json:"user_id"`
	OrganizationID uint   `json:"organization_id"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	// CustomerID 仅顾客身份有值
	CustomerID uint `json:"customer_id,omitempty"`
}

func (i Identity) IsSuperuser() bool { return i.Role == RoleSuperuser }

// Privileged 店主和超级管理员，不受防刷限制
func (i Identity) Privileged() bool {
	return i.Role == RoleOwner || i.Role == RoleSuperuser
}

// IsStaff 员工及以上
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Privileged()
}

// ActorID 写入流水的操作人，匿名时为 nil
func (i Identity) ActorID() *uint {
	if i.UserID == 0 {
		return nil
	}
	id := i.UserID
	return &id
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
