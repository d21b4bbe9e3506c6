package domain

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/auth"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidUser  = errors.New("invalid user")
)

// User 登录账号；顾客账号通过 CustomerID 关联到顾客档案
type User struct {
	ID             uint
	Email          string
	OrganizationID *uint
	IsSuperuser    bool
	IsOwner        bool
	IsStaffMember  bool
	IsCustomer     bool
	CustomerID     *uint
	Phone          string
	CreatedAt      time.Time
}

// Role 多个标记同时存在时取权限最高的
func (u *User) Role() auth.Role {
	switch {
	case u.IsSuperuser:
		return auth.RoleSuperuser
	case u.IsOwner:
		return auth.RoleOwner
	case u.IsStaffMember:
		return auth.RoleStaff
	default:
		return auth.RoleCustomer
	}
}

func (u *User) Identity() auth.Identity {
	id := auth.Identity{UserID: u.ID, Email: u.Email, Role: u.Role()}
	if u.OrganizationID != nil {
		id.OrganizationID = *u.OrganizationID
	}
	if u.CustomerID != nil && id.Role == auth.RoleCustomer {
		id.CustomerID = *u.CustomerID
	}
	return id
}

func (u *User) Validate() error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if !strings.Contains(u.Email, "@") {
		return errors.Wrap(ErrInvalidUser, "email is required")
	}
	if !u.IsSuperuser && u.OrganizationID == nil {
		return errors.Wrap(ErrInvalidUser, "organization is required")
	}
	if !u.IsSuperuser && !u.IsOwner && !u.IsStaffMember && !u.IsCustomer {
		return errors.Wrap(ErrInvalidUser, "at least one role is required")
	}
	return nil
}

type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uint) (*User, error)
}
