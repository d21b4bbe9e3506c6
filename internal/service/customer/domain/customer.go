package domain

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrDuplicatePhone   = errors.New("a customer with this phone already exists")
	ErrInvalidCustomer  = errors.New("invalid customer")
)

// Customer 门店的顾客档案；生日只存日、月（年份可选）
type Customer struct {
	ID             uint      `json:"id"`
	OrganizationID uint      `json:"organization_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	NationalID     string    `json:"national_id,omitempty"`
	BirthDay       *int      `json:"birth_day,omitempty"`
	BirthMonth     *int      `json:"birth_month,omitempty"`
	BirthYear      *int      `json:"birth_year,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// HasBirthday 今天（日、月）是否是生日
func (c *Customer) HasBirthday(day int, month time.Month) bool {
	return c.BirthDay != nil && c.BirthMonth != nil && *c.BirthDay == day && *c.BirthMonth == int(month)
}

// Normalize 清理输入：手机号只保留数字，邮箱小写
func (c *Customer) Normalize() {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = NormalizePhone(c.Phone)
	c.NationalID = strings.TrimSpace(c.NationalID)
}

func (c *Customer) Validate() error {
	if c.FirstName == "" {
		return errors.Wrap(ErrInvalidCustomer, "first name is required")
	}
	if c.BirthDay != nil && (*c.BirthDay < 1 || *c.BirthDay > 31) {
		return errors.Wrap(ErrInvalidCustomer, "birth day must be between 1 and 31")
	}
	if c.BirthMonth != nil && (*c.BirthMonth < 1 || *c.BirthMonth > 12) {
		return errors.Wrap(ErrInvalidCustomer, "birth month must be between 1 and 12")
	}
	if (c.BirthDay == nil) != (c.BirthMonth == nil) {
		return errors.Wrap(ErrInvalidCustomer, "birth day and month must be given together")
	}
	return nil
}

// NormalizePhone "+51 987-654-321" -> "51987654321"
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type Filter struct {
	Query      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

type Repository interface {
	Create(ctx context.Context, c *Customer) error
	Update(ctx context.Context, c *Customer) error
	Delete(ctx context.Context, orgID, id uint) error
	FindByID(ctx context.Context, orgID, id uint) (*Customer, error)
	// FindByPhone phone 已经规范化
	FindByPhone(ctx context.Context, orgID uint, phone string) (*Customer, error)
	List(ctx context.Context, orgID uint, f Filter) ([]*Customer, int64, error)
	BirthdaysOn(ctx context.Context, orgID uint, day int, month time.Month) ([]*Customer, error)
}
