package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/database"
	"loyaltyhub/internal/service/account/domain"
)

// UserModel users 表
type UserModel struct {
	ID             uint   `gorm:"primarykey"`
	Email          string `gorm:"size:254;uniqueIndex;not null"`
	OrganizationID *uint  `gorm:"index"`
	IsSuperuser    bool   `gorm:"not null"`
	IsOwner        bool   `gorm:"not null"`
	IsStaffMember  bool   `gorm:"not null"`
	IsCustomer     bool   `gorm:"not null"`
	CustomerID     *uint  `gorm:"index"`
	Phone          string `gorm:"size:20"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UserModel) TableName() string { return "users" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, u *domain.User) error {
	m := UserModel{
		Email:          u.Email,
		OrganizationID: u.OrganizationID,
		IsSuperuser:    u.IsSuperuser,
		IsOwner:        u.IsOwner,
		IsStaffMember:  u.IsStaffMember,
		IsCustomer:     u.IsCustomer,
		CustomerID:     u.CustomerID,
		Phone:          u.Phone,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if database.IsDuplicate(err) {
			return domain.ErrEmailTaken
		}
		return errors.Wrap(err, "create user")
	}
	u.ID, u.CreatedAt = m.ID, m.CreatedAt
	return nil
}

func (r *GormRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.first(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *GormRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormRepository) first(ctx context.Context, query string, args ...interface{}) (*domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "find user")
	}
	return &domain.User{
		ID:             m.ID,
		Email:          m.Email,
		OrganizationID: m.OrganizationID,
		IsSuperuser:    m.IsSuperuser,
		IsOwner:        m.IsOwner,
		IsStaffMember:  m.IsStaffMember,
		IsCustomer:     m.IsCustomer,
		CustomerID:     m.CustomerID,
		Phone:          m.Phone,
		CreatedAt:      m.CreatedAt,
	}, nil
}
