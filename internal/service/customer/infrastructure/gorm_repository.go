package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/service/customer/domain"
)

// CustomerModel customers 表
type CustomerModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"index:idx_customer_org_phone,priority:1;not null"`
	FirstName      string `gorm:"size:100;not null"`
	LastName       string `gorm:"size:100"`
	Email          string `gorm:"size:254;index"`
	Phone          string `gorm:"size:20;index:idx_customer_org_phone,priority:2"`
	NationalID     string `gorm:"size:20"`
	BirthDay       *int
	BirthMonth     *int
	BirthYear      *int
	Notes          string `gorm:"type:text"`
	IsActive       bool   `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CustomerModel) TableName() string { return "customers" }

func toDomain(m *CustomerModel) *domain.Customer {
	return &domain.Customer{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		Email:          m.Email,
		Phone:          m.Phone,
		NationalID:     m.NationalID,
		BirthDay:       m.BirthDay,
		BirthMonth:     m.BirthMonth,
		BirthYear:      m.BirthYear,
		Notes:          m.Notes,
		IsActive:       m.IsActive,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromDomain(c *domain.Customer) *CustomerModel {
	return &CustomerModel{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Email:          c.Email,
		Phone:          c.Phone,
		NationalID:     c.NationalID,
		BirthDay:       c.BirthDay,
		BirthMonth:     c.BirthMonth,
		BirthYear:      c.BirthYear,
		Notes:          c.Notes,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, c *domain.Customer) error {
	m := fromDomain(c)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create customer")
	}
	c.ID, c.CreatedAt, c.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
	return nil
}

func (r *GormRepository) Update(ctx context.Context, c *domain.Customer) error {
	res := r.db.WithContext(ctx).Model(&CustomerModel{}).
		Where("id = ? AND organization_id = ?", c.ID, c.OrganizationID).
		Updates(map[string]interface{}{
			"first_name":  c.FirstName,
			"last_name":   c.LastName,
			"email":       c.Email,
			"phone":       c.Phone,
			"national_id": c.NationalID,
			"birth_day":   c.BirthDay,
			"birth_month": c.BirthMonth,
			"birth_year":  c.BirthYear,
			"notes":       c.Notes,
			"is_active":   c.IsActive,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update customer")
	}
	if res.RowsAffected == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

// cascadeTables 删除顾客时一并删除的从属数据，顺序按外键依赖
var cascadeTables = []string{
	"redemptions",
	"point_transactions",
	"stamp_requests",
	"stamp_transactions",
	"stamp_cards",
	"campaign_logs",
}

// Delete 先删从属数据再删顾客本身
func (r *GormRepository) Delete(ctx context.Context, orgID, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&CustomerModel{}).Where("id = ? AND organization_id = ?", id, orgID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "find customer")
		}
		if n == 0 {
			return domain.ErrCustomerNotFound
		}
		for _, table := range cascadeTables {
			stmt := "DELETE FROM " + table + " WHERE customer_id = ?"
			if table == "stamp_transactions" {
				stmt = "DELETE FROM stamp_transactions WHERE card_id IN (SELECT id FROM stamp_cards WHERE customer_id = ?)"
			}
			if err := tx.Exec(stmt, id).Error; err != nil {
				return errors.Wrapf(err, "delete %s", table)
			}
		}
		return errors.Wrap(tx.Where("id = ? AND organization_id = ?", id, orgID).Delete(&CustomerModel{}).Error, "delete customer")
	})
}

func (r *GormRepository) FindByID(ctx context.Context, orgID, id uint) (*domain.Customer, error) {
	return r.first(ctx, "organization_id = ? AND id = ?", orgID, id)
}

func (r *GormRepository) FindByPhone(ctx context.Context, orgID uint, phone string) (*domain.Customer, error) {
	if phone == "" {
		return nil, domain.ErrCustomerNotFound
	}
	return r.first(ctx, "organization_id = ? AND phone = ?", orgID, phone)
}

func (r *GormRepository) first(ctx context.Context, query string, args ...interface{}) (*domain.Customer, error) {
	var m CustomerModel
	if err := r.db.WithContext(ctx).Where(query, args...).Order("id").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, errors.Wrap(err, "find customer")
	}
	return toDomain(&m), nil
}

func (r *GormRepository) List(ctx context.Context, orgID uint, f domain.Filter) ([]*domain.Customer, int64, error) {
	q := r.db.WithContext(ctx).Model(&CustomerModel{}).Where("organization_id = ?", orgID)
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where("first_name LIKE ? OR last_name LIKE ? OR phone LIKE ? OR email LIKE ?", like, like, like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count customers")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var models []CustomerModel
	if err := q.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list customers")
	}
	out := make([]*domain.Customer, 0, len(models))
	for i := range models {
		out = append(out, toDomain(&models[i]))
	}
	return out, total, nil
}

func (r *GormRepository) BirthdaysOn(ctx context.Context, orgID uint, day int, month time.Month) ([]*domain.Customer, error) {
	var models []CustomerModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND birth_day = ? AND birth_month = ? AND is_active = ?", orgID, day, int(month), true).
		Order("id").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list birthdays")
	}
	out := make([]*domain.Customer, 0, len(models))
	for i := range models {
		out = append(out, toDomain(&models[i]))
	}
	return out, nil
}
