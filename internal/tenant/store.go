package tenant

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// OrganizationModel organizations 表
type OrganizationModel struct {
	ID                     uint   `gorm:"primarykey"`
	Name                   string `gorm:"size:200;not null"`
	Slug                   string `gorm:"size:100;uniqueIndex;not null"`
	OwnerID                *uint
	Timezone               string `gorm:"size:64;not null"`
	Currency               string `gorm:"size:3;not null"`
	OpeningHours           string `gorm:"size:100"`
	StampLockHours         int    `gorm:"not null"`
	StampLockMinutes       int    `gorm:"not null"`
	DoubleStampDays        uint8  `gorm:"not null;default:0"`
	StampsExpirationMonths int    `gorm:"not null;default:0"`
	IsActive               bool   `gorm:"not null;default:true"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (OrganizationModel) TableName() string { return "organizations" }

// DomainModel domains 表，host -> 租户
type DomainModel struct {
	ID             uint   `gorm:"primarykey"`
	Domain         string `gorm:"size:253;uniqueIndex;not null"`
	OrganizationID uint   `gorm:"index;not null"`
	IsPrimary      bool   `gorm:"not null;default:false"`
}

func (DomainModel) TableName() string { return "domains" }

func toDomain(m *OrganizationModel) *Organization {
	return &Organization{
		ID:                     m.ID,
		Name:                   m.Name,
		Slug:                   m.Slug,
		OwnerID:                m.OwnerID,
		Timezone:               m.Timezone,
		Currency:               m.Currency,
		OpeningHours:           m.OpeningHours,
		StampLockHours:         m.StampLockHours,
		StampLockMinutes:       m.StampLockMinutes,
		DoubleStampDays:        Weekdays(m.DoubleStampDays),
		StampsExpirationMonths: m.StampsExpirationMonths,
		IsActive:               m.IsActive,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

func fromDomain(o *Organization) *OrganizationModel {
	return &OrganizationModel{
		ID:                     o.ID,
		Name:                   o.Name,
		Slug:                   o.Slug,
		OwnerID:                o.OwnerID,
		Timezone:               o.Timezone,
		Currency:               o.Currency,
		OpeningHours:           o.OpeningHours,
		StampLockHours:         o.StampLockHours,
		StampLockMinutes:       o.StampLockMinutes,
		DoubleStampDays:        uint8(o.DoubleStampDays),
		StampsExpirationMonths: o.StampsExpirationMonths,
		IsActive:               o.IsActive,
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
	}
}

// Store 只读查询，由解析中间件使用
type Store interface {
	FindByHost(ctx context.Context, host string) (*Organization, error)
	FindByID(ctx context.Context, id uint) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
}

// GormStore 是 Store 的 GORM 实现，并提供管理写操作
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindByHost(ctx context.Context, host string) (*Organization, error) {
	var m OrganizationModel
	err := s.db.WithContext(ctx).
		Joins("JOIN domains ON domains.organization_id = organizations.id").
		Where("domains.domain = ? AND organizations.is_active = ?", strings.ToLower(host), true).
		First(&m).Error
	return s.result(&m, err)
}

func (s *GormStore) FindByID(ctx context.Context, id uint) (*Organization, error) {
	var m OrganizationModel
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&m).Error
	return s.result(&m, err)
}

func (s *GormStore) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	var m OrganizationModel
	err := s.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).First(&m).Error
	return s.result(&m, err)
}

func (s *GormStore) result(m *OrganizationModel, err error) (*Organization, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "query organization")
	}
	return toDomain(m), nil
}

// Create 创建租户，可选同时绑定主域名
func (s *GormStore) Create(ctx context.Context, org *Organization, primaryHost string) error {
	org.ApplyDefaults()
	org.IsActive = true
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := fromDomain(org)
		if err := tx.Create(m).Error; err != nil {
			return errors.Wrap(err, "create organization")
		}
		org.ID, org.CreatedAt, org.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
		if primaryHost == "" {
			return nil
		}
		d := DomainModel{Domain: strings.ToLower(primaryHost), OrganizationID: m.ID, IsPrimary: true}
		return errors.Wrap(tx.Create(&d).Error, "create domain")
	})
}

// Update 保存门店配置（锁定时长、双倍日、过期月数等）
func (s *GormStore) Update(ctx context.Context, org *Organization) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(fromDomain(org)).Error, "update organization")
}

// ListActive 定时任务遍历所有启用的租户
func (s *GormStore) ListActive(ctx context.Context) ([]*Organization, error) {
	var models []OrganizationModel
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list organizations")
	}
	out := make([]*Organization, 0, len(models))
	for i := range models {
		out = append(out, toDomain(&models[i]))
	}
	return out, nil
}
