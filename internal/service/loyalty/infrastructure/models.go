package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"

	"loyaltyhub/internal/service/loyalty/domain"
)

// PointTransactionModel point_transactions 表，只追加
type PointTransactionModel struct {
	ID              uint   `gorm:"primarykey"`
	OrganizationID  uint   `gorm:"index:idx_points_org_created,priority:1;not null"`
	CustomerID      uint   `gorm:"index;not null"`
	TransactionType string `gorm:"size:10;not null"`
	Points          int    `gorm:"not null"`
	Description     string `gorm:"size:255"`
	PerformedBy     *uint
	CreatedAt       time.Time `gorm:"index:idx_points_org_created,priority:2"`
}

func (PointTransactionModel) TableName() string { return "point_transactions" }

func (m *PointTransactionModel) toDomain() *domain.PointTransaction {
	return &domain.PointTransaction{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		CustomerID:     m.CustomerID,
		Type:           domain.TxType(m.TransactionType),
		Points:         m.Points,
		Description:    m.Description,
		PerformedBy:    m.PerformedBy,
		CreatedAt:      m.CreatedAt,
	}
}

type RewardModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"index;not null"`
	Name           string `gorm:"size:100;not null"`
	Description    string `gorm:"type:text"`
	PointsCost     int    `gorm:"not null"`
	IsActive       bool   `gorm:"not null"`
	ValidUntil     *time.Time
	CreatedAt      time.Time
}

func (RewardModel) TableName() string { return "rewards" }

func (m *RewardModel) toDomain() *domain.Reward {
	return &domain.Reward{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Description:    m.Description,
		PointsCost:     m.PointsCost,
		IsActive:       m.IsActive,
		ValidUntil:     m.ValidUntil,
	}
}

func rewardModel(r *domain.Reward) *RewardModel {
	return &RewardModel{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Description:    r.Description,
		PointsCost:     r.PointsCost,
		IsActive:       r.IsActive,
		ValidUntil:     r.ValidUntil,
	}
}

// RedemptionModel redemptions 表，奖品外键 RESTRICT，流水 1:1
type RedemptionModel struct {
	ID                 uint        `gorm:"primarykey"`
	OrganizationID     uint        `gorm:"index;not null"`
	CustomerID         uint        `gorm:"index;not null"`
	RewardID           uint        `gorm:"index;not null"`
	Reward             RewardModel `gorm:"foreignKey:RewardID;constraint:OnDelete:RESTRICT"`
	PointsSpent        int         `gorm:"not null"`
	PointTransactionID uint        `gorm:"uniqueIndex;not null"`
	ProcessedBy        *uint
	RedeemedAt         time.Time `gorm:"index"`
}

func (RedemptionModel) TableName() string { return "redemptions" }

type ServiceCategoryModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"index;not null"`
	Name           string `gorm:"size:100;not null"`
	Description    string `gorm:"type:text"`
}

func (ServiceCategoryModel) TableName() string { return "service_categories" }

type ServiceItemModel struct {
	ID              uint `gorm:"primarykey"`
	OrganizationID  uint `gorm:"index;not null"`
	CategoryID      *uint
	Name            string          `gorm:"size:100;not null"`
	Description     string          `gorm:"type:text"`
	Price           decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	DurationMinutes int             `gorm:"not null;default:30"`
	PointsReward    int             `gorm:"not null"`
	IsActive        bool            `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ServiceItemModel) TableName() string { return "service_items" }

func (m *ServiceItemModel) toDomain() *domain.ServiceItem {
	return &domain.ServiceItem{
		ID:              m.ID,
		OrganizationID:  m.OrganizationID,
		CategoryID:      m.CategoryID,
		Name:            m.Name,
		Description:     m.Description,
		Price:           m.Price,
		DurationMinutes: m.DurationMinutes,
		PointsReward:    m.PointsReward,
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func serviceModel(s *domain.ServiceItem) *ServiceItemModel {
	return &ServiceItemModel{
		ID:              s.ID,
		OrganizationID:  s.OrganizationID,
		CategoryID:      s.CategoryID,
		Name:            s.Name,
		Description:     s.Description,
		Price:           s.Price,
		DurationMinutes: s.DurationMinutes,
		PointsReward:    s.PointsReward,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// customerRow 只读 customers 表需要的列
type customerRow struct {
	ID        uint
	FirstName string
	LastName  string
}

func (customerRow) TableName() string { return "customers" }
