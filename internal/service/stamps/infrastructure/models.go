package infrastructure

import (
	"time"

	"loyaltyhub/internal/service/stamps/domain"
)

// StampPromotionModel stamp_promotions 表
type StampPromotionModel struct {
	ID                uint   `gorm:"primarykey"`
	OrganizationID    uint   `gorm:"index;not null"`
	Name              string `gorm:"size:100;not null"`
	Description       string `gorm:"type:text"`
	TotalStampsNeeded int    `gorm:"not null;default:10"`
	RewardDescription string `gorm:"size:200"`
	IsActive          bool   `gorm:"not null"`
	StartDate         *time.Time
	EndDate           *time.Time
	CreatedAt         time.Time
}

func (StampPromotionModel) TableName() string { return "stamp_promotions" }

// StampCardModel stamp_cards 表，通知标记列也在这里
type StampCardModel struct {
	ID                   uint `gorm:"primarykey"`
	OrganizationID       uint `gorm:"index;not null"`
	CustomerID           uint `gorm:"index:idx_card_customer_promo,priority:1;not null"`
	PromotionID          uint `gorm:"index:idx_card_customer_promo,priority:2;not null"`
	CurrentStamps        int  `gorm:"not null"`
	IsCompleted          bool `gorm:"not null"`
	IsRedeemed           bool `gorm:"not null"`
	RedemptionRequested  bool `gorm:"not null"`
	RequestedAt          *time.Time
	CompletedNotified    bool `gorm:"not null"`
	OneStampReminderSent bool `gorm:"not null"`
	ExpiringNotified     bool `gorm:"not null"`
	LastStampAt          *time.Time
	CreatedAt            time.Time
}

func (StampCardModel) TableName() string { return "stamp_cards" }

// StampTransactionModel stamp_transactions 表
type StampTransactionModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"index;not null"`
	CardID         uint   `gorm:"index;not null"`
	Action         string `gorm:"size:10;not null"`
	Quantity       int    `gorm:"not null"`
	PerformedBy    *uint
	CreatedAt      time.Time `gorm:"index"`
}

func (StampTransactionModel) TableName() string { return "stamp_transactions" }

// StampRequestModel stamp_requests 表
type StampRequestModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"index;not null"`
	CustomerID     uint   `gorm:"index;not null"`
	PromotionID    uint   `gorm:"not null"`
	Status         string `gorm:"size:10;index;not null"`
	ResolvedBy     *uint
	ResolvedAt     *time.Time
	TransactionID  *uint
	CreatedAt      time.Time
}

func (StampRequestModel) TableName() string { return "stamp_requests" }

// customerRow 只读 customers 表中集章需要的列
type customerRow struct {
	ID             uint
	OrganizationID uint
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	IsActive       bool
}

func (customerRow) TableName() string { return "customers" }

func (m *customerRow) toDomain() *domain.CustomerInfo {
	return &domain.CustomerInfo{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Phone:     m.Phone,
		IsActive:  m.IsActive,
	}
}

func (m *StampPromotionModel) toDomain() *domain.StampPromotion {
	return &domain.StampPromotion{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		Name:              m.Name,
		Description:       m.Description,
		TotalStampsNeeded: m.TotalStampsNeeded,
		RewardDescription: m.RewardDescription,
		IsActive:          m.IsActive,
		StartDate:         m.StartDate,
		EndDate:           m.EndDate,
		CreatedAt:         m.CreatedAt,
	}
}

func promotionModel(p *domain.StampPromotion) *StampPromotionModel {
	return &StampPromotionModel{
		ID:                p.ID,
		OrganizationID:    p.OrganizationID,
		Name:              p.Name,
		Description:       p.Description,
		TotalStampsNeeded: p.TotalStampsNeeded,
		RewardDescription: p.RewardDescription,
		IsActive:          p.IsActive,
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		CreatedAt:         p.CreatedAt,
	}
}

func (m *StampCardModel) toDomain() *domain.StampCard {
	return &domain.StampCard{
		ID:                   m.ID,
		OrganizationID:       m.OrganizationID,
		CustomerID:           m.CustomerID,
		PromotionID:          m.PromotionID,
		CurrentStamps:        m.CurrentStamps,
		IsCompleted:          m.IsCompleted,
		IsRedeemed:           m.IsRedeemed,
		RedemptionRequested:  m.RedemptionRequested,
		RequestedAt:          m.RequestedAt,
		CompletedNotified:    m.CompletedNotified,
		OneStampReminderSent: m.OneStampReminderSent,
		ExpiringNotified:     m.ExpiringNotified,
		LastStampAt:          m.LastStampAt,
		CreatedAt:            m.CreatedAt,
	}
}

func cardModel(c *domain.StampCard) *StampCardModel {
	return &StampCardModel{
		ID:                   c.ID,
		OrganizationID:       c.OrganizationID,
		CustomerID:           c.CustomerID,
		PromotionID:          c.PromotionID,
		CurrentStamps:        c.CurrentStamps,
		IsCompleted:          c.IsCompleted,
		IsRedeemed:           c.IsRedeemed,
		RedemptionRequested:  c.RedemptionRequested,
		RequestedAt:          c.RequestedAt,
		CompletedNotified:    c.CompletedNotified,
		OneStampReminderSent: c.OneStampReminderSent,
		ExpiringNotified:     c.ExpiringNotified,
		LastStampAt:          c.LastStampAt,
		CreatedAt:            c.CreatedAt,
	}
}

func (m *StampTransactionModel) toDomain() *domain.StampTransaction {
	return &domain.StampTransaction{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		CardID:         m.CardID,
		Action:         domain.Action(m.Action),
		Quantity:       m.Quantity,
		PerformedBy:    m.PerformedBy,
		CreatedAt:      m.CreatedAt,
	}
}

func (m *StampRequestModel) toDomain() *domain.StampRequest {
	return &domain.StampRequest{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		CustomerID:     m.CustomerID,
		PromotionID:    m.PromotionID,
		Status:         domain.RequestStatus(m.Status),
		ResolvedBy:     m.ResolvedBy,
		ResolvedAt:     m.ResolvedAt,
		TransactionID:  m.TransactionID,
		CreatedAt:      m.CreatedAt,
	}
}

func requestModel(r *domain.StampRequest) *StampRequestModel {
	return &StampRequestModel{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		CustomerID:     r.CustomerID,
		PromotionID:    r.PromotionID,
		Status:         string(r.Status),
		ResolvedBy:     r.ResolvedBy,
		ResolvedAt:     r.ResolvedAt,
		TransactionID:  r.TransactionID,
		CreatedAt:      r.CreatedAt,
	}
}
