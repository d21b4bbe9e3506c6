package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type ServiceCategory struct {
	ID             uint   `json:"id"`
	OrganizationID uint   `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
}

// ServiceItem 门店提供的服务，售出时奖励 PointsReward 积分
type ServiceItem struct {
	ID              uint            `json:"id"`
	OrganizationID  uint            `json:"organization_id"`
	CategoryID      *uint           `json:"category_id,omitempty"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
	PointsReward    int             `json:"points_reward"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

const DefaultDurationMinutes = 30

func (s *ServiceItem) Validate() error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return errors.Wrap(ErrInvalidService, "name is required")
	}
	if s.Price.IsNegative() {
		return errors.Wrap(ErrInvalidService, "price cannot be negative")
	}
	// 两位小数
	s.Price = s.Price.Round(2)
	if s.DurationMinutes == 0 {
		s.DurationMinutes = DefaultDurationMinutes
	}
	if s.DurationMinutes < 0 || s.PointsReward < 0 {
		return errors.Wrap(ErrInvalidService, "duration and points reward cannot be negative")
	}
	return nil
}

// SaleDescription 售出服务时写入流水的描述
func (s *ServiceItem) SaleDescription() string {
	return "Servicio: " + s.Name
}
