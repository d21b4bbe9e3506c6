package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DefaultStampsNeeded = 10

// StampPromotion 集章活动：集满 TotalStampsNeeded 个章兑换奖励
type StampPromotion struct {
	ID                uint       `json:"id"`
	OrganizationID    uint       `json:"organization_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	TotalStampsNeeded int        `json:"total_stamps_needed"`
	RewardDescription string     `json:"reward_description"`
	IsActive          bool       `json:"is_active"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsRunning 启用且今天（租户时区）在起止日期内，日期两端都包含
func (p *StampPromotion) IsRunning(now time.Time, loc *time.Location) bool {
	if !p.IsActive {
		return false
	}
	today := dateOnly(now.In(loc))
	if p.StartDate != nil && today.Before(dateOnly(*p.StartDate)) {
		return false
	}
	if p.EndDate != nil && today.After(dateOnly(*p.EndDate)) {
		return false
	}
	return true
}

func (p *StampPromotion) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errors.Wrap(ErrInvalidPromotion, "name is required")
	}
	if p.TotalStampsNeeded == 0 {
		p.TotalStampsNeeded = DefaultStampsNeeded
	}
	if p.TotalStampsNeeded < 1 {
		return errors.Wrap(ErrInvalidPromotion, "total stamps needed must be positive")
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return errors.Wrap(ErrInvalidPromotion, "end date before start date")
	}
	return nil
}

// dateOnly 只保留年月日，丢弃时区偏移，用于日期比较
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
