package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Reward 积分兑换的奖品
type Reward struct {
	ID             uint       `json:"id"`
	OrganizationID uint       `json:"organization_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	PointsCost     int        `json:"points_cost"`
	IsActive       bool       `json:"is_active"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
}

// Available 启用且未过有效期（按租户时区的日期，当天仍有效）
func (r *Reward) Available(now time.Time, loc *time.Location) bool {
	if !r.IsActive {
		return false
	}
	if r.ValidUntil == nil {
		return true
	}
	y, m, d := now.In(loc).Date()
	vy, vm, vd := r.ValidUntil.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	until := time.Date(vy, vm, vd, 0, 0, 0, 0, time.UTC)
	return !today.After(until)
}

func (r *Reward) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return errors.Wrap(ErrInvalidReward, "name is required")
	}
	if r.PointsCost <= 0 {
		return errors.Wrap(ErrInvalidReward, "points cost must be positive")
	}
	return nil
}

// Redemption 一次兑换，与一条 REDEEM 流水一一对应
type Redemption struct {
	ID                 uint      `json:"id"`
	OrganizationID     uint      `json:"organization_id"`
	CustomerID         uint      `json:"customer_id"`
	RewardID           uint      `json:"reward_id"`
	PointsSpent        int       `json:"points_spent"`
	PointTransactionID uint      `json:"point_transaction_id"`
	ProcessedBy        *uint     `json:"processed_by,omitempty"`
	RedeemedAt         time.Time `json:"redeemed_at"`

	RewardName   string `json:"reward_name,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}
