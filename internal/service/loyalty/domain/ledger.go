package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrRewardUnavailable   = errors.New("reward is not available")
	ErrRewardInUse         = errors.New("reward has redemptions and cannot be deleted")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrInvalidPoints       = errors.New("points must be positive")
	ErrInvalidType         = errors.New("invalid point transaction type")
	ErrInvalidReward       = errors.New("invalid reward")
	ErrServiceNotFound     = errors.New("service not found")
	ErrInvalidService      = errors.New("invalid service")
)

// InsufficientBalanceError 余额不足时带上余额和所需积分
type InsufficientBalanceError struct {
	Balance int
	Cost    int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: customer has %d pts, needs %d pts", e.Balance, e.Cost)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

type TxType string

const (
	TxEarn   TxType = "EARN"
	TxRedeem TxType = "REDEEM"
	TxAdjust TxType = "ADJUST"
)

// Credits EARN 和 ADJUST 计入余额，REDEEM 扣减
func (t TxType) Credits() bool { return t == TxEarn || t == TxAdjust }

func (t TxType) Valid() bool { return t == TxEarn || t == TxRedeem || t == TxAdjust }

// PointTransaction 积分流水，Points 永远是正数，方向由类型决定
type PointTransaction struct {
	ID             uint      `json:"id"`
	OrganizationID uint      `json:"organization_id"`
	CustomerID     uint      `json:"customer_id"`
	Type           TxType    `json:"transaction_type"`
	Points         int       `json:"points"`
	Description    string    `json:"description"`
	PerformedBy    *uint     `json:"performed_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Signed 带符号的变动值
func (t *PointTransaction) Signed() int {
	if t.Type.Credits() {
		return t.Points
	}
	return -t.Points
}

func (t *PointTransaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if t.Points <= 0 {
		return ErrInvalidPoints
	}
	t.Description = strings.TrimSpace(t.Description)
	return nil
}

// Balance 余额只从流水推导
func Balance(entries []*PointTransaction) int {
	total := 0
	for _, e := range entries {
		total += e.Signed()
	}
	return total
}

// Totals 一段时间内的积分变动
type Totals struct {
	Earned   int `json:"earned"`
	Redeemed int `json:"redeemed"`
}

func (t Totals) Balance() int { return t.Earned - t.Redeemed }
