package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrPromotionNotFound = errors.New("stamp promotion not found")
	ErrPromotionInactive = errors.New("no active stamp promotion")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrCardNotFound      = errors.New("stamp card not found")
	ErrTxNotFound        = errors.New("stamp transaction not found")
	ErrRequestNotFound   = errors.New("stamp request not found")
	ErrInvalidState      = errors.New("invalid card state")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrInvalidPromotion  = errors.New("invalid stamp promotion")
	ErrTooSoon           = errors.New("stamp lock active")
	ErrRequestCooldown   = errors.New("stamp request cooldown active")
	ErrUndoWindowExpired = errors.New("undo window expired")
	ErrPermissionDenied  = errors.New("permission denied")
)

// TooSoonError 防刷锁定期内再次加章
type TooSoonError struct {
	Remaining time.Duration
}

// MinutesLeft 向下取整
func (e *TooSoonError) MinutesLeft() int {
	return int(e.Remaining.Minutes())
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("anti-fraud lock: wait %d min before adding another stamp to this customer", e.MinutesLeft())
}

func (e *TooSoonError) Unwrap() error { return ErrTooSoon }

// CooldownError 冷却期内已有待处理的申请
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) MinutesLeft() int {
	return int(e.Remaining.Minutes())
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("a stamp request is already pending, try again in %d min", e.MinutesLeft())
}

func (e *CooldownError) Unwrap() error { return ErrRequestCooldown }

// stateError 附带原因的状态冲突
func stateError(reason string) error {
	return errors.Wrap(ErrInvalidState, reason)
}
