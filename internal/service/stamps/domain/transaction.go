package domain

import "time"

type Action string

const (
	ActionAdd    Action = "ADD"
	ActionRedeem Action = "REDEEM"
	ActionReset  Action = "RESET"
)

// StampTransaction 卡片变动流水，是卡片历史的唯一依据
type StampTransaction struct {
	ID             uint      `json:"id"`
	OrganizationID uint      `json:"organization_id"`
	CardID         uint      `json:"card_id"`
	Action         Action    `json:"action"`
	Quantity       int       `json:"quantity"`
	PerformedBy    *uint     `json:"performed_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Undoable 在窗口期内的 ADD / REDEEM 可以撤销
func (t *StampTransaction) Undoable(now time.Time, window time.Duration) error {
	if t.Action == ActionReset {
		return stateError("reset entries cannot be undone")
	}
	if now.Sub(t.CreatedAt) > window {
		return ErrUndoWindowExpired
	}
	return nil
}
