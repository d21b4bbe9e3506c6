package domain

import (
	"context"
	"time"
)

type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionLogin        Action = "LOGIN"
	ActionStampAdd     Action = "STAMP_ADD"
	ActionStampRedeem  Action = "STAMP_REDEEM"
	ActionStampUndo    Action = "STAMP_UNDO"
	ActionStampReset   Action = "STAMP_RESET"
	ActionPointsAdd    Action = "POINTS_ADD"
	ActionPointsRedeem Action = "POINTS_REDEEM"
	ActionChatSent     Action = "WA_SENT"
)

// Entry 一条只追加的审计记录
type Entry struct {
	ID             uint      `json:"id"`
	OrganizationID uint      `json:"organization_id"`
	UserID         *uint     `json:"user_id,omitempty"`
	CustomerID     *uint     `json:"customer_id,omitempty"`
	Action         Action    `json:"action"`
	Resource       string    `json:"resource"`
	Description    string    `json:"description"`
	IPAddress      string    `json:"ip_address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Filter struct {
	Action Action
	From   *time.Time
	To     *time.Time
	Limit  int
}

type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, orgID uint, f Filter) ([]*Entry, error)
}
