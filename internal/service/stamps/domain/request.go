package domain

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// StampRequest 顾客扫码发起的加章申请，员工批准后才会真正加章
type StampRequest struct {
	ID             uint          `json:"id"`
	OrganizationID uint          `json:"organization_id"`
	CustomerID     uint          `json:"customer_id"`
	PromotionID    uint          `json:"promotion_id"`
	Status         RequestStatus `json:"status"`
	ResolvedBy     *uint         `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	TransactionID  *uint         `json:"transaction_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (r *StampRequest) resolve(status RequestStatus, by *uint, now time.Time) error {
	if r.Status != RequestPending {
		return stateError("request is already " + string(r.Status))
	}
	r.Status = status
	r.ResolvedBy = by
	r.ResolvedAt = &now
	return nil
}

func (r *StampRequest) Approve(by *uint, txID uint, now time.Time) error {
	if err := r.resolve(RequestApproved, by, now); err != nil {
		return err
	}
	r.TransactionID = &txID
	return nil
}

func (r *StampRequest) Reject(by *uint, now time.Time) error {
	return r.resolve(RequestRejected, by, now)
}

// CooldownRemaining 冷却期剩余时间，<=0 表示可以再次申请
func (r *StampRequest) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if r.Status != RequestPending {
		return 0
	}
	return r.CreatedAt.Add(cooldown).Sub(now)
}
