package domain

import "time"

// StampCard 一张集章卡。同一顾客同一活动可以有多张卡（集满后开新卡），
// 但同一时刻最多只有一张未完成、未兑换的卡。
type StampCard struct {
	ID                   uint       `json:"id"`
	OrganizationID       uint       `json:"organization_id"`
	CustomerID           uint       `json:"customer_id"`
	PromotionID          uint       `json:"promotion_id"`
	CurrentStamps        int        `json:"current_stamps"`
	IsCompleted          bool       `json:"is_completed"`
	IsRedeemed           bool       `json:"is_redeemed"`
	RedemptionRequested  bool       `json:"redemption_requested"`
	RequestedAt          *time.Time `json:"requested_at,omitempty"`
	CompletedNotified    bool       `json:"-"`
	OneStampReminderSent bool       `json:"-"`
	ExpiringNotified     bool       `json:"-"`
	LastStampAt          *time.Time `json:"last_stamp_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// NewCard 新卡从 0 开始
func NewCard(orgID, customerID, promotionID uint, now time.Time) *StampCard {
	return &StampCard{
		OrganizationID: orgID,
		CustomerID:     customerID,
		PromotionID:    promotionID,
		CreatedAt:      now,
	}
}

// IsOpen 还在集章中
func (c *StampCard) IsOpen() bool {
	return !c.IsCompleted && !c.IsRedeemed
}

// ExpiresAt months <= 0 表示永不过期
func (c *StampCard) ExpiresAt(months int) (time.Time, bool) {
	if months <= 0 {
		return time.Time{}, false
	}
	return AddMonths(c.CreatedAt, months), true
}

// IsExpired 过期是读时推导的，不落库
func (c *StampCard) IsExpired(now time.Time, months int) bool {
	exp, ok := c.ExpiresAt(months)
	return ok && now.After(exp)
}

// AddStamps 累加印章，达到目标时标记完成；超出部分保留
// 返回本次是否刚好变为完成
func (c *StampCard) AddStamps(quantity, needed int, now time.Time) bool {
	c.CurrentStamps += quantity
	c.LastStampAt = &now
	if !c.IsCompleted && c.CurrentStamps >= needed {
		c.IsCompleted = true
		return true
	}
	return false
}

func (c *StampCard) Redeem() error {
	if !c.IsCompleted {
		return stateError("card is not completed yet")
	}
	if c.IsRedeemed {
		return stateError("card is already redeemed")
	}
	c.IsRedeemed = true
	return nil
}

func (c *StampCard) RequestRedemption(now time.Time) error {
	if !c.IsCompleted || c.IsRedeemed {
		return stateError("only completed, unredeemed cards can be requested")
	}
	c.RedemptionRequested = true
	c.RequestedAt = &now
	return nil
}

// RevertAdd 撤销一次加章：数量回退（最低 0），完成状态按回退后的数量重新判断
func (c *StampCard) RevertAdd(quantity, needed int) error {
	if c.IsRedeemed {
		return stateError("cannot undo a stamp on a redeemed card")
	}
	c.CurrentStamps -= quantity
	if c.CurrentStamps < 0 {
		c.CurrentStamps = 0
	}
	c.IsCompleted = c.CurrentStamps >= needed
	if !c.IsCompleted {
		c.RedemptionRequested = false
		c.RequestedAt = nil
	}
	return nil
}

// RevertRedeem 撤销兑换，卡回到"已完成未兑换"
func (c *StampCard) RevertRedeem() error {
	if !c.IsRedeemed {
		return stateError("card is not redeemed")
	}
	c.IsRedeemed = false
	c.RedemptionRequested = false
	c.RequestedAt = nil
	return nil
}

// Reset 手动清零，已兑换的卡不能清零
func (c *StampCard) Reset() (previous int, err error) {
	if c.IsRedeemed {
		return 0, stateError("cannot reset a redeemed card")
	}
	previous = c.CurrentStamps
	c.CurrentStamps = 0
	c.IsCompleted = false
	c.RedemptionRequested = false
	c.RequestedAt = nil
	return previous, nil
}

// AddMonths 按自然月相加，目标月没有该日时取月末（1 月 31 日 + 1 个月 = 2 月 28/29 日）
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
