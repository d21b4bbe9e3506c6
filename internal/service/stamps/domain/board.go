package domain

import (
	"sort"
	"time"
)

// CustomerInfo 集章流程需要的顾客字段
type CustomerInfo struct {
	ID        uint   `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	IsActive  bool   `json:"is_active"`
}

func (c *CustomerInfo) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// CardView 带活动信息的卡片，供列表展示
type CardView struct {
	*StampCard
	Promotion *StampPromotion `json:"promotion"`
	ExpiresOn *time.Time      `json:"expires_at,omitempty"`
}

// CustomerGroup 看板上一个顾客的分组
type CustomerGroup struct {
	Customer       *CustomerInfo `json:"customer"`
	ActiveCard     *CardView     `json:"active_card,omitempty"`
	CompletedCards []*CardView   `json:"completed_cards"`
	RequestedCount int           `json:"requested_count"`
	LastActivity   *time.Time    `json:"last_activity,omitempty"`
}

type BoardStats struct {
	TotalActive int   `json:"total_active"`
	Completed   int   `json:"completed"`
	Requested   int   `json:"requested"`
	StampsToday int64 `json:"stamps_today"`
}

type Board struct {
	Groups []*CustomerGroup `json:"groups"`
	Stats  BoardStats       `json:"stats"`
}

// BoardCard 看板查询的一行
type BoardCard struct {
	Card     *CardView
	Customer *CustomerInfo
}

// GroupCards 按顾客分组：有兑换申请的排前面，其次按最近盖章时间倒序
func GroupCards(rows []BoardCard) ([]*CustomerGroup, BoardStats) {
	var stats BoardStats
	groups := make(map[uint]*CustomerGroup)
	order := make([]uint, 0)
	for _, row := range rows {
		card := row.Card
		g, ok := groups[row.Customer.ID]
		if !ok {
			g = &CustomerGroup{Customer: row.Customer, CompletedCards: []*CardView{}}
			groups[row.Customer.ID] = g
			order = append(order, row.Customer.ID)
		}
		switch {
		case card.IsCompleted:
			g.CompletedCards = append(g.CompletedCards, card)
			if card.RedemptionRequested {
				g.RequestedCount++
				stats.Requested++
			} else {
				stats.Completed++
			}
		default:
			stats.TotalActive++
			if g.ActiveCard == nil || later(card.LastStampAt, g.ActiveCard.LastStampAt) {
				g.ActiveCard = card
			}
		}
		if later(card.LastStampAt, g.LastActivity) {
			g.LastActivity = card.LastStampAt
		}
	}

	list := make([]*CustomerGroup, 0, len(order))
	for _, id := range order {
		list = append(list, groups[id])
	}
	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := list[i].RequestedCount > 0, list[j].RequestedCount > 0
		if ri != rj {
			return ri
		}
		return later(list[i].LastActivity, list[j].LastActivity)
	})
	return list, stats
}

// later a 是否晚于 b，nil 视为最早
func later(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// HistoryEntry 顾客历史中的一条流水
type HistoryEntry struct {
	*StampTransaction
	PromotionName string `json:"promotion_name"`
}
