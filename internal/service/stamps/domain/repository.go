package domain

import (
	"context"
	"time"
)

// Store 集章持久化端口。Transaction 中的回调拿到的是绑定到同一事务的 Store。
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// LockCustomer 锁住顾客行（SELECT ... FOR UPDATE），串行化同一顾客的卡片变更
	LockCustomer(ctx context.Context, orgID, customerID uint) (*CustomerInfo, error)
	FindCustomer(ctx context.Context, orgID, customerID uint) (*CustomerInfo, error)
	FindCustomerByEmail(ctx context.Context, orgID uint, email string) (*CustomerInfo, error)
	FindCustomerByPhone(ctx context.Context, orgID uint, phone string) (*CustomerInfo, error)
	// LastAddAt 顾客在所有卡片上最近一次 ADD 的时间，没有返回 nil
	LastAddAt(ctx context.Context, orgID, customerID uint) (*time.Time, error)

	CreatePromotion(ctx context.Context, p *StampPromotion) error
	UpdatePromotion(ctx context.Context, p *StampPromotion) error
	FindPromotion(ctx context.Context, orgID, id uint) (*StampPromotion, error)
	ListPromotions(ctx context.Context, orgID uint, activeOnly bool) ([]*StampPromotion, error)

	FindCard(ctx context.Context, orgID, id uint) (*StampCard, error)
	// FindOpenCard 最新的一张未完成未兑换卡，没有返回 ErrCardNotFound
	FindOpenCard(ctx context.Context, orgID, customerID, promotionID uint) (*StampCard, error)
	// OtherOpenCards 同一顾客同一活动除 excludeCardID 外未完成未兑换的卡，含已过期的
	OtherOpenCards(ctx context.Context, orgID, customerID, promotionID, excludeCardID uint) ([]*StampCard, error)
	CreateCard(ctx context.Context, c *StampCard) error
	SaveCard(ctx context.Context, c *StampCard) error
	CardsForCustomer(ctx context.Context, orgID, customerID uint) ([]*StampCard, error)
	// BoardCards 未兑换的卡片及顾客，query 非空时按姓名/电话/邮箱模糊匹配
	BoardCards(ctx context.Context, orgID uint, query string) ([]BoardCard, error)

	AppendTransaction(ctx context.Context, t *StampTransaction) error
	FindTransaction(ctx context.Context, orgID, id uint) (*StampTransaction, error)
	DeleteTransaction(ctx context.Context, orgID, id uint) error
	CountAddsSince(ctx context.Context, orgID uint, since time.Time) (int64, error)
	History(ctx context.Context, orgID, customerID uint, limit int) ([]*HistoryEntry, error)

	CreateRequest(ctx context.Context, r *StampRequest) error
	SaveRequest(ctx context.Context, r *StampRequest) error
	FindRequest(ctx context.Context, orgID, id uint) (*StampRequest, error)
	LatestPendingRequest(ctx context.Context, orgID, customerID, promotionID uint) (*StampRequest, error)
	ListPendingRequests(ctx context.Context, orgID uint) ([]*StampRequest, error)
}
