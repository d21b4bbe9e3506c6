package domain

import (
	"context"
	"time"
)

// CustomerRef 积分流程需要的顾客字段
type CustomerRef struct {
	ID        uint
	FirstName string
	LastName  string
}

func (c *CustomerRef) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Store 积分、奖品、服务目录的持久化
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	LockCustomer(ctx context.Context, orgID, customerID uint) (*CustomerRef, error)
	FindCustomer(ctx context.Context, orgID, customerID uint) (*CustomerRef, error)

	AppendPoints(ctx context.Context, t *PointTransaction) error
	CustomerTotals(ctx context.Context, orgID, customerID uint) (Totals, error)
	CustomerHistory(ctx context.Context, orgID, customerID uint, limit int) ([]*PointTransaction, error)
	ListPoints(ctx context.Context, orgID uint, from, to time.Time, limit int) ([]*PointTransaction, error)

	CreateReward(ctx context.Context, r *Reward) error
	UpdateReward(ctx context.Context, r *Reward) error
	DeleteReward(ctx context.Context, orgID, id uint) error
	FindReward(ctx context.Context, orgID, id uint) (*Reward, error)
	ListRewards(ctx context.Context, orgID uint, activeOnly bool) ([]*Reward, error)
	CountRedemptions(ctx context.Context, orgID, rewardID uint) (int64, error)

	CreateRedemption(ctx context.Context, r *Redemption) error
	ListRedemptions(ctx context.Context, orgID uint, limit int) ([]*Redemption, error)

	CreateCategory(ctx context.Context, c *ServiceCategory) error
	ListCategories(ctx context.Context, orgID uint) ([]*ServiceCategory, error)
	CreateService(ctx context.Context, s *ServiceItem) error
	UpdateService(ctx context.Context, s *ServiceItem) error
	FindService(ctx context.Context, orgID, id uint) (*ServiceItem, error)
	ListServices(ctx context.Context, orgID uint, activeOnly bool) ([]*ServiceItem, error)
}
