package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/service/gate/domain"
)

// TableUsageCounter 直接对业务表 count，不依赖其他服务的包
type TableUsageCounter struct {
	db *gorm.DB
}

func NewTableUsageCounter(db *gorm.DB) *TableUsageCounter {
	return &TableUsageCounter{db: db}
}

func (c *TableUsageCounter) Count(ctx context.Context, orgID uint, t domain.LimitType, now time.Time) (int, bool, error) {
	q := c.db.WithContext(ctx)
	var n int64
	var err error
	switch t {
	case domain.LimitCustomers:
		err = q.Table("customers").Where("organization_id = ?", orgID).Count(&n).Error
	case domain.LimitStaff:
		err = q.Table("users").Where("organization_id = ? AND is_staff_member = ?", orgID, true).Count(&n).Error
	case domain.LimitCampaignsMonthly:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		err = q.Table("marketing_campaigns").
			Where("organization_id = ? AND created_at >= ?", orgID, monthStart.UTC()).Count(&n).Error
	default:
		return 0, false, nil
	}
	if err != nil {
		return 0, true, errors.Wrapf(err, "count usage %s", t)
	}
	return int(n), true, nil
}
