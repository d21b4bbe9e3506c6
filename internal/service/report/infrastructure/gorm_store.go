package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/service/report/domain"
)

// GormStore 报表只读查询，直接读业务表
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CountCustomers since 为零值时统计全部
func (s *GormStore) CountCustomers(ctx context.Context, orgID uint, since time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Table("customers").Where("organization_id = ?", orgID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var n int64
	return n, errors.Wrap(q.Count(&n).Error, "count customers")
}

func (s *GormStore) SumPoints(ctx context.Context, orgID uint, txType string, from, to time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Table("point_transactions").
		Select("COALESCE(SUM(points), 0)").
		Where("organization_id = ? AND transaction_type = ? AND created_at >= ? AND created_at < ?", orgID, txType, from, to).
		Scan(&total).Error
	return total, errors.Wrap(err, "sum points")
}

func (s *GormStore) CountOpenCards(ctx context.Context, orgID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Table("stamp_cards").
		Where("organization_id = ? AND is_completed = ? AND is_redeemed = ?", orgID, false, false).
		Count(&n).Error
	return n, errors.Wrap(err, "count open cards")
}

type movementRow struct {
	ID              uint
	CustomerID      uint
	FirstName       string
	LastName        string
	TransactionType string
	Points          int
	Description     string
	PerformedBy     *uint
	CreatedAt       time.Time
}

func (s *GormStore) Movements(ctx context.Context, orgID uint, from, to time.Time, limit int) ([]*domain.Movement, error) {
	q := s.db.WithContext(ctx).Table("point_transactions").
		Select("point_transactions.id, point_transactions.customer_id, customers.first_name, customers.last_name, " +
			"point_transactions.transaction_type, point_transactions.points, point_transactions.description, " +
			"point_transactions.performed_by, point_transactions.created_at").
		Joins("JOIN customers ON customers.id = point_transactions.customer_id").
		Where("point_transactions.organization_id = ?", orgID)
	if !from.IsZero() {
		q = q.Where("point_transactions.created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("point_transactions.created_at < ?", to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []movementRow
	if err := q.Order("point_transactions.created_at DESC, point_transactions.id DESC").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list movements")
	}
	out := make([]*domain.Movement, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.Movement{
			ID:           r.ID,
			CustomerID:   r.CustomerID,
			CustomerName: strings.TrimSpace(r.FirstName + " " + r.LastName),
			Type:         r.TransactionType,
			Points:       r.Points,
			Description:  r.Description,
			PerformedBy:  r.PerformedBy,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) Customers(ctx context.Context, orgID uint) ([]*domain.CustomerRow, error) {
	var rows []*domain.CustomerRow
	err := s.db.WithContext(ctx).Table("customers").
		Select("customers.id, customers.first_name, customers.last_name, customers.email, customers.phone, " +
			"customers.national_id, customers.birth_day, customers.birth_month, customers.is_active, customers.created_at, " +
			"COALESCE((SELECT SUM(CASE WHEN pt.transaction_type = 'REDEEM' THEN -pt.points ELSE pt.points END) " +
			"FROM point_transactions pt WHERE pt.customer_id = customers.id), 0) AS points").
		Where("customers.organization_id = ?", orgID).
		Order("customers.last_name, customers.first_name, customers.id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list customers for export")
	}
	return rows, nil
}
