package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyhub/internal/pkg/database"
	"loyaltyhub/internal/service/loyalty/domain"
)

// GormStore 积分与奖品仓储
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) LockCustomer(ctx context.Context, orgID, customerID uint) (*domain.CustomerRef, error) {
	return s.customer(ctx, s.db.Clauses(clause.Locking{Strength: "UPDATE"}), orgID, customerID)
}

func (s *GormStore) FindCustomer(ctx context.Context, orgID, customerID uint) (*domain.CustomerRef, error) {
	return s.customer(ctx, s.db, orgID, customerID)
}

func (s *GormStore) customer(ctx context.Context, db *gorm.DB, orgID, customerID uint) (*domain.CustomerRef, error) {
	var row customerRow
	err := db.WithContext(ctx).
		Select("id", "first_name", "last_name").
		Where("organization_id = ? AND id = ?", orgID, customerID).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, domain.ErrCustomerNotFound, "find customer")
	}
	return &domain.CustomerRef{ID: row.ID, FirstName: row.FirstName, LastName: row.LastName}, nil
}

func (s *GormStore) AppendPoints(ctx context.Context, t *domain.PointTransaction) error {
	m := &PointTransactionModel{
		OrganizationID:  t.OrganizationID,
		CustomerID:      t.CustomerID,
		TransactionType: string(t.Type),
		Points:          t.Points,
		Description:     t.Description,
		PerformedBy:     t.PerformedBy,
		CreatedAt:       t.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "append point transaction")
	}
	t.ID, t.CreatedAt = m.ID, m.CreatedAt
	return nil
}

type totalsRow struct {
	Earned   int
	Redeemed int
}

// CustomerTotals 在数据库里聚合，避免把整条流水读出来
func (s *GormStore) CustomerTotals(ctx context.Context, orgID, customerID uint) (domain.Totals, error) {
	var row totalsRow
	err := s.db.WithContext(ctx).Model(&PointTransactionModel{}).
		Select("COALESCE(SUM(CASE WHEN transaction_type IN ? THEN points ELSE 0 END), 0) AS earned, "+
			"COALESCE(SUM(CASE WHEN transaction_type = ? THEN points ELSE 0 END), 0) AS redeemed",
			[]string{string(domain.TxEarn), string(domain.TxAdjust)}, string(domain.TxRedeem)).
		Where("organization_id = ? AND customer_id = ?", orgID, customerID).
		Scan(&row).Error
	if err != nil {
		return domain.Totals{}, errors.Wrap(err, "sum points")
	}
	return domain.Totals{Earned: row.Earned, Redeemed: row.Redeemed}, nil
}

func (s *GormStore) CustomerHistory(ctx context.Context, orgID, customerID uint, limit int) ([]*domain.PointTransaction, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ? AND customer_id = ?", orgID, customerID)
	return s.points(q, limit)
}

func (s *GormStore) ListPoints(ctx context.Context, orgID uint, from, to time.Time, limit int) ([]*domain.PointTransaction, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to)
	}
	return s.points(q, limit)
}

func (s *GormStore) points(q *gorm.DB, limit int) ([]*domain.PointTransaction, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []PointTransactionModel
	if err := q.Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list point transactions")
	}
	out := make([]*domain.PointTransaction, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (s *GormStore) CreateReward(ctx context.Context, r *domain.Reward) error {
	m := rewardModel(r)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create reward")
	}
	r.ID = m.ID
	return nil
}

func (s *GormStore) UpdateReward(ctx context.Context, r *domain.Reward) error {
	res := s.db.WithContext(ctx).Model(&RewardModel{}).
		Where("organization_id = ? AND id = ?", r.OrganizationID, r.ID).
		Updates(map[string]interface{}{
			"name":        r.Name,
			"description": r.Description,
			"points_cost": r.PointsCost,
			"is_active":   r.IsActive,
			"valid_until": r.ValidUntil,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update reward")
	}
	if res.RowsAffected == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

func (s *GormStore) DeleteReward(ctx context.Context, orgID, id uint) error {
	res := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).Delete(&RewardModel{})
	if res.Error != nil {
		if database.IsReferenced(res.Error) {
			return domain.ErrRewardInUse
		}
		return errors.Wrap(res.Error, "delete reward")
	}
	if res.RowsAffected == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

func (s *GormStore) FindReward(ctx context.Context, orgID, id uint) (*domain.Reward, error) {
	var m RewardModel
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrRewardNotFound, "find reward")
	}
	return m.toDomain(), nil
}

func (s *GormStore) ListRewards(ctx context.Context, orgID uint, activeOnly bool) ([]*domain.Reward, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var models []RewardModel
	if err := q.Order("points_cost, valid_until, id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list rewards")
	}
	out := make([]*domain.Reward, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (s *GormStore) CountRedemptions(ctx context.Context, orgID, rewardID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RedemptionModel{}).
		Where("organization_id = ? AND reward_id = ?", orgID, rewardID).
		Count(&n).Error
	return n, errors.Wrap(err, "count redemptions")
}

func (s *GormStore) CreateRedemption(ctx context.Context, r *domain.Redemption) error {
	m := &RedemptionModel{
		OrganizationID:     r.OrganizationID,
		CustomerID:         r.CustomerID,
		RewardID:           r.RewardID,
		PointsSpent:        r.PointsSpent,
		PointTransactionID: r.PointTransactionID,
		ProcessedBy:        r.ProcessedBy,
		RedeemedAt:         r.RedeemedAt,
	}
	if err := s.db.WithContext(ctx).Omit("Reward").Create(m).Error; err != nil {
		return errors.Wrap(err, "create redemption")
	}
	r.ID = m.ID
	return nil
}

type redemptionRow struct {
	RedemptionModel
	RewardName    string
	CustomerFirst string
	CustomerLast  string
}

func (s *GormStore) ListRedemptions(ctx context.Context, orgID uint, limit int) ([]*domain.Redemption, error) {
	q := s.db.WithContext(ctx).Table("redemptions").
		Select("redemptions.*, rewards.name AS reward_name, "+
			"customers.first_name AS customer_first, customers.last_name AS customer_last").
		Joins("JOIN rewards ON rewards.id = redemptions.reward_id").
		Joins("JOIN customers ON customers.id = redemptions.customer_id").
		Where("redemptions.organization_id = ?", orgID).
		Order("redemptions.redeemed_at DESC, redemptions.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []redemptionRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list redemptions")
	}
	out := make([]*domain.Redemption, 0, len(rows))
	for _, row := range rows {
		c := domain.CustomerRef{FirstName: row.CustomerFirst, LastName: row.CustomerLast}
		out = append(out, &domain.Redemption{
			ID:                 row.ID,
			OrganizationID:     row.OrganizationID,
			CustomerID:         row.CustomerID,
			RewardID:           row.RewardID,
			PointsSpent:        row.PointsSpent,
			PointTransactionID: row.PointTransactionID,
			ProcessedBy:        row.ProcessedBy,
			RedeemedAt:         row.RedeemedAt,
			RewardName:         row.RewardName,
			CustomerName:       c.FullName(),
		})
	}
	return out, nil
}

func (s *GormStore) CreateCategory(ctx context.Context, c *domain.ServiceCategory) error {
	m := &ServiceCategoryModel{OrganizationID: c.OrganizationID, Name: c.Name, Description: c.Description}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create service category")
	}
	c.ID = m.ID
	return nil
}

func (s *GormStore) ListCategories(ctx context.Context, orgID uint) ([]*domain.ServiceCategory, error) {
	var models []ServiceCategoryModel
	if err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("name").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list service categories")
	}
	out := make([]*domain.ServiceCategory, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.ServiceCategory{ID: m.ID, OrganizationID: m.OrganizationID, Name: m.Name, Description: m.Description})
	}
	return out, nil
}

func (s *GormStore) CreateService(ctx context.Context, item *domain.ServiceItem) error {
	m := serviceModel(item)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create service")
	}
	item.ID, item.CreatedAt, item.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
	return nil
}

func (s *GormStore) UpdateService(ctx context.Context, item *domain.ServiceItem) error {
	res := s.db.WithContext(ctx).Model(&ServiceItemModel{}).
		Where("organization_id = ? AND id = ?", item.OrganizationID, item.ID).
		Updates(map[string]interface{}{
			"category_id":      item.CategoryID,
			"name":             item.Name,
			"description":      item.Description,
			"price":            item.Price,
			"duration_minutes": item.DurationMinutes,
			"points_reward":    item.PointsReward,
			"is_active":        item.IsActive,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update service")
	}
	if res.RowsAffected == 0 {
		return domain.ErrServiceNotFound
	}
	return nil
}

func (s *GormStore) FindService(ctx context.Context, orgID, id uint) (*domain.ServiceItem, error) {
	var m ServiceItemModel
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrServiceNotFound, "find service")
	}
	return m.toDomain(), nil
}

func (s *GormStore) ListServices(ctx context.Context, orgID uint, activeOnly bool) ([]*domain.ServiceItem, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var models []ServiceItemModel
	if err := q.Order("name").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list services")
	}
	out := make([]*domain.ServiceItem, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func notFound(err, sentinel error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return errors.Wrap(err, op)
}
