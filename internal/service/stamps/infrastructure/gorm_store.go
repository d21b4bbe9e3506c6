package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyhub/internal/service/stamps/domain"
)

// GormStore 集章仓储，在一个 *gorm.DB 上实现 domain.Store
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

func (s *GormStore) LockCustomer(ctx context.Context, orgID, customerID uint) (*domain.CustomerInfo, error) {
	var row customerRow
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND id = ?", orgID, customerID).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, domain.ErrCustomerNotFound, "lock customer")
	}
	return row.toDomain(), nil
}

func (s *GormStore) FindCustomer(ctx context.Context, orgID, customerID uint) (*domain.CustomerInfo, error) {
	return s.firstCustomer(ctx, "organization_id = ? AND id = ?", orgID, customerID)
}

func (s *GormStore) FindCustomerByEmail(ctx context.Context, orgID uint, email string) (*domain.CustomerInfo, error) {
	if email == "" {
		return nil, domain.ErrCustomerNotFound
	}
	return s.firstCustomer(ctx, "organization_id = ? AND email = ?", orgID, email)
}

func (s *GormStore) FindCustomerByPhone(ctx context.Context, orgID uint, phone string) (*domain.CustomerInfo, error) {
	if phone == "" {
		return nil, domain.ErrCustomerNotFound
	}
	return s.firstCustomer(ctx, "organization_id = ? AND phone = ?", orgID, phone)
}

func (s *GormStore) firstCustomer(ctx context.Context, query string, args ...interface{}) (*domain.CustomerInfo, error) {
	var row customerRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("id").First(&row).Error; err != nil {
		return nil, notFound(err, domain.ErrCustomerNotFound, "find customer")
	}
	return row.toDomain(), nil
}

func (s *GormStore) LastAddAt(ctx context.Context, orgID, customerID uint) (*time.Time, error) {
	var tx StampTransactionModel
	err := s.db.WithContext(ctx).
		Joins("JOIN stamp_cards ON stamp_cards.id = stamp_transactions.card_id").
		Where("stamp_cards.organization_id = ? AND stamp_cards.customer_id = ? AND stamp_transactions.action = ?",
			orgID, customerID, string(domain.ActionAdd)).
		Order("stamp_transactions.created_at DESC").
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find last stamp")
	}
	return &tx.CreatedAt, nil
}

func (s *GormStore) CreatePromotion(ctx context.Context, p *domain.StampPromotion) error {
	m := promotionModel(p)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create promotion")
	}
	p.ID, p.CreatedAt = m.ID, m.CreatedAt
	return nil
}

func (s *GormStore) UpdatePromotion(ctx context.Context, p *domain.StampPromotion) error {
	res := s.db.WithContext(ctx).Model(&StampPromotionModel{}).
		Where("organization_id = ? AND id = ?", p.OrganizationID, p.ID).
		Updates(map[string]interface{}{
			"name":                p.Name,
			"description":         p.Description,
			"total_stamps_needed": p.TotalStampsNeeded,
			"reward_description":  p.RewardDescription,
			"is_active":           p.IsActive,
			"start_date":          p.StartDate,
			"end_date":            p.EndDate,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update promotion")
	}
	if res.RowsAffected == 0 {
		return domain.ErrPromotionNotFound
	}
	return nil
}

func (s *GormStore) FindPromotion(ctx context.Context, orgID, id uint) (*domain.StampPromotion, error) {
	var m StampPromotionModel
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrPromotionNotFound, "find promotion")
	}
	return m.toDomain(), nil
}

func (s *GormStore) ListPromotions(ctx context.Context, orgID uint, activeOnly bool) ([]*domain.StampPromotion, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var models []StampPromotionModel
	if err := q.Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}
	out := make([]*domain.StampPromotion, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (s *GormStore) FindCard(ctx context.Context, orgID, id uint) (*domain.StampCard, error) {
	var m StampCardModel
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrCardNotFound, "find card")
	}
	return m.toDomain(), nil
}

func (s *GormStore) FindOpenCard(ctx context.Context, orgID, customerID, promotionID uint) (*domain.StampCard, error) {
	var m StampCardModel
	err := s.openCards(ctx, orgID, customerID, promotionID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err, domain.ErrCardNotFound, "find open card")
	}
	return m.toDomain(), nil
}

func (s *GormStore) OtherOpenCards(ctx context.Context, orgID, customerID, promotionID, excludeCardID uint) ([]*domain.StampCard, error) {
	var ms []StampCardModel
	err := s.openCards(ctx, orgID, customerID, promotionID).
		Where("id <> ?", excludeCardID).
		Order("created_at DESC, id DESC").
		Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "list open cards")
	}
	out := make([]*domain.StampCard, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].toDomain())
	}
	return out, nil
}

func (s *GormStore) openCards(ctx context.Context, orgID, customerID, promotionID uint) *gorm.DB {
	return s.db.WithContext(ctx).Model(&StampCardModel{}).
		Where("organization_id = ? AND customer_id = ? AND promotion_id = ? AND is_completed = ? AND is_redeemed = ?",
			orgID, customerID, promotionID, false, false)
}

func (s *GormStore) CreateCard(ctx context.Context, c *domain.StampCard) error {
	m := cardModel(c)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create card")
	}
	c.ID = m.ID
	return nil
}

func (s *GormStore) SaveCard(ctx context.Context, c *domain.StampCard) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(cardModel(c)).Error, "save card")
}

func (s *GormStore) CardsForCustomer(ctx context.Context, orgID, customerID uint) ([]*domain.StampCard, error) {
	var models []StampCardModel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND customer_id = ?", orgID, customerID).
		Order("created_at DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list customer cards")
	}
	out := make([]*domain.StampCard, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func (s *GormStore) BoardCards(ctx context.Context, orgID uint, query string) ([]domain.BoardCard, error) {
	q := s.db.WithContext(ctx).
		Joins("JOIN customers ON customers.id = stamp_cards.customer_id").
		Where("stamp_cards.organization_id = ? AND stamp_cards.is_redeemed = ?", orgID, false)
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("customers.first_name LIKE ? OR customers.last_name LIKE ? OR customers.phone LIKE ? OR customers.email LIKE ?",
			like, like, like, like)
	}
	var cards []StampCardModel
	if err := q.Order("stamp_cards.redemption_requested DESC, stamp_cards.last_stamp_at DESC").Find(&cards).Error; err != nil {
		return nil, errors.Wrap(err, "list board cards")
	}
	if len(cards) == 0 {
		return nil, nil
	}

	customerIDs := make([]uint, 0, len(cards))
	promotionIDs := make([]uint, 0, len(cards))
	for _, c := range cards {
		customerIDs = append(customerIDs, c.CustomerID)
		promotionIDs = append(promotionIDs, c.PromotionID)
	}
	var customers []customerRow
	if err := s.db.WithContext(ctx).Where("id IN ?", customerIDs).Find(&customers).Error; err != nil {
		return nil, errors.Wrap(err, "load board customers")
	}
	var promotions []StampPromotionModel
	if err := s.db.WithContext(ctx).Where("id IN ?", promotionIDs).Find(&promotions).Error; err != nil {
		return nil, errors.Wrap(err, "load board promotions")
	}
	byCustomer := make(map[uint]*domain.CustomerInfo, len(customers))
	for i := range customers {
		byCustomer[customers[i].ID] = customers[i].toDomain()
	}
	byPromotion := make(map[uint]*domain.StampPromotion, len(promotions))
	for i := range promotions {
		byPromotion[promotions[i].ID] = promotions[i].toDomain()
	}

	out := make([]domain.BoardCard, 0, len(cards))
	for i := range cards {
		out = append(out, domain.BoardCard{
			Card:     &domain.CardView{StampCard: cards[i].toDomain(), Promotion: byPromotion[cards[i].PromotionID]},
			Customer: byCustomer[cards[i].CustomerID],
		})
	}
	return out, nil
}

func (s *GormStore) AppendTransaction(ctx context.Context, t *domain.StampTransaction) error {
	m := &StampTransactionModel{
		OrganizationID: t.OrganizationID,
		CardID:         t.CardID,
		Action:         string(t.Action),
		Quantity:       t.Quantity,
		PerformedBy:    t.PerformedBy,
		CreatedAt:      t.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "append stamp transaction")
	}
	t.ID = m.ID
	return nil
}

func (s *GormStore) FindTransaction(ctx context.Context, orgID, id uint) (*domain.StampTransaction, error) {
	var m StampTransactionModel
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrTxNotFound, "find stamp transaction")
	}
	return m.toDomain(), nil
}

func (s *GormStore) DeleteTransaction(ctx context.Context, orgID, id uint) error {
	res := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).Delete(&StampTransactionModel{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete stamp transaction")
	}
	if res.RowsAffected == 0 {
		return domain.ErrTxNotFound
	}
	return nil
}

func (s *GormStore) CountAddsSince(ctx context.Context, orgID uint, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&StampTransactionModel{}).
		Where("organization_id = ? AND action = ? AND created_at >= ?", orgID, string(domain.ActionAdd), since).
		Count(&n).Error
	return n, errors.Wrap(err, "count stamps")
}

type historyRow struct {
	StampTransactionModel
	PromotionName string
}

func (s *GormStore) History(ctx context.Context, orgID, customerID uint, limit int) ([]*domain.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).Table("stamp_transactions").
		Select("stamp_transactions.*, stamp_promotions.name AS promotion_name").
		Joins("JOIN stamp_cards ON stamp_cards.id = stamp_transactions.card_id").
		Joins("JOIN stamp_promotions ON stamp_promotions.id = stamp_cards.promotion_id").
		Where("stamp_cards.organization_id = ? AND stamp_cards.customer_id = ?", orgID, customerID).
		Order("stamp_transactions.created_at DESC, stamp_transactions.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load stamp history")
	}
	out := make([]*domain.HistoryEntry, 0, len(rows))
	for i := range rows {
		out = append(out, &domain.HistoryEntry{
			StampTransaction: rows[i].StampTransactionModel.toDomain(),
			PromotionName:    rows[i].PromotionName,
		})
	}
	return out, nil
}

func (s *GormStore) CreateRequest(ctx context.Context, r *domain.StampRequest) error {
	m := requestModel(r)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create stamp request")
	}
	r.ID = m.ID
	return nil
}

func (s *GormStore) SaveRequest(ctx context.Context, r *domain.StampRequest) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(requestModel(r)).Error, "save stamp request")
}

func (s *GormStore) FindRequest(ctx context.Context, orgID, id uint) (*domain.StampRequest, error) {
	var m StampRequestModel
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrRequestNotFound, "find stamp request")
	}
	return m.toDomain(), nil
}

func (s *GormStore) LatestPendingRequest(ctx context.Context, orgID, customerID, promotionID uint) (*domain.StampRequest, error) {
	var m StampRequestModel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND customer_id = ? AND promotion_id = ? AND status = ?",
			orgID, customerID, promotionID, string(domain.RequestPending)).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err, domain.ErrRequestNotFound, "find pending request")
	}
	return m.toDomain(), nil
}

func (s *GormStore) ListPendingRequests(ctx context.Context, orgID uint) ([]*domain.StampRequest, error) {
	var models []StampRequestModel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, string(domain.RequestPending)).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list pending requests")
	}
	out := make([]*domain.StampRequest, 0, len(models))
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
