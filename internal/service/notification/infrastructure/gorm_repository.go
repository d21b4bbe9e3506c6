package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/service/notification/domain"
)

// NotificationConfigModel notification_configs 表，每个租户一行
type NotificationConfigModel struct {
	ID                uint   `gorm:"primarykey"`
	OrganizationID    uint   `gorm:"uniqueIndex;not null"`
	ChatAPIURL        string `gorm:"column:chat_api_url;size:255"`
	ChatToken         string `gorm:"size:255"`
	EmailEnabled      bool   `gorm:"not null"`
	TemplateCompleted string `gorm:"type:text"`
	TemplateOneLeft   string `gorm:"type:text"`
	TemplateExpiring  string `gorm:"type:text"`
	BirthdayEnabled   bool   `gorm:"not null"`
	BirthdayTemplate  string `gorm:"type:text"`
	UpdatedAt         time.Time
}

func (NotificationConfigModel) TableName() string { return "notification_configs" }

func (m *NotificationConfigModel) toDomain() *domain.Config {
	return &domain.Config{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		ChatAPIURL:        m.ChatAPIURL,
		ChatToken:         m.ChatToken,
		EmailEnabled:      m.EmailEnabled,
		TemplateCompleted: m.TemplateCompleted,
		TemplateOneLeft:   m.TemplateOneLeft,
		TemplateExpiring:  m.TemplateExpiring,
		BirthdayEnabled:   m.BirthdayEnabled,
		BirthdayTemplate:  m.BirthdayTemplate,
	}
}

type GormConfigRepository struct {
	db *gorm.DB
}

func NewGormConfigRepository(db *gorm.DB) *GormConfigRepository {
	return &GormConfigRepository{db: db}
}

func (r *GormConfigRepository) Find(ctx context.Context, orgID uint) (*domain.Config, error) {
	var m NotificationConfigModel
	err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrConfigNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find notification config")
	}
	return m.toDomain(), nil
}

func (r *GormConfigRepository) Save(ctx context.Context, cfg *domain.Config) error {
	m := &NotificationConfigModel{
		ID:                cfg.ID,
		OrganizationID:    cfg.OrganizationID,
		ChatAPIURL:        cfg.ChatAPIURL,
		ChatToken:         cfg.ChatToken,
		EmailEnabled:      cfg.EmailEnabled,
		TemplateCompleted: cfg.TemplateCompleted,
		TemplateOneLeft:   cfg.TemplateOneLeft,
		TemplateExpiring:  cfg.TemplateExpiring,
		BirthdayEnabled:   cfg.BirthdayEnabled,
		BirthdayTemplate:  cfg.BirthdayTemplate,
	}
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return errors.Wrap(err, "save notification config")
	}
	cfg.ID = m.ID
	return nil
}

func (r *GormConfigRepository) ListBirthdayEnabled(ctx context.Context) ([]*domain.Config, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("birthday_enabled = ?", true))
}

func (r *GormConfigRepository) ListAll(ctx context.Context) ([]*domain.Config, error) {
	return r.list(ctx, r.db.WithContext(ctx))
}

func (r *GormConfigRepository) list(_ context.Context, q *gorm.DB) ([]*domain.Config, error) {
	var models []NotificationConfigModel
	if err := q.Order("organization_id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list notification configs")
	}
	out := make([]*domain.Config, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

// GormCardStore 读写 stamp_cards 上的通知标记，并为扫描查询卡片、顾客
type GormCardStore struct {
	db *gorm.DB
}

func NewGormCardStore(db *gorm.DB) *GormCardStore {
	return &GormCardStore{db: db}
}

func (s *GormCardStore) MarkCompletedNotified(ctx context.Context, cardID uint) error {
	return s.setFlag(ctx, cardID, "completed_notified", true)
}

func (s *GormCardStore) SetOneLeftSent(ctx context.Context, cardID uint, sent bool) error {
	return s.setFlag(ctx, cardID, "one_stamp_reminder_sent", sent)
}

func (s *GormCardStore) MarkExpiringNotified(ctx context.Context, cardID uint) error {
	return s.setFlag(ctx, cardID, "expiring_notified", true)
}

func (s *GormCardStore) setFlag(ctx context.Context, cardID uint, column string, value bool) error {
	err := s.db.WithContext(ctx).Table("stamp_cards").Where("id = ?", cardID).UpdateColumn(column, value).Error
	return errors.Wrapf(err, "update %s", column)
}

type expiringRow struct {
	CardID            uint
	CreatedAt         time.Time
	PromotionName     string
	RewardDescription string
	CustomerID        uint
	FirstName         string
	LastName          string
	Phone             string
	Email             string
}

func (s *GormCardStore) OpenCardsCreatedBetween(ctx context.Context, orgID uint, from, to time.Time) ([]*domain.ExpiringCard, error) {
	var rows []expiringRow
	err := s.db.WithContext(ctx).Table("stamp_cards").
		Select(`stamp_cards.id AS card_id, stamp_cards.created_at, stamp_promotions.name AS promotion_name,
			stamp_promotions.reward_description, customers.id AS customer_id, customers.first_name,
			customers.last_name, customers.phone, customers.email`).
		Joins("JOIN customers ON customers.id = stamp_cards.customer_id").
		Joins("JOIN stamp_promotions ON stamp_promotions.id = stamp_cards.promotion_id").
		Where("stamp_cards.organization_id = ? AND stamp_cards.is_completed = ? AND stamp_cards.is_redeemed = ? AND stamp_cards.expiring_notified = ?",
			orgID, false, false, false).
		Where("stamp_cards.created_at >= ? AND stamp_cards.created_at <= ?", from, to).
		Order("stamp_cards.id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list expiring cards")
	}
	out := make([]*domain.ExpiringCard, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.ExpiringCard{
			CardID:            r.CardID,
			CreatedAt:         r.CreatedAt,
			PromotionName:     r.PromotionName,
			RewardDescription: r.RewardDescription,
			Recipient:         recipient(r.CustomerID, r.FirstName, r.LastName, r.Phone, r.Email),
		})
	}
	return out, nil
}

type birthdayRow struct {
	ID        uint
	FirstName string
	LastName  string
	Phone     string
	Email     string
}

func (s *GormCardStore) BirthdaysOn(ctx context.Context, orgID uint, day int, month time.Month) ([]domain.Recipient, error) {
	var rows []birthdayRow
	err := s.db.WithContext(ctx).Table("customers").
		Select("id, first_name, last_name, phone, email").
		Where("organization_id = ? AND birth_day = ? AND birth_month = ? AND is_active = ?", orgID, day, int(month), true).
		Order("id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list birthdays")
	}
	out := make([]domain.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, recipient(r.ID, r.FirstName, r.LastName, r.Phone, r.Email))
	}
	return out, nil
}

func recipient(id uint, first, last, phone, email string) domain.Recipient {
	full := first
	if last != "" {
		full += " " + last
	}
	return domain.Recipient{CustomerID: id, FirstName: first, FullName: full, Phone: phone, Email: email}
}
