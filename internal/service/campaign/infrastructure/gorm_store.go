package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/service/campaign/domain"
)

// MarketingCampaignModel marketing_campaigns 表
type MarketingCampaignModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"index;not null"`
	Name           string `gorm:"size:150;not null"`
	Channel        string `gorm:"size:10;not null"`
	Subject        string `gorm:"size:200"`
	Content        string `gorm:"type:text;not null"`
	TargetSegment  string `gorm:"size:500;not null"`
	Status         string `gorm:"size:20;not null;index"`
	ScheduledAt    *time.Time
	SentAt         *time.Time
	CreatedBy      *uint
	CreatedAt      time.Time `gorm:"index"`
}

func (MarketingCampaignModel) TableName() string { return "marketing_campaigns" }

func (m *MarketingCampaignModel) toDomain() *domain.Campaign {
	return &domain.Campaign{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Channel:        domain.Channel(m.Channel),
		Subject:        m.Subject,
		Content:        m.Content,
		TargetSegment:  m.TargetSegment,
		Status:         domain.Status(m.Status),
		ScheduledAt:    m.ScheduledAt,
		SentAt:         m.SentAt,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
	}
}

func campaignModel(c *domain.Campaign) *MarketingCampaignModel {
	return &MarketingCampaignModel{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Name:           c.Name,
		Channel:        string(c.Channel),
		Subject:        c.Subject,
		Content:        c.Content,
		TargetSegment:  c.TargetSegment,
		Status:         string(c.Status),
		ScheduledAt:    c.ScheduledAt,
		SentAt:         c.SentAt,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      c.CreatedAt,
	}
}

// CampaignLogModel campaign_logs 表，(campaign, customer) 唯一
type CampaignLogModel struct {
	ID             uint      `gorm:"primarykey"`
	OrganizationID uint      `gorm:"index;not null"`
	CampaignID     uint      `gorm:"uniqueIndex:idx_campaign_customer,priority:1;not null"`
	CustomerID     uint      `gorm:"uniqueIndex:idx_campaign_customer,priority:2;not null"`
	Status         string    `gorm:"size:20;not null;index"`
	SentAt         time.Time
	ErrorMessage   string    `gorm:"type:text"`
}

func (CampaignLogModel) TableName() string { return "campaign_logs" }

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

func (s *GormStore) Create(ctx context.Context, c *domain.Campaign) error {
	m := campaignModel(c)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "create campaign")
	}
	c.ID, c.CreatedAt = m.ID, m.CreatedAt
	return nil
}

func (s *GormStore) Save(ctx context.Context, c *domain.Campaign) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(campaignModel(c)).Error, "save campaign")
}

func (s *GormStore) Find(ctx context.Context, orgID, id uint) (*domain.Campaign, error) {
	var m MarketingCampaignModel
	err := s.db.WithContext(ctx).Where("organization_id = ? AND id = ?", orgID, id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find campaign")
	}
	return m.toDomain(), nil
}

func (s *GormStore) List(ctx context.Context, orgID uint) ([]*domain.Campaign, error) {
	var models []MarketingCampaignModel
	if err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list campaigns")
	}
	out := make([]*domain.Campaign, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

type memberRow struct {
	ID         uint
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	BirthDay   *int
	BirthMonth *int
	IsActive   bool
	CreatedAt  time.Time
	Points     int
	LastPoints aggTime
	LastStamp  aggTime
}

// aggTime MAX(created_at) 的结果；sqlite 对聚合列返回文本
type aggTime struct {
	Time  time.Time
	Valid bool
}

var aggLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (t *aggTime) Scan(v interface{}) error {
	var raw string
	switch x := v.(type) {
	case nil:
		*t = aggTime{}
		return nil
	case time.Time:
		*t = aggTime{Time: x, Valid: true}
		return nil
	case string:
		raw = x
	case []byte:
		raw = string(x)
	default:
		return errors.Errorf("unsupported time value %T", v)
	}
	for _, layout := range aggLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = aggTime{Time: parsed, Valid: true}
			return nil
		}
	}
	return errors.Errorf("cannot parse time %q", raw)
}

func (t aggTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

const memberSelect = `customers.id, customers.first_name, customers.last_name, customers.email, customers.phone,
customers.birth_day, customers.birth_month, customers.is_active, customers.created_at,
COALESCE((SELECT SUM(CASE WHEN pt.transaction_type = 'REDEEM' THEN -pt.points ELSE pt.points END)
  FROM point_transactions pt WHERE pt.customer_id = customers.id), 0) AS points,
(SELECT MAX(pt.created_at) FROM point_transactions pt WHERE pt.customer_id = customers.id) AS last_points,
(SELECT MAX(st.created_at) FROM stamp_transactions st JOIN stamp_cards sc ON sc.id = st.card_id
  WHERE sc.customer_id = customers.id) AS last_stamp`

// Members 租户全部顾客，带积分余额和最近一次活动时间
func (s *GormStore) Members(ctx context.Context, orgID uint) ([]*domain.Member, error) {
	var rows []memberRow
	err := s.db.WithContext(ctx).Table("customers").
		Select(memberSelect).
		Where("customers.organization_id = ?", orgID).
		Order("customers.first_name, customers.id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list campaign members")
	}
	out := make([]*domain.Member, 0, len(rows))
	for _, r := range rows {
		m := &domain.Member{
			CustomerID: r.ID,
			FirstName:  r.FirstName,
			LastName:   r.LastName,
			Email:      r.Email,
			Phone:      r.Phone,
			BirthDay:   r.BirthDay,
			BirthMonth: r.BirthMonth,
			IsActive:   r.IsActive,
			Points:     r.Points,
			CreatedAt:  r.CreatedAt,
		}
		m.LastActivity = latest(r.LastPoints.ptr(), r.LastStamp.ptr())
		out = append(out, m)
	}
	return out, nil
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	}
	return a
}

func (s *GormStore) LoggedCustomers(ctx context.Context, orgID, campaignID uint) (map[uint]struct{}, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&CampaignLogModel{}).
		Where("organization_id = ? AND campaign_id = ?", orgID, campaignID).
		Pluck("customer_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "list logged customers")
	}
	out := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *GormStore) CreateLogs(ctx context.Context, logs []*domain.Log) error {
	if len(logs) == 0 {
		return nil
	}
	models := make([]CampaignLogModel, 0, len(logs))
	for _, l := range logs {
		models = append(models, CampaignLogModel{
			OrganizationID: l.OrganizationID,
			CampaignID:     l.CampaignID,
			CustomerID:     l.CustomerID,
			Status:         string(l.Status),
			SentAt:         l.SentAt,
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&models, 200).Error; err != nil {
		return errors.Wrap(err, "create campaign logs")
	}
	for i := range models {
		logs[i].ID = models[i].ID
	}
	return nil
}

type logRow struct {
	CampaignLogModel
	FirstName string
	LastName  string
	Phone     string
	Email     string
}

func (r *logRow) toDomain() *domain.Log {
	c := domain.Member{FirstName: r.FirstName, LastName: r.LastName}
	return &domain.Log{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		CampaignID:     r.CampaignID,
		CustomerID:     r.CustomerID,
		Status:         domain.LogStatus(r.Status),
		SentAt:         r.SentAt,
		ErrorMessage:   r.ErrorMessage,
		CustomerName:   c.FullName(),
		Phone:          r.Phone,
		Email:          r.Email,
	}
}

func (s *GormStore) logs() *gorm.DB {
	return s.db.Table("campaign_logs").
		Select("campaign_logs.*, customers.first_name, customers.last_name, customers.phone, customers.email").
		Joins("JOIN customers ON customers.id = campaign_logs.customer_id")
}

// Logs 按状态、顾客名排序
func (s *GormStore) Logs(ctx context.Context, orgID, campaignID uint) ([]*domain.Log, error) {
	var rows []logRow
	err := s.logs().WithContext(ctx).
		Where("campaign_logs.organization_id = ? AND campaign_logs.campaign_id = ?", orgID, campaignID).
		Order("campaign_logs.status, customers.first_name, campaign_logs.id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list campaign logs")
	}
	out := make([]*domain.Log, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *GormStore) FindLog(ctx context.Context, orgID, id uint) (*domain.Log, error) {
	var rows []logRow
	err := s.logs().WithContext(ctx).
		Where("campaign_logs.organization_id = ? AND campaign_logs.id = ?", orgID, id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "find campaign log")
	}
	if len(rows) == 0 {
		return nil, domain.ErrLogNotFound
	}
	return rows[0].toDomain(), nil
}

func (s *GormStore) SaveLog(ctx context.Context, l *domain.Log) error {
	err := s.db.WithContext(ctx).Model(&CampaignLogModel{}).
		Where("organization_id = ? AND id = ?", l.OrganizationID, l.ID).
		Updates(map[string]interface{}{
			"status":        string(l.Status),
			"sent_at":       l.SentAt,
			"error_message": l.ErrorMessage,
		}).Error
	return errors.Wrap(err, "save campaign log")
}

func (s *GormStore) CountPending(ctx context.Context, orgID, campaignID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&CampaignLogModel{}).
		Where("organization_id = ? AND campaign_id = ? AND status = ?", orgID, campaignID, string(domain.LogPending)).
		Count(&n).Error
	return n, errors.Wrap(err, "count pending logs")
}
