package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"loyaltyhub/internal/service/audit/domain"
)

// AuditLogModel audit_logs 表
type AuditLogModel struct {
	ID             uint      `gorm:"primarykey"`
	OrganizationID uint      `gorm:"index:idx_audit_org_created,priority:1;not null"`
	UserID         *uint     `gorm:"index"`
	CustomerID     *uint     `gorm:"index"`
	Action         string    `gorm:"size:20;index;not null"`
	Resource       string    `gorm:"size:100"`
	Description    string    `gorm:"type:text"`
	IPAddress      string    `gorm:"size:45"`
	CreatedAt      time.Time `gorm:"index:idx_audit_org_created,priority:2"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Append(ctx context.Context, e *domain.Entry) error {
	m := AuditLogModel{
		OrganizationID: e.OrganizationID,
		UserID:         e.UserID,
		CustomerID:     e.CustomerID,
		Action:         string(e.Action),
		Resource:       e.Resource,
		Description:    e.Description,
		IPAddress:      e.IPAddress,
		CreatedAt:      e.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return errors.Wrap(err, "append audit log")
	}
	e.ID = m.ID
	return nil
}

func (r *GormRepository) List(ctx context.Context, orgID uint, f domain.Filter) ([]*domain.Entry, error) {
	q := r.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if f.Action != "" {
		q = q.Where("action = ?", string(f.Action))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	var models []AuditLogModel
	if err := q.Order("created_at DESC, id DESC").Limit(f.Limit).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list audit logs")
	}
	out := make([]*domain.Entry, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.Entry{
			ID:             m.ID,
			OrganizationID: m.OrganizationID,
			UserID:         m.UserID,
			CustomerID:     m.CustomerID,
			Action:         domain.Action(m.Action),
			Resource:       m.Resource,
			Description:    m.Description,
			IPAddress:      m.IPAddress,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}
