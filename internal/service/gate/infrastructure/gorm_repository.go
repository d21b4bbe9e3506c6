package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loyaltyhub/internal/service/gate/domain"
)

// FeatureFlagModel feature_flags 表，(organization_id, feature_key) 唯一
type FeatureFlagModel struct {
	ID             uint   `gorm:"primarykey"`
	OrganizationID uint   `gorm:"uniqueIndex:uq_feature_org_key,priority:1;not null"`
	FeatureKey     string `gorm:"size:100;uniqueIndex:uq_feature_org_key,priority:2;not null"`
	IsEnabled      bool   `gorm:"not null"`
	EnabledAt      *time.Time
	Notes          string `gorm:"type:text"`
}

func (FeatureFlagModel) TableName() string { return "feature_flags" }

// UsageLimitModel usage_limits 表，(organization_id, limit_type) 唯一
type UsageLimitModel struct {
	ID               uint   `gorm:"primarykey"`
	OrganizationID   uint   `gorm:"uniqueIndex:uq_limit_org_type,priority:1;not null"`
	LimitType        string `gorm:"size:50;uniqueIndex:uq_limit_org_type,priority:2;not null"`
	LimitValue       int    `gorm:"not null"`
	CurrentUsage     int    `gorm:"not null"`
	EnforceLimit     bool   `gorm:"not null"`
	WarningThreshold int    `gorm:"not null"`
}

func (UsageLimitModel) TableName() string { return "usage_limits" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) FindFeature(ctx context.Context, orgID uint, key string) (*domain.FeatureFlag, error) {
	var m FeatureFlagModel
	err := r.db.WithContext(ctx).Where("organization_id = ? AND feature_key = ?", orgID, key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find feature flag")
	}
	return toFeature(&m), nil
}

func (r *GormRepository) ListFeatures(ctx context.Context, orgID uint) ([]*domain.FeatureFlag, error) {
	var models []FeatureFlagModel
	if err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("feature_key").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list feature flags")
	}
	out := make([]*domain.FeatureFlag, 0, len(models))
	for i := range models {
		out = append(out, toFeature(&models[i]))
	}
	return out, nil
}

// SaveFeature upsert
func (r *GormRepository) SaveFeature(ctx context.Context, f *domain.FeatureFlag) error {
	m := FeatureFlagModel{
		OrganizationID: f.OrganizationID,
		FeatureKey:     f.Key,
		IsEnabled:      f.Enabled,
		EnabledAt:      f.EnabledAt,
		Notes:          f.Notes,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "enabled_at", "notes"}),
	}).Create(&m).Error
	return errors.Wrap(err, "save feature flag")
}

func (r *GormRepository) FindLimit(ctx context.Context, orgID uint, t domain.LimitType) (*domain.UsageLimit, error) {
	var m UsageLimitModel
	err := r.db.WithContext(ctx).Where("organization_id = ? AND limit_type = ?", orgID, string(t)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find usage limit")
	}
	return toLimit(&m), nil
}

func (r *GormRepository) ListLimits(ctx context.Context, orgID uint) ([]*domain.UsageLimit, error) {
	var models []UsageLimitModel
	if err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("limit_type").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list usage limits")
	}
	out := make([]*domain.UsageLimit, 0, len(models))
	for i := range models {
		out = append(out, toLimit(&models[i]))
	}
	return out, nil
}

func (r *GormRepository) SaveLimit(ctx context.Context, l *domain.UsageLimit) error {
	m := UsageLimitModel{
		OrganizationID:   l.OrganizationID,
		LimitType:        string(l.Type),
		LimitValue:       l.Value,
		CurrentUsage:     l.CurrentUsage,
		EnforceLimit:     l.Enforce,
		WarningThreshold: l.WarningThreshold,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "limit_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"limit_value", "enforce_limit", "warning_threshold"}),
	}).Create(&m).Error
	return errors.Wrap(err, "save usage limit")
}

func (r *GormRepository) SetUsage(ctx context.Context, orgID uint, t domain.LimitType, usage int) error {
	err := r.db.WithContext(ctx).Model(&UsageLimitModel{}).
		Where("organization_id = ? AND limit_type = ?", orgID, string(t)).
		Update("current_usage", usage).Error
	return errors.Wrap(err, "set usage")
}

func toFeature(m *FeatureFlagModel) *domain.FeatureFlag {
	return &domain.FeatureFlag{
		OrganizationID: m.OrganizationID,
		Key:            m.FeatureKey,
		Enabled:        m.IsEnabled,
		EnabledAt:      m.EnabledAt,
		Notes:          m.Notes,
	}
}

func toLimit(m *UsageLimitModel) *domain.UsageLimit {
	return &domain.UsageLimit{
		OrganizationID:   m.OrganizationID,
		Type:             domain.LimitType(m.LimitType),
		Value:            m.LimitValue,
		CurrentUsage:     m.CurrentUsage,
		Enforce:          m.EnforceLimit,
		WarningThreshold: m.WarningThreshold,
	}
}
