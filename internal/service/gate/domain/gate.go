package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrLimitExceeded   = errors.New("usage limit exceeded")
	ErrFeatureDisabled = errors.New("feature not enabled for this organization")
	ErrUnknownFeature  = errors.New("unknown feature key")
	ErrUnknownLimit    = errors.New("unknown limit type")
)

// 功能开关的 key，带点的子功能与父功能相互独立
const (
	FeatureCustomers         = "customers"
	FeatureServices          = "services"
	FeaturePoints            = "points"
	FeatureStamps            = "stamps"
	FeatureRewards           = "rewards"
	FeatureAppointments      = "appointments"
	FeatureCampaigns         = "campaigns"
	FeatureReports           = "reports"
	FeatureSubscriptions     = "subscriptions"
	FeatureIntegrations      = "integrations"
	FeatureGamification      = "gamification"
	FeatureAudit             = "audit"
	FeatureCustomersImport   = "customers.import_csv"
	FeatureCustomersExport   = "customers.export_data"
	FeatureReportsPDF        = "reports.export_pdf"
	FeatureCampaignsManualWA = "campaigns.whatsapp_manual"
	FeatureCampaignsPabbly   = "campaigns.pabbly"
	FeatureOnlineBooking     = "appointments.online_booking"
	FeatureReferrals         = "gamification.referrals"
	FeatureAutoNotifications = "campaigns.auto_notifications"
)

var knownFeatures = map[string]struct{}{
	FeatureCustomers: {}, FeatureServices: {}, FeaturePoints: {}, FeatureStamps: {},
	FeatureRewards: {}, FeatureAppointments: {}, FeatureCampaigns: {}, FeatureReports: {},
	FeatureSubscriptions: {}, FeatureIntegrations: {}, FeatureGamification: {}, FeatureAudit: {},
	FeatureCustomersImport: {}, FeatureCustomersExport: {}, FeatureReportsPDF: {},
	FeatureCampaignsManualWA: {}, FeatureCampaignsPabbly: {}, FeatureOnlineBooking: {},
	FeatureReferrals: {}, FeatureAutoNotifications: {},
}

func IsKnownFeature(key string) bool {
	_, ok := knownFeatures[key]
	return ok
}

type FeatureFlag struct {
	OrganizationID uint       `json:"organization_id"`
	Key            string     `json:"feature_key"`
	Enabled        bool       `json:"is_enabled"`
	EnabledAt      *time.Time `json:"enabled_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

type LimitType string

const (
	LimitCustomers           LimitType = "customers"
	LimitStaff               LimitType = "staff"
	LimitAppointmentsMonthly LimitType = "appointments_monthly"
	LimitCampaignsMonthly    LimitType = "campaigns_monthly"
	LimitSMSMonthly          LimitType = "sms_monthly"
	LimitStorageMB           LimitType = "storage_mb"
)

func (t LimitType) Valid() bool {
	switch t {
	case LimitCustomers, LimitStaff, LimitAppointmentsMonthly, LimitCampaignsMonthly, LimitSMSMonthly, LimitStorageMB:
		return true
	}
	return false
}

// Unlimited limit_value 为 -1 时不限制
const Unlimited = -1

const DefaultWarningThreshold = 80

type UsageLimit struct {
	OrganizationID   uint      `json:"organization_id"`
	Type             LimitType `json:"limit_type"`
	Value            int       `json:"limit_value"`
	CurrentUsage     int       `json:"current_usage"`
	Enforce          bool      `json:"enforce_limit"`
	WarningThreshold int       `json:"warning_threshold"`
}

func (u *UsageLimit) IsExceeded() bool {
	if u.Value == Unlimited {
		return false
	}
	return u.CurrentUsage >= u.Value
}

func (u *UsageLimit) UsagePercentage() float64 {
	if u.Value <= 0 {
		return 0
	}
	return float64(u.CurrentUsage) / float64(u.Value) * 100
}

// NearLimit 达到预警阈值
func (u *UsageLimit) NearLimit() bool {
	return u.Value > 0 && u.UsagePercentage() >= float64(u.WarningThreshold)
}

// LimitExceededError 携带具体的额度信息
type LimitExceededError struct {
	Type  LimitType
	Usage int
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded for %s: %d/%d", e.Type, e.Usage, e.Limit)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

type Repository interface {
	FindFeature(ctx context.Context, orgID uint, key string) (*FeatureFlag, error)
	ListFeatures(ctx context.Context, orgID uint) ([]*FeatureFlag, error)
	SaveFeature(ctx context.Context, f *FeatureFlag) error
	// FindLimit 没有配置时返回 nil, nil
	FindLimit(ctx context.Context, orgID uint, t LimitType) (*UsageLimit, error)
	ListLimits(ctx context.Context, orgID uint) ([]*UsageLimit, error)
	SaveLimit(ctx context.Context, l *UsageLimit) error
	SetUsage(ctx context.Context, orgID uint, t LimitType, usage int) error
}

// UsageCounter 从业务表实时统计用量
type UsageCounter interface {
	Count(ctx context.Context, orgID uint, t LimitType, now time.Time) (count int, supported bool, err error)
}
