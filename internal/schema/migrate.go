// Package schema 汇总所有 gorm 模型，供 loyaltyctl migrate 和测试使用
package schema

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	accountinfra "loyaltyhub/internal/service/account/infrastructure"
	auditinfra "loyaltyhub/internal/service/audit/infrastructure"
	campaigninfra "loyaltyhub/internal/service/campaign/infrastructure"
	customerinfra "loyaltyhub/internal/service/customer/infrastructure"
	gateinfra "loyaltyhub/internal/service/gate/infrastructure"
	loyaltyinfra "loyaltyhub/internal/service/loyalty/infrastructure"
	notificationinfra "loyaltyhub/internal/service/notification/infrastructure"
	stampsinfra "loyaltyhub/internal/service/stamps/infrastructure"
	"loyaltyhub/internal/tenant"
)

// Models 按依赖顺序排列
func Models() []interface{} {
	return []interface{}{
		&tenant.OrganizationModel{},
		&tenant.DomainModel{},
		&accountinfra.UserModel{},
		&customerinfra.CustomerModel{},
		&gateinfra.FeatureFlagModel{},
		&gateinfra.UsageLimitModel{},
		&auditinfra.AuditLogModel{},
		&stampsinfra.StampPromotionModel{},
		&stampsinfra.StampCardModel{},
		&stampsinfra.StampTransactionModel{},
		&stampsinfra.StampRequestModel{},
		&loyaltyinfra.PointTransactionModel{},
		&loyaltyinfra.RewardModel{},
		&loyaltyinfra.RedemptionModel{},
		&loyaltyinfra.ServiceCategoryModel{},
		&loyaltyinfra.ServiceItemModel{},
		&notificationinfra.NotificationConfigModel{},
		&campaigninfra.MarketingCampaignModel{},
		&campaigninfra.CampaignLogModel{},
	}
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	return errors.Wrap(db.WithContext(ctx).AutoMigrate(Models()...), "auto migrate")
}
