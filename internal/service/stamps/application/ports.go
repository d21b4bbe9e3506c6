package application

import (
	"context"
	"time"

	"loyaltyhub/internal/pkg/auth"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	customerdomain "loyaltyhub/internal/service/customer/domain"
	notificationdomain "loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
)

// CardNotifier 卡片变更后的提醒，提交后调用
type CardNotifier interface {
	CardChanged(ctx context.Context, org *tenant.Organization, card notificationdomain.CardState, to notificationdomain.Recipient)
}

type Auditor interface {
	Record(ctx context.Context, action auditdomain.Action, resource, description string, customerID *uint)
}

// CustomerDirectory 公开扫码流程按手机号认领顾客
type CustomerDirectory interface {
	FindOrCreateByPhone(ctx context.Context, phone, firstName, lastName string) (*customerdomain.Customer, bool, error)
}

// RequestGuard 同一顾客同一活动的并发申请去重，返回 false 表示已被占用
type RequestGuard interface {
	Acquire(ctx context.Context, orgID, customerID, promotionID uint, ttl time.Duration) (bool, error)
	Release(ctx context.Context, orgID, customerID, promotionID uint) error
}

// RequestFeed 新申请推送给在线员工
type RequestFeed interface {
	Publish(orgID uint, event any)
}

// RequestEvent 推送给员工端的申请事件
type RequestEvent struct {
	Type      string               `json:"type"`
	Request   *domain.StampRequest `json:"request"`
	Customer  *domain.CustomerInfo `json:"customer,omitempty"`
	Promotion string               `json:"promotion,omitempty"`
}

const (
	EventRequestCreated  = "stamp_request.created"
	EventRequestResolved = "stamp_request.resolved"
)

func actor(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok || !id.IsStaff() {
		return auth.Identity{}, domain.ErrPermissionDenied
	}
	return id, nil
}
