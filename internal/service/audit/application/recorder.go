package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/tenant"
)

const defaultListLimit = 100

type clientIPKey struct{}

// WithClientIP 由 HTTP 中间件写入
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// Recorder 记录员工操作，租户、操作人和 IP 都从 ctx 中取
type Recorder struct {
	repo   domain.Repository
	tracer trace.Tracer
	now    func() time.Time
}

func NewRecorder(repo domain.Repository, tracer trace.Tracer) *Recorder {
	return &Recorder{repo: repo, tracer: tracer, now: time.Now}
}

// Record 审计写入失败不影响业务，只记日志
func (r *Recorder) Record(ctx context.Context, action domain.Action, resource, description string, customerID *uint) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		logger.Ctx(ctx).Warn().Str("action", string(action)).Msg("audit skipped: no tenant")
		return
	}
	e := &domain.Entry{
		OrganizationID: org.ID,
		CustomerID:     customerID,
		Action:         action,
		Resource:       resource,
		Description:    description,
		IPAddress:      clientIP(ctx),
		CreatedAt:      r.now().UTC(),
	}
	if id, ok := auth.FromContext(ctx); ok {
		e.UserID = id.ActorID()
	}
	if err := r.repo.Append(ctx, e); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("action", string(action)).Msg("failed to write audit log")
	}
}

// List 当前租户的审计记录，按时间倒序
func (r *Recorder) List(ctx context.Context, f domain.Filter) ([]*domain.Entry, error) {
	ctx, span := r.tracer.Start(ctx, "audit.List")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = defaultListLimit
	}
	span.SetAttributes(attribute.String("audit.action", string(f.Action)))
	return r.repo.List(ctx, org.ID, f)
}
