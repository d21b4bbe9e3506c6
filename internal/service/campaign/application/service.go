package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/logger"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/campaign/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	notificationdomain "loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/tenant"
)

type UsageGate interface {
	CheckLimit(ctx context.Context, orgID uint, t gatedomain.LimitType) error
	RefreshUsage(ctx context.Context, orgID uint, t gatedomain.LimitType) error
}

type Auditor interface {
	Record(ctx context.Context, action auditdomain.Action, resource, description string, customerID *uint)
}

// CampaignService 营销活动：草稿、排期、发送、人工回填状态
type CampaignService struct {
	store   domain.Store
	gate    UsageGate
	outbox  notificationdomain.Outbox
	auditor Auditor
	tracer  trace.Tracer
	now     func() time.Time
}

func NewCampaignService(store domain.Store, gate UsageGate, outbox notificationdomain.Outbox, auditor Auditor, tracer trace.Tracer) *CampaignService {
	return &CampaignService{store: store, gate: gate, outbox: outbox, auditor: auditor, tracer: tracer, now: time.Now}
}

// SetClock 测试用
func (s *CampaignService) SetClock(now func() time.Time) { s.now = now }

func (s *CampaignService) clock() time.Time { return s.now().UTC() }

// Detail 活动及其发送记录
type Detail struct {
	Campaign *domain.Campaign `json:"campaign"`
	Logs     []*domain.Log    `json:"logs"`
	Progress domain.Progress  `json:"progress"`
}

func (s *CampaignService) List(ctx context.Context) ([]*domain.Campaign, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.List")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, org.ID)
}

func (s *CampaignService) Get(ctx context.Context, id uint) (*Detail, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.Get", trace.WithAttributes(attribute.Int("campaign.id", int(id))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Find(ctx, org.ID, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.Logs(ctx, org.ID, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Campaign: c, Logs: logs, Progress: domain.ProgressOf(logs)}, nil
}

// Create 新建草稿，受 campaigns_monthly 额度限制
func (s *CampaignService) Create(ctx context.Context, c *domain.Campaign) error {
	ctx, span := s.tracer.Start(ctx, "campaign.Create")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.gate.RefreshUsage(ctx, org.ID, gatedomain.LimitCampaignsMonthly); err != nil {
		return err
	}
	if err := s.gate.CheckLimit(ctx, org.ID, gatedomain.LimitCampaignsMonthly); err != nil {
		fail(span, err)
		return err
	}
	c.OrganizationID = org.ID
	c.Status = domain.StatusDraft
	c.ScheduledAt, c.SentAt = nil, nil
	if id, ok := auth.FromContext(ctx); ok {
		c.CreatedBy = id.ActorID()
	}
	c.CreatedAt = s.clock()
	if err := s.store.Create(ctx, c); err != nil {
		fail(span, err)
		return err
	}
	if err := s.gate.RefreshUsage(ctx, org.ID, gatedomain.LimitCampaignsMonthly); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to refresh campaign usage")
	}
	s.auditor.Record(ctx, auditdomain.ActionCreate, "campaign", fmt.Sprintf("Campaña creada: %s", c.Name), nil)
	return nil
}

type UpdateCommand struct {
	Name          string         `json:"name"`
	Channel       domain.Channel `json:"channel"`
	Subject       string         `json:"subject"`
	Content       string         `json:"content"`
	TargetSegment string         `json:"target_segment"`
}

// Update 只有草稿可以修改
func (s *CampaignService) Update(ctx context.Context, id uint, cmd UpdateCommand) (*domain.Campaign, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.Update", trace.WithAttributes(attribute.Int("campaign.id", int(id))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Find(ctx, org.ID, id)
	if err != nil {
		return nil, err
	}
	if err := c.Editable(); err != nil {
		return nil, err
	}
	c.Name, c.Channel, c.Subject, c.Content, c.TargetSegment = cmd.Name, cmd.Channel, cmd.Subject, cmd.Content, cmd.TargetSegment
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, c); err != nil {
		fail(span, err)
		return nil, err
	}
	s.auditor.Record(ctx, auditdomain.ActionUpdate, "campaign", fmt.Sprintf("Campaña actualizada: %s", c.Name), nil)
	return c, nil
}

// Schedule 为目标人群里还没有记录的顾客生成 PENDING 记录，重复调用只补新顾客
func (s *CampaignService) Schedule(ctx context.Context, id uint, at *time.Time) (*Detail, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.Schedule", trace.WithAttributes(attribute.Int("campaign.id", int(id))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	when := now
	if at != nil {
		when = at.UTC()
	}

	var added int
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		c, err := tx.Find(ctx, org.ID, id)
		if err != nil {
			return err
		}
		if err := c.Schedule(when); err != nil {
			return err
		}
		segment, err := domain.CompileSegment(c.TargetSegment)
		if err != nil {
			return err
		}
		members, err := tx.Members(ctx, org.ID)
		if err != nil {
			return err
		}
		logged, err := tx.LoggedCustomers(ctx, org.ID, c.ID)
		if err != nil {
			return err
		}
		var (
			logs    []*domain.Log
			matched int
		)
		for _, m := range members {
			ok, err := segment.Match(m, now, org.Location())
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			matched++
			if _, done := logged[m.CustomerID]; done {
				continue
			}
			logs = append(logs, &domain.Log{
				OrganizationID: org.ID,
				CampaignID:     c.ID,
				CustomerID:     m.CustomerID,
				Status:         domain.LogPending,
				SentAt:         now,
			})
		}
		if matched == 0 {
			return domain.ErrNoRecipients
		}
		if err := tx.CreateLogs(ctx, logs); err != nil {
			return err
		}
		added = len(logs)
		return tx.Save(ctx, c)
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Uint("campaign_id", id).Int("new_logs", added).Msg("campaign scheduled")
	return s.Get(ctx, id)
}

// Dispatch 通过通知出口发送所有 PENDING 记录；SMS 没有出口，记为失败
func (s *CampaignService) Dispatch(ctx context.Context, id uint) (*Detail, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.Dispatch", trace.WithAttributes(attribute.Int("campaign.id", int(id))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Find(ctx, org.ID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusScheduled {
		return nil, errors.Wrapf(domain.ErrInvalidState, "campaign is %s", c.Status)
	}
	logs, err := s.store.Logs(ctx, org.ID, id)
	if err != nil {
		return nil, err
	}

	var sent, failed int
	for _, l := range logs {
		if l.Status != domain.LogPending {
			continue
		}
		l.SentAt = s.clock()
		if err := s.send(ctx, org, c, l); err != nil {
			l.Status, l.ErrorMessage = domain.LogFailed, err.Error()
			failed++
		} else {
			l.Status, l.ErrorMessage = domain.LogSent, ""
			sent++
		}
		if err := s.store.SaveLog(ctx, l); err != nil {
			fail(span, err)
			return nil, err
		}
	}
	if err := s.completeIfDone(ctx, org.ID, c); err != nil {
		fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("campaign.sent", sent), attribute.Int("campaign.failed", failed))
	logger.Ctx(ctx).Info().Uint("campaign_id", id).Int("sent", sent).Int("failed", failed).Msg("campaign dispatched")
	return s.Get(ctx, id)
}

func (s *CampaignService) send(ctx context.Context, org *tenant.Organization, c *domain.Campaign, l *domain.Log) error {
	msg := &notificationdomain.Message{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Kind:           notificationdomain.KindCampaign,
		Subject:        c.Subject,
		Body:           notificationdomain.Render(c.Content, notificationdomain.Vars{Name: l.CustomerName, Business: org.Name}),
		CustomerID:     l.CustomerID,
		CampaignLogID:  &l.ID,
		CreatedAt:      l.SentAt,
	}
	switch c.Channel {
	case domain.ChannelWhatsApp:
		msg.Channel, msg.To = notificationdomain.ChannelChat, l.Phone
	case domain.ChannelEmail:
		msg.Channel, msg.To = notificationdomain.ChannelEmail, l.Email
		if msg.Subject == "" {
			msg.Subject = c.Name
		}
	default:
		return errors.Wrapf(notificationdomain.ErrNotConfigured, "channel %s is not supported", c.Channel)
	}
	if msg.To == "" {
		return notificationdomain.ErrNoRecipient
	}
	return s.outbox.Enqueue(ctx, msg)
}

func (s *CampaignService) completeIfDone(ctx context.Context, orgID uint, c *domain.Campaign) error {
	pending, err := s.store.CountPending(ctx, orgID, c.ID)
	if err != nil || pending > 0 {
		return err
	}
	c.MarkSent(s.clock())
	if err := s.store.Save(ctx, c); err != nil {
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionUpdate, "campaign", fmt.Sprintf("Campaña enviada: %s", c.Name), nil)
	return nil
}

// UpdateLog 员工手动发送后回填状态
func (s *CampaignService) UpdateLog(ctx context.Context, logID uint, status domain.LogStatus, message string) (*domain.Log, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.UpdateLog", trace.WithAttributes(attribute.Int("campaign_log.id", int(logID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = domain.LogSent
	}
	if !status.Valid() {
		return nil, errors.Wrapf(domain.ErrInvalidCampaign, "unknown log status %q", status)
	}
	l, err := s.store.FindLog(ctx, org.ID, logID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Find(ctx, org.ID, l.CampaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.StatusCancelled || c.Status == domain.StatusDraft {
		return nil, errors.Wrapf(domain.ErrInvalidState, "campaign is %s", c.Status)
	}
	l.Status, l.ErrorMessage, l.SentAt = status, message, s.clock()
	if err := s.store.SaveLog(ctx, l); err != nil {
		fail(span, err)
		return nil, err
	}
	if c.Status == domain.StatusScheduled {
		if err := s.completeIfDone(ctx, org.ID, c); err != nil {
			return nil, err
		}
	}
	if status == domain.LogSent && c.Channel == domain.ChannelWhatsApp {
		s.auditor.Record(ctx, auditdomain.ActionChatSent, "campaign_log",
			fmt.Sprintf("Mensaje de campaña %s enviado a %s", c.Name, l.CustomerName), &l.CustomerID)
	}
	return l, nil
}

func (s *CampaignService) Cancel(ctx context.Context, id uint) (*domain.Campaign, error) {
	ctx, span := s.tracer.Start(ctx, "campaign.Cancel", trace.WithAttributes(attribute.Int("campaign.id", int(id))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Find(ctx, org.ID, id)
	if err != nil {
		return nil, err
	}
	if err := c.Cancel(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, c); err != nil {
		fail(span, err)
		return nil, err
	}
	s.auditor.Record(ctx, auditdomain.ActionUpdate, "campaign", fmt.Sprintf("Campaña cancelada: %s", c.Name), nil)
	return c, nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
