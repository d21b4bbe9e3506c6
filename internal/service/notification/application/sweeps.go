package application

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/notification/domain"
	stampsdomain "loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
)

// ExpirationLeadTime 提前多久提醒卡片过期
const ExpirationLeadTime = 7 * 24 * time.Hour

type OrgLookup interface {
	FindByID(ctx context.Context, id uint) (*tenant.Organization, error)
}

// SweepResult 一次扫描的统计
type SweepResult struct {
	Tenants int   `json:"tenants"`
	Chat    int64 `json:"chat"`
	Email   int64 `json:"email"`
	Errors  int64 `json:"errors"`
}

type counters struct {
	tenants atomic.Int64
	chat    atomic.Int64
	email   atomic.Int64
	errors  atomic.Int64
}

func (c *counters) result() SweepResult {
	return SweepResult{
		Tenants: int(c.tenants.Load()),
		Chat:    c.chat.Load(),
		Email:   c.email.Load(),
		Errors:  c.errors.Load(),
	}
}

// Sweeper 定时任务：生日祝福、卡片即将过期提醒。租户之间并发处理。
type Sweeper struct {
	configs     domain.ConfigRepository
	orgs        OrgLookup
	birthdays   domain.BirthdayFinder
	cards       domain.CardFinder
	outbox      domain.Outbox
	tracer      trace.Tracer
	concurrency int
	now         func() time.Time
}

func NewSweeper(configs domain.ConfigRepository, orgs OrgLookup, birthdays domain.BirthdayFinder, cards domain.CardFinder,
	outbox domain.Outbox, tracer trace.Tracer, concurrency int) *Sweeper {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Sweeper{
		configs:     configs,
		orgs:        orgs,
		birthdays:   birthdays,
		cards:       cards,
		outbox:      outbox,
		tracer:      tracer,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetClock 测试用
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

func (s *Sweeper) Birthdays(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "notification.SweepBirthdays")
	defer span.End()
	defer observe("birthdays", time.Now())

	configs, err := s.configs.ListBirthdayEnabled(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	var c counters
	err = s.forEachTenant(ctx, configs, func(ctx context.Context, org *tenant.Organization, cfg *domain.Config) error {
		today := s.now().In(org.Location())
		recipients, err := s.birthdays.BirthdaysOn(ctx, org.ID, today.Day(), today.Month())
		if err != nil {
			return err
		}
		c.tenants.Add(1)
		for _, to := range recipients {
			body := domain.Render(cfg.BirthdayTemplate, domain.Vars{Name: to.FullName, Business: org.Name})
			if to.Phone != "" && cfg.ChatReady() {
				s.send(ctx, &c, &c.chat, &domain.Message{
					OrganizationID: org.ID, Kind: domain.KindBirthday, Channel: domain.ChannelChat,
					To: to.Phone, Body: body, CustomerID: to.CustomerID,
				})
			}
			if to.Email != "" && cfg.EmailEnabled {
				s.send(ctx, &c, &c.email, &domain.Message{
					OrganizationID: org.ID, Kind: domain.KindBirthday, Channel: domain.ChannelEmail,
					To: to.Email, Subject: domain.BirthdaySubject(to.FirstName), Body: body, CustomerID: to.CustomerID,
				})
			}
		}
		return nil
	})
	res := c.result()
	span.SetAttributes(attribute.Int64("sent.chat", res.Chat), attribute.Int64("sent.email", res.Email))
	logger.Ctx(ctx).Info().Interface("result", res).Msg("birthday sweep finished")
	return res, err
}

// Expirations 提醒 7 天内到期的未完成卡片，每张卡只提醒一次
func (s *Sweeper) Expirations(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "notification.SweepExpirations")
	defer span.End()
	defer observe("expirations", time.Now())

	configs, err := s.configs.ListAll(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	var c counters
	err = s.forEachTenant(ctx, configs, func(ctx context.Context, org *tenant.Organization, cfg *domain.Config) error {
		months := org.StampsExpirationMonths
		if months <= 0 || !cfg.ChatReady() {
			return nil
		}
		now := s.now().UTC()
		horizon := now.Add(ExpirationLeadTime)
		// 月份加减不可逆（月末截断），先放宽一天查询再精确过滤
		from := stampsdomain.AddMonths(now, -months).AddDate(0, 0, -1)
		to := stampsdomain.AddMonths(horizon, -months).AddDate(0, 0, 1)
		cards, err := s.cards.OpenCardsCreatedBetween(ctx, org.ID, from, to)
		if err != nil {
			return err
		}
		c.tenants.Add(1)
		for _, card := range cards {
			exp := stampsdomain.AddMonths(card.CreatedAt, months)
			if !exp.After(now) || exp.After(horizon) || card.Recipient.Phone == "" {
				continue
			}
			body := domain.Render(cfg.TemplateExpiring, domain.Vars{
				Name:     card.Recipient.FullName,
				Business: org.Name,
				Reward:   domain.RewardLabel("", card.RewardDescription),
			})
			cardID := card.CardID
			// expiring_notified 由投递成功后写入
			s.send(ctx, &c, &c.chat, &domain.Message{
				OrganizationID: org.ID, Kind: domain.KindExpiring, Channel: domain.ChannelChat,
				To: card.Recipient.Phone, Body: body, CustomerID: card.Recipient.CustomerID, CardID: &cardID,
			})
		}
		return nil
	})
	res := c.result()
	logger.Ctx(ctx).Info().Interface("result", res).Msg("expiration sweep finished")
	return res, err
}

type tenantFunc func(ctx context.Context, org *tenant.Organization, cfg *domain.Config) error

// forEachTenant 有界并发处理每个租户；单个租户失败只记日志
func (s *Sweeper) forEachTenant(ctx context.Context, configs []*domain.Config, fn tenantFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, cfg := range configs {
		cfg := cfg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			org, err := s.orgs.FindByID(gctx, cfg.OrganizationID)
			if err != nil {
				logger.Ctx(gctx).Error().Err(err).Uint("organization_id", cfg.OrganizationID).Msg("load organization")
				return nil
			}
			if !org.IsActive {
				return nil
			}
			tctx := tenant.WithOrganization(gctx, org)
			if err := fn(tctx, org, cfg); err != nil {
				logger.Ctx(tctx).Error().Err(err).Str("tenant", org.Slug).Msg("sweep failed for tenant")
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Sweeper) send(ctx context.Context, c *counters, sent *atomic.Int64, msg *domain.Message) bool {
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now().UTC()
	if err := s.outbox.Enqueue(ctx, msg); err != nil {
		c.errors.Add(1)
		return false
	}
	sent.Add(1)
	return true
}

func observe(sweep string, start time.Time) {
	metrics.SweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}
