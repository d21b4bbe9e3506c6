package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/tenant"
)

// Dispatcher 卡片变更后的阈值提醒。调用方在事务提交后显式调用，
// 所有失败只记日志，不影响调用方。完成/差一个章的标记由 Delivery 在送达后写入，
// 这里只负责撤销后清掉差一个章的标记。
type Dispatcher struct {
	configs domain.ConfigRepository
	flags   domain.FlagStore
	outbox  domain.Outbox
	tracer  trace.Tracer
	now     func() time.Time
}

func NewDispatcher(configs domain.ConfigRepository, flags domain.FlagStore, outbox domain.Outbox, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{configs: configs, flags: flags, outbox: outbox, tracer: tracer, now: time.Now}
}

func (d *Dispatcher) CardChanged(ctx context.Context, org *tenant.Organization, card domain.CardState, to domain.Recipient) {
	ctx, span := d.tracer.Start(ctx, "notification.CardChanged", trace.WithAttributes(
		attribute.Int("card.id", int(card.CardID)),
		attribute.Int("card.stamps", card.CurrentStamps),
	))
	defer span.End()

	log := logger.Ctx(ctx).With().Uint("card_id", card.CardID).Logger()

	cfg, err := d.configs.Find(ctx, org.ID)
	if errors.Is(err, domain.ErrConfigNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("load notification config")
		return
	}
	if to.Phone == "" {
		return
	}

	vars := domain.Vars{Name: to.FullName, Business: org.Name, Reward: card.RewardLabel}
	switch {
	case card.IsCompleted && !card.IsRedeemed && !card.CompletedNotified:
		d.sendChat(ctx, cfg, domain.KindCompleted, vars, to, card.CardID)
	case !card.IsCompleted:
		switch {
		case card.CurrentStamps == card.StampsNeeded-1 && !card.OneStampReminderSent:
			d.sendChat(ctx, cfg, domain.KindOneLeft, vars, to, card.CardID)
		case card.CurrentStamps < card.StampsNeeded-1 && card.OneStampReminderSent:
			// 撤销后低于阈值，清掉标记以便再次提醒
			if err := d.flags.SetOneLeftSent(ctx, card.CardID, false); err != nil {
				log.Error().Err(err).Msg("clear one-left reminder flag")
			}
		}
	}
}

// sendChat 渲染模板并交给 outbox
func (d *Dispatcher) sendChat(ctx context.Context, cfg *domain.Config, kind domain.Kind, vars domain.Vars, to domain.Recipient, cardID uint) {
	if !cfg.ChatReady() {
		logger.Ctx(ctx).Warn().Uint("organization_id", cfg.OrganizationID).Msg("chat channel not configured, skipping")
		metrics.Notifications.WithLabelValues(string(kind), string(domain.ChannelChat), "skipped").Inc()
		return
	}
	msg := &domain.Message{
		ID:             uuid.NewString(),
		OrganizationID: cfg.OrganizationID,
		Kind:           kind,
		Channel:        domain.ChannelChat,
		To:             to.Phone,
		Body:           domain.Render(cfg.Template(kind), vars),
		CustomerID:     to.CustomerID,
		CardID:         &cardID,
		CreatedAt:      d.now().UTC(),
	}
	if err := d.outbox.Enqueue(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("notification not accepted")
		return
	}
	logger.Ctx(ctx).Info().Str("kind", string(kind)).Uint("customer_id", to.CustomerID).Msg("card notification queued")
}

// Config 读取租户配置，没有时返回带默认模板的新配置
func (d *Dispatcher) Config(ctx context.Context) (*domain.Config, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := d.configs.Find(ctx, org.ID)
	if errors.Is(err, domain.ErrConfigNotFound) {
		return domain.NewConfig(org.ID), nil
	}
	return cfg, err
}

// SaveConfig 整体覆盖租户配置
func (d *Dispatcher) SaveConfig(ctx context.Context, cfg *domain.Config) error {
	ctx, span := d.tracer.Start(ctx, "notification.SaveConfig")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	cfg.OrganizationID = org.ID
	existing, err := d.configs.Find(ctx, org.ID)
	switch {
	case err == nil:
		cfg.ID = existing.ID
	case !errors.Is(err, domain.ErrConfigNotFound):
		return err
	}
	fillDefaults(cfg)
	return d.configs.Save(ctx, cfg)
}

func fillDefaults(cfg *domain.Config) {
	def := domain.NewConfig(cfg.OrganizationID)
	if cfg.TemplateCompleted == "" {
		cfg.TemplateCompleted = def.TemplateCompleted
	}
	if cfg.TemplateOneLeft == "" {
		cfg.TemplateOneLeft = def.TemplateOneLeft
	}
	if cfg.TemplateExpiring == "" {
		cfg.TemplateExpiring = def.TemplateExpiring
	}
	if cfg.BirthdayTemplate == "" {
		cfg.BirthdayTemplate = def.BirthdayTemplate
	}
}
