package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/service/notification/domain"
)

const DefaultSendTimeout = 10 * time.Second

// Delivery 把消息交给对应渠道发送。sync 模式下它本身就是 Outbox；
// kafka 模式下由 notification-worker 调用。卡片上的提醒标记在发送成功后才写。
type Delivery struct {
	configs domain.ConfigRepository
	flags   domain.FlagStore
	senders map[domain.Channel]domain.Sender
	timeout time.Duration
	tracer  trace.Tracer
}

func NewDelivery(configs domain.ConfigRepository, flags domain.FlagStore, tracer trace.Tracer, timeout time.Duration, senders ...domain.Sender) *Delivery {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	m := make(map[domain.Channel]domain.Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Delivery{configs: configs, flags: flags, senders: m, timeout: timeout, tracer: tracer}
}

// Enqueue 同步投递
func (d *Delivery) Enqueue(ctx context.Context, msg *domain.Message) error {
	return d.Deliver(ctx, msg)
}

func (d *Delivery) Deliver(ctx context.Context, msg *domain.Message) error {
	ctx, span := d.tracer.Start(ctx, "notification.Deliver", trace.WithAttributes(
		attribute.String("notification.kind", string(msg.Kind)),
		attribute.String("notification.channel", string(msg.Channel)),
		attribute.Int("organization.id", int(msg.OrganizationID)),
	))
	defer span.End()

	err := d.deliver(ctx, msg)
	result := "sent"
	if err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		logger.Ctx(ctx).Error().Err(err).
			Str("kind", string(msg.Kind)).
			Str("channel", string(msg.Channel)).
			Uint("customer_id", msg.CustomerID).
			Msg("notification delivery failed")
	}
	metrics.Notifications.WithLabelValues(string(msg.Kind), string(msg.Channel), result).Inc()
	if err == nil {
		d.markSent(ctx, msg)
	}
	return err
}

// markSent 标记写失败只记日志，消息已经送达，不能再让上游重试
func (d *Delivery) markSent(ctx context.Context, msg *domain.Message) {
	if msg.CardID == nil || d.flags == nil {
		return
	}
	cardID := *msg.CardID
	var err error
	switch msg.Kind {
	case domain.KindCompleted:
		err = d.flags.MarkCompletedNotified(ctx, cardID)
	case domain.KindOneLeft:
		err = d.flags.SetOneLeftSent(ctx, cardID, true)
	case domain.KindExpiring:
		err = d.flags.MarkExpiringNotified(ctx, cardID)
	}
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint("card_id", cardID).Str("kind", string(msg.Kind)).Msg("mark card notified")
	}
}

func (d *Delivery) deliver(ctx context.Context, msg *domain.Message) error {
	sender, ok := d.senders[msg.Channel]
	if !ok {
		return errors.Wrapf(domain.ErrNotConfigured, "no sender for channel %s", msg.Channel)
	}
	cfg, err := d.configs.Find(ctx, msg.OrganizationID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return sender.Send(ctx, cfg, msg)
}
