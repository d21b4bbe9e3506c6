package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/service/notification/domain"
)

// Reader *kafka.Reader 的子集
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Deliverer interface {
	Deliver(ctx context.Context, msg *domain.Message) error
}

// FailureSink 处理失败的消息，生产环境是 mq.FailureHandler
type FailureSink interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// NotificationConsumer 消费通知主题并投递。失败的消息转到 DLT，
// 无论成功失败都提交 offset。
type NotificationConsumer struct {
	reader   Reader
	delivery Deliverer
	failures FailureSink
	tracer   trace.Tracer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewNotificationConsumer(reader Reader, delivery Deliverer, failures FailureSink, tracer trace.Tracer) *NotificationConsumer {
	return &NotificationConsumer{reader: reader, delivery: delivery, failures: failures, tracer: tracer}
}

func (c *NotificationConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Msg("✅ notification consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 notification consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("fetch message failed, retrying")
				time.Sleep(time.Second)
				continue
			}
			c.Process(ctx, msg)
		}
	}()
}

// Process 处理单条消息并提交
func (c *NotificationConsumer) Process(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractContext(ctx, msg)
	msgCtx, span := c.tracer.Start(msgCtx, "notification-worker.Consume", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	if err := c.handle(msgCtx, msg); err != nil {
		span.RecordError(err)
		c.failures.Handle(msgCtx, msg, err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(msgCtx).Error().Err(err).Msg("commit message failed")
	}
}

func (c *NotificationConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var n domain.Message
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return errors.Wrap(err, "decode notification")
	}
	return c.delivery.Deliver(ctx, &n)
}

func (c *NotificationConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ notification consumer stopped")
	return err
}

// DLTConsumer 只记录死信，便于人工排查
type DLTConsumer struct {
	reader Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDLTConsumer(reader Reader) *DLTConsumer {
	return &DLTConsumer{reader: reader}
}

func (c *DLTConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}
			LogDeadLetter(ctx, msg)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("commit dead letter failed")
			}
		}
	}()
}

func (c *DLTConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.reader.Close()
	c.wg.Wait()
	return err
}

func LogDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("exception_fqcn", headers[mq.HeaderExceptionFqcn]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Msg("🚨 dead letter notification")
}
