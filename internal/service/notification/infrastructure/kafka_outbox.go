package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"loyaltyhub/internal/pkg/metrics"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/service/notification/domain"
)

const HeaderNotificationKind = "x-notification-kind"

// KafkaOutbox 把消息写入通知主题，由 notification-worker 投递。
// 以租户 id 作为 key，同一租户的消息保持顺序。
type KafkaOutbox struct {
	writer mq.MessageWriter
}

func NewKafkaOutbox(writer mq.MessageWriter) *KafkaOutbox {
	return &KafkaOutbox{writer: writer}
}

func (o *KafkaOutbox) Enqueue(ctx context.Context, msg *domain.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	key := []byte(strconv.FormatUint(uint64(msg.OrganizationID), 10))
	err = mq.ProduceMessage(ctx, o.writer, key, value, kafka.Header{Key: HeaderNotificationKind, Value: []byte(msg.Kind)})
	if err != nil {
		metrics.Notifications.WithLabelValues(string(msg.Kind), string(msg.Channel), "failed").Inc()
		return errors.Wrap(err, "produce notification")
	}
	metrics.Notifications.WithLabelValues(string(msg.Kind), string(msg.Channel), "queued").Inc()
	return nil
}
