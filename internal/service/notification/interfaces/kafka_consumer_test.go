package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/service/notification/domain"
)

// chanReader 用 channel 模拟 kafka.Reader
type chanReader struct {
	mu        sync.Mutex
	ch        chan kafka.Message
	committed []int64
	closed    bool
}

func newChanReader() *chanReader { return &chanReader{ch: make(chan kafka.Message, 8)} }

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.ch:
		return m, nil
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type recordingDelivery struct {
	mu   sync.Mutex
	got  []*domain.Message
	fail bool
}

func (d *recordingDelivery) Deliver(_ context.Context, msg *domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, msg)
	if d.fail {
		return domain.ErrNotConfigured
	}
	return nil
}

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func encode(t *testing.T, offset int64, msg *domain.Message) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Topic: "loyalty.notifications", Partition: 0, Offset: offset, Key: []byte("1"), Value: raw}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProcessDeliversAndCommits(t *testing.T) {
	reader, delivery, dlt := newChanReader(), &recordingDelivery{}, &memWriter{}
	c := NewNotificationConsumer(reader, delivery, mq.NewFailureHandler(dlt), noop.NewTracerProvider().Tracer("test"))

	c.Process(context.Background(), encode(t, 3, &domain.Message{ID: "m-1", OrganizationID: 1, Channel: domain.ChannelChat, To: "51999"}))

	if len(delivery.got) != 1 || delivery.got[0].ID != "m-1" {
		t.Fatalf("delivered = %+v", delivery.got)
	}
	if got := reader.commits(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("commits = %v, want [3]", got)
	}
	if len(dlt.msgs) != 0 {
		t.Fatalf("unexpected dead letters %d", len(dlt.msgs))
	}
}

func TestProcessFailuresGoToDLT(t *testing.T) {
	tests := []struct {
		name     string
		msg      func(t *testing.T) kafka.Message
		delivery *recordingDelivery
	}{
		{
			name:     "delivery failure",
			msg:      func(t *testing.T) kafka.Message { return encode(t, 8, &domain.Message{ID: "m-2"}) },
			delivery: &recordingDelivery{fail: true},
		},
		{
			name:     "undecodable payload",
			msg:      func(*testing.T) kafka.Message { return kafka.Message{Topic: "loyalty.notifications", Offset: 8, Value: []byte("{")} },
			delivery: &recordingDelivery{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, dlt := newChanReader(), &memWriter{}
			c := NewNotificationConsumer(reader, tt.delivery, mq.NewFailureHandler(dlt), noop.NewTracerProvider().Tracer("test"))
			c.Process(context.Background(), tt.msg(t))

			if len(dlt.msgs) != 1 {
				t.Fatalf("dead letters = %d, want 1", len(dlt.msgs))
			}
			dead := dlt.msgs[0]
			if header(dead, mq.HeaderOriginalTopic) != "loyalty.notifications" || header(dead, mq.HeaderOriginalOffset) != "8" {
				t.Errorf("missing origin headers: %+v", dead.Headers)
			}
			if header(dead, mq.HeaderExceptionMessage) == "" || header(dead, mq.HeaderExceptionFqcn) == "" {
				t.Errorf("missing exception headers: %+v", dead.Headers)
			}
			if got := reader.commits(); len(got) != 1 {
				t.Errorf("failed message must still be committed, commits = %v", got)
			}
		})
	}
}

func TestConsumerLoop(t *testing.T) {
	reader, delivery := newChanReader(), &recordingDelivery{}
	c := NewNotificationConsumer(reader, delivery, mq.NewFailureHandler(&memWriter{}), noop.NewTracerProvider().Tracer("test"))
	c.Start(context.Background())

	for i := int64(0); i < 3; i++ {
		reader.ch <- encode(t, i, &domain.Message{ID: "loop"})
	}
	deadline := time.After(2 * time.Second)
	for len(reader.commits()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d messages committed", len(reader.commits()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !reader.closed {
		t.Errorf("reader not closed")
	}
}

func TestDLTConsumerCommits(t *testing.T) {
	reader := newChanReader()
	c := NewDLTConsumer(reader)
	c.Start(context.Background())
	reader.ch <- kafka.Message{Offset: 1, Headers: []kafka.Header{{Key: mq.HeaderOriginalTopic, Value: []byte("x")}}}

	deadline := time.After(2 * time.Second)
	for len(reader.commits()) < 1 {
		select {
		case <-deadline:
			t.Fatal("dead letter not committed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
