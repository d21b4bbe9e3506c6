package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/tenant"
)

var tracer = noop.NewTracerProvider().Tracer("test")

type memConfigs struct {
	byOrg map[uint]*domain.Config
}

func (m *memConfigs) Find(_ context.Context, orgID uint) (*domain.Config, error) {
	if c, ok := m.byOrg[orgID]; ok {
		return c, nil
	}
	return nil, domain.ErrConfigNotFound
}

func (m *memConfigs) Save(_ context.Context, cfg *domain.Config) error {
	m.byOrg[cfg.OrganizationID] = cfg
	return nil
}

func (m *memConfigs) ListBirthdayEnabled(context.Context) ([]*domain.Config, error) {
	var out []*domain.Config
	for _, c := range m.byOrg {
		if c.BirthdayEnabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memConfigs) ListAll(context.Context) ([]*domain.Config, error) {
	var out []*domain.Config
	for _, c := range m.byOrg {
		out = append(out, c)
	}
	return out, nil
}

type memFlags struct {
	mu        sync.Mutex
	completed map[uint]bool
	oneLeft   map[uint]bool
	expiring  map[uint]bool
}

func newFlags() *memFlags {
	return &memFlags{completed: map[uint]bool{}, oneLeft: map[uint]bool{}, expiring: map[uint]bool{}}
}

func (f *memFlags) MarkCompletedNotified(_ context.Context, cardID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[cardID] = true
	return nil
}

func (f *memFlags) SetOneLeftSent(_ context.Context, cardID uint, sent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneLeft[cardID] = sent
	return nil
}

func (f *memFlags) MarkExpiringNotified(_ context.Context, cardID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiring[cardID] = true
	return nil
}

type memOutbox struct {
	mu   sync.Mutex
	msgs []*domain.Message
	err  error
}

func (o *memOutbox) Enqueue(_ context.Context, msg *domain.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

func chatConfig(orgID uint) *domain.Config {
	cfg := domain.NewConfig(orgID)
	cfg.ChatAPIURL, cfg.ChatToken = "https://chat.example.com/messages", "tok"
	return cfg
}

var ana = domain.Recipient{CustomerID: 11, FirstName: "Ana", FullName: "Ana Ruiz", Phone: "+51 999 000 111", Email: "ana@example.com"}

func TestDispatcherThresholds(t *testing.T) {
	org := &tenant.Organization{ID: 1, Name: "El Güero"}
	card := func(stamps int, completed, notified, oneLeft bool) domain.CardState {
		return domain.CardState{
			CardID: 7, CurrentStamps: stamps, StampsNeeded: 5, IsCompleted: completed,
			CompletedNotified: notified, OneStampReminderSent: oneLeft, RewardLabel: "Corte gratis",
		}
	}
	tests := []struct {
		name        string
		card        domain.CardState
		wantKind    domain.Kind
		wantOneLeft *bool
		wantDone    bool
	}{
		{name: "far from completion", card: card(2, false, false, false)},
		{name: "one stamp left", card: card(4, false, false, false), wantKind: domain.KindOneLeft, wantOneLeft: ptr(true)},
		{name: "one left already sent", card: card(4, false, false, true)},
		{name: "undo below threshold clears flag", card: card(3, false, false, true), wantOneLeft: ptr(false)},
		{name: "completed", card: card(5, true, false, true), wantKind: domain.KindCompleted, wantDone: true},
		{name: "completed already notified", card: card(5, true, true, true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// sync 模式：Delivery 就是 outbox，送达后写标记
			flags, chat := newFlags(), &stubSender{channel: domain.ChannelChat}
			configs := &memConfigs{byOrg: map[uint]*domain.Config{1: chatConfig(1)}}
			d := NewDispatcher(configs, flags, NewDelivery(configs, flags, tracer, time.Second, chat), tracer)
			d.CardChanged(context.Background(), org, tt.card, ana)

			switch {
			case tt.wantKind == "" && len(chat.sent) != 0:
				t.Fatalf("unexpected message %+v", chat.sent[0])
			case tt.wantKind != "":
				if len(chat.sent) != 1 || chat.sent[0].Kind != tt.wantKind {
					t.Fatalf("messages = %+v, want one %s", chat.sent, tt.wantKind)
				}
			}
			got, set := flags.oneLeft[7]
			if tt.wantOneLeft == nil && set {
				t.Errorf("one-left flag touched: %v", got)
			}
			if tt.wantOneLeft != nil && (!set || got != *tt.wantOneLeft) {
				t.Errorf("one-left flag = %v (set %v), want %v", got, set, *tt.wantOneLeft)
			}
			if flags.completed[7] != tt.wantDone {
				t.Errorf("completed flag = %v, want %v", flags.completed[7], tt.wantDone)
			}
		})
	}
}

func ptr(b bool) *bool { return &b }

func TestDispatcherRendersTemplate(t *testing.T) {
	outbox := &memOutbox{}
	d := NewDispatcher(&memConfigs{byOrg: map[uint]*domain.Config{1: chatConfig(1)}}, newFlags(), outbox, tracer)
	org := &tenant.Organization{ID: 1, Name: "El Güero"}
	d.CardChanged(context.Background(), org, domain.CardState{CardID: 1, CurrentStamps: 5, StampsNeeded: 5, IsCompleted: true, RewardLabel: "Corte gratis"}, ana)

	want := "¡Hola Ana Ruiz! Completaste tu tarjeta en El Güero. Ya puedes reclamar tu Corte gratis."
	if len(outbox.msgs) != 1 || outbox.msgs[0].Body != want {
		t.Fatalf("messages = %+v", outbox.msgs)
	}
	if outbox.msgs[0].To != ana.Phone || *outbox.msgs[0].CardID != 1 {
		t.Errorf("unexpected routing %+v", outbox.msgs[0])
	}
}

func TestDispatcherSkips(t *testing.T) {
	org := &tenant.Organization{ID: 1}
	done := domain.CardState{CardID: 1, CurrentStamps: 5, StampsNeeded: 5, IsCompleted: true}

	tests := []struct {
		name    string
		configs map[uint]*domain.Config
		to      domain.Recipient
		outbox  *memOutbox
	}{
		{"no config", map[uint]*domain.Config{}, ana, &memOutbox{}},
		{"chat not configured", map[uint]*domain.Config{1: domain.NewConfig(1)}, ana, &memOutbox{}},
		{"no phone", map[uint]*domain.Config{1: chatConfig(1)}, domain.Recipient{CustomerID: 2}, &memOutbox{}},
		{"outbox rejects", map[uint]*domain.Config{1: chatConfig(1)}, ana, &memOutbox{err: errors.New("boom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := newFlags()
			d := NewDispatcher(&memConfigs{byOrg: tt.configs}, flags, tt.outbox, tracer)
			d.CardChanged(context.Background(), org, done, tt.to)
			if len(tt.outbox.msgs) != 0 || flags.completed[1] {
				t.Fatalf("expected nothing sent and no flag, got %d msgs", len(tt.outbox.msgs))
			}
		})
	}
}

func TestSaveConfigFillsDefaults(t *testing.T) {
	configs := &memConfigs{byOrg: map[uint]*domain.Config{}}
	d := NewDispatcher(configs, newFlags(), &memOutbox{}, tracer)
	ctx := tenant.WithOrganization(context.Background(), &tenant.Organization{ID: 4})

	cfg, err := d.Config(ctx)
	if err != nil || cfg.TemplateCompleted != domain.DefaultTemplateCompleted {
		t.Fatalf("default config = %+v, %v", cfg, err)
	}
	if err := d.SaveConfig(ctx, &domain.Config{ChatAPIURL: "https://x", TemplateOneLeft: "Falta 1, {nombre}"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved := configs.byOrg[4]
	if saved.TemplateOneLeft != "Falta 1, {nombre}" || saved.TemplateExpiring != domain.DefaultTemplateExpiring {
		t.Errorf("unexpected saved config %+v", saved)
	}
}

type stubSender struct {
	channel domain.Channel
	sent    []*domain.Message
	err     error
}

func (s *stubSender) Channel() domain.Channel { return s.channel }

func (s *stubSender) Send(ctx context.Context, _ *domain.Config, msg *domain.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("send without deadline")
	}
	s.sent = append(s.sent, msg)
	return s.err
}

func TestDeliveryRoutesByChannel(t *testing.T) {
	chat := &stubSender{channel: domain.ChannelChat}
	configs := &memConfigs{byOrg: map[uint]*domain.Config{1: chatConfig(1)}}
	d := NewDelivery(configs, newFlags(), tracer, time.Second, chat)

	if err := d.Enqueue(context.Background(), &domain.Message{OrganizationID: 1, Channel: domain.ChannelChat, Kind: domain.KindCampaign}); err != nil {
		t.Fatalf("deliver chat: %v", err)
	}
	if len(chat.sent) != 1 {
		t.Fatalf("chat sent = %d, want 1", len(chat.sent))
	}
	err := d.Deliver(context.Background(), &domain.Message{OrganizationID: 1, Channel: domain.ChannelEmail})
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Errorf("email without sender: err = %v, want ErrNotConfigured", err)
	}
	err = d.Deliver(context.Background(), &domain.Message{OrganizationID: 2, Channel: domain.ChannelChat})
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("unknown tenant: err = %v, want ErrConfigNotFound", err)
	}
}

type memOrgs map[uint]*tenant.Organization

func (m memOrgs) FindByID(_ context.Context, id uint) (*tenant.Organization, error) {
	if o, ok := m[id]; ok {
		return o, nil
	}
	return nil, tenant.ErrNotFound
}

type memBirthdays map[uint][]domain.Recipient

func (m memBirthdays) BirthdaysOn(_ context.Context, orgID uint, day int, month time.Month) ([]domain.Recipient, error) {
	if day != 14 || month != time.February {
		return nil, nil
	}
	return m[orgID], nil
}

type memCards struct {
	cards []*domain.ExpiringCard
}

func (m *memCards) OpenCardsCreatedBetween(_ context.Context, _ uint, from, to time.Time) ([]*domain.ExpiringCard, error) {
	var out []*domain.ExpiringCard
	for _, c := range m.cards {
		if !c.CreatedAt.Before(from) && !c.CreatedAt.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestSweepBirthdays(t *testing.T) {
	withEmail := chatConfig(1)
	withEmail.BirthdayEnabled, withEmail.EmailEnabled = true, true
	disabled := chatConfig(2)
	emailOnly := domain.NewConfig(3)
	emailOnly.BirthdayEnabled, emailOnly.EmailEnabled = true, true

	configs := &memConfigs{byOrg: map[uint]*domain.Config{1: withEmail, 2: disabled, 3: emailOnly}}
	orgs := memOrgs{
		1: {ID: 1, Name: "Uno", Timezone: "UTC", IsActive: true},
		2: {ID: 2, Name: "Dos", Timezone: "UTC", IsActive: true},
		3: {ID: 3, Name: "Tres", Timezone: "UTC", IsActive: true},
	}
	birthdays := memBirthdays{
		1: {ana, {CustomerID: 12, FullName: "Sin Datos"}},
		2: {ana},
		3: {ana},
	}
	outbox := &memOutbox{}
	s := NewSweeper(configs, orgs, birthdays, &memCards{}, outbox, tracer, 2)
	s.SetClock(func() time.Time { return time.Date(2026, 2, 14, 14, 0, 0, 0, time.UTC) })

	res, err := s.Birthdays(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Tenants != 2 || res.Chat != 1 || res.Email != 2 || res.Errors != 0 {
		t.Fatalf("result = %+v", res)
	}
	for _, m := range outbox.msgs {
		if m.Kind != domain.KindBirthday || m.ID == "" {
			t.Errorf("unexpected message %+v", m)
		}
		if m.Channel == domain.ChannelEmail && m.Subject != domain.BirthdaySubject("Ana") {
			t.Errorf("subject = %q", m.Subject)
		}
	}
}

func TestSweepExpirations(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	cfg := chatConfig(1)
	org := &tenant.Organization{ID: 1, Name: "Uno", Timezone: "UTC", IsActive: true, StampsExpirationMonths: 3}
	cards := &memCards{cards: []*domain.ExpiringCard{
		{CardID: 1, CreatedAt: time.Date(2026, 6, 13, 0, 0, 0, 0, time.UTC).AddDate(0, -3, 0), Recipient: ana},
		{CardID: 2, CreatedAt: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), Recipient: ana},
		{CardID: 3, CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Recipient: ana},
		{CardID: 4, CreatedAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), Recipient: domain.Recipient{CustomerID: 2}},
	}}
	configs := &memConfigs{byOrg: map[uint]*domain.Config{1: cfg}}
	flags, chat := newFlags(), &stubSender{channel: domain.ChannelChat}
	s := NewSweeper(configs, memOrgs{1: org}, memBirthdays{}, cards, NewDelivery(configs, flags, tracer, time.Second, chat), tracer, 1)
	s.SetClock(func() time.Time { return now })

	res, err := s.Expirations(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Chat != 1 || len(chat.sent) != 1 || *chat.sent[0].CardID != 1 {
		t.Fatalf("result = %+v, msgs = %+v", res, chat.sent)
	}
	if !flags.expiring[1] || flags.expiring[2] || flags.expiring[4] {
		t.Errorf("expiring flags = %v", flags.expiring)
	}

	org.StampsExpirationMonths = 0
	chat.sent = nil
	if res, _ := s.Expirations(context.Background()); res.Chat != 0 || res.Tenants != 0 {
		t.Errorf("expiration disabled should skip tenant, got %+v", res)
	}
}

func TestCardFlagsFollowDelivery(t *testing.T) {
	org := &tenant.Organization{ID: 1, Name: "El Güero"}
	done := domain.CardState{CardID: 3, CurrentStamps: 5, StampsNeeded: 5, IsCompleted: true}
	configs := &memConfigs{byOrg: map[uint]*domain.Config{1: chatConfig(1)}}

	// kafka 模式：outbox 只是接受了消息，标记还不能写
	flags, queued := newFlags(), &memOutbox{}
	NewDispatcher(configs, flags, queued, tracer).CardChanged(context.Background(), org, done, ana)
	if len(queued.msgs) != 1 {
		t.Fatalf("queued = %d, want 1", len(queued.msgs))
	}
	if flags.completed[3] {
		t.Fatal("completed flag set before delivery")
	}

	// worker 投递失败：标记保持未设置，下次卡片变更还会再发
	failing := &stubSender{channel: domain.ChannelChat, err: errors.New("gateway down")}
	if err := NewDelivery(configs, flags, tracer, time.Second, failing).Deliver(context.Background(), queued.msgs[0]); err == nil {
		t.Fatal("expected delivery error")
	}
	if flags.completed[3] {
		t.Fatal("completed flag set after failed delivery")
	}

	ok := &stubSender{channel: domain.ChannelChat}
	if err := NewDelivery(configs, flags, tracer, time.Second, ok).Deliver(context.Background(), queued.msgs[0]); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !flags.completed[3] {
		t.Error("completed flag not set after delivery")
	}

	// 没有卡片的消息不碰标记
	if err := NewDelivery(configs, flags, tracer, time.Second, ok).Deliver(context.Background(),
		&domain.Message{OrganizationID: 1, Kind: domain.KindOneLeft, Channel: domain.ChannelChat}); err != nil {
		t.Fatalf("deliver without card: %v", err)
	}
	if len(flags.oneLeft) != 0 {
		t.Errorf("one-left flags = %v, want none", flags.oneLeft)
	}
}
