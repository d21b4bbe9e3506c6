package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/auth"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/campaign/domain"
	"loyaltyhub/internal/service/campaign/infrastructure"
	customerinfra "loyaltyhub/internal/service/customer/infrastructure"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	notificationdomain "loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/testutil"
)

type openGate struct{ err error }

func (g openGate) CheckLimit(context.Context, uint, gatedomain.LimitType) error   { return g.err }
func (g openGate) RefreshUsage(context.Context, uint, gatedomain.LimitType) error { return nil }

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, auditdomain.Action, string, string, *uint) {}

type memOutbox struct {
	msgs []*notificationdomain.Message
	err  error
}

func (o *memOutbox) Enqueue(_ context.Context, msg *notificationdomain.Message) error {
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	org    *tenant.Organization
	svc    *CampaignService
	outbox *memOutbox
	ctx    context.Context
	now    time.Time
}

func newFixture(t *testing.T, gate UsageGate) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	org := testutil.CreateOrg(t, db, "Barbería Campañas", nil)
	f := &fixture{
		t:      t,
		db:     db,
		org:    org,
		outbox: &memOutbox{},
		ctx:    testutil.StaffContext(org, auth.RoleStaff, 5),
		now:    time.Now().UTC(),
	}
	f.svc = NewCampaignService(infrastructure.NewGormStore(db), gate, f.outbox, nopAuditor{}, noop.NewTracerProvider().Tracer("test"))
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) customer(first, phone, email string, active bool) uint {
	f.t.Helper()
	m := &customerinfra.CustomerModel{OrganizationID: f.org.ID, FirstName: first, Phone: phone, Email: email, IsActive: active}
	if err := f.db.Create(m).Error; err != nil {
		f.t.Fatalf("create customer: %v", err)
	}
	return m.ID
}

func (f *fixture) campaign(channel domain.Channel, segment string) *domain.Campaign {
	f.t.Helper()
	c := &domain.Campaign{Name: "Verano", Channel: channel, Content: "Hola {nombre}, te esperamos en {negocio}", TargetSegment: segment}
	if err := f.svc.Create(f.ctx, c); err != nil {
		f.t.Fatalf("create campaign: %v", err)
	}
	return c
}

func TestCreateRespectsLimit(t *testing.T) {
	f := newFixture(t, openGate{err: gatedomain.ErrLimitExceeded})
	err := f.svc.Create(f.ctx, &domain.Campaign{Name: "x", Content: "y"})
	if !errors.Is(err, gatedomain.ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	list, _ := f.svc.List(f.ctx)
	if len(list) != 0 {
		t.Fatalf("campaigns = %d, want 0", len(list))
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	f := newFixture(t, openGate{})
	f.customer("Ana", "999000001", "", true)
	f.customer("Beto", "999000002", "", true)
	f.customer("Caro", "999000003", "", false)
	c := f.campaign(domain.ChannelWhatsApp, domain.SegmentAll)

	d, err := f.svc.Schedule(f.ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if d.Campaign.Status != domain.StatusScheduled || d.Progress.Total != 2 || d.Progress.Pending != 2 {
		t.Fatalf("unexpected detail: %+v", d.Progress)
	}

	f.customer("Dani", "999000004", "", true)
	d, err = f.svc.Schedule(f.ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if d.Progress.Total != 3 {
		t.Fatalf("total after reschedule = %d, want 3", d.Progress.Total)
	}
}

func TestScheduleWithoutRecipients(t *testing.T) {
	f := newFixture(t, openGate{})
	f.customer("Ana", "999000001", "", true)
	c := f.campaign(domain.ChannelWhatsApp, "customer.points > 1000")
	if _, err := f.svc.Schedule(f.ctx, c.ID, nil); !errors.Is(err, domain.ErrNoRecipients) {
		t.Fatalf("err = %v, want ErrNoRecipients", err)
	}
	got, err := f.svc.Get(f.ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Campaign.Status != domain.StatusDraft {
		t.Errorf("status = %s, want DRAFT", got.Campaign.Status)
	}
}

func TestDispatch(t *testing.T) {
	f := newFixture(t, openGate{})
	f.customer("Ana", "999000001", "", true)
	f.customer("Beto", "", "", true)
	c := f.campaign(domain.ChannelWhatsApp, domain.SegmentAll)
	if _, err := f.svc.Schedule(f.ctx, c.ID, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	d, err := f.svc.Dispatch(f.ctx, c.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.outbox.msgs) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(f.outbox.msgs))
	}
	msg := f.outbox.msgs[0]
	if msg.Channel != notificationdomain.ChannelChat || msg.To != "999000001" || msg.Kind != notificationdomain.KindCampaign {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Body != "Hola Ana, te esperamos en Barbería Campañas" {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.CampaignLogID == nil {
		t.Errorf("message not linked to its log")
	}
	if d.Progress.Sent != 1 || d.Progress.Failed != 1 || d.Progress.Pending != 0 {
		t.Errorf("progress = %+v", d.Progress)
	}
	if d.Campaign.Status != domain.StatusSent || d.Campaign.SentAt == nil {
		t.Errorf("campaign should be SENT, got %s", d.Campaign.Status)
	}

	if _, err := f.svc.Dispatch(f.ctx, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second dispatch: err = %v, want ErrInvalidState", err)
	}
}

func TestDispatchSMSMarksFailed(t *testing.T) {
	f := newFixture(t, openGate{})
	f.customer("Ana", "999000001", "", true)
	c := f.campaign(domain.ChannelSMS, domain.SegmentAll)
	if _, err := f.svc.Schedule(f.ctx, c.ID, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	d, err := f.svc.Dispatch(f.ctx, c.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.outbox.msgs) != 0 || d.Progress.Failed != 1 {
		t.Fatalf("sms should fail without enqueueing, got %d msgs, %+v", len(f.outbox.msgs), d.Progress)
	}
	if d.Logs[0].ErrorMessage == "" {
		t.Errorf("failed log has no error message")
	}
}

func TestUpdateLogCompletesCampaign(t *testing.T) {
	f := newFixture(t, openGate{})
	f.customer("Ana", "999000001", "", true)
	c := f.campaign(domain.ChannelWhatsApp, domain.SegmentAll)
	d, err := f.svc.Schedule(f.ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, err := f.svc.UpdateLog(f.ctx, d.Logs[0].ID, "BOUNCED", ""); !errors.Is(err, domain.ErrInvalidCampaign) {
		t.Fatalf("unknown status: err = %v", err)
	}
	l, err := f.svc.UpdateLog(f.ctx, d.Logs[0].ID, "", "")
	if err != nil {
		t.Fatalf("update log: %v", err)
	}
	if l.Status != domain.LogSent {
		t.Errorf("status = %s, want SENT", l.Status)
	}
	got, _ := f.svc.Get(f.ctx, c.ID)
	if got.Campaign.Status != domain.StatusSent {
		t.Errorf("campaign status = %s, want SENT", got.Campaign.Status)
	}
}

func TestEditOnlyDrafts(t *testing.T) {
	f := newFixture(t, openGate{})
	f.customer("Ana", "999000001", "", true)
	c := f.campaign(domain.ChannelWhatsApp, domain.SegmentAll)

	upd := UpdateCommand{Name: "Invierno", Channel: domain.ChannelEmail, Content: "Hola", TargetSegment: domain.SegmentAll}
	got, err := f.svc.Update(f.ctx, c.ID, upd)
	if err != nil || got.Name != "Invierno" {
		t.Fatalf("update draft = %v, %v", got, err)
	}
	if _, err := f.svc.Schedule(f.ctx, c.ID, nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := f.svc.Update(f.ctx, c.ID, upd); !errors.Is(err, domain.ErrNotEditable) {
		t.Errorf("update scheduled: err = %v, want ErrNotEditable", err)
	}

	if _, err := f.svc.Cancel(f.ctx, c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Cancel(f.ctx, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("cancel twice: err = %v, want ErrInvalidState", err)
	}
}

func TestInactiveSegmentUsesActivity(t *testing.T) {
	f := newFixture(t, openGate{})
	old := f.now.Add(-90 * 24 * time.Hour)
	for _, name := range []string{"Ana", "Beto"} {
		m := &customerinfra.CustomerModel{OrganizationID: f.org.ID, FirstName: name, Phone: "9", IsActive: true, CreatedAt: old}
		if err := f.db.Create(m).Error; err != nil {
			t.Fatalf("create customer: %v", err)
		}
		if name == "Ana" {
			pt := map[string]any{
				"organization_id":  f.org.ID,
				"customer_id":      m.ID,
				"transaction_type": "EARN",
				"points":           10,
				"created_at":       f.now.Add(-24 * time.Hour),
			}
			if err := f.db.Table("point_transactions").Create(pt).Error; err != nil {
				t.Fatalf("insert points: %v", err)
			}
		}
	}
	c := f.campaign(domain.ChannelWhatsApp, domain.SegmentInactive)
	d, err := f.svc.Schedule(f.ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(d.Logs) != 1 || d.Logs[0].CustomerName != "Beto" {
		t.Fatalf("inactive recipients = %+v", d.Logs)
	}
}
