package domain

import (
	"errors"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func TestSegments(t *testing.T) {
	now := time.Date(2026, 12, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * 24 * time.Hour)
	old := now.Add(-90 * 24 * time.Hour)

	december := &Member{FirstName: "Ana", IsActive: true, BirthMonth: intp(12), Points: 150, CreatedAt: old, LastActivity: &recent}
	dormant := &Member{FirstName: "Beto", IsActive: true, BirthMonth: intp(3), Points: 20, CreatedAt: old}
	disabled := &Member{FirstName: "Caro", IsActive: false, BirthMonth: intp(12), CreatedAt: old}

	tests := []struct {
		expr string
		m    *Member
		want bool
	}{
		{"ALL", december, true},
		{"all", disabled, false},
		{"BIRTHDAY_MONTH", december, true},
		{"BIRTHDAY_MONTH", dormant, false},
		{"BIRTHDAY_MONTH", disabled, false},
		{"INACTIVE", december, false},
		{"INACTIVE", dormant, true},
		{"customer.points >= 100", december, true},
		{"customer.points >= 100", dormant, false},
		{"customer.birth_month == 12 && customer.is_active", disabled, false},
		{`customer.first_name.startsWith("B")`, dormant, true},
		{"customer.days_since_joined > 60", dormant, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr+"/"+tt.m.FirstName, func(t *testing.T) {
			s, err := CompileSegment(tt.expr)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := s.Match(tt.m, now, time.UTC)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileSegmentRejects(t *testing.T) {
	for _, expr := range []string{
		"customer.points +",
		`"vip"`,
		`"a" + "b"`,
	} {
		if _, err := CompileSegment(expr); !errors.Is(err, ErrInvalidSegment) {
			t.Errorf("CompileSegment(%q) err = %v, want ErrInvalidSegment", expr, err)
		}
	}
}

func TestBirthdayMonthUsesTenantTimezone(t *testing.T) {
	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s, _ := CompileSegment(SegmentBirthdayMonth)
	// 1 月 1 日 03:00 UTC 在利马还是 12 月
	now := time.Date(2027, 1, 1, 3, 0, 0, 0, time.UTC)
	m := &Member{IsActive: true, BirthMonth: intp(12)}
	if ok, _ := s.Match(m, now, lima); !ok {
		t.Errorf("december birthday should match in Lima")
	}
	if ok, _ := s.Match(m, now, time.UTC); ok {
		t.Errorf("december birthday should not match in UTC")
	}
}

func TestCampaignLifecycle(t *testing.T) {
	c := &Campaign{Name: " Promo ", Content: "Hola {nombre}"}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Channel != ChannelWhatsApp || c.TargetSegment != SegmentAll || c.Name != "Promo" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	c.Status = StatusDraft
	if err := c.Cancel(); err != nil {
		t.Fatalf("cancel draft: %v", err)
	}
	if err := c.Schedule(time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("schedule cancelled: err = %v, want ErrInvalidState", err)
	}
	if err := c.Editable(); !errors.Is(err, ErrNotEditable) {
		t.Errorf("editable cancelled: err = %v, want ErrNotEditable", err)
	}
}

func TestProgressOf(t *testing.T) {
	p := ProgressOf([]*Log{
		{Status: LogSent}, {Status: LogDelivered}, {Status: LogFailed}, {Status: LogPending},
	})
	if p.Total != 4 || p.Sent != 2 || p.Failed != 1 || p.Pending != 1 || p.Percent != 50 {
		t.Errorf("unexpected progress %+v", p)
	}
	if empty := ProgressOf(nil); empty.Percent != 0 {
		t.Errorf("empty progress = %+v", empty)
	}
}
