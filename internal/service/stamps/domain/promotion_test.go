package domain

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestPromotionIsRunning(t *testing.T) {
	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	p := &StampPromotion{IsActive: true, StartDate: day(2026, 5, 1), EndDate: day(2026, 5, 31)}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"first day", time.Date(2026, 5, 1, 12, 0, 0, 0, lima), true},
		{"last day late evening", time.Date(2026, 5, 31, 23, 30, 0, 0, lima), true},
		// 6 月 1 日 03:00 UTC 在利马仍是 5 月 31 日
		{"last day by tenant clock", time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), true},
		{"day after", time.Date(2026, 6, 1, 8, 0, 0, 0, lima), false},
		{"before start", time.Date(2026, 4, 30, 12, 0, 0, 0, lima), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsRunning(tt.now, lima); got != tt.want {
				t.Errorf("IsRunning = %v, want %v", got, tt.want)
			}
		})
	}

	inactive := &StampPromotion{}
	if inactive.IsRunning(time.Now(), time.UTC) {
		t.Error("inactive promotion is running")
	}
}

func TestPromotionValidate(t *testing.T) {
	p := &StampPromotion{Name: "  Corte gratis "}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.Name != "Corte gratis" || p.TotalStampsNeeded != DefaultStampsNeeded {
		t.Errorf("defaults not applied: %+v", p)
	}

	bad := []*StampPromotion{
		{Name: " "},
		{Name: "x", TotalStampsNeeded: -1},
		{Name: "x", StartDate: day(2026, 5, 2), EndDate: day(2026, 5, 1)},
	}
	for _, b := range bad {
		if err := b.Validate(); !errors.Is(err, ErrInvalidPromotion) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidPromotion", b, err)
		}
	}
}

func TestUndoable(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	add := &StampTransaction{Action: ActionAdd, CreatedAt: created}
	if err := add.Undoable(created.Add(23*time.Hour), 24*time.Hour); err != nil {
		t.Errorf("inside window: %v", err)
	}
	if err := add.Undoable(created.Add(25*time.Hour), 24*time.Hour); !errors.Is(err, ErrUndoWindowExpired) {
		t.Errorf("outside window: %v", err)
	}
	reset := &StampTransaction{Action: ActionReset, CreatedAt: created}
	if err := reset.Undoable(created, 24*time.Hour); !errors.Is(err, ErrInvalidState) {
		t.Errorf("reset: %v", err)
	}
}
