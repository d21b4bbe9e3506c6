package tenant

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&OrganizationModel{}, &DomainModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormStore(db)
}

func TestCreateKeepsStampLock(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		org  *Organization
		want time.Duration
	}{
		{"default lock", NewOrganization("Barbería Dos Horas"), 2 * time.Hour},
		{"lock disabled", &Organization{Name: "Barbería Libre"}, 0},
		{"minutes only", &Organization{Name: "Barbería Rápida", StampLockMinutes: 15}, 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Create(ctx, tt.org, ""); err != nil {
				t.Fatalf("create: %v", err)
			}
			got, err := store.FindByID(ctx, tt.org.ID)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got.LockDuration() != tt.want {
				t.Errorf("lock = %s, want %s", got.LockDuration(), tt.want)
			}
		})
	}
}
