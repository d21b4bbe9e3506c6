// Package testutil 测试用的内存数据库和租户上下文
package testutil

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/schema"
	"loyaltyhub/internal/tenant"
)

// OpenDB 每个测试一个独立的内存 sqlite，已建好所有表
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// :memory: 每个连接是一个新库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := schema.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateOrg 建一个租户，mutate 可以在创建后修改配置
func CreateOrg(t *testing.T, db *gorm.DB, name string, mutate func(o *tenant.Organization)) *tenant.Organization {
	t.Helper()
	store := tenant.NewGormStore(db)
	org := tenant.NewOrganization(name)
	org.Timezone = "UTC"
	if err := store.Create(context.Background(), org, ""); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if mutate != nil {
		mutate(org)
		if err := store.Update(context.Background(), org); err != nil {
			t.Fatalf("update org: %v", err)
		}
	}
	return org
}

// StaffContext 带租户和员工身份的上下文
func StaffContext(org *tenant.Organization, role auth.Role, userID uint) context.Context {
	ctx := tenant.WithOrganization(context.Background(), org)
	return auth.WithIdentity(ctx, auth.Identity{UserID: userID, OrganizationID: org.ID, Role: role})
}
