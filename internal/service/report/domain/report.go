package domain

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrInvalidRange  = errors.New("invalid date range")
	ErrUnknownExport = errors.New("unknown export")
	ErrNoUploader    = errors.New("export upload is not configured")
)

const (
	RecentMovements   = 5
	DefaultReportDays = 30
)

// Movement 一条积分变动，带顾客姓名
type Movement struct {
	ID           uint      `json:"id"`
	CustomerID   uint      `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	Type         string    `json:"transaction_type"`
	Points       int       `json:"points"`
	Description  string    `json:"description"`
	PerformedBy  *uint     `json:"performed_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Dashboard struct {
	TotalCustomers    int64       `json:"total_customers"`
	NewCustomersToday int64       `json:"new_customers_today"`
	PointsEarnedToday int64       `json:"points_earned_today"`
	ActiveStampCards  int64       `json:"active_stamp_cards"`
	RecentMovements   []*Movement `json:"recent_movements"`
}

// PointsReport 日期闭区间内的积分流水
type PointsReport struct {
	StartDate     string      `json:"start_date"`
	EndDate       string      `json:"end_date"`
	TotalEarned   int64       `json:"total_earned"`
	TotalRedeemed int64       `json:"total_redeemed"`
	Transactions  []*Movement `json:"transactions"`
}

// CustomerRow 导出用
type CustomerRow struct {
	ID         uint
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	NationalID string
	BirthDay   *int
	BirthMonth *int
	IsActive   bool
	Points     int64
	CreatedAt  time.Time
}

type Export string

const (
	ExportCustomers Export = "customers"
	ExportPoints    Export = "points"
)

func (e Export) Valid() bool { return e == ExportCustomers || e == ExportPoints }

type Store interface {
	CountCustomers(ctx context.Context, orgID uint, since time.Time) (int64, error)
	SumPoints(ctx context.Context, orgID uint, txType string, from, to time.Time) (int64, error)
	CountOpenCards(ctx context.Context, orgID uint) (int64, error)
	Movements(ctx context.Context, orgID uint, from, to time.Time, limit int) ([]*Movement, error)
	Customers(ctx context.Context, orgID uint) ([]*CustomerRow, error)
}

// Uploader 导出文件的远端存储
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}
