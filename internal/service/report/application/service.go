package application

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/report/domain"
	"loyaltyhub/internal/tenant"
)

// ReportService 仪表盘、积分报表和 CSV 导出
type ReportService struct {
	store    domain.Store
	uploader domain.Uploader
	tracer   trace.Tracer
	now      func() time.Time
}

// NewReportService uploader 可以为 nil，此时 Upload 返回 ErrNoUploader
func NewReportService(store domain.Store, uploader domain.Uploader, tracer trace.Tracer) *ReportService {
	return &ReportService{store: store, uploader: uploader, tracer: tracer, now: time.Now}
}

// SetClock 测试用
func (s *ReportService) SetClock(now func() time.Time) { s.now = now }

func (s *ReportService) Dashboard(ctx context.Context) (*domain.Dashboard, error) {
	ctx, span := s.tracer.Start(ctx, "report.Dashboard")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	today := org.StartOfDay(now).UTC()
	tomorrow := org.StartOfDay(now).AddDate(0, 0, 1).UTC()

	d := &domain.Dashboard{}
	if d.TotalCustomers, err = s.store.CountCustomers(ctx, org.ID, time.Time{}); err != nil {
		return nil, err
	}
	if d.NewCustomersToday, err = s.store.CountCustomers(ctx, org.ID, today); err != nil {
		return nil, err
	}
	if d.PointsEarnedToday, err = s.store.SumPoints(ctx, org.ID, "EARN", today, tomorrow); err != nil {
		return nil, err
	}
	if d.ActiveStampCards, err = s.store.CountOpenCards(ctx, org.ID); err != nil {
		return nil, err
	}
	if d.RecentMovements, err = s.store.Movements(ctx, org.ID, time.Time{}, time.Time{}, domain.RecentMovements); err != nil {
		return nil, err
	}
	return d, nil
}

// dateRange 解析 YYYY-MM-DD 闭区间，缺省为最近 30 天；返回租户时区下 [from, to) 的 UTC 时间
func (s *ReportService) dateRange(org *tenant.Organization, start, end string) (string, string, time.Time, time.Time, error) {
	loc := org.Location()
	today := s.now().In(loc)
	if end == "" {
		end = today.Format(time.DateOnly)
	}
	if start == "" {
		start = today.AddDate(0, 0, -domain.DefaultReportDays).Format(time.DateOnly)
	}
	from, err := time.ParseInLocation(time.DateOnly, start, loc)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, errors.Wrap(domain.ErrInvalidRange, "start_date must be YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(time.DateOnly, end, loc)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, errors.Wrap(domain.ErrInvalidRange, "end_date must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return "", "", time.Time{}, time.Time{}, errors.Wrap(domain.ErrInvalidRange, "end_date is before start_date")
	}
	return start, end, from.UTC(), to.AddDate(0, 0, 1).UTC(), nil
}

func (s *ReportService) PointsReport(ctx context.Context, start, end string) (*domain.PointsReport, error) {
	ctx, span := s.tracer.Start(ctx, "report.PointsReport")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	start, end, from, to, err := s.dateRange(org, start, end)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("report.start", start), attribute.String("report.end", end))

	r := &domain.PointsReport{StartDate: start, EndDate: end}
	if r.Transactions, err = s.store.Movements(ctx, org.ID, from, to, 0); err != nil {
		return nil, err
	}
	for _, m := range r.Transactions {
		switch m.Type {
		case "EARN":
			r.TotalEarned += int64(m.Points)
		case "REDEEM":
			r.TotalRedeemed += int64(m.Points)
		}
	}
	return r, nil
}

// WriteCSV 把指定导出写到 w
func (s *ReportService) WriteCSV(ctx context.Context, kind domain.Export, w io.Writer, start, end string) error {
	ctx, span := s.tracer.Start(ctx, "report.WriteCSV", trace.WithAttributes(attribute.String("export", string(kind))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	switch kind {
	case domain.ExportCustomers:
		err = s.writeCustomers(ctx, org, cw)
	case domain.ExportPoints:
		err = s.writePoints(ctx, org, cw, start, end)
	default:
		return errors.Wrapf(domain.ErrUnknownExport, "%q", kind)
	}
	if err != nil {
		return err
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "write csv")
}

func (s *ReportService) writeCustomers(ctx context.Context, org *tenant.Organization, cw *csv.Writer) error {
	rows, err := s.store.Customers(ctx, org.ID)
	if err != nil {
		return err
	}
	if err := cw.Write([]string{"id", "first_name", "last_name", "email", "phone", "national_id",
		"birth_day", "birth_month", "is_active", "points", "created_at"}); err != nil {
		return err
	}
	loc := org.Location()
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.FormatUint(uint64(r.ID), 10), r.FirstName, r.LastName, r.Email, r.Phone, r.NationalID,
			optInt(r.BirthDay), optInt(r.BirthMonth), strconv.FormatBool(r.IsActive),
			strconv.FormatInt(r.Points, 10), r.CreatedAt.In(loc).Format(time.DateTime),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReportService) writePoints(ctx context.Context, org *tenant.Organization, cw *csv.Writer, start, end string) error {
	report, err := s.PointsReport(ctx, start, end)
	if err != nil {
		return err
	}
	if err := cw.Write([]string{"id", "created_at", "customer_id", "customer", "type", "points", "description"}); err != nil {
		return err
	}
	loc := org.Location()
	for _, m := range report.Transactions {
		if err := cw.Write([]string{
			strconv.FormatUint(uint64(m.ID), 10), m.CreatedAt.In(loc).Format(time.DateTime),
			strconv.FormatUint(uint64(m.CustomerID), 10), m.CustomerName, m.Type,
			strconv.Itoa(m.Points), m.Description,
		}); err != nil {
			return err
		}
	}
	return nil
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// Upload 生成 CSV 并上传，返回对象地址
func (s *ReportService) Upload(ctx context.Context, kind domain.Export, start, end string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "report.Upload", trace.WithAttributes(attribute.String("export", string(kind))))
	defer span.End()

	if s.uploader == nil {
		return "", domain.ErrNoUploader
	}
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := s.WriteCSV(ctx, kind, &buf, start, end); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/%s-%s.csv", org.Slug, kind, s.now().In(org.Location()).Format("20060102-150405"))
	url, err := s.uploader.Upload(ctx, key, bytes.NewReader(buf.Bytes()), "text/csv")
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	logger.Ctx(ctx).Info().Str("export", string(kind)).Str("location", url).Int("bytes", buf.Len()).Msg("export uploaded")
	return url, nil
}
