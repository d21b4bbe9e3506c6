package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/customer/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/tenant"
)

type UsageGate interface {
	CheckLimit(ctx context.Context, orgID uint, t gatedomain.LimitType) error
	RefreshUsage(ctx context.Context, orgID uint, t gatedomain.LimitType) error
}

type Auditor interface {
	Record(ctx context.Context, action auditdomain.Action, resource, description string, customerID *uint)
}

// CustomerService 顾客档案，所有操作限定在 ctx 中的租户
type CustomerService struct {
	repo    domain.Repository
	gate    UsageGate
	auditor Auditor
	tracer  trace.Tracer
	now     func() time.Time
}

func NewCustomerService(repo domain.Repository, gate UsageGate, auditor Auditor, tracer trace.Tracer) *CustomerService {
	return &CustomerService{repo: repo, gate: gate, auditor: auditor, tracer: tracer, now: time.Now}
}

func (s *CustomerService) Create(ctx context.Context, c *domain.Customer) error {
	ctx, span := s.tracer.Start(ctx, "customer.Create")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := s.create(ctx, org, c); err != nil {
		span.RecordError(err)
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionCreate, "customer", fmt.Sprintf("Cliente creado: %s", c.FullName()), &c.ID)
	return nil
}

func (s *CustomerService) create(ctx context.Context, org *tenant.Organization, c *domain.Customer) error {
	c.OrganizationID = org.ID
	c.IsActive = true
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Phone != "" {
		if _, err := s.repo.FindByPhone(ctx, org.ID, c.Phone); err == nil {
			return domain.ErrDuplicatePhone
		} else if !errors.Is(err, domain.ErrCustomerNotFound) {
			return err
		}
	}
	if err := s.gate.CheckLimit(ctx, org.ID, gatedomain.LimitCustomers); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	s.refreshUsage(ctx, org.ID)
	return nil
}

func (s *CustomerService) Update(ctx context.Context, c *domain.Customer) error {
	ctx, span := s.tracer.Start(ctx, "customer.Update")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	c.OrganizationID = org.ID
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Phone != "" {
		existing, err := s.repo.FindByPhone(ctx, org.ID, c.Phone)
		if err == nil && existing.ID != c.ID {
			return domain.ErrDuplicatePhone
		}
		if err != nil && !errors.Is(err, domain.ErrCustomerNotFound) {
			return err
		}
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionUpdate, "customer", fmt.Sprintf("Cliente actualizado: %s", c.FullName()), &c.ID)
	return nil
}

func (s *CustomerService) Delete(ctx context.Context, id uint) error {
	ctx, span := s.tracer.Start(ctx, "customer.Delete")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	c, err := s.repo.FindByID(ctx, org.ID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, org.ID, id); err != nil {
		return err
	}
	s.refreshUsage(ctx, org.ID)
	s.auditor.Record(ctx, auditdomain.ActionDelete, "customer", fmt.Sprintf("Cliente eliminado: %s", c.FullName()), nil)
	return nil
}

func (s *CustomerService) Get(ctx context.Context, id uint) (*domain.Customer, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, org.ID, id)
}

func (s *CustomerService) List(ctx context.Context, f domain.Filter) ([]*domain.Customer, int64, error) {
	ctx, span := s.tracer.Start(ctx, "customer.List")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, org.ID, f)
}

// FindOrCreateByPhone 公开二维码流程：按手机号认领顾客，没有就新建
func (s *CustomerService) FindOrCreateByPhone(ctx context.Context, phone, firstName, lastName string) (*domain.Customer, bool, error) {
	ctx, span := s.tracer.Start(ctx, "customer.FindOrCreateByPhone")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return nil, false, errors.Wrap(domain.ErrInvalidCustomer, "phone is required")
	}
	c, err := s.repo.FindByPhone(ctx, org.ID, normalized)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		return nil, false, err
	}

	c = &domain.Customer{FirstName: firstName, LastName: lastName, Phone: normalized}
	if err := s.create(ctx, org, c); err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Int("customer.id", int(c.ID)))
	logger.Ctx(ctx).Info().Uint("customer_id", c.ID).Msg("customer created from public request")
	return c, true, nil
}

// BirthdaysToday 租户时区下今天生日的在册顾客
func (s *CustomerService) BirthdaysToday(ctx context.Context) ([]*domain.Customer, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	today := s.now().In(org.Location())
	return s.repo.BirthdaysOn(ctx, org.ID, today.Day(), today.Month())
}

func (s *CustomerService) refreshUsage(ctx context.Context, orgID uint) {
	if err := s.gate.RefreshUsage(ctx, orgID, gatedomain.LimitCustomers); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to refresh customer usage")
	}
}
