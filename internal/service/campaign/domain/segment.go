package domain

import (
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

const (
	SegmentAll           = "ALL"
	SegmentBirthdayMonth = "BIRTHDAY_MONTH"
	SegmentInactive      = "INACTIVE"
)

// InactiveAfter 超过这么久没有积分或集章记录视为不活跃
const InactiveAfter = 60 * 24 * time.Hour

// Segment 判断一位顾客是否在目标人群里
type Segment interface {
	Match(m *Member, now time.Time, loc *time.Location) (bool, error)
}

type segmentFunc func(m *Member, now time.Time, loc *time.Location) (bool, error)

func (f segmentFunc) Match(m *Member, now time.Time, loc *time.Location) (bool, error) {
	return f(m, now, loc)
}

var builtin = map[string]Segment{
	SegmentAll: segmentFunc(func(m *Member, _ time.Time, _ *time.Location) (bool, error) {
		return m.IsActive, nil
	}),
	SegmentBirthdayMonth: segmentFunc(func(m *Member, now time.Time, loc *time.Location) (bool, error) {
		return m.IsActive && m.BirthMonth != nil && *m.BirthMonth == int(now.In(loc).Month()), nil
	}),
	SegmentInactive: segmentFunc(func(m *Member, now time.Time, _ *time.Location) (bool, error) {
		last := m.CreatedAt
		if m.LastActivity != nil {
			last = *m.LastActivity
		}
		return m.IsActive && now.Sub(last) > InactiveAfter, nil
	}),
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func env() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)))
	})
	return celEnv, celEnvErr
}

// CompileSegment 内置人群名或一个返回 bool 的 CEL 表达式，例如
// customer.points >= 100 && customer.birth_month == 12
func CompileSegment(expr string) (Segment, error) {
	expr = strings.TrimSpace(expr)
	if s, ok := builtin[strings.ToUpper(expr)]; ok {
		return s, nil
	}
	e, err := env()
	if err != nil {
		return nil, errors.Wrap(err, "cel env")
	}
	ast, iss := e.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrap(ErrInvalidSegment, iss.Err().Error())
	}
	// dyn 在运行时再检查
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, errors.Wrapf(ErrInvalidSegment, "expression must return bool, got %s", t)
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSegment, err.Error())
	}
	return &celSegment{prg: prg}, nil
}

type celSegment struct {
	prg cel.Program
}

func (s *celSegment) Match(m *Member, now time.Time, loc *time.Location) (bool, error) {
	out, _, err := s.prg.Eval(map[string]any{"customer": memberVars(m, now, loc)})
	if err != nil {
		return false, errors.Wrap(ErrInvalidSegment, err.Error())
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Wrap(ErrInvalidSegment, "expression did not return bool")
	}
	return ok, nil
}

func memberVars(m *Member, now time.Time, loc *time.Location) map[string]any {
	intOr0 := func(p *int) int64 {
		if p == nil {
			return 0
		}
		return int64(*p)
	}
	joined := now.In(loc).Sub(m.CreatedAt.In(loc))
	return map[string]any{
		"first_name":        m.FirstName,
		"last_name":         m.LastName,
		"email":             m.Email,
		"phone":             m.Phone,
		"birth_day":         intOr0(m.BirthDay),
		"birth_month":       intOr0(m.BirthMonth),
		"points":            int64(m.Points),
		"is_active":         m.IsActive,
		"days_since_joined": int64(joined.Hours() / 24),
	}
}
