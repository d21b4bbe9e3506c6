// Package tenant 租户（门店）模型、解析与上下文传递
package tenant

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	DefaultTimezone  = "America/Lima"
	DefaultCurrency  = "PEN"
	DefaultLockHours = 2
)

// Weekdays 用位图表示一周中的若干天，bit0 = 周一
type Weekdays uint8

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<weekdayBit(d)) != 0
}

func (w Weekdays) With(days ...time.Weekday) Weekdays {
	for _, d := range days {
		w |= 1 << weekdayBit(d)
	}
	return w
}

func weekdayBit(d time.Weekday) uint {
	return uint((d + 6) % 7)
}

// Organization 一个租户
type Organization struct {
	ID           uint
	Name         string
	Slug         string
	OwnerID      *uint
	Timezone     string
	Currency     string
	OpeningHours string

	StampLockHours         int
	StampLockMinutes       int
	DoubleStampDays        Weekdays
	StampsExpirationMonths int

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockDuration 同一顾客两次加章之间的最短间隔，0 表示不限制
func (o *Organization) LockDuration() time.Duration {
	return time.Duration(o.StampLockHours)*time.Hour + time.Duration(o.StampLockMinutes)*time.Minute
}

// IsDoubleStampDay 按租户时区判断
func (o *Organization) IsDoubleStampDay(t time.Time) bool {
	return o.DoubleStampDays.Has(t.In(o.Location()).Weekday())
}

// StartOfDay 租户时区下 t 所在日期的 0 点
func (o *Organization) StartOfDay(t time.Time) time.Time {
	local := t.In(o.Location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, o.Location())
}

var locations sync.Map

// Location 时区无效时回退到 UTC
func (o *Organization) Location() *time.Location {
	name := o.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}

// NewOrganization 新租户，防刷间隔默认 2 小时
func NewOrganization(name string) *Organization {
	return &Organization{Name: name, StampLockHours: DefaultLockHours}
}

// ApplyDefaults 创建租户时补齐默认值。防刷间隔原样保留，0h0m 即关闭。
func (o *Organization) ApplyDefaults() {
	if o.Slug == "" {
		o.Slug = Slugify(o.Name)
	}
	if o.Timezone == "" {
		o.Timezone = DefaultTimezone
	}
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}
}

var accentFold = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// Slugify "Barbería El Güero" -> "barberia-el-guero"
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range accentFold.Replace(strings.ToLower(strings.TrimSpace(name))) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
