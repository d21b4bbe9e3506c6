package domain

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrLogNotFound      = errors.New("campaign log not found")
	ErrNotEditable      = errors.New("campaign can only be edited while in draft")
	ErrInvalidState     = errors.New("invalid campaign state")
	ErrInvalidCampaign  = errors.New("invalid campaign")
	ErrInvalidSegment   = errors.New("invalid target segment")
	ErrNoRecipients     = errors.New("no recipients match the target segment")
)

type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelSMS      Channel = "SMS"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp || c == ChannelSMS
}

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusScheduled Status = "SCHEDULED"
	StatusSent      Status = "SENT"
	StatusCancelled Status = "CANCELLED"
)

type LogStatus string

const (
	LogPending   LogStatus = "PENDING"
	LogSent      LogStatus = "SENT"
	LogFailed    LogStatus = "FAILED"
	LogDelivered LogStatus = "DELIVERED"
)

func (s LogStatus) Valid() bool {
	switch s {
	case LogPending, LogSent, LogFailed, LogDelivered:
		return true
	}
	return false
}

// Campaign 群发营销活动
type Campaign struct {
	ID             uint       `json:"id"`
	OrganizationID uint       `json:"organization_id"`
	Name           string     `json:"name"`
	Channel        Channel    `json:"channel"`
	Subject        string     `json:"subject,omitempty"`
	Content        string     `json:"content"`
	TargetSegment  string     `json:"target_segment"`
	Status         Status     `json:"status"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedBy      *uint      `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (c *Campaign) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.Wrap(ErrInvalidCampaign, "name is required")
	}
	if c.Channel == "" {
		c.Channel = ChannelWhatsApp
	}
	if !c.Channel.Valid() {
		return errors.Wrapf(ErrInvalidCampaign, "unknown channel %q", c.Channel)
	}
	if strings.TrimSpace(c.Content) == "" {
		return errors.Wrap(ErrInvalidCampaign, "content is required")
	}
	if c.TargetSegment == "" {
		c.TargetSegment = SegmentAll
	}
	_, err := CompileSegment(c.TargetSegment)
	return err
}

func (c *Campaign) Editable() error {
	if c.Status != StatusDraft {
		return ErrNotEditable
	}
	return nil
}

// Schedule 生成待发送记录之后进入 SCHEDULED，已发送或已取消的不能再排期
func (c *Campaign) Schedule(at time.Time) error {
	switch c.Status {
	case StatusSent:
		return errors.Wrap(ErrInvalidState, "campaign already sent")
	case StatusCancelled:
		return errors.Wrap(ErrInvalidState, "campaign was cancelled")
	}
	c.Status = StatusScheduled
	c.ScheduledAt = &at
	return nil
}

func (c *Campaign) Cancel() error {
	if c.Status == StatusSent || c.Status == StatusCancelled {
		return errors.Wrapf(ErrInvalidState, "cannot cancel a %s campaign", strings.ToLower(string(c.Status)))
	}
	c.Status = StatusCancelled
	return nil
}

// MarkSent 没有待发送记录时调用
func (c *Campaign) MarkSent(now time.Time) {
	c.Status = StatusSent
	c.SentAt = &now
}

// Log 一位顾客的发送记录，每个 (campaign, customer) 只有一条
type Log struct {
	ID             uint      `json:"id"`
	OrganizationID uint      `json:"organization_id"`
	CampaignID     uint      `json:"campaign_id"`
	CustomerID     uint      `json:"customer_id"`
	Status         LogStatus `json:"status"`
	SentAt         time.Time `json:"sent_at"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	CustomerName string `json:"customer_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Progress 发送进度
type Progress struct {
	Total   int     `json:"total"`
	Sent    int     `json:"sent"`
	Failed  int     `json:"failed"`
	Pending int     `json:"pending"`
	Percent float64 `json:"progress_pct"`
}

func ProgressOf(logs []*Log) Progress {
	var p Progress
	for _, l := range logs {
		p.Total++
		switch l.Status {
		case LogSent, LogDelivered:
			p.Sent++
		case LogFailed:
			p.Failed++
		case LogPending:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.Percent = float64(p.Sent) / float64(p.Total) * 100
	}
	return p
}

// Member 候选收件人，Points 为当前积分余额
type Member struct {
	CustomerID   uint
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	BirthDay     *int
	BirthMonth   *int
	IsActive     bool
	Points       int
	CreatedAt    time.Time
	LastActivity *time.Time
}

func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	Create(ctx context.Context, c *Campaign) error
	Save(ctx context.Context, c *Campaign) error
	Find(ctx context.Context, orgID, id uint) (*Campaign, error)
	List(ctx context.Context, orgID uint) ([]*Campaign, error)

	Members(ctx context.Context, orgID uint) ([]*Member, error)
	LoggedCustomers(ctx context.Context, orgID, campaignID uint) (map[uint]struct{}, error)
	CreateLogs(ctx context.Context, logs []*Log) error
	Logs(ctx context.Context, orgID, campaignID uint) ([]*Log, error)
	FindLog(ctx context.Context, orgID, id uint) (*Log, error)
	SaveLog(ctx context.Context, l *Log) error
	CountPending(ctx context.Context, orgID, campaignID uint) (int64, error)
}
