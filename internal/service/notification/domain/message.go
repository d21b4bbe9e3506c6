package domain

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConfigNotFound = errors.New("notification config not found")
	ErrNotConfigured  = errors.New("notification channel not configured")
	ErrNoRecipient    = errors.New("recipient has no address for channel")
)

type Kind string

const (
	KindCompleted Kind = "completed"
	KindOneLeft   Kind = "one_left"
	KindExpiring  Kind = "expiring"
	KindBirthday  Kind = "birthday"
	KindCampaign  Kind = "campaign"
)

type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

// Message 一条待投递的通知，sync 模式直接发送，kafka 模式序列化后由 worker 发送
type Message struct {
	ID             string    `json:"id"`
	OrganizationID uint      `json:"organization_id"`
	Kind           Kind      `json:"kind"`
	Channel        Channel   `json:"channel"`
	To             string    `json:"to"`
	Subject        string    `json:"subject,omitempty"`
	Body           string    `json:"body"`
	CustomerID     uint      `json:"customer_id"`
	CardID         *uint     `json:"card_id,omitempty"`
	CampaignLogID  *uint     `json:"campaign_log_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Recipient 收件顾客
type Recipient struct {
	CustomerID uint
	FirstName  string
	FullName   string
	Phone      string
	Email      string
}

// CardState 卡片变更后的快照，决定要不要发完成/差一个章提醒
type CardState struct {
	CardID               uint
	CurrentStamps        int
	StampsNeeded         int
	IsCompleted          bool
	IsRedeemed           bool
	CompletedNotified    bool
	OneStampReminderSent bool
	PromotionName        string
	RewardLabel          string
}

// Config 租户的通知配置
type Config struct {
	ID                uint   `json:"id"`
	OrganizationID    uint   `json:"organization_id"`
	ChatAPIURL        string `json:"chat_api_url"`
	ChatToken         string `json:"chat_token,omitempty"`
	EmailEnabled      bool   `json:"email_enabled"`
	TemplateCompleted string `json:"template_completed"`
	TemplateOneLeft   string `json:"template_one_left"`
	TemplateExpiring  string `json:"template_expiring"`
	BirthdayEnabled   bool   `json:"birthday_enabled"`
	BirthdayTemplate  string `json:"birthday_template"`
}

const (
	DefaultTemplateCompleted = "¡Hola {nombre}! Completaste tu tarjeta en {negocio}. Ya puedes reclamar tu {premio}."
	DefaultTemplateOneLeft   = "¡Hola {nombre}! Te falta solo 1 sello en {negocio} para ganar tu {premio}."
	DefaultTemplateExpiring  = "Hola {nombre}, tu tarjeta de sellos en {negocio} vence en 7 días. ¡Aprovecha tu {premio}!"
	DefaultBirthdayTemplate  = "¡Feliz cumpleaños {nombre}! Todo el equipo de {negocio} te desea un gran día."
)

// NewConfig 带默认模板的空配置
func NewConfig(orgID uint) *Config {
	return &Config{
		OrganizationID:    orgID,
		TemplateCompleted: DefaultTemplateCompleted,
		TemplateOneLeft:   DefaultTemplateOneLeft,
		TemplateExpiring:  DefaultTemplateExpiring,
		BirthdayTemplate:  DefaultBirthdayTemplate,
	}
}

// ChatReady 聊天渠道需要 URL 和 token
func (c *Config) ChatReady() bool {
	return c.ChatAPIURL != "" && c.ChatToken != ""
}

func (c *Config) Template(kind Kind) string {
	switch kind {
	case KindCompleted:
		return c.TemplateCompleted
	case KindOneLeft:
		return c.TemplateOneLeft
	case KindExpiring:
		return c.TemplateExpiring
	case KindBirthday:
		return c.BirthdayTemplate
	}
	return ""
}

// Vars 模板变量
type Vars struct {
	Name     string
	Business string
	Reward   string
}

// Render 替换 {nombre} {negocio} {premio}，空值保留占位符
func Render(template string, v Vars) string {
	pairs := make([]string, 0, 6)
	for _, kv := range [][2]string{{"{nombre}", v.Name}, {"{negocio}", v.Business}, {"{premio}", v.Reward}} {
		if kv[1] != "" {
			pairs = append(pairs, kv[0], kv[1])
		}
	}
	if len(pairs) == 0 {
		return template
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// RewardLabel 明确的奖励名 > 活动奖励描述 > "Premio"
func RewardLabel(rewardName, promotionReward string) string {
	if rewardName != "" {
		return rewardName
	}
	if promotionReward != "" {
		return promotionReward
	}
	return "Premio"
}

// BirthdaySubject 生日邮件标题
func BirthdaySubject(firstName string) string {
	return "¡Feliz Cumpleaños, " + firstName + "! 🎂"
}

// Outbox 接收待投递消息。返回 nil 表示已接受（sync 模式即已送达）
type Outbox interface {
	Enqueue(ctx context.Context, msg *Message) error
}

// Sender 单个渠道的投递
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, cfg *Config, msg *Message) error
}

type ConfigRepository interface {
	Find(ctx context.Context, orgID uint) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
	ListBirthdayEnabled(ctx context.Context) ([]*Config, error)
	ListAll(ctx context.Context) ([]*Config, error)
}

// FlagStore 卡片上的通知标记，只做列更新
type FlagStore interface {
	MarkCompletedNotified(ctx context.Context, cardID uint) error
	SetOneLeftSent(ctx context.Context, cardID uint, sent bool) error
	MarkExpiringNotified(ctx context.Context, cardID uint) error
}

// ExpiringCard 即将过期提醒的候选卡片
type ExpiringCard struct {
	CardID            uint
	CreatedAt         time.Time
	PromotionName     string
	RewardDescription string
	Recipient         Recipient
}

// CardFinder 扫描时查找未完成、未提醒过期的卡片
type CardFinder interface {
	OpenCardsCreatedBetween(ctx context.Context, orgID uint, from, to time.Time) ([]*ExpiringCard, error)
}

// BirthdayFinder 生日扫描用
type BirthdayFinder interface {
	BirthdaysOn(ctx context.Context, orgID uint, day int, month time.Month) ([]Recipient, error)
}
