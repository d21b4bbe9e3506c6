package infrastructure

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/httpclient"
	"loyaltyhub/internal/service/notification/domain"
)

// ChatSender 兼容 UltraMsg 风格的聊天 API：表单 POST token / to / body
type ChatSender struct {
	client *httpclient.Client
}

func NewChatSender(client *httpclient.Client) *ChatSender {
	return &ChatSender{client: client}
}

func (s *ChatSender) Channel() domain.Channel { return domain.ChannelChat }

func (s *ChatSender) Send(ctx context.Context, cfg *domain.Config, msg *domain.Message) error {
	if !cfg.ChatReady() {
		return domain.ErrNotConfigured
	}
	to := DigitsOnly(msg.To)
	if to == "" {
		return domain.ErrNoRecipient
	}
	form := url.Values{}
	form.Set("token", cfg.ChatToken)
	form.Set("to", to)
	form.Set("body", msg.Body)
	return errors.Wrap(s.client.PostForm(ctx, cfg.ChatAPIURL, form, nil), "send chat message")
}

// DigitsOnly 国际格式去掉 + 和分隔符
func DigitsOnly(phone string) string {
	out := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			out = append(out, phone[i])
		}
	}
	return string(out)
}

// EmailOptions 事务邮件 API
type EmailOptions struct {
	APIURL string
	APIKey string
	From   string
}

// EmailSender JSON POST 到事务邮件 API，租户需开启 email_enabled
type EmailSender struct {
	client *httpclient.Client
	opts   EmailOptions
}

func NewEmailSender(client *httpclient.Client, opts EmailOptions) *EmailSender {
	return &EmailSender{client: client, opts: opts}
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

type emailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (s *EmailSender) Send(ctx context.Context, cfg *domain.Config, msg *domain.Message) error {
	if !cfg.EmailEnabled || s.opts.APIURL == "" {
		return domain.ErrNotConfigured
	}
	if msg.To == "" {
		return domain.ErrNoRecipient
	}
	headers := map[string]string{"Authorization": "Bearer " + s.opts.APIKey}
	err := s.client.PostJSON(ctx, s.opts.APIURL, emailPayload{
		From:    s.opts.From,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Body,
	}, headers)
	return errors.Wrap(err, "send email")
}
