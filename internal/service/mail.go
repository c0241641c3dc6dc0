package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mail is a single message to one or more recipients
type Mail struct {
	To      []string
	Subject string
	HTML    string
}

// Mailer delivers mail synchronously. Callers that must not block go
// through MailQueue instead.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// NewMailer returns the mailer selected by mail.provider
func NewMailer() (Mailer, error) {
	sender := v.GetString("mail.sender")

	switch p := v.GetString("mail.provider"); p {
	case "smtp":
		d := gomail.NewDialer(
			v.GetString("mail.host"),
			v.GetInt("mail.port"),
			v.GetString("mail.username"),
			v.GetString("mail.password"),
		)
		return &SMTPMailer{dialer: d, from: sender}, nil
	case "sendgrid":
		return &SendGridMailer{key: v.GetString("mail.sendgrid_key"), from: sender}, nil
	case "log":
		return LogMailer{}, nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", p)
	}
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	if len(m.To) == 0 {
		return errors.New("mail has no recipients")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/html", m.HTML)

	// gomail has no context support, the dial is bounded by the dialer timeout
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail over smtp, %w", err)
	}

	return nil
}

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendGridMailer struct {
	key  string
	from string
}

func (s *SendGridMailer) build(m Mail) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.Subject
	for _, to := range m.To {
		p.AddTos(sgmail.NewEmail("", to))
	}

	msg := sgmail.NewV3Mail()
	msg.SetFrom(sgmail.NewEmail("School", s.from))
	msg.AddPersonalizations(p)
	msg.AddContent(sgmail.NewContent("text/html", m.HTML))

	return msg
}

func (s *SendGridMailer) Send(ctx context.Context, m Mail) error {
	if len(m.To) == 0 {
		return errors.New("mail has no recipients")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.build(m))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("failed to send mail over sendgrid, %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected mail with status %d: %s", res.StatusCode, res.Body)
	}

	return nil
}

// LogMailer writes mail to the log instead of sending it. Used in development.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, m Mail) error {
	zap.L().Info("Mail",
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.HTML))

	return nil
}
