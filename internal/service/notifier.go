package service

import (
	"context"
	"fmt"
	"html"
	"net/url"

	"bitwise74/school-api/internal/model"

	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier composes mails and hands them to the queue. Nothing it does can
// fail the request that triggered it.
type Notifier struct {
	db    *gorm.DB
	queue *MailQueue
}

func NewNotifier(db *gorm.DB, q *MailQueue) *Notifier {
	return &Notifier{db: db, queue: q}
}

func clientLink(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", v.GetString("app.client_url"), path, url.QueryEscape(token))
}

func (n *Notifier) SendEmail(to, subject, body string) bool {
	return n.queue.Enqueue(Mail{To: []string{to}, Subject: subject, HTML: body})
}

func (n *Notifier) SendVerificationMail(to, token string) bool {
	link := clientLink("/verify-email", token)

	return n.SendEmail(to, "Verify Your Email",
		fmt.Sprintf(`<p>Click <a href="%s">here</a> to verify your email</p>`, link))
}

func (n *Notifier) SendPasswordResetMail(to, token string) bool {
	link := clientLink("/reset-password", token)

	return n.SendEmail(to, "Password Reset Request",
		fmt.Sprintf(`<p>Click <a href="%s">here</a> to reset your password. The link expires in %s.</p>`,
			link, v.GetDuration("jwt.reset_ttl")))
}

// SendNotification mails title and body to every listed user. Lookup
// failures are logged, never returned.
func (n *Notifier) SendNotification(ctx context.Context, title, body string, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}

	var emails []string
	err := n.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id IN ?", userIDs).
		Pluck("email", &emails).
		Error
	if err != nil {
		zap.L().Error("Failed to look up notification recipients", zap.Error(err))
		return
	}

	content := "<p>" + html.EscapeString(body) + "</p>"

	// one mail per recipient so addresses aren't shared
	for _, e := range emails {
		n.SendEmail(e, title, content)
	}
}
