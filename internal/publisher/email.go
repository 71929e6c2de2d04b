package publisher

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/render"
)

// EmailPublisher sends the issue as an HTML email via SMTP.
type EmailPublisher struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailPublisher(host string, port int, username, password, from string, to []string) *EmailPublisher {
	return &EmailPublisher{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

func (p *EmailPublisher) Publish(_ context.Context, issue Issue) error {
	msg, err := p.buildMessage(issue)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	auth := smtp.PlainAuth("", p.username, p.password, p.host)

	if err := p.sendMail(addr, auth, p.from, p.to, msg); err != nil {
		return fmt.Errorf("email: failed to send: %w", err)
	}

	return nil
}

func (p *EmailPublisher) buildMessage(issue Issue) ([]byte, error) {
	n := issue.Newsletter
	subject := fmt.Sprintf("%s - %s", n.Title, n.GeneratedAt.Format("2006-01-02"))

	body := issue.Body
	if issue.Format != newsletter.FormatHTML {
		var err error
		if body, err = render.NewHTML().Render(n); err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		p.from,
		strings.Join(p.to, ","),
		mime.QEncoding.Encode("utf-8", subject),
		body,
	)
	return []byte(msg), nil
}
