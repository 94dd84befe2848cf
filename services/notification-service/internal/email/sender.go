package email

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"golang.org/x/time/rate"
)

type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
	ProviderID() string
}

// SMTPSender sends through a plain SMTP relay (Mailpit in development).
// Authentication is used only when a username is configured.
type SMTPSender struct {
	addr        string
	host        string
	defaultFrom string
	auth        smtp.Auth
}

func NewSMTPSender(host, port, from, username, password string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@shopfront.local"
	}
	s := &SMTPSender{
		addr:        fmt.Sprintf("%s:%s", host, port),
		host:        host,
		defaultFrom: from,
	}
	if username != "" {
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) ProviderID() string {
	return "smtp"
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.From == "" {
		m.From = s.defaultFrom
	}
	return smtp.SendMail(s.addr, s.auth, m.From, []string{m.To}, BuildMessage(m))
}

// BuildMessage renders a minimal RFC 5322 HTML message.
func BuildMessage(m Message) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		m.From,
		m.To,
		mime.QEncoding.Encode("utf-8", m.Subject),
		m.HTML,
	))
}

// Throttled caps the outbound send rate of the wrapped sender. Send blocks
// until a token is available or ctx ends.
type Throttled struct {
	next    Sender
	limiter *rate.Limiter
}

func NewThrottled(next Sender, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) ProviderID() string {
	return t.next.ProviderID()
}

func (t *Throttled) Send(ctx context.Context, m Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.Send(ctx, m)
}
