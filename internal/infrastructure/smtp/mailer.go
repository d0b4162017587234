package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers EMAIL content over SMTP.
type Mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	send     sendFunc
	now      func() time.Time
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

func (m *Mailer) Send(ctx context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error) {
	to := n.Recipient.Email
	if to == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelEmail, "no_address", errors.New("recipient has no email"))
	}
	msgID := fmt.Sprintf("<%s@%s>", n.NotificationID, m.host)
	msg, err := m.compose(to, msgID, c)
	if err != nil {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelEmail, "compose", err)
	}

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	done := make(chan error, 1)
	go func() { done <- m.send(addr, auth, m.from, []string{to}, msg) }()
	select {
	case <-ctx.Done():
		return domain.SendReceipt{}, domain.Retryable(domain.ChannelEmail, "timeout", ctx.Err())
	case err := <-done:
		if err != nil {
			return domain.SendReceipt{}, classify(err)
		}
	}
	return domain.SendReceipt{MessageID: msgID}, nil
}

// compose builds the RFC 5322 message; with HTML it is multipart/alternative.
func (m *Mailer) compose(to, msgID string, c domain.RenderedContent) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", c.Title))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", msgID)
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if c.HTML == "" {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(c.Body)
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=utf-8", c.Body},
		{"text/html; charset=utf-8", c.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

// classify maps SMTP replies: 5xx is a permanent rejection, 4xx and
// connection errors are retried.
func classify(err error) error {
	var tpe *textproto.Error
	if errors.As(err, &tpe) {
		code := fmt.Sprintf("smtp_%d", tpe.Code)
		if tpe.Code >= 500 {
			return domain.Permanent(domain.ChannelEmail, code, err)
		}
		return domain.Retryable(domain.ChannelEmail, code, err)
	}
	return domain.Retryable(domain.ChannelEmail, "transport", err)
}
