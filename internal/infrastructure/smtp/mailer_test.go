package smtp

import (
	"context"
	"errors"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newMailer(err error) (*Mailer, *captured) {
	m := NewMailer(&config.Config{SMTPHost: "mail.local", SMTPPort: "1025", SMTPFrom: "clinic@example.com"})
	c := &captured{}
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return err
	}
	m.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	return m, c
}

func notif() *domain.Notification {
	return &domain.Notification{NotificationID: "n1", Recipient: domain.Recipient{ID: "p1", Email: "ana@example.com"}}
}

func TestMailer_PlainText(t *testing.T) {
	m, c := newMailer(nil)

	r, err := m.Send(context.Background(), notif(), domain.RenderedContent{Channel: domain.ChannelEmail, Title: "Vacuna", Body: "Hola Ana"})
	require.NoError(t, err)
	assert.Equal(t, "<n1@mail.local>", r.MessageID)
	assert.False(t, r.Delivered)
	assert.Equal(t, "mail.local:1025", c.addr)
	assert.Equal(t, []string{"ana@example.com"}, c.to)
	assert.Contains(t, c.msg, "Subject: Vacuna\r\n")
	assert.Contains(t, c.msg, "Content-Type: text/plain; charset=utf-8\r\n\r\nHola Ana")
}

func TestMailer_HTMLIsMultipart(t *testing.T) {
	m, c := newMailer(nil)

	_, err := m.Send(context.Background(), notif(), domain.RenderedContent{Title: "Recordatorio de cita", Body: "texto", HTML: "<p>html</p>"})
	require.NoError(t, err)
	assert.Contains(t, c.msg, "multipart/alternative")
	assert.Contains(t, c.msg, "<p>html</p>")
	assert.True(t, strings.Index(c.msg, "texto") < strings.Index(c.msg, "<p>html</p>"))
}

func TestMailer_Classification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"mailbox unavailable", &textproto.Error{Code: 550, Msg: "no such user"}, false},
		{"greylisted", &textproto.Error{Code: 451, Msg: "try later"}, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newMailer(tc.err)
			_, err := m.Send(context.Background(), notif(), domain.RenderedContent{Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tc.retryable, domain.IsRetryable(err))
		})
	}
}

func TestMailer_NoAddressIsPermanent(t *testing.T) {
	m, _ := newMailer(nil)
	n := notif()
	n.Recipient.Email = ""

	_, err := m.Send(context.Background(), n, domain.RenderedContent{Body: "x"})
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}
