package channel

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"

	"github.com/google/uuid"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP submits mail to a relay. It has no delivery callbacks.
type SMTP struct {
	creds    SMTPCredentials
	sendMail sendMailFunc
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func newSMTP(creds SMTPCredentials, _ Options) *SMTP {
	d := &net.Dialer{Timeout: 10 * time.Second}
	return &SMTP{creds: creds, sendMail: smtp.SendMail, dial: d.DialContext}
}

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.creds.Host, strconv.Itoa(s.creds.Port))
}

func (s *SMTP) SendText(ctx context.Context, to string, content Content) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, &apperrors.TransportError{Provider: "smtp", Err: err}
	}
	domain := "localhost"
	if _, d, ok := strings.Cut(s.creds.FromEmail, "@"); ok {
		domain = d
	}
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domain)

	var auth smtp.Auth
	if s.creds.Username != "" {
		auth = smtp.PlainAuth("", s.creds.Username, s.creds.Password, s.creds.Host)
	}
	msg := buildMIME(s.creds, to, messageID, content)
	if err := s.sendMail(s.addr(), auth, s.creds.FromEmail, []string{to}, msg); err != nil {
		return SendResult{}, &apperrors.TransportError{Provider: "smtp", Err: err}
	}
	return SendResult{ProviderMessageID: messageID}, nil
}

func (s *SMTP) SendTemplate(context.Context, string, TemplateRef, []string) (SendResult, error) {
	return SendResult{}, fmt.Errorf("%w: smtp has no provider templates", apperrors.ErrUnsupportedProvider)
}

// HealthCheck opens a session and says EHLO without sending anything.
func (s *SMTP) HealthCheck(ctx context.Context) HealthReport {
	conn, err := s.dial(ctx, "tcp", s.addr())
	if err != nil {
		return unhealthy(err)
	}
	c, err := smtp.NewClient(conn, s.creds.Host)
	if err != nil {
		conn.Close()
		return unhealthy(err)
	}
	defer c.Close()
	if err := c.Hello("localhost"); err != nil {
		return unhealthy(err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return HealthReport{Status: models.HealthWarning, Details: "relay does not offer STARTTLS"}
	}
	c.Quit()
	return HealthReport{Status: models.HealthHealthy, Details: "relay " + s.addr() + " reachable"}
}

func (s *SMTP) HandleWebhook(RawEvent) ([]Event, error) {
	return nil, apperrors.ErrWebhookUnsupported
}

func buildMIME(creds SMTPCredentials, to, messageID string, content Content) []byte {
	from := creds.FromEmail
	if creds.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", creds.FromName), creds.FromEmail)
	}
	contentType := "text/plain"
	if strings.Contains(content.Body, "</") {
		contentType = "text/html"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", content.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("\r\n")
	body := strings.ReplaceAll(content.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}
