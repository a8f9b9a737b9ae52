package smtp

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/lattiq/bulkmailer/internal/core"
)

// Name is the provider name reported in results and errors.
const Name = "smtp"

// Default limits used when the settings carry none.
const (
	DefaultMaxSendRate   = 1
	DefaultMax24HourSend = -1
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Provider implements the core.Provider interface for SMTP.
// net/smtp upgrades to STARTTLS whenever the server advertises it.
type Provider struct {
	config   core.ProviderSettings
	sendMail sendFunc
}

// NewProvider creates a new SMTP provider.
func NewProvider(settings core.ProviderSettings) (*Provider, error) {
	p := &Provider{config: settings, sendMail: smtp.SendMail}
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	return p, nil
}

// Quota returns the limits configured through max_send_rate and max_24_hour_send.
func (p *Provider) Quota(_ context.Context) (*core.QuotaResponse, error) {
	return &core.QuotaResponse{
		Max24HourSend: p.config.Float("max_24_hour_send", DefaultMax24HourSend),
		MaxSendRate:   p.config.Float("max_send_rate", DefaultMaxSendRate),
	}, nil
}

// Send delivers one message. The return path, when set, becomes the envelope sender.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host := p.config.Get("host")
	addr := net.JoinHostPort(host, p.config.Get("port"))

	var auth smtp.Auth
	if username := p.config.Get("username"); username != "" {
		auth = smtp.PlainAuth("", username, p.config.Get("password"), host)
	}

	envelopeFrom := msg.ReturnPath
	if envelopeFrom == "" {
		envelopeFrom = msg.From
	}
	if parsed, err := core.ParseAddress(envelopeFrom); err == nil {
		envelopeFrom = parsed.Email
	}

	messageID := fmt.Sprintf("%d@%s", time.Now().UnixNano(), host)
	body := BuildMessage(msg, messageID, time.Now())

	if err := p.sendMail(addr, auth, envelopeFrom, []string{msg.To}, body); err != nil {
		return nil, core.WrapProviderError(Name, "send_error", err)
	}

	return &core.SendResult{
		MessageID: messageID,
		Provider:  Name,
		Timestamp: time.Now(),
	}, nil
}

// ValidateConfig validates the provider configuration.
func (p *Provider) ValidateConfig() error {
	if p.config.Get("host") == "" {
		return core.NewValidationError("host", "SMTP host is required")
	}

	port := p.config.Get("port")
	if port == "" {
		return core.NewValidationError("port", "SMTP port is required")
	}

	if _, err := strconv.Atoi(port); err != nil {
		return core.NewValidationError("port", "invalid port number: "+port)
	}

	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// BuildMessage renders msg as an RFC 5322 HTML message.
func BuildMessage(msg *core.Message, messageID string, date time.Time) []byte {
	charset := msg.Charset
	if charset == "" {
		charset = "utf-8"
	}

	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode(charset, msg.Subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + messageID + ">\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=" + charset + "\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML + "\r\n")

	return []byte(b.String())
}
