// Package smtp implements a Provider that delivers emails to an SMTP server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/provider"
)

// Name is the discriminator value selecting this provider.
const Name = "smtp"

// Timeout bounds each connection, including the whole SMTP conversation.
const Timeout = 30 * time.Second

// Config holds the server address and credentials. An empty Login disables
// authentication.
type Config struct {
	Host     string
	Port     int
	Login    string
	Password string

	// TLS upgrades the connection with STARTTLS and fails if the server
	// does not offer it.
	TLS bool
	// SMTPS connects with implicit TLS.
	SMTPS bool
	// SkipVerify disables certificate verification for either TLS mode.
	SkipVerify bool

	Logger *slog.Logger
}

// Provider sends emails over SMTP using go-mail.
type Provider struct {
	config Config
	logger *slog.Logger
}

// New creates a new SMTP Provider. Host and port are required.
func New(cfg Config) (*Provider, error) {
	if cfg.Host == "" {
		return nil, provider.MissingField("host")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port (got %d)", provider.ErrMissingField, cfg.Port)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{config: cfg, logger: logger}, nil
}

// Envelope is the SMTP-native message. Attachment data is already decoded.
type Envelope struct {
	FromEmail   string
	FromName    string
	To          []email.Recipient
	Subject     string
	HTMLBody    string
	Attachments []File
}

// File is a decoded attachment.
type File struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Recipients returns the destination addresses in order.
func (e *Envelope) Recipients() []string {
	addrs := make([]string, 0, len(e.To))
	for _, r := range e.To {
		addrs = append(addrs, r.Email)
	}
	return addrs
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage builds an envelope. Attachment content is base64-decoded;
// disposition and categories have no SMTP equivalent and are dropped.
func (p *Provider) CreateMessage(req *email.Request) (provider.Message, error) {
	if req.FromEmail == "" {
		return nil, provider.MissingField("FromEmail")
	}

	env := &Envelope{
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
		To:        make([]email.Recipient, 0, len(req.Recipients)),
		Subject:   req.Subject,
		HTMLBody:  req.HTMLBody,
	}

	for i, rcpt := range req.Recipients {
		if rcpt.Email == "" {
			return nil, provider.MissingField(fmt.Sprintf("Recipients[%d].Email", i))
		}
		env.To = append(env.To, rcpt)
	}

	for i, att := range req.Attachments {
		if att.Filename == "" || att.Content == "" {
			return nil, provider.MissingField(fmt.Sprintf("Attachments[%d]", i))
		}
		data, err := att.Decode()
		if err != nil {
			return nil, fmt.Errorf("attachment %q: invalid base64 content: %w", att.Filename, err)
		}
		env.Attachments = append(env.Attachments, File{
			Filename: att.Filename,
			MIMEType: contentType(att),
			Data:     data,
		})
	}

	return env, nil
}

// SendMessage opens a connection, optionally negotiates TLS and
// authenticates, transmits the envelope and quits.
func (p *Provider) SendMessage(ctx context.Context, msg provider.Message) provider.Outcome {
	env, ok := msg.(*Envelope)
	if !ok {
		err := provider.UnexpectedMessage(Name, msg)
		p.logger.Error("smtp send failed", "provider", Name, "error", err)
		return provider.Failure(err)
	}

	messageID := uuid.NewString() + "@" + p.config.Host

	outcome := p.send(ctx, env, messageID)
	if outcome.Failed() {
		p.logger.Error("smtp send failed",
			"provider", Name,
			"host", p.config.Host,
			"port", p.config.Port,
			"recipients", env.Recipients(),
			"error", outcome.Err,
		)
		return outcome
	}

	p.logger.Debug("smtp message sent",
		"message_id", messageID,
		"recipients", env.Recipients(),
	)
	return outcome
}

func (p *Provider) send(ctx context.Context, env *Envelope, messageID string) provider.Outcome {
	m, err := buildMsg(env, messageID)
	if err != nil {
		return provider.Failure(err)
	}

	client, err := gomail.NewClient(p.config.Host, p.clientOptions()...)
	if err != nil {
		return provider.Failure(fmt.Errorf("failed to create SMTP client: %w", err))
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return provider.Failure(err)
	}

	return provider.Outcome{MessageID: messageID}
}

func (p *Provider) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithTimeout(Timeout),
		gomail.WithTLSConfig(&tls.Config{
			ServerName:         p.config.Host,
			InsecureSkipVerify: p.config.SkipVerify,
			MinVersion:         tls.VersionTLS12,
		}),
	}

	switch {
	case p.config.SMTPS:
		opts = append(opts, gomail.WithSSL())
	case p.config.TLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	if p.config.Login != "" {
		// go-mail refuses PLAIN on a cleartext connection to a remote host.
		auth := gomail.SMTPAuthPlain
		if !p.config.TLS && !p.config.SMTPS {
			auth = gomail.SMTPAuthPlainNoEnc
		}
		opts = append(opts,
			gomail.WithSMTPAuth(auth),
			gomail.WithUsername(p.config.Login),
			gomail.WithPassword(p.config.Password),
		)
	}

	// Last, so that no TLS option can reset it.
	return append(opts, gomail.WithPort(p.config.Port))
}

// IsSuccessfulResponse reports whether the dispatch completed without error.
func (p *Provider) IsSuccessfulResponse(o provider.Outcome) bool {
	return !o.Failed()
}

func buildMsg(env *Envelope, messageID string) (*gomail.Msg, error) {
	m := gomail.NewMsg()

	if err := m.FromFormat(env.FromName, env.FromEmail); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", env.FromEmail, err)
	}
	for _, r := range env.To {
		if err := m.AddToFormat(r.Name, r.Email); err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", r.Email, err)
		}
	}

	m.Subject(env.Subject)
	m.SetMessageIDWithValue(messageID)
	m.SetDate()
	m.SetBodyString(gomail.TypeTextHTML, env.HTMLBody)

	for _, f := range env.Attachments {
		err := m.AttachReader(f.Filename, bytes.NewReader(f.Data),
			gomail.WithFileContentType(gomail.ContentType(f.MIMEType)))
		if err != nil {
			return nil, fmt.Errorf("failed to attach %q: %w", f.Filename, err)
		}
	}

	return m, nil
}

func contentType(att email.Attachment) string {
	if att.MIMEType != "" {
		return att.MIMEType
	}
	if ct := mime.TypeByExtension(filepath.Ext(att.Filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
