// Package sendgrid implements a Provider that sends emails through the
// SendGrid v3 HTTP API.
package sendgrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/provider"
)

// Name is the discriminator value selecting this provider.
const Name = "sendgrid"

// DefaultHost is the public SendGrid API endpoint.
const DefaultHost = "https://api.sendgrid.com"

const (
	sendPath     = "/v3/mail/send"
	messagesPath = "/v3/messages"
	defaultLimit = 10
)

// Config holds the configuration for creating a SendGrid Provider.
type Config struct {
	APIKey string
	// Host overrides DefaultHost.
	Host string
	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider sends emails via the SendGrid v3 API.
type Provider struct {
	apiKey string
	host   string
	client *rest.Client
	logger *slog.Logger
}

// New creates a new SendGrid Provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.MissingField("api key")
	}

	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		apiKey: cfg.APIKey,
		host:   host,
		client: &rest.Client{HTTPClient: httpClient},
		logger: logger,
	}, nil
}

// Message is the SendGrid-native message: a v3 mail/send payload.
type Message struct {
	Mail *mail.SGMailV3
}

// Recipients returns the "to" addresses of every personalization.
func (m *Message) Recipients() []string {
	var addrs []string
	for _, p := range m.Mail.Personalizations {
		for _, to := range p.To {
			addrs = append(addrs, to.Address)
		}
	}
	return addrs
}

// Body returns the JSON request body sent to the API.
func (m *Message) Body() []byte {
	return mail.GetRequestBody(m.Mail)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage builds a v3 payload with a single personalization holding
// every recipient in order. Attachment content is passed through as the
// base64 text supplied by the caller.
func (p *Provider) CreateMessage(req *email.Request) (provider.Message, error) {
	if req.FromEmail == "" {
		return nil, provider.MissingField("FromEmail")
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(req.FromName, req.FromEmail))
	m.Subject = req.Subject

	pers := mail.NewPersonalization()
	for i, rcpt := range req.Recipients {
		if rcpt.Email == "" {
			return nil, provider.MissingField(fmt.Sprintf("Recipients[%d].Email", i))
		}
		pers.AddTos(mail.NewEmail(rcpt.Name, rcpt.Email))
	}
	m.AddPersonalizations(pers)

	m.AddContent(mail.NewContent("text/html", req.HTMLBody))

	for i, att := range req.Attachments {
		if att.Filename == "" || att.Content == "" {
			return nil, provider.MissingField(fmt.Sprintf("Attachments[%d]", i))
		}
		a := mail.NewAttachment()
		a.SetContent(att.Content)
		a.SetFilename(att.Filename)
		if att.MIMEType != "" {
			a.SetType(att.MIMEType)
		}
		if att.Disposition != "" {
			a.SetDisposition(att.Disposition)
		}
		m.AddAttachment(a)
	}

	if len(req.Categories) > 0 {
		m.AddCategories(req.Categories...)
	}

	return &Message{Mail: m}, nil
}

// SendMessage posts the payload to the mail/send endpoint. Any HTTP status
// is returned as a normal outcome; only transport errors become failures.
func (p *Provider) SendMessage(ctx context.Context, msg provider.Message) provider.Outcome {
	m, ok := msg.(*Message)
	if !ok {
		err := provider.UnexpectedMessage(Name, msg)
		p.logger.Error("sendgrid send failed", "error", err)
		return provider.Failure(err)
	}

	req := sg.GetRequest(p.apiKey, sendPath, p.host)
	req.Method = rest.Post
	req.Body = m.Body()

	resp, err := p.client.SendWithContext(ctx, req)
	if err != nil {
		p.logger.Error("sendgrid send failed",
			"recipients", m.Recipients(),
			"error", err,
		)
		return provider.Failure(err)
	}

	outcome := provider.Outcome{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Headers:    resp.Headers,
	}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		outcome.MessageID = ids[0]
	}

	if !p.IsSuccessfulResponse(outcome) {
		p.logger.Warn("sendgrid rejected message",
			"recipients", m.Recipients(),
			"status", resp.StatusCode,
			"body", resp.Body,
		)
	}

	return outcome
}

// IsSuccessfulResponse reports whether the request completed with a 2xx status.
func (p *Provider) IsSuccessfulResponse(o provider.Outcome) bool {
	return !o.Failed() && o.StatusCode >= 200 && o.StatusCode <= 299
}

// StatusError is returned by the read path when the API does not answer 200.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sendgrid API error (HTTP %d): %s", e.StatusCode, e.Body)
}

// messagesResponse is the body returned by the messages endpoint.
type messagesResponse struct {
	Messages []email.Activity `json:"messages"`
}

// GetEmails queries the message activity for the given recipient address,
// returning at most limit entries. Unlike SendMessage, failures are returned.
func (p *Provider) GetEmails(ctx context.Context, address string, limit int) ([]email.Activity, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	req := sg.GetRequest(p.apiKey, messagesPath, p.host)
	req.Method = rest.Get
	req.QueryParams = map[string]string{
		"query": fmt.Sprintf(`to_email="%s"`, address),
		"limit": strconv.Itoa(limit),
	}

	resp, err := p.client.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid messages request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	var body messagesResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		return nil, fmt.Errorf("failed to parse messages response: %w", err)
	}

	p.logger.Debug("sendgrid messages fetched",
		"address", address,
		"count", len(body.Messages),
	)

	return body.Messages, nil
}
