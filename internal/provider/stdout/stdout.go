// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/provider"
)

// Name is the discriminator value selecting this provider.
const Name = "stdout"

const separator = "========================================\n"

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	policy *bluemonday.Policy
	logger *slog.Logger
}

// New creates a new stdout Provider that writes to os.Stdout.
func New(logger *slog.Logger) *Provider {
	return NewWithWriter(os.Stdout, logger)
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		writer: w,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// Message is a copy of the request with attachment sizes resolved.
type Message struct {
	Request *email.Request
	Sizes   []int
}

// Recipients returns the destination addresses in order.
func (m *Message) Recipients() []string {
	return m.Request.Addresses()
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage copies the request and measures each decoded attachment.
func (p *Provider) CreateMessage(req *email.Request) (provider.Message, error) {
	if req.FromEmail == "" {
		return nil, provider.MissingField("FromEmail")
	}
	for i, rcpt := range req.Recipients {
		if rcpt.Email == "" {
			return nil, provider.MissingField(fmt.Sprintf("Recipients[%d].Email", i))
		}
	}

	msg := &Message{Request: req.Clone()}
	for i, att := range req.Attachments {
		if att.Filename == "" || att.Content == "" {
			return nil, provider.MissingField(fmt.Sprintf("Attachments[%d]", i))
		}
		data, err := att.Decode()
		if err != nil {
			return nil, fmt.Errorf("attachment %q: invalid base64 content: %w", att.Filename, err)
		}
		msg.Sizes = append(msg.Sizes, len(data))
	}

	return msg, nil
}

// SendMessage prints the message. It only fails when the writer does.
func (p *Provider) SendMessage(_ context.Context, msg provider.Message) provider.Outcome {
	m, ok := msg.(*Message)
	if !ok {
		err := provider.UnexpectedMessage(Name, msg)
		p.logger.Error("stdout send failed", "provider", Name, "error", err)
		return provider.Failure(err)
	}
	req := m.Request

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", formatAddress(req.FromName, req.FromEmail))

	to := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		to = append(to, formatAddress(r.Name, r.Email))
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	if len(req.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(req.Categories, ", "))
	}

	b.WriteString("Body:\n")
	b.WriteString(strings.TrimSpace(p.policy.Sanitize(req.HTMLBody)) + "\n")

	if len(req.Attachments) > 0 {
		attachments := make([]string, 0, len(req.Attachments))
		for i, att := range req.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(m.Sizes[i])))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		p.logger.Error("stdout send failed",
			"provider", Name,
			"recipients", m.Recipients(),
			"error", err,
		)
		return provider.Failure(err)
	}

	return provider.Outcome{}
}

// IsSuccessfulResponse reports whether the message was written.
func (p *Provider) IsSuccessfulResponse(o provider.Outcome) bool {
	return !o.Failed()
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
