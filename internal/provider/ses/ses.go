// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/provider"
)

// Name is the discriminator value selecting this provider.
const Name = "ses"

// Config holds the configuration for creating an SES Provider. Without
// static credentials the AWS default credential chain is used.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Logger          *slog.Logger
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	client SendEmailAPI
	logger *slog.Logger
}

// New creates a new SES Provider. The region is required.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		return nil, provider.MissingField("region")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg.Logger), nil
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(client SendEmailAPI, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{client: client, logger: logger}
}

// Message is the SES-native message.
type Message struct {
	Input *sesv2.SendEmailInput
	to    []string
}

// Recipients returns the destination addresses in order.
func (m *Message) Recipients() []string {
	return m.to
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// CreateMessage builds a simple SES message, or a raw MIME message when the
// request carries attachments.
func (p *Provider) CreateMessage(req *email.Request) (provider.Message, error) {
	if req.FromEmail == "" {
		return nil, provider.MissingField("FromEmail")
	}

	to := make([]string, 0, len(req.Recipients))
	for i, rcpt := range req.Recipients {
		if rcpt.Email == "" {
			return nil, provider.MissingField(fmt.Sprintf("Recipients[%d].Email", i))
		}
		to = append(to, formatAddress(rcpt.Name, rcpt.Email))
	}
	from := formatAddress(req.FromName, req.FromEmail)

	if len(req.Attachments) == 0 {
		return &Message{Input: buildSimpleInput(from, to, req), to: req.Addresses()}, nil
	}

	raw, err := buildRawMessage(from, to, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}

	return &Message{
		Input: &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from),
			Destination:      &types.Destination{ToAddresses: to},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		},
		to: req.Addresses(),
	}, nil
}

// SendMessage performs a single SendEmail call.
func (p *Provider) SendMessage(ctx context.Context, msg provider.Message) provider.Outcome {
	m, ok := msg.(*Message)
	if !ok {
		err := provider.UnexpectedMessage(Name, msg)
		p.logger.Error("SES send failed", "provider", Name, "error", err)
		return provider.Failure(err)
	}

	out, err := p.client.SendEmail(ctx, m.Input)
	if err != nil {
		attrs := []any{
			"provider", Name,
			"recipients", m.Recipients(),
			"error", err,
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "code", apiErr.ErrorCode(), "fault", apiErr.ErrorFault().String())
		}
		p.logger.Error("SES send failed", attrs...)
		return provider.Failure(err)
	}

	return provider.Outcome{MessageID: aws.ToString(out.MessageId)}
}

// IsSuccessfulResponse reports whether the API call succeeded.
func (p *Provider) IsSuccessfulResponse(o provider.Outcome) bool {
	return !o.Failed()
}

func buildSimpleInput(from string, to []string, req *email.Request) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(req.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(req.HTMLBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}

func buildRawMessage(from string, to []string, req *email.Request) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", req.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := part.Write([]byte(req.HTMLBody)); err != nil {
		return nil, err
	}

	for i, att := range req.Attachments {
		if att.Filename == "" || att.Content == "" {
			return nil, provider.MissingField(fmt.Sprintf("Attachments[%d]", i))
		}
		data, err := att.Decode()
		if err != nil {
			return nil, fmt.Errorf("attachment %q: invalid base64 content: %w", att.Filename, err)
		}

		contentType := att.MIMEType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		disposition := att.Disposition
		if disposition == "" {
			disposition = "attachment"
		}

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", contentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			mime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(data))); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
