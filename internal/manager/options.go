package manager

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/shineum/mail-manager/internal/config"
	"github.com/shineum/mail-manager/internal/provider"
	"github.com/shineum/mail-manager/internal/provider/ses"
	"github.com/shineum/mail-manager/internal/provider/smtp"
)

type options struct {
	apiKey       *string
	sendgridHost string
	httpClient   *http.Client
	smtp         *smtp.Config
	ses          *ses.Config
	writer       io.Writer
	source       config.Source
	logger       *slog.Logger
	provider     provider.Provider
}

// Option configures a Manager.
type Option func(*options)

// WithAPIKey supplies the SendGrid API key instead of reading
// SENDGRID_API_KEY from the configuration source.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = &key
	}
}

// WithSendGridHost overrides the SendGrid API endpoint.
func WithSendGridHost(host string) Option {
	return func(o *options) {
		o.sendgridHost = host
	}
}

// WithHTTPClient sets the HTTP client used by the SendGrid provider.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithSMTPCredentials supplies the SMTP server settings instead of reading
// the SMTP_* values from the configuration source.
func WithSMTPCredentials(cfg smtp.Config) Option {
	return func(o *options) {
		o.smtp = &cfg
	}
}

// WithSESConfig supplies the SES settings instead of reading the SES_*
// values from the configuration source.
func WithSESConfig(cfg ses.Config) Option {
	return func(o *options) {
		o.ses = &cfg
	}
}

// WithWriter sets the output of the stdout provider.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithSource sets where configuration values are looked up. Defaults to the
// process environment.
func WithSource(src config.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithProvider uses p instead of building the provider named at
// construction. The name must still be a known discriminator.
func WithProvider(p provider.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}
