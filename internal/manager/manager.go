// Package manager is the provider-agnostic entry point for sending email.
// It fills in defaults, validates requests, dispatches them through one
// configured provider and aggregates the outcomes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"

	"github.com/shineum/mail-manager/internal/config"
	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/provider"
	"github.com/shineum/mail-manager/internal/provider/sendgrid"
	"github.com/shineum/mail-manager/internal/provider/ses"
	"github.com/shineum/mail-manager/internal/provider/smtp"
	"github.com/shineum/mail-manager/internal/provider/stdout"
)

// DefaultListLimit is the number of entries GetEmails returns when the
// caller passes a non-positive limit.
const DefaultListLimit = 10

// Manager sends emails through a single provider. It is safe for
// sequential use; concurrent callers share only read-only state.
type Manager struct {
	provider    provider.Provider
	defaults    email.Request
	forceSender bool
	validate    *validator.Validate
	logger      *slog.Logger
}

// New builds a Manager for the provider named providerName ("sendgrid",
// "smtp", "ses" or "stdout"). Credentials passed as options win over the
// configuration source. Any unknown name or missing required value yields
// ErrConfiguration.
func New(ctx context.Context, providerName string, opts ...Option) (*Manager, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.source == nil {
		o.source = config.Env()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	switch providerName {
	case sendgrid.Name, smtp.Name, ses.Name, stdout.Name:
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfiguration, providerName)
	}

	cfg, err := config.Load(o.source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	prov := o.provider
	if prov == nil {
		prov, err = buildProvider(ctx, providerName, o)
		if err != nil {
			return nil, err
		}
	}

	// The configured identity only takes part when the override is enabled.
	defaults := email.Defaults()
	if cfg.Sender.Force {
		if cfg.Sender.Email != "" {
			defaults.FromEmail = cfg.Sender.Email
		}
		if cfg.Sender.Name != "" {
			defaults.FromName = cfg.Sender.Name
		}
	}

	validate, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to set up validator: %w", err)
	}

	o.logger.Debug("mail manager ready",
		"provider", prov.Name(),
		"sender", defaults.FromEmail,
		"force_sender", cfg.Sender.Force,
	)

	return &Manager{
		provider:    prov,
		defaults:    defaults,
		forceSender: cfg.Sender.Force,
		validate:    validate,
		logger:      o.logger,
	}, nil
}

func buildProvider(ctx context.Context, name string, o *options) (provider.Provider, error) {
	switch name {
	case sendgrid.Name:
		return buildSendGrid(o)
	case smtp.Name:
		return buildSMTP(o)
	case ses.Name:
		return buildSES(ctx, o)
	default:
		if o.writer == nil {
			return stdout.New(o.logger), nil
		}
		return stdout.NewWithWriter(o.writer, o.logger), nil
	}
}

func buildSendGrid(o *options) (provider.Provider, error) {
	var key string
	if o.apiKey != nil {
		key = *o.apiKey
	} else {
		if err := requireKeys(o.source, config.KeySendGridKey); err != nil {
			return nil, err
		}
		key = config.String(o.source, config.KeySendGridKey, "")
	}

	host := o.sendgridHost
	if host == "" {
		host = config.String(o.source, config.KeySendGridHost, "")
	}

	p, err := sendgrid.New(sendgrid.Config{
		APIKey:     key,
		Host:       host,
		HTTPClient: o.httpClient,
		Logger:     o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return p, nil
}

func buildSMTP(o *options) (provider.Provider, error) {
	var cfg smtp.Config
	if o.smtp != nil {
		cfg = *o.smtp
	} else {
		src := o.source
		if err := requireKeys(src, config.KeySMTPHost, config.KeySMTPPort, config.KeySMTPLogin, config.KeySMTPPassword); err != nil {
			return nil, err
		}

		var err error
		cfg.Host = config.String(src, config.KeySMTPHost, "")
		cfg.Login = config.String(src, config.KeySMTPLogin, "")
		cfg.Password = config.String(src, config.KeySMTPPassword, "")
		if cfg.Port, err = config.Int(src, config.KeySMTPPort, 0); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if cfg.TLS, err = config.Bool(src, config.KeySMTPTLS, false); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if cfg.SMTPS, err = config.Bool(src, config.KeySMTPS, false); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if cfg.SkipVerify, err = config.Bool(src, config.KeySMTPSkip, false); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = o.logger
	}

	p, err := smtp.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return p, nil
}

func buildSES(ctx context.Context, o *options) (provider.Provider, error) {
	var cfg ses.Config
	if o.ses != nil {
		cfg = *o.ses
	} else {
		if err := requireKeys(o.source, config.KeySESRegion); err != nil {
			return nil, err
		}
		cfg.Region = config.String(o.source, config.KeySESRegion, "")
		cfg.AccessKeyID = config.String(o.source, config.KeySESAccessKey, "")
		cfg.SecretAccessKey = config.String(o.source, config.KeySESSecret, "")
	}
	if cfg.Logger == nil {
		cfg.Logger = o.logger
	}

	p, err := ses.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return p, nil
}

func requireKeys(src config.Source, keys ...string) error {
	if missing := config.Missing(src, keys...); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, err
	}
	// Report wire names ("Html-part") rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v, nil
}

// Provider returns the active provider.
func (m *Manager) Provider() provider.Provider {
	return m.provider
}

// SendEmail sends a single request and returns its outcome. It fails with
// ErrSendFailed when the outcome is not successful.
func (m *Manager) SendEmail(ctx context.Context, req *email.Request) (provider.Outcome, error) {
	outcomes, err := m.SendEmails(ctx, []*email.Request{req})
	if len(outcomes) == 0 {
		return provider.Outcome{}, err
	}
	return outcomes[0], err
}

// SendEmails default-fills and validates every request first; if any is
// invalid nothing is sent and ErrInvalidTemplate is returned. Each request
// is then created, sent and classified in order without stopping at the
// first failure. When any item is unsuccessful the full outcome slice is
// returned together with a *BatchError.
func (m *Manager) SendEmails(ctx context.Context, reqs []*email.Request) ([]provider.Outcome, error) {
	normalized := make([]*email.Request, len(reqs))
	for i, req := range reqs {
		n, err := m.setupEmailTemplate(req)
		if err == nil {
			err = m.validateEmailTemplate(n)
		}
		if err != nil {
			if len(reqs) > 1 {
				return nil, fmt.Errorf("request %d: %w", i, err)
			}
			return nil, err
		}
		normalized[i] = n
	}

	batchID := uuid.NewString()
	logger := m.logger.With("batch_id", batchID, "provider", m.provider.Name())

	outcomes := make([]provider.Outcome, len(normalized))
	var failed []int
	for i, req := range normalized {
		outcomes[i] = m.dispatch(ctx, logger, req)
		if !m.provider.IsSuccessfulResponse(outcomes[i]) {
			failed = append(failed, i)
		}
	}

	if len(failed) > 0 {
		logger.Warn("batch finished with failures",
			"total", len(normalized),
			"failed", len(failed),
		)
		return outcomes, &BatchError{Failed: failed, Total: len(normalized)}
	}

	logger.Info("batch sent", "total", len(normalized))
	return outcomes, nil
}

func (m *Manager) dispatch(ctx context.Context, logger *slog.Logger, req *email.Request) provider.Outcome {
	msg, err := m.provider.CreateMessage(req)
	if err != nil {
		logger.Error("failed to create message",
			"recipients", req.Addresses(),
			"error", err,
		)
		return provider.Failure(err)
	}

	outcome := m.provider.SendMessage(ctx, msg)
	logger.Debug("message dispatched",
		"recipients", msg.Recipients(),
		"status", outcome.StatusCode,
		"message_id", outcome.MessageID,
		"failed", outcome.Failed(),
	)
	return outcome
}

// GetEmails lists message activity for address through the provider's
// read path. Providers without one yield ErrUnsupportedOperation.
func (m *Manager) GetEmails(ctx context.Context, address string, limit int) ([]email.Activity, error) {
	inbox, ok := m.provider.(provider.Inbox)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no read path", ErrUnsupportedOperation, m.provider.Name())
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	return inbox.GetEmails(ctx, address, limit)
}

// setupEmailTemplate returns a fresh request with defaults filled in. The
// caller's request is never modified.
func (m *Manager) setupEmailTemplate(req *email.Request) (*email.Request, error) {
	if req == nil || isEmpty(req) {
		return nil, fmt.Errorf("%w: missing values to setup email template", ErrInvalidTemplate)
	}

	out := req.Clone()
	if out.FromEmail == "" || m.forceSender {
		out.FromEmail = m.defaults.FromEmail
	}
	if out.FromName == "" || m.forceSender {
		out.FromName = m.defaults.FromName
	}
	return out, nil
}

// validateEmailTemplate checks Subject, Html-part and Recipients in that
// order and reports the first failure.
func (m *Manager) validateEmailTemplate(req *email.Request) error {
	err := m.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	field := verrs[0].Field()
	if field == "Recipients" {
		return fmt.Errorf("%w: the email template should have at least one recipient", ErrInvalidTemplate)
	}
	return fmt.Errorf("%w: the %q of email template is empty", ErrInvalidTemplate, field)
}

func isEmpty(req *email.Request) bool {
	return req.FromEmail == "" &&
		req.FromName == "" &&
		req.Subject == "" &&
		req.HTMLBody == "" &&
		len(req.Attachments) == 0 &&
		len(req.Recipients) == 0 &&
		len(req.Categories) == 0
}
