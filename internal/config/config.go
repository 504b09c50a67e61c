// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail manager.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Setting names.
const (
	KeyProvider     = "MAIL_PROVIDER"
	KeySenderEmail  = "MAIL_SENDER_EMAIL"
	KeySenderName   = "MAIL_SENDER_NAME"
	KeyForceSender  = "MAIL_FORCE_SENDER"
	KeySendGridKey  = "SENDGRID_API_KEY"
	KeySendGridHost = "SENDGRID_HOST"
	KeySMTPHost     = "SMTP_HOST"
	KeySMTPPort     = "SMTP_PORT"
	KeySMTPLogin    = "SMTP_LOGIN"
	KeySMTPPassword = "SMTP_PASSWORD"
	KeySMTPTLS      = "SMTP_TLS"
	KeySMTPS        = "SMTP_SMTPS"
	KeySMTPSkip     = "SMTP_SKIP_VERIFY"
	KeySESRegion    = "SES_REGION"
	KeySESAccessKey = "SES_ACCESS_KEY_ID"
	KeySESSecret    = "SES_SECRET_ACCESS_KEY"
	KeyLogLevel     = "LOG_LEVEL"
)

// Source resolves named settings. A key that is present with an empty value
// is still reported as present.
type Source interface {
	Lookup(key string) (string, bool)
}

type envSource struct{}

func (envSource) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Env returns a Source backed by the process environment.
func Env() Source {
	return envSource{}
}

// Values is an in-memory Source.
type Values map[string]string

// Lookup implements Source.
func (v Values) Lookup(key string) (string, bool) {
	val, ok := v[key]
	return val, ok
}

// Layered consults each Source in order and returns the first hit.
type Layered []Source

// Lookup implements Source.
func (l Layered) Lookup(key string) (string, bool) {
	for _, src := range l {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// LoadFile reads a YAML file into Values. Nested mappings are flattened into
// upper-case underscore-joined names, so
//
//	smtp:
//	  host: mail.example.com
//
// yields SMTP_HOST. Returns an error if the file does not exist.
func LoadFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	values := Values{}
	if err := flatten("", doc, values); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return values, nil
}

func flatten(prefix string, doc map[string]any, out Values) error {
	for k, v := range doc {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}

		if nested, ok := v.(map[string]any); ok {
			if err := flatten(key, nested, out); err != nil {
				return err
			}
			continue
		}
		if v == nil {
			out[key] = ""
			continue
		}

		s, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Errorf("%s: unsupported value type %T", key, v)
		}
		out[key] = s
	}
	return nil
}

// String returns the value of key, or def when it is absent.
func String(src Source, key, def string) string {
	if v, ok := src.Lookup(key); ok {
		return v
	}
	return def
}

// Bool returns key parsed as a boolean, or def when it is absent or empty.
func Bool(src Source, key string, def bool) (bool, error) {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := cast.ToBoolE(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

// Int returns key parsed as an integer, or def when it is absent or empty.
func Int(src Source, key string, def int) (int, error) {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// Missing returns the keys absent from src, sorted.
func Missing(src Source, keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := src.Lookup(k); !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Config holds the settings the command line needs before a provider is
// built. Provider credentials are resolved by the manager.
type Config struct {
	Provider string
	Sender   SenderConfig
	Logging  LoggingConfig
}

// SenderConfig overrides the default sender identity.
type SenderConfig struct {
	Email string
	Name  string
	// Force replaces any caller-supplied sender with Email/Name.
	Force bool
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string
}

// Load reads a Config from src, applying defaults first.
func Load(src Source) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	cfg.Provider = strings.ToLower(String(src, KeyProvider, cfg.Provider))
	cfg.Sender.Email = String(src, KeySenderEmail, "")
	cfg.Sender.Name = String(src, KeySenderName, "")
	cfg.Logging.Level = strings.ToLower(String(src, KeyLogLevel, cfg.Logging.Level))

	force, err := Bool(src, KeyForceSender, false)
	if err != nil {
		return nil, err
	}
	cfg.Sender.Force = force

	return cfg, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = "sendgrid"
	c.Logging.Level = "info"
}
