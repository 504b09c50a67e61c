// Package email defines the provider-agnostic email request model shared by
// the mail manager and every transport provider.
package email

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Default sender identity used when neither the caller nor the configuration
// supplies one.
const (
	DefaultFromEmail = "noreply@mail.toucantoco.com"
	DefaultFromName  = "Toucan Toco"
)

// Request represents a single logical "send an email" request. The JSON
// field names are part of the public contract and are case-sensitive.
type Request struct {
	FromEmail   string      `json:"FromEmail,omitempty"`
	FromName    string      `json:"FromName,omitempty"`
	Subject     string      `json:"Subject" validate:"notblank"`
	HTMLBody    string      `json:"Html-part" validate:"notblank"`
	Attachments Attachments `json:"Attachments,omitempty"`
	Recipients  []Recipient `json:"Recipients" validate:"notblank"`
	// Categories are honored by the HTTP-API provider only.
	Categories []string `json:"categories,omitempty"`
}

// Recipient is a single destination address with an optional display name.
type Recipient struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

// Attachment is a file attached to a request. Content holds the file bytes
// encoded as standard base64 text.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MIMEType string `json:"type,omitempty"`
	// Disposition is honored by the HTTP-API provider only.
	Disposition string `json:"disposition,omitempty"`
}

// Decode returns the attachment bytes. Whitespace in Content, such as the
// line breaks of wrapped base64, is ignored.
func (a Attachment) Decode() ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, a.Content)
	return base64.StdEncoding.DecodeString(cleaned)
}

// Attachments is an ordered list of attachments. On the wire it accepts a
// single attachment object as well as an array of them; an empty object or
// null means no attachments.
type Attachments []Attachment

// UnmarshalJSON normalizes the single-object and array shapes.
func (a *Attachments) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = nil
		return nil
	}

	switch trimmed[0] {
	case '[':
		var list []Attachment
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("invalid attachments list: %w", err)
		}
		*a = list
		return nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return fmt.Errorf("invalid attachment object: %w", err)
		}
		if len(fields) == 0 {
			*a = nil
			return nil
		}
		var single Attachment
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return fmt.Errorf("invalid attachment object: %w", err)
		}
		*a = Attachments{single}
		return nil
	default:
		return fmt.Errorf("attachments must be an object or an array, got %q", trimmed[:1])
	}
}

// Addresses returns the recipient email addresses in input order.
func (r *Request) Addresses() []string {
	addrs := make([]string, 0, len(r.Recipients))
	for _, rcpt := range r.Recipients {
		addrs = append(addrs, rcpt.Email)
	}
	return addrs
}

// Clone returns a deep copy of the request so that normalization never
// mutates caller-owned slices.
func (r *Request) Clone() *Request {
	c := *r
	if r.Attachments != nil {
		c.Attachments = append(Attachments(nil), r.Attachments...)
	}
	if r.Recipients != nil {
		c.Recipients = append([]Recipient(nil), r.Recipients...)
	}
	if r.Categories != nil {
		c.Categories = append([]string(nil), r.Categories...)
	}
	return &c
}

// Defaults returns the hard-coded defaults record: the default sender
// identity, empty subject and body, no attachments and no recipients.
func Defaults() Request {
	return Request{
		FromEmail: DefaultFromEmail,
		FromName:  DefaultFromName,
	}
}

// Activity is a single message entry reported by a provider's read path.
type Activity struct {
	MessageID     string `json:"msg_id"`
	FromEmail     string `json:"from_email"`
	ToEmail       string `json:"to_email"`
	Subject       string `json:"subject"`
	Status        string `json:"status"`
	OpensCount    int    `json:"opens_count"`
	ClicksCount   int    `json:"clicks_count"`
	LastEventTime string `json:"last_event_time"`
}
