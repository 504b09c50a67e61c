// Package provider defines the contract that email transport backends must
// satisfy and the normalized outcome type they return.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shineum/mail-manager/internal/email"
)

// ErrMissingField is returned by CreateMessage when a required request field
// is absent.
var ErrMissingField = errors.New("missing required field")

// Message is a provider-native message built from a normalized request.
// Each provider owns its concrete type; callers only ever hand it back to
// the provider that created it.
type Message interface {
	// Recipients returns the destination addresses, used for failure logs.
	Recipients() []string
}

// Provider is the interface that email transport backends must implement.
// A send is always the sequence CreateMessage, SendMessage,
// IsSuccessfulResponse.
type Provider interface {
	// Name returns the discriminator value of this provider.
	Name() string

	// CreateMessage converts a normalized request into the provider-native
	// message. It performs no I/O.
	CreateMessage(req *email.Request) (Message, error)

	// SendMessage dispatches the message. Transport failures are logged and
	// captured in the returned Outcome instead of being returned as errors.
	SendMessage(ctx context.Context, msg Message) Outcome

	// IsSuccessfulResponse reports whether the outcome counts as delivered.
	IsSuccessfulResponse(o Outcome) bool
}

// Inbox is implemented by providers that can query sent or received
// messages for a recipient address.
type Inbox interface {
	GetEmails(ctx context.Context, address string, limit int) ([]email.Activity, error)
}

// Outcome is the raw result of a single dispatch attempt.
type Outcome struct {
	// StatusCode, Body and Headers are set by HTTP-API providers.
	StatusCode int
	Body       string
	Headers    map[string][]string

	// MessageID is set when the transport reports one.
	MessageID string

	// Err holds the captured transport failure. A non-nil Err marks the
	// outcome as failed regardless of the other fields.
	Err error
}

// Failure returns an outcome marking a failed dispatch.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// Failed reports whether the dispatch crashed before producing a response.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// MissingField wraps ErrMissingField with the name of the absent field.
func MissingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// UnexpectedMessage builds the failure used when a provider receives a
// message built by another provider.
func UnexpectedMessage(provider string, msg Message) error {
	return fmt.Errorf("%s: unexpected message type %T", provider, msg)
}
