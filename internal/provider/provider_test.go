package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_Failed(t *testing.T) {
	t.Parallel()

	assert.False(t, Outcome{StatusCode: 202}.Failed())
	assert.False(t, Outcome{}.Failed())
	assert.True(t, Failure(errors.New("boom")).Failed())
}

func TestMissingField(t *testing.T) {
	t.Parallel()

	err := MissingField("FromEmail")
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "FromEmail")
}

type fakeMessage struct{}

func (fakeMessage) Recipients() []string { return nil }

func TestUnexpectedMessage(t *testing.T) {
	t.Parallel()

	err := UnexpectedMessage("smtp", fakeMessage{})
	assert.Contains(t, err.Error(), "smtp")
	assert.Contains(t, err.Error(), "fakeMessage")
}
