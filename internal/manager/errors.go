package manager

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrConfiguration is returned by New for an unknown provider or a
	// missing or malformed configuration value.
	ErrConfiguration = errors.New("mail manager configuration error")

	// ErrInvalidTemplate is returned when a request is missing or fails
	// validation. Nothing is sent.
	ErrInvalidTemplate = errors.New("invalid email template")

	// ErrSendFailed is returned when at least one message of a batch was not
	// delivered successfully.
	ErrSendFailed = errors.New("failed to send email")

	// ErrUnsupportedOperation is returned when the active provider lacks the
	// requested capability.
	ErrUnsupportedOperation = errors.New("operation not supported by provider")
)

// BatchError reports which items of a batch were not sent successfully.
// It matches ErrSendFailed with errors.Is.
type BatchError struct {
	// Failed holds the indices of unsuccessful items, ascending.
	Failed []int
	Total  int
}

func (e *BatchError) Error() string {
	idx := make([]string, len(e.Failed))
	for i, n := range e.Failed {
		idx[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("%s: %d of %d messages failed (items %s)",
		ErrSendFailed, len(e.Failed), e.Total, strings.Join(idx, ", "))
}

// Is reports whether target is ErrSendFailed.
func (e *BatchError) Is(target error) bool {
	return target == ErrSendFailed
}
